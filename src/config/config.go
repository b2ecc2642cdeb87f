package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	webrtc "github.com/pion/webrtc/v2"
	"github.com/rcenet/rce/src/common"
	"github.com/rcenet/rce/src/messaging"
	"github.com/rcenet/rce/src/routing"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultIdentityDB is the default name of the folder containing the
	// badger database of the instance identity.
	DefaultIdentityDB = "identity_db"

	// DefaultPeersFile is the default name of the file listing the neighbours.
	DefaultPeersFile = "peers.json"

	// DefaultCertFile is the default name of the file containing the TLS
	// certificate of the message broker.
	DefaultCertFile = "cert.pem"
)

// Transport names.
const (
	TransportTCP    = "tcp"
	TransportBroker = "broker"
	TransportWebRTC = "webrtc"
)

// Default configuration values.
const (
	DefaultLogLevel          = "info"
	DefaultTransport         = TransportTCP
	DefaultBindAddr          = "127.0.0.1:1337"
	DefaultServiceAddr       = "127.0.0.1:8000"
	DefaultTCPTimeout        = 1000 * time.Millisecond
	DefaultRequestTimeout    = 30 * time.Second
	DefaultMaxHops           = 16
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatFailures = 3
	DefaultReconnectInterval = 10 * time.Second
	DefaultCallbackTTL       = 10 * time.Minute
	DefaultRouteTieBreak     = string(routing.TieBreakFirstHopChannel)
	DefaultRouteQuietPeriod  = 2 * time.Second
	DefaultLSAInterval       = 200 * time.Millisecond
	DefaultPersistIdentity   = true
	DefaultBrokerAddr        = "ws://127.0.0.1:2443/ws"
	DefaultBrokerRealm       = "rce"
	DefaultBrokerSkipVerify  = false
	DefaultICEAddress        = "stun:stun.l.google.com:19302"
	DefaultICEUsername       = ""
	DefaultICEPassword       = ""
)

// Config contains all the configuration properties of an RCE node.
type Config struct {
	// DataDir is the top-level directory containing the configuration and
	// data of the node.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, if set, receives a copy of all log entries in JSON.
	LogFile string `mapstructure:"log-file"`

	// Moniker is the display name of the node.
	Moniker string `mapstructure:"moniker"`

	// Transport selects how channels to neighbours are established: tcp,
	// broker or webrtc. The broker and webrtc transports rely on the message
	// broker at BrokerAddr.
	Transport string `mapstructure:"transport"`

	// BindAddr is the local address:port of the tcp transport.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address advertised to other nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP introspection service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP introspection service.
	ServiceAddr string `mapstructure:"service-listen"`

	// TCPTimeout bounds connection setup and the writing of frames.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// RequestTimeout bounds the wait for a response on each hop.
	RequestTimeout time.Duration `mapstructure:"request-timeout"`

	// MaxHops is the number of forwards after which a routed request is
	// refused.
	MaxHops int `mapstructure:"max-hops"`

	// HeartbeatInterval is the time between two heartbeats on a channel.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat"`

	// HeartbeatFailures is the number of consecutive failed heartbeats after
	// which a channel is closed.
	HeartbeatFailures int `mapstructure:"heartbeat-failures"`

	// ReconnectInterval is the time between two attempts to connect to the
	// neighbours of peers.json that are not connected.
	ReconnectInterval time.Duration `mapstructure:"reconnect"`

	// CallbackTTL is the lifetime of callback bindings that are neither used
	// nor renewed.
	CallbackTTL time.Duration `mapstructure:"callback-ttl"`

	// RouteTieBreak orders routes of equal cost and length:
	// first-hop-channel or path-nodes.
	RouteTieBreak string `mapstructure:"route-tie-break"`

	// RouteQuietPeriod is the time without topology change after which the
	// routing protocol is considered converged.
	RouteQuietPeriod time.Duration `mapstructure:"route-quiet"`

	// LSAInterval is the minimum time between two link state advertisements.
	LSAInterval time.Duration `mapstructure:"lsa-interval"`

	// PersistIdentity keeps the instance id in DataDir so that it survives
	// restarts. Every run gets a new session id regardless.
	PersistIdentity bool `mapstructure:"persist-identity"`

	// BrokerAddr is the websocket URL of the message broker.
	BrokerAddr string `mapstructure:"broker-addr"`

	// BrokerRealm is the realm of the message broker. Only nodes of the same
	// realm see each other.
	BrokerRealm string `mapstructure:"broker-realm"`

	// BrokerSkipVerify disables the verification of the certificate of the
	// broker. This should be used only for testing.
	BrokerSkipVerify bool `mapstructure:"broker-skip-verify"`

	// ICEAddress is the URI of a STUN or TURN server used by the webrtc
	// transport.
	ICEAddress string `mapstructure:"ice-addr"`

	// ICEUsername is the username used with the ICE server.
	ICEUsername string `mapstructure:"ice-username"`

	// ICEPassword is the password used with the ICE server.
	ICEPassword string `mapstructure:"ice-password"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:           DefaultDataDir(),
		LogLevel:          DefaultLogLevel,
		Transport:         DefaultTransport,
		BindAddr:          DefaultBindAddr,
		ServiceAddr:       DefaultServiceAddr,
		TCPTimeout:        DefaultTCPTimeout,
		RequestTimeout:    DefaultRequestTimeout,
		MaxHops:           DefaultMaxHops,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatFailures: DefaultHeartbeatFailures,
		ReconnectInterval: DefaultReconnectInterval,
		CallbackTTL:       DefaultCallbackTTL,
		RouteTieBreak:     DefaultRouteTieBreak,
		RouteQuietPeriod:  DefaultRouteQuietPeriod,
		LSAInterval:       DefaultLSAInterval,
		PersistIdentity:   DefaultPersistIdentity,
		BrokerAddr:        DefaultBrokerAddr,
		BrokerRealm:       DefaultBrokerRealm,
		BrokerSkipVerify:  DefaultBrokerSkipVerify,
		ICEAddress:        DefaultICEAddress,
		ICEUsername:       DefaultICEUsername,
		ICEPassword:       DefaultICEPassword,
	}

	return config
}

// NewTestConfig returns a config object for in-memory test nodes, with short
// timers and a logger writing through the testing framework.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.DataDir = ""
	config.NoService = true
	config.PersistIdentity = false
	config.HeartbeatInterval = 100 * time.Millisecond
	config.ReconnectInterval = 100 * time.Millisecond
	config.RequestTimeout = 2 * time.Second
	config.RouteQuietPeriod = 100 * time.Millisecond
	config.LSAInterval = 10 * time.Millisecond
	config.logger = common.NewTestLogger(t, level)
	return config
}

// Validate checks the options that have a restricted set of values.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportTCP, TransportBroker, TransportWebRTC:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if _, err := routing.ParseTieBreak(c.RouteTieBreak); err != nil {
		return err
	}
	if c.MaxHops < 1 {
		return fmt.Errorf("max-hops must be positive, got %d", c.MaxHops)
	}
	if c.HeartbeatFailures < 1 {
		return fmt.Errorf("heartbeat-failures must be positive, got %d", c.HeartbeatFailures)
	}
	for name, d := range map[string]time.Duration{
		"timeout":         c.TCPTimeout,
		"request-timeout": c.RequestTimeout,
		"heartbeat":       c.HeartbeatInterval,
		"reconnect":       c.ReconnectInterval,
		"callback-ttl":    c.CallbackTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.PersistIdentity && c.DataDir == "" {
		return fmt.Errorf("persist-identity requires a datadir")
	}
	return nil
}

// SetDataDir sets the top-level directory of the node.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
}

// IdentityDir returns the path of the identity database.
func (c *Config) IdentityDir() string {
	return filepath.Join(c.DataDir, DefaultIdentityDB)
}

// PeersFile returns the full path of the file listing the neighbours.
func (c *Config) PeersFile() string {
	return filepath.Join(c.DataDir, DefaultPeersFile)
}

// CertFile returns the full path of the file containing the broker TLS
// certificate.
func (c *Config) CertFile() string {
	return filepath.Join(c.DataDir, DefaultCertFile)
}

// RoutingConfig returns the options of the routing service.
func (c *Config) RoutingConfig() routing.Config {
	tb, err := routing.ParseTieBreak(c.RouteTieBreak)
	if err != nil {
		tb = routing.TieBreakFirstHopChannel
	}
	return routing.Config{
		QuietPeriod:     c.RouteQuietPeriod,
		PublishInterval: c.LSAInterval,
		TieBreak:        tb,
	}
}

// MessagingConfig returns the options of the messaging service.
func (c *Config) MessagingConfig() messaging.Config {
	return messaging.Config{
		MaxHops: c.MaxHops,
		Timeout: c.RequestTimeout,
	}
}

// ICEServers returns the ICE servers used by the webrtc transport. The list
// contains a single server with password-based authentication.
func (c *Config) ICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs:           []string{c.ICEAddress},
			Username:       c.ICEUsername,
			Credential:     c.ICEPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		},
	}
}

// Logger returns a formatted logrus Entry, with prefix set to "rce". When
// LogFile is set, entries are also written to that file.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(c.LogFile, &logrus.JSONFormatter{}))
		}
	}
	return c.logger.WithField("prefix", "rce")
}

// DefaultDataDir return the default directory name for the top-level RCE
// configuration based on the underlying OS, attempting to respect
// conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".RCE")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "RCE")
		} else {
			return filepath.Join(home, ".rce")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
