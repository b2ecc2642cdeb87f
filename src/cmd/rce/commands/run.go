package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rcenet/rce/src/rce"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts an RCE node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runRCE,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runRCE(cmd *cobra.Command, args []string) error {
	engine := rce.NewRCE(&_config.RCE)

	if err := engine.Init(); err != nil {
		_config.RCE.Logger().Error("Cannot initialize engine:", err)
		engine.Shutdown()
		return err
	}

	go engine.Run()

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh

	_config.RCE.Logger().Info("Shutting down")
	engine.Shutdown()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.RCE.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.RCE.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.RCE.LogFile, "Optional file receiving a JSON copy of the logs")
	cmd.Flags().String("moniker", _config.RCE.Moniker, "Optional name")

	// Network
	cmd.Flags().String("transport", _config.RCE.Transport, "tcp, broker or webrtc")
	cmd.Flags().StringP("listen", "l", _config.RCE.BindAddr, "Listen IP:Port for the tcp transport")
	cmd.Flags().StringP("advertise", "a", _config.RCE.AdvertiseAddr, "Advertise IP:Port for the tcp transport")
	cmd.Flags().DurationP("timeout", "t", _config.RCE.TCPTimeout, "Connection and write timeout")

	// Broker and WebRTC
	cmd.Flags().String("broker-addr", _config.RCE.BrokerAddr, "Websocket URL of the message broker")
	cmd.Flags().String("broker-realm", _config.RCE.BrokerRealm, "Realm of the message broker")
	cmd.Flags().Bool("broker-skip-verify", _config.RCE.BrokerSkipVerify, "Skip verification of the broker certificate")
	cmd.Flags().String("ice-addr", _config.RCE.ICEAddress, "URI of a STUN or TURN server")
	cmd.Flags().String("ice-username", _config.RCE.ICEUsername, "Username of the ICE server")
	cmd.Flags().String("ice-password", _config.RCE.ICEPassword, "Password of the ICE server")

	// Service
	cmd.Flags().Bool("no-service", _config.RCE.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.RCE.ServiceAddr, "Listen IP:Port for HTTP service")

	// Identity
	cmd.Flags().Bool("persist-identity", _config.RCE.PersistIdentity, "Keep the instance id in the data directory")

	// Node configuration
	cmd.Flags().Duration("request-timeout", _config.RCE.RequestTimeout, "Time to wait for a response on each hop")
	cmd.Flags().Int("max-hops", _config.RCE.MaxHops, "Number of forwards after which a request is refused")
	cmd.Flags().Duration("heartbeat", _config.RCE.HeartbeatInterval, "Time between channel heartbeats")
	cmd.Flags().Int("heartbeat-failures", _config.RCE.HeartbeatFailures, "Failed heartbeats in a row after which a channel is closed")
	cmd.Flags().Duration("reconnect", _config.RCE.ReconnectInterval, "Time between attempts to connect to neighbours")
	cmd.Flags().Duration("callback-ttl", _config.RCE.CallbackTTL, "Lifetime of unused callback bindings")

	// Routing
	cmd.Flags().String("route-tie-break", _config.RCE.RouteTieBreak, "first-hop-channel or path-nodes")
	cmd.Flags().Duration("route-quiet", _config.RCE.RouteQuietPeriod, "Time without topology change before convergence")
	cmd.Flags().Duration("lsa-interval", _config.RCE.LSAInterval, "Minimum time between link state advertisements")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	_config.RCE.SetDataDir(_config.RCE.DataDir)

	logFields := logrus.Fields{
		"rce.DataDir":           _config.RCE.DataDir,
		"rce.LogLevel":          _config.RCE.LogLevel,
		"rce.LogFile":           _config.RCE.LogFile,
		"rce.Moniker":           _config.RCE.Moniker,
		"rce.Transport":         _config.RCE.Transport,
		"rce.BindAddr":          _config.RCE.BindAddr,
		"rce.AdvertiseAddr":     _config.RCE.AdvertiseAddr,
		"rce.TCPTimeout":        _config.RCE.TCPTimeout,
		"rce.NoService":         _config.RCE.NoService,
		"rce.ServiceAddr":       _config.RCE.ServiceAddr,
		"rce.PersistIdentity":   _config.RCE.PersistIdentity,
		"rce.RequestTimeout":    _config.RCE.RequestTimeout,
		"rce.MaxHops":           _config.RCE.MaxHops,
		"rce.HeartbeatInterval": _config.RCE.HeartbeatInterval,
		"rce.HeartbeatFailures": _config.RCE.HeartbeatFailures,
		"rce.ReconnectInterval": _config.RCE.ReconnectInterval,
		"rce.CallbackTTL":       _config.RCE.CallbackTTL,
		"rce.RouteTieBreak":     _config.RCE.RouteTieBreak,
		"rce.RouteQuietPeriod":  _config.RCE.RouteQuietPeriod,
		"rce.LSAInterval":       _config.RCE.LSAInterval,
	}

	if _config.RCE.Transport != "tcp" {
		logFields["rce.BrokerAddr"] = _config.RCE.BrokerAddr
		logFields["rce.BrokerRealm"] = _config.RCE.BrokerRealm
		logFields["rce.BrokerSkipVerify"] = _config.RCE.BrokerSkipVerify
	}
	if _config.RCE.Transport == "webrtc" {
		logFields["rce.ICEAddress"] = _config.RCE.ICEAddress
	}

	_config.RCE.Logger().WithFields(logFields).Debug("RUN")

	return _config.RCE.Validate()
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/rce.toml (.json, .yaml also work)
	viper.SetConfigName("rce")               // name of config file (without extension)
	viper.AddConfigPath(_config.RCE.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.RCE.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.RCE.Logger().Debugf("No config file found in: %s", _config.RCE.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
