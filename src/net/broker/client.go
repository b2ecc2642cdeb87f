package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io/ioutil"
	"os"
	"time"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/router"
	"github.com/sirupsen/logrus"
)

// Config holds the parameters used to connect to a broker.
type Config struct {
	// URL of the router, ws:// or wss://
	URL string

	// Realm is the routing domain within the router
	Realm string

	// CAFile is an optional PEM certificate used to verify the router
	CAFile string

	// InsecureSkipVerify accepts any certificate provided by the router
	InsecureSkipVerify bool

	// ResponseTimeout bounds every call made through the router
	ResponseTimeout time.Duration
}

// Dial opens a WAMP session with a remote router.
func Dial(ctx context.Context, conf Config, logger *logrus.Entry) (*client.Client, error) {
	tlscfg, err := tlsConfig(conf, logger)
	if err != nil {
		return nil, err
	}

	cfg := client.Config{
		Realm:           conf.Realm,
		ResponseTimeout: conf.ResponseTimeout,
		Logger:          logger,
		TlsCfg:          tlscfg,
	}

	return client.ConnectNet(ctx, conf.URL, cfg)
}

// DialLocal opens a WAMP session with an in-process router.
func DialLocal(r router.Router, realm string, responseTimeout time.Duration, logger *logrus.Entry) (*client.Client, error) {
	cfg := client.Config{
		Realm:           realm,
		ResponseTimeout: responseTimeout,
		Logger:          logger,
	}
	return client.ConnectLocal(r, cfg)
}

func tlsConfig(conf Config, logger *logrus.Entry) (*tls.Config, error) {
	tlscfg := &tls.Config{}

	if conf.InsecureSkipVerify {
		logger.Debug("Skip Verify. Accepting any certificate provided by the broker.")
		tlscfg.InsecureSkipVerify = true
		return tlscfg, nil
	}

	if conf.CAFile == "" {
		return tlscfg, nil
	}

	if _, err := os.Stat(conf.CAFile); os.IsNotExist(err) {
		logger.Debugf("No certificate file found. Relying on platform trusted certificates.")
		return tlscfg, nil
	}

	// Load PEM-encoded certificate to trust.
	certPEM, err := ioutil.ReadFile(conf.CAFile)
	if err != nil {
		return nil, err
	}

	// Create CertPool containing the certificate to trust.
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(certPEM) {
		return nil, errors.New("failed to import certificate to trust")
	}
	tlscfg.RootCAs = roots

	// Decode and parse the server cert to extract the subject info.
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("failed to decode certificate to trust")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Trusting certificate %s with CN: %s", conf.CAFile, cert.Subject.CommonName)

	// Set ServerName in TLS config to CN from trusted cert so that
	// certificate will validate if CN does not match DNS name.
	tlscfg.ServerName = cert.Subject.CommonName

	return tlscfg, nil
}
