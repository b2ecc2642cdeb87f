package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rcenet/rce/src/net/broker"
	"github.com/spf13/cobra"
)

//NewBrokerCmd returns the command that starts a message broker, through which
//nodes using the broker or webrtc transports find each other
func NewBrokerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "broker",
		Short:   "Run a WAMP message broker",
		PreRunE: loadBrokerConfig,
		RunE:    runBroker,
	}
	AddBrokerFlags(cmd)
	return cmd
}

//AddBrokerFlags adds flags to the Broker command
func AddBrokerFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.RCE.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.RCE.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("broker-listen", _config.BrokerListen, "Listen IP:Port for the broker")
	cmd.Flags().String("broker-realm", _config.RCE.BrokerRealm, "Realm served by the broker")
	cmd.Flags().String("broker-key", _config.BrokerKey, "Private key of the TLS certificate found in the data directory. TLS is disabled if empty")
}

func loadBrokerConfig(cmd *cobra.Command, args []string) error {
	return bindFlagsLoadViper(cmd)
}

// runBroker starts the WAMP server and waits for a SIGINT or SIGTERM
func runBroker(cmd *cobra.Command, args []string) error {
	certFile := ""
	if _config.BrokerKey != "" {
		certFile = _config.RCE.CertFile()
	}

	server, err := broker.NewServer(
		_config.BrokerListen,
		_config.RCE.BrokerRealm,
		certFile,
		_config.BrokerKey,
		_config.RCE.Logger().WithField("component", "broker"),
	)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	//Prepare sigCh to relay SIGINT and SIGTERM system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	server.Shutdown()

	return nil
}
