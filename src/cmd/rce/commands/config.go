package commands

import (
	"github.com/rcenet/rce/src/config"
)

//CLIConfig contains configuration for the Run and Broker commands
type CLIConfig struct {
	RCE          config.Config `mapstructure:",squash"`
	BrokerListen string        `mapstructure:"broker-listen"`
	BrokerKey    string        `mapstructure:"broker-key"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		RCE:          *config.NewDefaultConfig(),
		BrokerListen: "127.0.0.1:2443",
		BrokerKey:    "",
	}
}
