package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for RCE
var RootCmd = &cobra.Command{
	Use:              "rce",
	Short:            "RCE distributed communication node",
	TraverseChildren: true,
}
