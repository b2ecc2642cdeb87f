package main

import (
	"fmt"
	"os"

	cmd "github.com/rcenet/rce/src/cmd/rce/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.VersionCmd,
		cmd.NewIDCmd(),
		cmd.NewRunCmd(),
		cmd.NewBrokerCmd(),
	)

	//Do not print usage when error occurs
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
