package commands

import (
	"fmt"
	"os"

	"github.com/rcenet/rce/src/common"
	"github.com/rcenet/rce/src/config"
	"github.com/rcenet/rce/src/identity"
	"github.com/spf13/cobra"
)

var (
	idDataDir string
	idMoniker string
)

// NewIDCmd produces an IDCmd which prints, and creates if needed, the
// instance id kept in the data directory
func NewIDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Show the instance id of the node",
		RunE:  showID,
	}

	AddIDFlags(cmd)

	return cmd
}

//AddIDFlags adds flags to the id command
func AddIDFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&idDataDir, "datadir", _config.RCE.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().StringVar(&idMoniker, "moniker", "", "Set the display name of the node")
}

func showID(cmd *cobra.Command, args []string) error {
	conf := config.NewDefaultConfig()
	conf.SetDataDir(idDataDir)

	if err := os.MkdirAll(conf.DataDir, 0700); err != nil {
		return fmt.Errorf("Creating data directory: %s", err)
	}

	store, err := identity.NewBadgerStore(conf.IdentityDir())
	if err != nil {
		return fmt.Errorf("Opening identity database: %s", err)
	}
	defer store.Close()

	instance, err := store.InstanceNodeID()
	if err != nil {
		return err
	}

	if idMoniker != "" {
		if err := store.SetDisplayName(idMoniker); err != nil {
			return err
		}
	}

	name, err := store.DisplayName()
	if err != nil && !common.Is(err, common.KeyNotFound) {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Instance: %s\n", instance.RawID())
	if name != "" {
		fmt.Fprintf(out, "Moniker: %s\n", name)
	}

	return nil
}
