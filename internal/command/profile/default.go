package profile

import (
	"github.com/spf13/cobra"

	"github.com/lucid-fabrics/proxmac/internal/config"
)

func newDefaultCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "default NAME",
		Short: "Set the default profile used by \"proxmac create\"",
		Args:  cobra.ExactArgs(1),
		RunE:  runDefault,
	}

	return command
}

func runDefault(cmd *cobra.Command, args []string) error {
	name := args[0]

	configHandle, err := config.NewHandle()
	if err != nil {
		return err
	}

	return configHandle.SetDefaultProfile(name)
}
