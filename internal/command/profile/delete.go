package profile

import (
	"github.com/spf13/cobra"

	"github.com/lucid-fabrics/proxmac/internal/config"
)

func newDeleteCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}

	return command
}

func runDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	configHandle, err := config.NewHandle()
	if err != nil {
		return err
	}

	return configHandle.DeleteProfile(name)
}
