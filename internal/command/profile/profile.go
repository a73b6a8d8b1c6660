package profile

import (
	"github.com/spf13/cobra"
)

func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "profile",
		Short: "Manage provisioning profiles",
	}

	command.AddCommand(
		newCreateCommand(),
		newListCommand(),
		newDefaultCommand(),
		newDeleteCommand(),
	)

	return command
}
