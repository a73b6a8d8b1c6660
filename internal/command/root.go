package command

import (
	"github.com/spf13/cobra"

	"github.com/lucid-fabrics/proxmac/internal/command/create"
	"github.com/lucid-fabrics/proxmac/internal/command/destroy"
	"github.com/lucid-fabrics/proxmac/internal/command/download"
	"github.com/lucid-fabrics/proxmac/internal/command/preflight"
	"github.com/lucid-fabrics/proxmac/internal/command/profile"
	"github.com/lucid-fabrics/proxmac/internal/version"
)

func NewRootCmd() *cobra.Command {
	command := &cobra.Command{
		Use:           "proxmac",
		Short:         "Provision macOS virtual machines on a Proxmox VE host",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.FullVersion,
	}

	addGroupedCommands(command, "Provisioning:",
		create.NewCommand(),
		destroy.NewCommand(),
		download.NewCommand(),
		preflight.NewCommand(),
	)

	addGroupedCommands(command, "Configuration:",
		profile.NewCommand(),
	)

	return command
}

func addGroupedCommands(parent *cobra.Command, title string, commands ...*cobra.Command) {
	group := &cobra.Group{
		ID:    title,
		Title: title,
	}
	parent.AddGroup(group)

	for _, command := range commands {
		command.GroupID = group.ID
		parent.AddCommand(command)
	}
}
