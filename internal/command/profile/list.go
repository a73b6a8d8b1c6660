package profile

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/lucid-fabrics/proxmac/internal/config"
)

func newListCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE:  runList,
	}

	return command
}

func runList(cmd *cobra.Command, args []string) error {
	configHandle, err := config.NewHandle()
	if err != nil {
		return err
	}

	config, err := configHandle.Config()
	if err != nil {
		return err
	}

	table := uitable.New()
	table.Wrap = true

	table.AddRow("Name", "VM ID", "macOS", "Default")

	for name, profile := range config.Profiles {
		var defaultMark string
		if name == config.DefaultProfile {
			defaultMark = "*"
		}

		table.AddRow(name, profile.VMID, profile.MacOSVersion, defaultMark)
	}

	fmt.Println(table)

	return nil
}
