package preflight

import (
	"errors"
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	preflightpkg "github.com/lucid-fabrics/proxmac/internal/preflight"
)

var ErrPreflightFailed = errors.New("preflight checks failed")

func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "preflight",
		Short: "Verify that this host can provision macOS VMs",
		RunE:  runPreflight,
	}

	return command
}

func runPreflight(cmd *cobra.Command, args []string) error {
	checks := preflightpkg.Run()

	table := uitable.New()
	table.Wrap = true

	table.AddRow("Check", "Status", "Details")

	for _, check := range checks {
		status := "OK"
		if !check.OK {
			status = "FAIL"
		}

		table.AddRow(check.Name, status, check.Details)
	}

	fmt.Println(table)

	if !preflightpkg.Passed(checks) {
		return ErrPreflightFailed
	}

	return nil
}
