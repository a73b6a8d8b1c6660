package destroy

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lucid-fabrics/proxmac/internal/command/logging"
	"github.com/lucid-fabrics/proxmac/internal/provision"
)

var purge bool
var dryRun bool
var debug bool

func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "destroy VMID",
		Short: "Stop and destroy a provisioned VM",
		Args:  cobra.ExactArgs(1),
		RunE:  runDestroy,
	}

	command.PersistentFlags().BoolVar(&purge, "purge", false,
		"also remove the VM from backup jobs and the HA configuration")
	command.PersistentFlags().BoolVar(&dryRun, "dry-run", false,
		"print the commands without executing them")
	command.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	return command
}

func runDestroy(cmd *cobra.Command, args []string) (err error) {
	vmid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid VM ID %q: %w", args[0], err)
	}

	logger, err := logging.NewLogger(debug, "")
	if err != nil {
		return err
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil && err == nil {
			err = syncErr
		}
	}()

	return provision.Destroy(cmd.Context(), logger.Sugar(), vmid, purge, dryRun)
}
