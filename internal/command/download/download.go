package download

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucid-fabrics/proxmac/internal/command/logging"
	"github.com/lucid-fabrics/proxmac/internal/macosver"
	"github.com/lucid-fabrics/proxmac/internal/proxmachome"
	"github.com/lucid-fabrics/proxmac/internal/recovery"
)

var logFilePath string
var debug bool

func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "download VERSION",
		Short: "Pre-fetch the installation assets for a macOS version",
		Long: "Pre-fetch the OpenCore boot image and the macOS recovery " +
			"(or full installer) image into the cache, so that a later " +
			"\"proxmac create\" does not need network access.\n\n" +
			"Supported versions: " + strings.Join(macosver.Names(), ", "),
		Args: cobra.ExactArgs(1),
		RunE: runDownload,
	}

	command.PersistentFlags().StringVar(&logFilePath, "log-file", "",
		"optional path to a file where logs (up to 100 Mb) will be written")
	command.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	return command
}

func runDownload(cmd *cobra.Command, args []string) (err error) {
	version, err := macosver.Lookup(args[0])
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(debug, logFilePath)
	if err != nil {
		return err
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil && err == nil {
			err = syncErr
		}
	}()

	cacheDir, err := proxmachome.CachePath()
	if err != nil {
		return err
	}

	client := recovery.NewClient(recovery.WithLogger(logger.Sugar()))

	openCorePath, err := client.FetchOpenCoreISO(cmd.Context(), version.Name, cacheDir)
	if err != nil {
		return err
	}
	fmt.Printf("OpenCore image: %s\n", openCorePath)

	result, err := client.Fetch(cmd.Context(), version, cacheDir)
	if err != nil {
		return err
	}
	fmt.Printf("%s image: %s\n", version.Label, result.RawPath)

	return nil
}
