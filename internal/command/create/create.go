package create

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucid-fabrics/proxmac/internal/command/logging"
	"github.com/lucid-fabrics/proxmac/internal/config"
	"github.com/lucid-fabrics/proxmac/internal/provision"
	"github.com/lucid-fabrics/proxmac/internal/proxmachome"
	"github.com/lucid-fabrics/proxmac/internal/smbios"
)

var dryRun bool
var keepOnFailure bool
var logFilePath string
var debug bool

func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "create [PROFILE]",
		Short: "Provision a macOS VM from a profile",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCreate,
	}

	command.PersistentFlags().BoolVar(&dryRun, "dry-run", false,
		"print the provisioning plan without executing it")
	command.PersistentFlags().BoolVar(&keepOnFailure, "keep-on-failure", false,
		"leave a partially configured VM in place for inspection instead of destroying it")
	command.PersistentFlags().StringVar(&logFilePath, "log-file", "",
		"optional path to a file where logs (up to 100 Mb) will be written")
	command.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	return command
}

func runCreate(cmd *cobra.Command, args []string) (err error) {
	configHandle, err := config.NewHandle()
	if err != nil {
		return err
	}

	var profileName string
	if len(args) != 0 {
		profileName = args[0]
	} else {
		cfg, err := configHandle.Config()
		if err != nil {
			return err
		}

		profileName = cfg.DefaultProfile
	}

	profile, err := configHandle.Profile(profileName)
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

	provisioner := provision.NewProvisioner(profile,
		provision.WithLogger(logger.Sugar()),
		provision.WithCacheDir(cacheDir),
		provision.WithIdentitySink(func(identity *smbios.Identity) error {
			return configHandle.UpdateProfile(profileName, func(profile *config.Profile) {
				profile.Identity = &config.Identity{
					Serial: identity.Serial,
					UUID:   identity.UUID,
					MLB:    identity.MLB,
					ROM:    identity.ROM,
					Model:  identity.Model,
					MAC:    identity.MAC,
				}
			})
		}),
	)

	artifacts, err := provisioner.Run(cmd.Context(), provision.RunOptions{
		DryRun:        dryRun,
		KeepOnFailure: keepOnFailure,
	})
	if err != nil {
		return err
	}

	if dryRun {
		return nil
	}

	fmt.Printf("VM %d is provisioned and starting\n", artifacts.VMID)
	fmt.Printf("serial number: %s\n", artifacts.Identity.Serial)
	fmt.Println("open the Proxmox console and follow the macOS installer")

	return nil
}
