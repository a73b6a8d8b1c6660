package profile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucid-fabrics/proxmac/internal/config"
	"github.com/lucid-fabrics/proxmac/internal/macosver"
)

var ErrCreateFailed = errors.New("failed to create profile")

var vmid int
var macOSVersion string
var cores int
var memoryMB int
var diskGB int
var bridge string
var storage string
var installerPath string
var cpuModel string
var verboseBoot bool
var appleServices bool
var force bool

func newCreateCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runCreate,
	}

	command.PersistentFlags().IntVar(&vmid, "vmid", 0,
		"Proxmox VM ID to provision (100-999999)")
	command.PersistentFlags().StringVar(&macOSVersion, "macos", "",
		"macOS version to install ("+strings.Join(macosver.Names(), ", ")+")")
	command.PersistentFlags().IntVar(&cores, "cores", 4,
		"number of guest CPU cores")
	command.PersistentFlags().IntVar(&memoryMB, "memory", 8192,
		"megabytes of guest memory")
	command.PersistentFlags().IntVar(&diskGB, "disk", 0,
		"size of the main disk in gigabytes (defaults to the minimum the macOS version needs)")
	command.PersistentFlags().StringVar(&bridge, "bridge", "vmbr0",
		"network bridge to attach the guest NIC to")
	command.PersistentFlags().StringVar(&storage, "storage", "local-lvm",
		"Proxmox storage for the guest disks")
	command.PersistentFlags().StringVar(&installerPath, "installer", "",
		"path to a pre-built installer image, overriding the automatic download")
	command.PersistentFlags().StringVar(&cpuModel, "cpu-model", "",
		"QEMU CPU model override (e.g. \"Skylake-Server-IBRS\")")
	command.PersistentFlags().BoolVar(&verboseBoot, "verbose-boot", false,
		"boot the guest with verbose kernel output")
	command.PersistentFlags().BoolVar(&appleServices, "apple-services", false,
		"generate a full hardware identity so iMessage and iCloud can work")
	command.PersistentFlags().BoolVar(&force, "force", false,
		"create the profile even if a profile with the same name already exists")

	return command
}

func runCreate(cmd *cobra.Command, args []string) error {
	name := args[0]

	if diskGB == 0 {
		diskGB = macosver.DefaultDiskGB(macOSVersion)
	}

	profile := config.Profile{
		VMID:          vmid,
		Name:          name,
		MacOSVersion:  macOSVersion,
		Cores:         cores,
		MemoryMB:      memoryMB,
		DiskGB:        diskGB,
		Bridge:        bridge,
		Storage:       storage,
		InstallerPath: installerPath,
		CPUModel:      cpuModel,
		VerboseBoot:   verboseBoot,
		AppleServices: appleServices,
	}

	if issues := profile.Validate(); len(issues) != 0 {
		return fmt.Errorf("%w:\n  %s", ErrCreateFailed, strings.Join(issues, "\n  "))
	}

	configHandle, err := config.NewHandle()
	if err != nil {
		return err
	}

	return configHandle.CreateProfile(name, profile, force)
}
