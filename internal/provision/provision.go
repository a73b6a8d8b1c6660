// Package provision orchestrates the full pipeline that turns a profile
// into a bootable macOS guest: asset fetching, boot-disk building,
// hardware-identity generation and the Proxmox VM configuration itself.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucid-fabrics/proxmac/internal/config"
	"github.com/lucid-fabrics/proxmac/internal/cpuinfo"
	"github.com/lucid-fabrics/proxmac/internal/macosver"
	"github.com/lucid-fabrics/proxmac/internal/opencore"
	"github.com/lucid-fabrics/proxmac/internal/pve"
	"github.com/lucid-fabrics/proxmac/internal/recovery"
	"github.com/lucid-fabrics/proxmac/internal/smbios"
)

var ErrInvalidProfile = errors.New("invalid profile")

// The first sectors of an imported image, re-written to the storage
// volume to undo the GPT header truncation "qm importdisk" causes on
// thin-provisioned LVM.
const gptRepairBytes = 2048 * 512

type Provisioner struct {
	profile config.Profile

	logger         *zap.SugaredLogger
	recoveryClient *recovery.Client
	builder        *opencore.Builder
	cacheDir       string

	// identitySink persists a freshly generated identity so the next
	// run of the same profile reuses it.
	identitySink func(*smbios.Identity) error
}

type Option func(*Provisioner)

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(provisioner *Provisioner) {
		provisioner.logger = logger
	}
}

func WithRecoveryClient(client *recovery.Client) Option {
	return func(provisioner *Provisioner) {
		provisioner.recoveryClient = client
	}
}

func WithCacheDir(cacheDir string) Option {
	return func(provisioner *Provisioner) {
		provisioner.cacheDir = cacheDir
	}
}

func WithIdentitySink(sink func(*smbios.Identity) error) Option {
	return func(provisioner *Provisioner) {
		provisioner.identitySink = sink
	}
}

func NewProvisioner(profile config.Profile, opts ...Option) *Provisioner {
	provisioner := &Provisioner{
		profile: profile,
	}

	for _, opt := range opts {
		opt(provisioner)
	}

	if provisioner.logger == nil {
		provisioner.logger = zap.NewNop().Sugar()
	}
	if provisioner.recoveryClient == nil {
		provisioner.recoveryClient = recovery.NewClient(recovery.WithLogger(provisioner.logger))
	}
	if provisioner.builder == nil {
		provisioner.builder = opencore.NewBuilder(opencore.WithLogger(provisioner.logger))
	}
	if provisioner.cacheDir == "" {
		provisioner.cacheDir = os.TempDir()
	}

	return provisioner
}

// Artifacts points at everything a run produced.
type Artifacts struct {
	VMID int

	// FirmwareDisk is the built OpenCore boot disk image.
	FirmwareDisk string

	// RecoveryDisk is the raw macOS recovery (or full installer) image.
	RecoveryDisk string

	Identity *smbios.Identity
}

type RunOptions struct {
	DryRun bool

	// KeepOnFailure leaves a partially configured VM in place for
	// inspection instead of rolling it back.
	KeepOnFailure bool
}

// Run provisions the guest end to end. When any step fails after the VM
// shell was created, the half-configured VM is destroyed again unless
// KeepOnFailure is set; loop devices and mounts are always cleaned up by
// the build steps themselves.
func (provisioner *Provisioner) Run(ctx context.Context, opts RunOptions) (*Artifacts, error) {
	if issues := provisioner.profile.Validate(); len(issues) != 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, issues)
	}

	version, err := macosver.Lookup(provisioner.profile.MacOSVersion)
	if err != nil {
		return nil, err
	}

	cpu := cpuinfo.Detect()
	if cpu.NeedsEmulatedCPU {
		provisioner.logger.Infof("host CPU %q needs an emulated guest CPU", cpu.ModelName)
	}

	identity, err := provisioner.ensureIdentity(version)
	if err != nil {
		return nil, err
	}

	firmwareDisk := filepath.Join(provisioner.cacheDir,
		fmt.Sprintf("opencore-%s-vm%d.img", version.Name, provisioner.profile.VMID))

	artifacts := &Artifacts{
		VMID:         provisioner.profile.VMID,
		FirmwareDisk: firmwareDisk,
		Identity:     identity,
	}

	var assets *Assets

	if opts.DryRun {
		// A dry run must not download gigabytes of assets; describe the
		// plan with the paths the assets would land at.
		assets = provisioner.expectedAssets(version)
	} else {
		assets, err = provisioner.EnsureAssets(ctx, version)
		if err != nil {
			return nil, err
		}
	}

	artifacts.RecoveryDisk = assets.RecoveryImage

	plan := provisioner.buildPlan(version, cpu, identity, assets, artifacts.FirmwareDisk)

	results, err := plan.Apply(ctx, provisioner.logger, opts.DryRun)
	if err != nil {
		if shellCreated(results) && !opts.KeepOnFailure {
			provisioner.rollback(ctx)
		}

		return nil, err
	}

	return artifacts, nil
}

// Assets are the images a provisioning run consumes.
type Assets struct {
	OpenCoreImage string
	RecoveryImage string
}

// EnsureAssets makes sure the OpenCore image and the recovery image for
// a macOS version are present in the cache directory, downloading
// whatever is missing.
func (provisioner *Provisioner) EnsureAssets(ctx context.Context, version macosver.Version) (*Assets, error) {
	assets := provisioner.expectedAssets(version)

	openCoreImage, err := provisioner.recoveryClient.FetchOpenCoreISO(ctx, version.Name, provisioner.cacheDir)
	if err != nil {
		return nil, err
	}
	assets.OpenCoreImage = openCoreImage

	if provisioner.profile.InstallerPath != "" {
		if _, err := os.Stat(assets.RecoveryImage); err != nil {
			return nil, fmt.Errorf("installer image %s: %w", assets.RecoveryImage, err)
		}

		return assets, nil
	}

	if _, err := os.Stat(assets.RecoveryImage); err == nil {
		provisioner.logger.Debugf("reusing cached recovery image %s", assets.RecoveryImage)

		return assets, nil
	}

	result, err := provisioner.recoveryClient.Fetch(ctx, version, provisioner.cacheDir)
	if err != nil {
		return nil, err
	}
	assets.RecoveryImage = result.RawPath

	return assets, nil
}

func (provisioner *Provisioner) expectedAssets(version macosver.Version) *Assets {
	recoveryImage := provisioner.profile.InstallerPath

	if recoveryImage == "" {
		suffix := "-recovery.img"
		if version.FullInstaller {
			suffix = "-full-installer.img"
		}

		recoveryImage = filepath.Join(provisioner.cacheDir, version.Name+suffix)
	}

	return &Assets{
		OpenCoreImage: filepath.Join(provisioner.cacheDir,
			fmt.Sprintf("opencore-%s.iso", version.Name)),
		RecoveryImage: recoveryImage,
	}
}

func (provisioner *Provisioner) buildPlan(
	version macosver.Version,
	cpu cpuinfo.CPU,
	identity *smbios.Identity,
	assets *Assets,
	firmwareDisk string,
) *Plan {
	profile := provisioner.profile
	vmid := strconv.Itoa(profile.VMID)

	plan := &Plan{}

	plan.Steps = append(plan.Steps, Step{
		Title: "create VM shell",
		Command: []string{
			"create", vmid,
			"--name", profile.Name,
			"--ostype", "other",
			"--machine", "q35",
			"--bios", "ovmf",
			"--cores", strconv.Itoa(profile.Cores),
			"--sockets", "1",
			"--memory", strconv.Itoa(profile.MemoryMB),
			"--cpu", "host",
			"--balloon", "0",
			"--agent", "enabled=1",
			"--net0", netDeviceValue(profile.Bridge, ""),
		},
	})

	plan.Steps = append(plan.Steps, Step{
		Title: "apply macOS hardware profile",
		Command: []string{
			"set", vmid,
			"--args", hardwareProfileArgs(cpu, profile.CPUModel),
			"--vga", "std",
			"--tablet", "1",
			"--scsihw", "virtio-scsi-pci",
		},
	})

	plan.Steps = append(plan.Steps, Step{
		Title:   "set SMBIOS identity",
		Command: []string{"set", vmid, "--smbios1", smbios1Value(identity)},
	})

	if profile.AppleServices {
		// A stable vmgenid and a static NIC MAC matching the firmware
		// ROM value; identity validation cross-checks them.
		plan.Steps = append(plan.Steps, Step{
			Title:   "configure vmgenid",
			Command: []string{"set", vmid, "--vmgenid", uuid.New().String()},
		})

		plan.Steps = append(plan.Steps, Step{
			Title:   "pin the guest NIC MAC address",
			Command: []string{"set", vmid, "--net0", netDeviceValue(profile.Bridge, identity.MAC)},
		})
	}

	plan.Steps = append(plan.Steps, Step{
		Title: "attach EFI and TPM state",
		Command: []string{
			"set", vmid,
			"--efidisk0", profile.Storage + ":0,efitype=4m,pre-enrolled-keys=0",
			"--tpmstate0", profile.Storage + ":0,version=v2.0",
		},
	})

	plan.Steps = append(plan.Steps, Step{
		Title:   "create the main disk",
		Command: []string{"set", vmid, "--virtio0", fmt.Sprintf("%s:%d", profile.Storage, profile.DiskGB)},
	})

	plan.Steps = append(plan.Steps, Step{
		Title: "build the OpenCore boot disk",
		Run: func(ctx context.Context) error {
			return provisioner.builder.Build(ctx, opencore.BuildInput{
				SourceImage: assets.OpenCoreImage,
				DestPath:    firmwareDisk,
				Patch: opencore.ConfigPatch{
					VerboseBoot: profile.VerboseBoot,
					EmulatedCPU: cpu.NeedsEmulatedCPU && cpu.Vendor == "AMD",
					Identity:    identityForFirmware(profile, identity),
				},
			})
		},
	})

	plan.Steps = append(plan.Steps, Step{
		Title: "stamp the recovery volume",
		Run: func(ctx context.Context) error {
			return provisioner.builder.StampRecovery(ctx, assets.RecoveryImage, version.Label)
		},
	})

	plan.Steps = append(plan.Steps, Step{
		Title: "import and attach the OpenCore disk",
		Run: func(ctx context.Context) error {
			return provisioner.importAndAttach(ctx, firmwareDisk, "--ide0", true)
		},
	})

	plan.Steps = append(plan.Steps, Step{
		Title: "import and attach the recovery disk",
		Run: func(ctx context.Context) error {
			return provisioner.importAndAttach(ctx, assets.RecoveryImage, "--ide2", false)
		},
	})

	plan.Steps = append(plan.Steps, Step{
		Title:   "set the boot order",
		Command: []string{"set", vmid, "--boot", "order=ide2;virtio0;ide0"},
	})

	plan.Steps = append(plan.Steps, Step{
		Title:   "start the VM",
		Command: []string{"start", vmid},
	})

	return plan
}

// importAndAttach imports a disk image into the profile's storage and
// attaches the resulting volume to the given slot. For GPT images the
// first sectors are re-written afterwards; importing onto
// thin-provisioned LVM truncates the protective GPT structures.
func (provisioner *Provisioner) importAndAttach(
	ctx context.Context,
	imagePath string,
	slot string,
	repairGPT bool,
) error {
	reference, err := pve.ImportDisk(ctx, provisioner.logger,
		provisioner.profile.VMID, imagePath, provisioner.profile.Storage)
	if err != nil {
		return err
	}

	vmid := strconv.Itoa(provisioner.profile.VMID)

	if _, _, err := pve.Qm(ctx, provisioner.logger, "set", vmid, slot, reference+",media=disk"); err != nil {
		return err
	}

	if !repairGPT {
		return nil
	}

	volumePath, err := pve.VolumePath(ctx, provisioner.logger, reference)
	if err != nil {
		provisioner.logger.Warnf("failed to resolve volume %s, skipping GPT repair: %v",
			reference, err)

		return nil
	}

	if err := copyLeadingBytes(imagePath, volumePath, gptRepairBytes); err != nil {
		provisioner.logger.Warnf("failed to repair the GPT header on %s: %v", volumePath, err)
	}

	return nil
}

func (provisioner *Provisioner) ensureIdentity(version macosver.Version) (*smbios.Identity, error) {
	if persisted := provisioner.profile.Identity; persisted != nil {
		return &smbios.Identity{
			Serial: persisted.Serial,
			MLB:    persisted.MLB,
			UUID:   persisted.UUID,
			ROM:    persisted.ROM,
			Model:  persisted.Model,
			MAC:    persisted.MAC,
		}, nil
	}

	identity, err := smbios.Generate(version.Model, provisioner.profile.AppleServices)
	if err != nil {
		return nil, err
	}

	if provisioner.identitySink != nil {
		if err := provisioner.identitySink(identity); err != nil {
			return nil, fmt.Errorf("failed to persist the generated identity: %w", err)
		}
	}

	return identity, nil
}

// rollback removes a partially configured VM. Failures are logged, not
// returned: the original provisioning error matters more.
func (provisioner *Provisioner) rollback(ctx context.Context) {
	vmid := strconv.Itoa(provisioner.profile.VMID)

	provisioner.logger.Warnf("provisioning failed, destroying the partially configured VM %s", vmid)

	_, _, _ = pve.Qm(ctx, provisioner.logger, "stop", vmid)

	if _, _, err := pve.Qm(ctx, provisioner.logger, "destroy", vmid, "--purge"); err != nil {
		provisioner.logger.Errorf("failed to destroy VM %s, remove it manually: %v", vmid, err)
	}
}

func shellCreated(results []StepResult) bool {
	return len(results) != 0 && results[0].Err == nil
}

// identityForFirmware decides what goes into PlatformInfo: the full
// identity when Apple services are requested, nothing otherwise — a
// cosmetic identity only exists in the hypervisor's SMBIOS.
func identityForFirmware(profile config.Profile, identity *smbios.Identity) *smbios.Identity {
	if profile.AppleServices {
		return identity
	}

	return nil
}

func netDeviceValue(bridge string, mac string) string {
	value := "vmxnet3,bridge=" + bridge

	if mac != "" {
		value += ",macaddr=" + mac
	}

	return value + ",firewall=0"
}

func copyLeadingBytes(sourcePath string, destPath string, n int64) error {
	source, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer source.Close()

	dest, err := os.OpenFile(destPath, os.O_WRONLY, 0)
	if err != nil {
		return err
	}

	if _, err := io.CopyN(dest, source, n); err != nil {
		_ = dest.Close()

		return err
	}

	return dest.Close()
}
