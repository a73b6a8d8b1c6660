package config

import (
	"fmt"
	"strings"

	"github.com/lucid-fabrics/proxmac/internal/macosver"
)

// Profile describes one macOS guest to provision.
type Profile struct {
	VMID         int    `yaml:"vmid"`
	Name         string `yaml:"name"`
	MacOSVersion string `yaml:"macos"`

	Cores    int    `yaml:"cores"`
	MemoryMB int    `yaml:"memoryMB"`
	DiskGB   int    `yaml:"diskGB"`
	Bridge   string `yaml:"bridge"`
	Storage  string `yaml:"storage"`

	// InstallerPath overrides the automatically fetched recovery or
	// installer image.
	InstallerPath string `yaml:"installerPath,omitempty"`

	// CPUModel overrides the QEMU CPU model chosen from the host CPU.
	CPUModel string `yaml:"cpuModel,omitempty"`

	VerboseBoot   bool `yaml:"verboseBoot,omitempty"`
	AppleServices bool `yaml:"appleServices,omitempty"`

	// Identity is filled in on the first provisioning run and reused
	// afterwards, so re-provisioning keeps the guest's Apple identity.
	Identity *Identity `yaml:"identity,omitempty"`
}

// Identity is the persisted form of a generated hardware identity.
type Identity struct {
	Serial string `yaml:"serial,omitempty"`
	UUID   string `yaml:"uuid,omitempty"`
	MLB    string `yaml:"mlb,omitempty"`
	ROM    Base64 `yaml:"rom,omitempty"`
	Model  string `yaml:"model,omitempty"`
	MAC    string `yaml:"mac,omitempty"`
}

// Validate returns every problem with the profile, not just the first
// one, so the user can fix them in one go.
func (profile *Profile) Validate() []string {
	var issues []string

	if profile.VMID < 100 || profile.VMID > 999999 {
		issues = append(issues, "vmid must be between 100 and 999999")
	}
	if len(profile.Name) < 3 {
		issues = append(issues, "name must be at least 3 characters")
	}
	if _, err := macosver.Lookup(profile.MacOSVersion); err != nil {
		issues = append(issues, fmt.Sprintf("macos must be one of: %s",
			strings.Join(macosver.Names(), ", ")))
	}
	if profile.Cores < 2 {
		issues = append(issues, "at least 2 CPU cores are required")
	}
	if profile.MemoryMB < 4096 {
		issues = append(issues, "at least 4096 MB of memory is required")
	}
	if profile.DiskGB < 64 {
		issues = append(issues, "at least a 64 GB disk is required")
	}
	if !strings.HasPrefix(profile.Bridge, "vmbr") {
		issues = append(issues, "bridge should look like vmbr0")
	}
	if profile.Storage == "" {
		issues = append(issues, "a storage target is required")
	}

	return issues
}
