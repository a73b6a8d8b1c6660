// Package cpuinfo identifies the host CPU and decides whether the guest
// needs an emulated CPU model instead of host passthrough.
package cpuinfo

import (
	"os"
	"strconv"
	"strings"
)

// Replaceable for testing.
var procCPUInfoPath = "/proc/cpuinfo"

// Intel Family 6 model numbers with a hybrid P+E core topology. macOS
// hardware validation fails on hybrid cores under -cpu host with a real
// SMBIOS, so these hosts get an emulated CPU model.
var intelHybridModels = map[int]struct{}{
	151: {}, // Alder Lake-S
	154: {}, // Alder Lake-P
	170: {}, // Meteor Lake
	183: {}, // Raptor Lake-S
	186: {}, // Raptor Lake-P
}

// Models at or above this are assumed hybrid.
const intelHybridThreshold = 190

type CPU struct {
	Vendor    string // "AMD" or "Intel"
	ModelName string
	Family    int
	Model     int

	// NeedsEmulatedCPU is true for AMD hosts (no native macOS support)
	// and for hybrid Intel hosts.
	NeedsEmulatedCPU bool
}

func Detect() CPU {
	cpu := CPU{Vendor: "Intel"}

	data, err := os.ReadFile(procCPUInfoPath)
	if err != nil {
		return cpu
	}

	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			// Empty line ends the first CPU block; all cores report
			// the same identification values.
			if strings.TrimSpace(line) == "" && cpu.Family != 0 {
				break
			}

			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "vendor_id":
			if strings.Contains(value, "AuthenticAMD") {
				cpu.Vendor = "AMD"
			} else {
				cpu.Vendor = "Intel"
			}
		case "cpu family":
			if family, err := strconv.Atoi(value); err == nil {
				cpu.Family = family
			}
		case "model name":
			cpu.ModelName = value
		case "model":
			if model, err := strconv.Atoi(value); err == nil {
				cpu.Model = model
			}
		}
	}

	if cpu.Vendor == "AMD" {
		cpu.NeedsEmulatedCPU = true

		return cpu
	}

	_, knownHybrid := intelHybridModels[cpu.Model]
	cpu.NeedsEmulatedCPU = cpu.Family == 6 && (knownHybrid || cpu.Model >= intelHybridThreshold)

	return cpu
}
