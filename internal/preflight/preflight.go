// Package preflight verifies that the host has everything a
// provisioning run needs before any state is touched.
package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Overridable in tests.
var (
	kvmDevicePath       = "/dev/kvm"
	loopControlPath     = "/dev/loop-control"
	effectiveUserID     = os.Geteuid
	extraBinaryPrefixes = []string{"/usr/sbin", "/sbin", "/usr/bin", "/bin"}
)

type Check struct {
	Name    string
	OK      bool
	Details string
}

// The Proxmox tools ship with the host; the build tools usually need
// installing.
var proxmoxBinaries = []string{"qm", "pvesm", "qemu-img"}

var buildBinaries = map[string]string{
	"dmg2img":  "apt install dmg2img",
	"mkfs.fat": "apt install dosfstools",
}

// Run performs every host check and returns the full list, failing
// checks included; the caller decides whether a failure is fatal.
func Run() []Check {
	var checks []Check

	for _, binary := range proxmoxBinaries {
		checks = append(checks, binaryCheck(binary,
			fmt.Sprintf("%s not found, is this a Proxmox VE host?", binary)))
	}

	for binary, installHint := range buildBinaries {
		checks = append(checks, binaryCheck(binary,
			fmt.Sprintf("not found, install with: %s", installHint)))
	}

	checks = append(checks, deviceCheck(kvmDevicePath,
		"required for hardware acceleration"))
	checks = append(checks, deviceCheck(loopControlPath,
		"required for disk image building, try: modprobe loop"))

	checks = append(checks, Check{
		Name:    "root privileges",
		OK:      effectiveUserID() == 0,
		Details: "loop devices and kernel mounts require UID 0",
	})

	return checks
}

// Passed reports whether every check in the list succeeded.
func Passed(checks []Check) bool {
	for _, check := range checks {
		if !check.OK {
			return false
		}
	}

	return true
}

func binaryCheck(binary string, failureDetails string) Check {
	check := Check{Name: binary + " available"}

	if path := findBinary(binary); path != "" {
		check.OK = true
		check.Details = path
	} else {
		check.Details = failureDetails
	}

	return check
}

func deviceCheck(path string, details string) Check {
	_, err := os.Stat(path)

	return Check{
		Name:    path + " present",
		OK:      err == nil,
		Details: details,
	}
}

// findBinary looks the command up in PATH and then in the usual system
// directories, which are not on PATH in every root shell.
func findBinary(binary string) string {
	if path, err := exec.LookPath(binary); err == nil {
		return path
	}

	for _, prefix := range extraBinaryPrefixes {
		candidate := filepath.Join(prefix, binary)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return ""
}
