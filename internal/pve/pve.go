// Package pve wraps the Proxmox VE command-line tools (qm, pvesm) used
// to create and manage the macOS guest.
package pve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Overridable in tests.
var (
	qmCommandName    = "qm"
	pvesmCommandName = "pvesm"
)

var (
	ErrNotFound      = errors.New("Proxmox command not found")
	ErrCommandFailed = errors.New("Proxmox command returned non-zero exit code")
)

var (
	importedDiskRefRegexp = regexp.MustCompile(`(?i)successfully imported disk (?:as )?'([^']+)'`)
	unusedSlotPrefix      = regexp.MustCompile(`^unused\d+:`)
)

func Qm(
	ctx context.Context,
	logger *zap.SugaredLogger,
	args ...string,
) (string, string, error) {
	return run(ctx, logger, qmCommandName, args...)
}

func Pvesm(
	ctx context.Context,
	logger *zap.SugaredLogger,
	args ...string,
) (string, string, error) {
	return run(ctx, logger, pvesmCommandName, args...)
}

func run(
	ctx context.Context,
	logger *zap.SugaredLogger,
	command string,
	args ...string,
) (string, string, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debugf("running '%s %s'", command, strings.Join(args, " "))
	err := cmd.Run()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", "", fmt.Errorf("%w: %s not found in PATH, is this a Proxmox VE host?",
				ErrNotFound, command)
		}

		if exitErr, ok := err.(*exec.ExitError); ok {
			logger.Warnf(
				"'%s %s' failed with exit code %d: %s",
				command, strings.Join(args, " "),
				exitErr.ExitCode(), firstNonEmptyLine(stderr.String(), stdout.String()),
			)

			err = fmt.Errorf("%w: %q", ErrCommandFailed,
				firstNonEmptyLine(stderr.String(), stdout.String()))
		}
	}

	return stdout.String(), stderr.String(), err
}

type VMInfo struct {
	VMID    int
	Name    string
	Running bool
}

// FetchVMInfo returns the current state of a VM, or nil when no VM with
// that ID exists.
func FetchVMInfo(ctx context.Context, logger *zap.SugaredLogger, vmid int) (*VMInfo, error) {
	statusOutput, _, err := Qm(ctx, logger, "status", strconv.Itoa(vmid))
	if err != nil {
		if errors.Is(err, ErrCommandFailed) {
			return nil, nil
		}

		return nil, err
	}

	info := &VMInfo{
		VMID:    vmid,
		Running: parseVMStatus(statusOutput),
	}

	configOutput, _, err := Qm(ctx, logger, "config", strconv.Itoa(vmid))
	if err == nil {
		info.Name = parseVMConfigName(configOutput)
	}

	return info, nil
}

// ImportDisk imports a disk image into a storage and returns the volume
// reference it got attached under (e.g. "local-lvm:vm-100-disk-1").
func ImportDisk(
	ctx context.Context,
	logger *zap.SugaredLogger,
	vmid int,
	imagePath string,
	storage string,
) (string, error) {
	// Newer Proxmox releases renamed "qm importdisk" to "qm disk import".
	subcommand := []string{"importdisk"}
	if _, _, err := Qm(ctx, logger, "disk", "import", "--help"); err == nil {
		subcommand = []string{"disk", "import"}
	}

	args := append(subcommand, strconv.Itoa(vmid), imagePath, storage)

	stdout, stderr, err := Qm(ctx, logger, args...)
	if err != nil {
		return "", err
	}

	reference := parseImportedDiskRef(stdout + stderr)
	if reference == "" {
		return "", fmt.Errorf("%w: no imported disk reference in output", ErrCommandFailed)
	}

	return reference, nil
}

// VolumePath resolves a storage volume reference to its host path or
// device node.
func VolumePath(ctx context.Context, logger *zap.SugaredLogger, reference string) (string, error) {
	stdout, _, err := Pvesm(ctx, logger, "path", reference)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(stdout), nil
}

func parseVMStatus(output string) bool {
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(strings.ToLower(line), "running") {
			return true
		}
	}

	return false
}

func parseVMConfigName(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if value, found := strings.CutPrefix(line, "name:"); found {
			return strings.TrimSpace(value)
		}
	}

	return ""
}

// parseImportedDiskRef extracts the volume reference from the import
// output. Newer Proxmox reports it attached to an unusedN slot; the
// slot is not part of the reference.
func parseImportedDiskRef(output string) string {
	match := importedDiskRefRegexp.FindStringSubmatch(output)
	if match == nil {
		return ""
	}

	return unusedSlotPrefix.ReplaceAllString(match[1], "")
}

func firstNonEmptyLine(outputs ...string) string {
	for _, output := range outputs {
		for _, line := range strings.Split(output, "\n") {
			if line != "" {
				return line
			}
		}
	}

	return ""
}
