package preflight

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindBinaryFallsBackToSystemPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frobnicate"), []byte("#!/bin/sh\n"), 0o755))

	previousPrefixes := extraBinaryPrefixes
	extraBinaryPrefixes = []string{dir}
	t.Cleanup(func() {
		extraBinaryPrefixes = previousPrefixes
	})

	require.Equal(t, filepath.Join(dir, "frobnicate"), findBinary("frobnicate"))
	require.Empty(t, findBinary("no-such-binary"))
}

func TestRunReportsMissingPieces(t *testing.T) {
	previousKVM, previousLoop, previousUID := kvmDevicePath, loopControlPath, effectiveUserID
	kvmDevicePath = filepath.Join(t.TempDir(), "kvm")
	loopControlPath = filepath.Join(t.TempDir(), "loop-control")
	effectiveUserID = func() int { return 1000 }
	t.Cleanup(func() {
		kvmDevicePath, loopControlPath, effectiveUserID = previousKVM, previousLoop, previousUID
	})

	checks := Run()
	require.False(t, Passed(checks))

	byName := map[string]Check{}
	for _, check := range checks {
		byName[check.Name] = check
	}

	require.False(t, byName[kvmDevicePath+" present"].OK)
	require.False(t, byName[loopControlPath+" present"].OK)

	rootCheck := byName["root privileges"]
	require.False(t, rootCheck.OK)
}

func TestRunPassesOnCompleteHost(t *testing.T) {
	dir := t.TempDir()

	for _, binary := range append(append([]string{}, proxmoxBinaries...), "dmg2img", "mkfs.fat") {
		require.NoError(t, os.WriteFile(filepath.Join(dir, binary), []byte("#!/bin/sh\n"), 0o755))
	}

	kvmPath := filepath.Join(dir, "kvm")
	loopPath := filepath.Join(dir, "loop-control")
	require.NoError(t, os.WriteFile(kvmPath, nil, 0o600))
	require.NoError(t, os.WriteFile(loopPath, nil, 0o600))

	previousKVM, previousLoop, previousUID := kvmDevicePath, loopControlPath, effectiveUserID
	previousPrefixes := extraBinaryPrefixes
	kvmDevicePath = kvmPath
	loopControlPath = loopPath
	effectiveUserID = func() int { return 0 }
	extraBinaryPrefixes = []string{dir}
	t.Cleanup(func() {
		kvmDevicePath, loopControlPath, effectiveUserID = previousKVM, previousLoop, previousUID
		extraBinaryPrefixes = previousPrefixes
	})

	checks := Run()
	require.True(t, Passed(checks), "%+v", checks)
}
