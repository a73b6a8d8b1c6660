package opencore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"howett.net/plist"

	"github.com/lucid-fabrics/proxmac/internal/resources"
)

// fakeTracker stands in for the real tracker with plain directories, so
// Build runs unprivileged and without a loop subsystem.
type fakeTracker struct {
	t *testing.T

	// populateSource fills the read-only mount target the way the
	// source image's filesystem would look.
	populateSource func(t *testing.T, target string)

	outstanding int
	released    []string
	releasedAll bool

	// Snapshots of the built tree, taken on the final unwind before the
	// scratch directory disappears.
	destTarget    string
	patchedConfig []byte
	visibility    []byte
}

func installFakeTracker(t *testing.T, populateSource func(*testing.T, string)) *fakeTracker {
	t.Helper()

	tracker := &fakeTracker{t: t, populateSource: populateSource}

	fakeMkfs := filepath.Join(t.TempDir(), "mkfs.fat")
	require.NoError(t, os.WriteFile(fakeMkfs, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	previousTracker, previousMkfs := newTracker, mkfsCommandName
	newTracker = func(*zap.SugaredLogger) resourceTracker {
		return tracker
	}
	mkfsCommandName = fakeMkfs
	t.Cleanup(func() {
		newTracker, mkfsCommandName = previousTracker, previousMkfs
	})

	return tracker
}

func (tracker *fakeTracker) AttachLoop(backingFile string) (*resources.LoopDevice, error) {
	tracker.outstanding++

	return &resources.LoopDevice{
		BackingFile: backingFile,
		Device:      fmt.Sprintf("/dev/loop%d", tracker.outstanding),
	}, nil
}

func (tracker *fakeTracker) WaitForPartition(
	_ context.Context,
	device *resources.LoopDevice,
	n int,
) (string, error) {
	return device.PartitionPath(n), nil
}

func (tracker *fakeTracker) Mount(source, target, fstype string, readOnly bool) (*resources.MountPoint, error) {
	require.NoError(tracker.t, os.MkdirAll(target, 0o755))

	if readOnly && tracker.populateSource != nil {
		tracker.populateSource(tracker.t, target)
	} else if !readOnly {
		tracker.destTarget = target
	}

	tracker.outstanding++

	return &resources.MountPoint{Source: source, Target: target}, nil
}

func (tracker *fakeTracker) Release(resource any) error {
	tracker.outstanding--
	tracker.released = append(tracker.released, fmt.Sprintf("%T", resource))

	return nil
}

func (tracker *fakeTracker) ReleaseAll() error {
	if tracker.destTarget != "" {
		if data, err := os.ReadFile(filepath.Join(tracker.destTarget, "EFI", "OC", "config.plist")); err == nil {
			tracker.patchedConfig = data
		}
		if data, err := os.ReadFile(filepath.Join(tracker.destTarget, ".contentVisibility")); err == nil {
			tracker.visibility = data
		}
	}

	tracker.outstanding = 0
	tracker.releasedAll = true

	return nil
}

func fakeSourceImage(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "opencore-release.iso")
	require.NoError(t, os.WriteFile(path, []byte("not a real disk image"), 0o644))

	return path
}

func TestBuildProducesBootableTree(t *testing.T) {
	tracker := installFakeTracker(t, func(t *testing.T, target string) {
		ocDir := filepath.Join(target, "EFI", "OC")
		require.NoError(t, os.MkdirAll(ocDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(ocDir, "config.plist"),
			[]byte(releaseConfigPlist), 0o644))
	})

	destPath := filepath.Join(t.TempDir(), "opencore.img")

	err := NewBuilder().Build(context.Background(), BuildInput{
		SourceImage: fakeSourceImage(t),
		DestPath:    destPath,
		Patch:       ConfigPatch{},
	})
	require.NoError(t, err)

	// The destination image carries a GPT with the ESP at sector 2048.
	start, err := firstPartitionStart(destPath)
	require.NoError(t, err)
	require.EqualValues(t, 2048*512, start)

	// The copied config.plist was patched in place.
	var config map[string]interface{}
	_, err = plist.Unmarshal(tracker.patchedConfig, &config)
	require.NoError(t, err)
	security := config["Misc"].(map[string]interface{})["Security"].(map[string]interface{})
	require.EqualValues(t, 0, security["ScanPolicy"])

	require.Equal(t, "Auxiliary\n", string(tracker.visibility))

	// The source image was released right after the copy; everything
	// else on the final unwind.
	require.Equal(t, []string{"*resources.MountPoint", "*resources.LoopDevice"}, tracker.released)
	require.True(t, tracker.releasedAll)
	require.Zero(t, tracker.outstanding)
}

func TestBuildCorruptSourceReleasesEverything(t *testing.T) {
	// The source mounts fine but carries no EFI/OC tree.
	tracker := installFakeTracker(t, nil)

	err := NewBuilder().Build(context.Background(), BuildInput{
		SourceImage: fakeSourceImage(t),
		DestPath:    filepath.Join(t.TempDir(), "opencore.img"),
		Patch:       ConfigPatch{},
	})
	require.ErrorIs(t, err, ErrCorruptSourceImage)

	require.True(t, tracker.releasedAll)
	require.Zero(t, tracker.outstanding)
}
