package opencore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/backend/file"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/lucid-fabrics/proxmac/internal/resources"
)

const (
	diskSize   = 1 << 30 // 1 GiB
	sectorSize = 512

	// Sectors reserved for the protective MBR plus the primary and
	// secondary GPT structures.
	gptHeaderSectors  = 2048
	gptTrailerSectors = 34

	espLabel = "OPENCORE"
)

// Overridable in tests.
var (
	mkfsCommandName = "mkfs.fat"

	newTracker = func(logger *zap.SugaredLogger) resourceTracker {
		return resources.NewTracker(resources.WithLogger(logger))
	}
)

// resourceTracker is the slice of resources.Tracker the builder needs.
type resourceTracker interface {
	AttachLoop(backingFile string) (*resources.LoopDevice, error)
	WaitForPartition(ctx context.Context, device *resources.LoopDevice, n int) (string, error)
	Mount(source, target, fstype string, readOnly bool) (*resources.MountPoint, error)
	Release(resource any) error
	ReleaseAll() error
}

type Builder struct {
	logger *zap.SugaredLogger
}

type BuilderOption func(*Builder)

func WithLogger(logger *zap.SugaredLogger) BuilderOption {
	return func(builder *Builder) {
		builder.logger = logger
	}
}

func NewBuilder(opts ...BuilderOption) *Builder {
	builder := &Builder{}

	for _, opt := range opts {
		opt(builder)
	}

	if builder.logger == nil {
		builder.logger = zap.NewNop().Sugar()
	}

	return builder
}

// BuildInput describes one boot-disk build.
type BuildInput struct {
	// SourceImage is a release OpenCore disk image or ISO.
	SourceImage string

	// DestPath is where the built boot disk image is written.
	DestPath string

	Patch ConfigPatch
}

// Build produces a bootable OpenCore disk image at input.DestPath: a
// fresh GPT disk with a single FAT32 EFI System Partition, populated
// with the source image's tree and a patched config.plist.
//
// All loop devices and mounts acquired along the way are released before
// returning, on failure as well as on success.
func (builder *Builder) Build(ctx context.Context, input BuildInput) (err error) {
	scratchDir, err := os.MkdirTemp("", "opencore-build-")
	if err != nil {
		return err
	}
	// Registered before the tracker's unwind so the mounts are gone by
	// the time the scratch directory is removed.
	defer os.RemoveAll(scratchDir)

	tracker := newTracker(builder.logger)
	defer func() {
		if releaseErr := tracker.ReleaseAll(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()

	if err := createBlankESPDisk(input.DestPath); err != nil {
		return fmt.Errorf("failed to create %s: %w", input.DestPath, err)
	}

	destLoop, err := tracker.AttachLoop(input.DestPath)
	if err != nil {
		return err
	}

	destPartition, err := tracker.WaitForPartition(ctx, destLoop, 1)
	if err != nil {
		return err
	}

	if err := builder.formatFAT32(ctx, destPartition); err != nil {
		return err
	}

	destMount, err := tracker.Mount(destPartition, filepath.Join(scratchDir, "dest"), "vfat", false)
	if err != nil {
		return err
	}

	sourceLoop, err := tracker.AttachLoop(input.SourceImage)
	if err != nil {
		return err
	}

	// The FAT partition is found by filesystem type, not by position:
	// release images have shipped it at different indexes over time.
	sourceDevice := sourceLoop.Device

	if index, found := fatPartitionIndex(input.SourceImage); found {
		sourceDevice, err = tracker.WaitForPartition(ctx, sourceLoop, index)
		if err != nil {
			return err
		}
	} else {
		builder.logger.Warnf("no FAT partition found in %s, mounting the whole image",
			input.SourceImage)
	}

	sourceMount, err := tracker.Mount(sourceDevice, filepath.Join(scratchDir, "source"), "vfat", true)
	if err != nil {
		return err
	}

	if err := os.CopyFS(destMount.Target, os.DirFS(sourceMount.Target)); err != nil {
		return fmt.Errorf("failed to copy the OpenCore tree: %w", err)
	}

	// The source image is no longer needed once its tree is copied.
	if err := tracker.Release(sourceMount); err != nil {
		return err
	}
	if err := tracker.Release(sourceLoop); err != nil {
		return err
	}

	if err := validateLayout(destMount.Target); err != nil {
		return err
	}

	configPath := filepath.Join(destMount.Target, "EFI", "OC", "config.plist")
	if err := PatchConfig(configPath, input.Patch); err != nil {
		return err
	}

	// Keep the partition out of the boot picker unless the user asks for
	// auxiliary entries.
	visibilityPath := filepath.Join(destMount.Target, ".contentVisibility")
	if err := os.WriteFile(visibilityPath, []byte("Auxiliary\n"), 0o644); err != nil {
		return err
	}

	builder.logger.Infof("built OpenCore boot disk at %s", input.DestPath)

	return nil
}

// createBlankESPDisk writes a zeroed disk image holding a GPT with a
// single EFI System Partition spanning the whole disk.
func createBlankESPDisk(path string) error {
	disk, err := diskfs.Create(path, diskSize, diskfs.SectorSizeDefault)
	if err != nil {
		return err
	}
	defer disk.Close()

	table := &gpt.Table{
		ProtectiveMBR: true,
		Partitions: []*gpt.Partition{
			{
				Start: gptHeaderSectors,
				End:   diskSize/sectorSize - gptTrailerSectors - 1,
				Type:  gpt.EFISystemPartition,
				Name:  espLabel,
			},
		},
	}

	return disk.Partition(table)
}

func (builder *Builder) formatFAT32(ctx context.Context, device string) error {
	cmd := exec.CommandContext(ctx, mkfsCommandName, "-F", "32", "-n", espLabel, device)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	builder.logger.Debugf("running '%s %s'", mkfsCommandName, strings.Join(cmd.Args[1:], " "))

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to format %s: %q", device,
			firstNonEmptyLine(stderr.String(), stdout.String()))
	}

	return nil
}

// fatPartitionIndex probes the partitions of an image and returns the
// 1-based index of the first one holding a FAT32 filesystem.
func fatPartitionIndex(imagePath string) (int, bool) {
	backing, err := file.OpenFromPath(imagePath, true)
	if err != nil {
		return 0, false
	}

	disk, err := diskfs.OpenBackend(backing)
	if err != nil {
		return 0, false
	}
	defer disk.Close()

	table, err := disk.GetPartitionTable()
	if err != nil {
		return 0, false
	}

	for index := range table.GetPartitions() {
		fs, err := disk.GetFilesystem(index + 1)
		if err != nil {
			continue
		}

		if fs.Type() == filesystem.TypeFat32 {
			return index + 1, true
		}
	}

	return 0, false
}

func validateLayout(root string) error {
	missing := lo.Filter([]string{
		filepath.Join("EFI", "OC"),
		filepath.Join("EFI", "OC", "config.plist"),
	}, func(relative string, _ int) bool {
		_, err := os.Stat(filepath.Join(root, relative))

		return err != nil
	})

	if len(missing) != 0 {
		return fmt.Errorf("%w: missing %s", ErrCorruptSourceImage, strings.Join(missing, ", "))
	}

	return nil
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
