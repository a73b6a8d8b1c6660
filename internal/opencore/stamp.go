package opencore

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/backend/file"
)

const (
	// The volume header sits 1024 bytes into the partition; the 32-bit
	// attributes field follows the signature and version words.
	hfsVolumeHeaderOffset = 1024
	hfsAttributesOffset   = hfsVolumeHeaderOffset + 4

	hfsUnmountedFlag    = 0x100
	hfsInconsistentFlag = 0x800

	installerIconName = "InstallAssistant.icns"
)

// StampRecovery dresses up a raw recovery disk image for the boot
// picker: the blessed volume gets the macOS version label and the
// installer's icon instead of a generic name and drive glyph.
//
// The image's HFS+ flags are fixed first. Conversion leaves the volume
// marked in-use, and the kernel driver then refuses to mount it
// read-write.
func (builder *Builder) StampRecovery(ctx context.Context, imagePath string, label string) (err error) {
	if err := fixHFSFlags(imagePath); err != nil {
		return fmt.Errorf("failed to fix HFS+ flags of %s: %w", imagePath, err)
	}

	scratchDir, err := os.MkdirTemp("", "recovery-stamp-")
	if err != nil {
		return err
	}
	// Registered before the tracker's unwind so the mount is gone by the
	// time the scratch directory is removed.
	defer os.RemoveAll(scratchDir)

	tracker := newTracker(builder.logger)
	defer func() {
		if releaseErr := tracker.ReleaseAll(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()

	loop, err := tracker.AttachLoop(imagePath)
	if err != nil {
		return err
	}

	partition, err := tracker.WaitForPartition(ctx, loop, 1)
	if err != nil {
		return err
	}

	mount, err := tracker.Mount(partition, filepath.Join(scratchDir, "recovery"), "hfsplus", false)
	if err != nil {
		return err
	}

	// The boot picker reads the display name from .contentDetails in the
	// blessed directory.
	servicesDir := filepath.Join(mount.Target, "System", "Library", "CoreServices")
	if err := os.MkdirAll(servicesDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(servicesDir, ".contentDetails"), []byte(label), 0o644); err != nil {
		return err
	}

	if iconPath := findInstallerIcon(mount.Target); iconPath != "" {
		if err := copyFile(iconPath, filepath.Join(mount.Target, ".VolumeIcon.icns")); err != nil {
			return err
		}

		builder.logger.Debugf("volume icon set from %s", iconPath)
	} else {
		builder.logger.Debugf("no %s found, keeping the default icon", installerIconName)
	}

	builder.logger.Infof("stamped %s as %q", imagePath, label)

	return nil
}

// fixHFSFlags marks the first partition's HFS+ volume as cleanly
// unmounted and consistent.
func fixHFSFlags(imagePath string) error {
	start, err := firstPartitionStart(imagePath)
	if err != nil {
		return err
	}

	image, err := os.OpenFile(imagePath, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer image.Close()

	var attributes uint32

	if _, err := image.Seek(start+hfsAttributesOffset, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Read(image, binary.BigEndian, &attributes); err != nil {
		return err
	}

	attributes = (attributes | hfsUnmountedFlag) &^ hfsInconsistentFlag

	if _, err := image.Seek(start+hfsAttributesOffset, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(image, binary.BigEndian, attributes); err != nil {
		return err
	}

	return image.Sync()
}

// firstPartitionStart returns the byte offset of the image's first
// partition.
func firstPartitionStart(imagePath string) (int64, error) {
	backing, err := file.OpenFromPath(imagePath, true)
	if err != nil {
		return 0, err
	}

	disk, err := diskfs.OpenBackend(backing)
	if err != nil {
		return 0, err
	}
	defer disk.Close()

	table, err := disk.GetPartitionTable()
	if err != nil {
		return 0, err
	}

	partitions := table.GetPartitions()
	if len(partitions) == 0 {
		return 0, fmt.Errorf("%w: no partitions", ErrCorruptSourceImage)
	}

	return partitions[0].GetStart(), nil
}

func findInstallerIcon(root string) string {
	var iconPath string

	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		if entry.Type().IsRegular() && entry.Name() == installerIconName &&
			strings.Contains(path, "Install macOS") {
			iconPath = path

			return filepath.SkipAll
		}

		return nil
	})

	return iconPath
}

func copyFile(source, dest string) error {
	input, err := os.Open(source)
	if err != nil {
		return err
	}
	defer input.Close()

	output, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(output, input); err != nil {
		_ = output.Close()

		return err
	}

	return output.Close()
}
