package resources

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// LoopDevice is an ownership handle binding a backing file to a kernel
// block device. At most one LoopDevice exists per backing file at a
// time; the device must be detached before the backing file is reused.
type LoopDevice struct {
	BackingFile string
	Device      string // e.g. /dev/loop3

	attached bool
}

// PartitionPath returns the device node of the n-th partition, e.g.
// /dev/loop3p1.
func (device *LoopDevice) PartitionPath(n int) string {
	return fmt.Sprintf("%sp%d", device.Device, n)
}

func attachLoop(backingFile string) (*LoopDevice, error) {
	// Get a free device number from the loop control node.
	control, err := openFile(loopControlPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDeviceUnavailable, loopControlPath, err)
	}
	deviceNumber, err := ioctlRetInt(int(control.Fd()), unix.LOOP_CTL_GET_FREE)
	_ = control.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: LOOP_CTL_GET_FREE: %v", ErrDeviceUnavailable, err)
	}

	devicePath := fmt.Sprintf("%s/loop%d", devPrefix, deviceNumber)

	imageFile, err := openFile(backingFile, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open backing file %s: %w", backingFile, err)
	}
	defer imageFile.Close()

	loopFile, err := openFile(devicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDeviceUnavailable, devicePath, err)
	}
	defer loopFile.Close()

	if err := ioctlSetInt(int(loopFile.Fd()), unix.LOOP_SET_FD, int(imageFile.Fd())); err != nil {
		return nil, fmt.Errorf("%w: LOOP_SET_FD on %s: %v", ErrResourceBusy, devicePath, err)
	}

	// Ask the kernel to scan the partition table right away, the same
	// thing `losetup -P` does.
	info := unix.LoopInfo64{
		Flags: unix.LO_FLAGS_PARTSCAN,
	}
	if err := ioctlLoopSetStatus64(int(loopFile.Fd()), &info); err != nil {
		_ = ioctlSetInt(int(loopFile.Fd()), unix.LOOP_CLR_FD, 0)

		return nil, fmt.Errorf("%w: LOOP_SET_STATUS64 on %s: %v", ErrDeviceUnavailable, devicePath, err)
	}

	return &LoopDevice{
		BackingFile: backingFile,
		Device:      devicePath,
		attached:    true,
	}, nil
}

func detachLoop(device *LoopDevice) error {
	if !device.attached {
		return nil
	}

	loopFile, err := openFile(device.Device, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s for detaching: %w", device.Device, err)
	}
	defer loopFile.Close()

	if err := ioctlSetInt(int(loopFile.Fd()), unix.LOOP_CLR_FD, 0); err != nil {
		return fmt.Errorf("LOOP_CLR_FD on %s: %w", device.Device, err)
	}

	device.attached = false

	return nil
}

// rereadPartitionTable forces the kernel to re-read the device's
// partition table, the ioctl behind partprobe(8).
func rereadPartitionTable(device *LoopDevice) error {
	loopFile, err := openFile(device.Device, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer loopFile.Close()

	return ioctlSetInt(int(loopFile.Fd()), unix.BLKRRPART, 0)
}

// staleLoopDevices returns loop devices currently bound to the given
// backing file, left behind by a previous crashed run.
func staleLoopDevices(backingFile string) ([]*LoopDevice, error) {
	absBackingFile, err := filepath.Abs(backingFile)
	if err != nil {
		return nil, err
	}

	entries, err := readDirNames(sysBlockPrefix)
	if err != nil {
		return nil, err
	}

	var stale []*LoopDevice

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "loop") {
			continue
		}

		raw, err := readFileBytes(filepath.Join(sysBlockPrefix, entry.Name(), "loop", "backing_file"))
		if err != nil {
			// Device without a backing file.
			continue
		}

		if strings.TrimSpace(string(raw)) != absBackingFile {
			continue
		}

		stale = append(stale, &LoopDevice{
			BackingFile: absBackingFile,
			Device:      filepath.Join(devPrefix, entry.Name()),
			attached:    true,
		})
	}

	return stale, nil
}
