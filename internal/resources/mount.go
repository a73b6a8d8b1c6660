package resources

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// MountPoint is a directory bound to a block device or partition.
type MountPoint struct {
	Source string
	Target string

	mounted bool
}

func mountVerified(source, target, fstype string, readOnly bool) (*MountPoint, error) {
	if err := mkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create mount point %s: %w", target, err)
	}

	var flags uintptr
	if readOnly {
		flags |= unix.MS_RDONLY
	}

	if err := mountFS(source, target, fstype, flags, ""); err != nil {
		return nil, fmt.Errorf("%w: mount %s on %s (%s): %v", ErrMountFailed, source, target, fstype, err)
	}

	// A mount call can return success without the target actually
	// becoming a mount point. Verify against the kernel's view.
	active, err := isMountPoint(target)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to verify %s: %v", ErrMountFailed, target, err)
	}
	if !active {
		return nil, fmt.Errorf("%w: %s is not an active mount point after mounting %s", ErrMountFailed, target, source)
	}

	return &MountPoint{
		Source:  source,
		Target:  target,
		mounted: true,
	}, nil
}

// unmount releases a mount point with a two-tier strategy: a plain
// unmount first, then a lazy (detached) unmount for targets an
// interrupted process may still hold busy.
func unmount(mountPoint *MountPoint) error {
	if !mountPoint.mounted {
		return nil
	}

	plainErr := unmountFS(mountPoint.Target, 0)
	if plainErr == nil {
		mountPoint.mounted = false

		return nil
	}

	if lazyErr := unmountFS(mountPoint.Target, unix.MNT_DETACH); lazyErr != nil {
		return fmt.Errorf("failed to unmount %s: %v (lazy fallback: %w)", mountPoint.Target, plainErr, lazyErr)
	}

	mountPoint.mounted = false

	return nil
}

// isMountPoint reports whether target appears in /proc/self/mountinfo.
func isMountPoint(target string) (bool, error) {
	file, err := os.Open(procMountInfoPath)
	if err != nil {
		return false, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())

		// mount_id parent_id major:minor root mountpoint ...
		if len(fields) >= 5 && unescapeOctal(fields[4]) == target {
			return true, nil
		}
	}

	return false, scanner.Err()
}

// unescapeOctal decodes the \040-style escapes mountinfo uses for
// spaces, tabs and backslashes in paths.
func unescapeOctal(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}

	var builder strings.Builder

	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			var value int
			if _, err := fmt.Sscanf(s[i+1:i+4], "%o", &value); err == nil {
				builder.WriteByte(byte(value))
				i += 3

				continue
			}
		}

		builder.WriteByte(s[i])
	}

	return builder.String()
}
