package resources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

const partitionWaitAttempts = 5

// Shortened in tests.
var partitionWaitDelay = 1 * time.Second

// Tracker owns every loop device and mount point a pipeline run
// acquires. It is not safe to share one Tracker between concurrent runs;
// loop devices and mounts are exclusive host-wide kernel resources.
type Tracker struct {
	logger *zap.SugaredLogger

	mu       sync.Mutex
	releases []trackedRelease
}

type trackedRelease struct {
	resource    any
	description string
	release     func() error
}

type TrackerOption func(*Tracker)

func WithLogger(logger *zap.SugaredLogger) TrackerOption {
	return func(tracker *Tracker) {
		tracker.logger = logger
	}
}

func NewTracker(opts ...TrackerOption) *Tracker {
	tracker := &Tracker{}

	for _, opt := range opts {
		opt(tracker)
	}

	if tracker.logger == nil {
		tracker.logger = zap.NewNop().Sugar()
	}

	return tracker
}

// AttachLoop binds a backing file to a free loop device with partition
// scanning enabled. A stale device left bound to the same file by a
// previous crashed run is detached first; failing to reclaim it is
// ErrResourceBusy, since two devices over one file corrupt each other.
func (tracker *Tracker) AttachLoop(backingFile string) (*LoopDevice, error) {
	stale, err := staleLoopDevices(backingFile)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate loop devices for %s: %w", backingFile, err)
	}

	for _, staleDevice := range stale {
		tracker.logger.Warnf("reclaiming stale loop device %s bound to %s",
			staleDevice.Device, backingFile)

		if err := detachLoop(staleDevice); err != nil {
			return nil, fmt.Errorf("%w: stale device %s: %v", ErrResourceBusy, staleDevice.Device, err)
		}
	}

	device, err := attachLoop(backingFile)
	if err != nil {
		return nil, err
	}

	tracker.logger.Debugf("attached %s to %s", backingFile, device.Device)

	tracker.push(device, fmt.Sprintf("loop device %s (%s)", device.Device, backingFile), func() error {
		return detachLoop(device)
	})

	return device, nil
}

// WaitForPartition blocks until the n-th partition node of the device
// appears, forcing a partition-table re-read between attempts.
// Device-mapper and network-backed storage can lag behind the attach.
func (tracker *Tracker) WaitForPartition(ctx context.Context, device *LoopDevice, n int) (string, error) {
	partition := device.PartitionPath(n)

	err := retry.Do(func() error {
		if _, err := statPath(partition); err != nil {
			return fmt.Errorf("partition %s not present: %w", partition, err)
		}

		return nil
	}, retry.OnRetry(func(attempt uint, err error) {
		tracker.logger.Debugf("waiting for %s (attempt %d): %v", partition, attempt+1, err)

		if err := rereadPartitionTable(device); err != nil {
			tracker.logger.Debugf("failed to re-read partition table of %s: %v", device.Device, err)
		}
	}), retry.Context(ctx), retry.Attempts(partitionWaitAttempts), retry.Delay(partitionWaitDelay),
		retry.DelayType(retry.FixedDelay), retry.LastErrorOnly(true))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	return partition, nil
}

// Mount binds a device or partition on the target directory and verifies
// the mount actually took effect before handing it out.
func (tracker *Tracker) Mount(source, target, fstype string, readOnly bool) (*MountPoint, error) {
	mountPoint, err := mountVerified(source, target, fstype, readOnly)
	if err != nil {
		return nil, err
	}

	tracker.logger.Debugf("mounted %s on %s (%s, readOnly=%t)", source, target, fstype, readOnly)

	tracker.push(mountPoint, fmt.Sprintf("mount point %s (%s)", target, source), func() error {
		return unmount(mountPoint)
	})

	return mountPoint, nil
}

// Release detaches or unmounts a single tracked resource ahead of the
// final unwind, e.g. to free a source image once it has been copied.
// The resource is removed from the unwind stack, so a later ReleaseAll
// does not touch it again.
func (tracker *Tracker) Release(resource any) error {
	tracker.mu.Lock()

	var release func() error

	for i, tracked := range tracker.releases {
		if tracked.resource == resource {
			release = tracked.release
			tracker.releases = append(tracker.releases[:i], tracker.releases[i+1:]...)

			break
		}
	}
	tracker.mu.Unlock()

	if release == nil {
		return fmt.Errorf("resource %v is not tracked", resource)
	}

	return release()
}

// ReleaseAll unwinds the acquisition stack: most recently acquired
// resources are released first, so mounts always go before the loop
// devices backing them. It is idempotent and tolerates resources that
// were already released individually. Residual failures are logged and
// returned, never discarded — a lingering busy resource blocks every
// future run against the same backing file.
func (tracker *Tracker) ReleaseAll() error {
	tracker.mu.Lock()
	releases := tracker.releases
	tracker.releases = nil
	tracker.mu.Unlock()

	var result *multierror.Error

	for i := len(releases) - 1; i >= 0; i-- {
		if err := releases[i].release(); err != nil {
			tracker.logger.Errorf("failed to release %s: %v", releases[i].description, err)

			result = multierror.Append(result, fmt.Errorf("%s: %w", releases[i].description, err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %v", ErrReleaseFailed, err)
	}

	return nil
}

func (tracker *Tracker) push(resource any, description string, release func() error) {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	tracker.releases = append(tracker.releases, trackedRelease{
		resource:    resource,
		description: description,
		release:     release,
	})
}
