// Package resources owns the kernel-level resources the pipeline
// acquires while building disk images: loop devices and mount points.
//
// Every acquisition pushes a release action onto a tracker-owned stack
// that is unwound in reverse order on every exit path, so an aborted or
// interrupted run never leaves a device attached or a mount dangling.
package resources

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

var (
	ErrResourceBusy      = errors.New("backing file is busy")
	ErrDeviceUnavailable = errors.New("no loop device available")
	ErrMountFailed       = errors.New("mount did not take effect")
	ErrReleaseFailed     = errors.New("failed to release resources")
)

// Low-level wrappers, replaced by fakes in tests so the suite can run
// without root and without touching the kernel loop subsystem.
var (
	loopControlPath   = "/dev/loop-control"
	sysBlockPrefix    = "/sys/block"
	devPrefix         = "/dev"
	procMountInfoPath = "/proc/self/mountinfo"

	openFile      = os.OpenFile
	readFileBytes = os.ReadFile
	readDirNames  = os.ReadDir
	statPath      = os.Stat
	mkdirAll      = os.MkdirAll

	ioctlRetInt          = unix.IoctlRetInt
	ioctlSetInt          = unix.IoctlSetInt
	ioctlLoopSetStatus64 = unix.IoctlLoopSetStatus64

	mountFS   = unix.Mount
	unmountFS = unix.Unmount
)
