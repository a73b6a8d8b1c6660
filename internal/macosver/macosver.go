// Package macosver maps a macOS version name to everything the pipeline
// needs to know about it: display label, recovery board ID, recovery OS
// channel and target SMBIOS model.
package macosver

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnsupportedVersion = errors.New("unsupported macOS version")

type Channel string

const (
	ChannelStable  Channel = "stable"
	ChannelPreview Channel = "preview"
)

type Version struct {
	Name  string
	Label string
	Major int

	// Channel is the release channel of this macOS version as a whole,
	// not to be confused with RecoveryOS below.
	Channel Channel

	// BoardID identifies the Mac board whose recovery image matches
	// this macOS version on osrecovery.apple.com.
	BoardID string

	// RecoveryOS is the "os" selector sent to the recovery service:
	// "default" or "latest".
	RecoveryOS string

	// Model is the SMBIOS model the generated identity targets.
	Model string

	// FullInstaller is set for versions whose recovery image cannot be
	// served by osrecovery and must instead be built from a full
	// installer fetched via the software-update catalog.
	FullInstaller bool
}

var versions = map[string]Version{
	"sonoma": {
		Name:       "sonoma",
		Label:      "macOS Sonoma 14",
		Major:      14,
		Channel:    ChannelStable,
		BoardID:    "Mac-827FAC58A8FDFA22",
		RecoveryOS: "default",
		Model:      "MacPro7,1",
	},
	"sequoia": {
		Name:       "sequoia",
		Label:      "macOS Sequoia 15",
		Major:      15,
		Channel:    ChannelStable,
		BoardID:    "Mac-27AD2F918AE68F61",
		RecoveryOS: "latest",
		Model:      "MacPro7,1",
	},
	"tahoe": {
		Name:          "tahoe",
		Label:         "macOS Tahoe 26",
		Major:         26,
		Channel:       ChannelPreview,
		Model:         "MacPro7,1",
		FullInstaller: true,
	},
}

func Lookup(name string) (Version, error) {
	version, ok := versions[name]
	if !ok {
		return Version{}, fmt.Errorf("%w: %q, expected one of %v", ErrUnsupportedVersion, name, Names())
	}

	return version, nil
}

func Names() []string {
	var names []string

	for name := range versions {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// DefaultDiskGB returns the recommended main-disk size for a version.
func DefaultDiskGB(name string) int {
	switch name {
	case "tahoe":
		return 160
	case "sequoia":
		return 128
	case "sonoma":
		return 96
	default:
		return 80
	}
}
