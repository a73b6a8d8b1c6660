package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// Version is set via -ldflags by the release workflow.
	Version = "unknown"

	FullVersion = fullVersion()
)

func fullVersion() string {
	if Version == "unknown" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "(devel)" && info.Main.Version != "" {
			Version = info.Main.Version
		}
	}

	return fmt.Sprintf("%s-%s", Version, commit())
}

func commit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			revision := setting.Value
			if len(revision) > 8 {
				revision = revision[:8]
			}

			return revision
		}
	}

	return "unknown"
}
