package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set with -ldflags "-X github.com/huanfeng/adbkit/internal/version.Version=..."
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

// buildSettings fills commit and date from the VCS stamp of `go build`
// when the linker flags were not set.
func buildSettings() (commit, date string, modified bool) {
	commit, date = Commit, BuildDate
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, date, false
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if commit == "" {
				commit = s.Value
			}
		case "vcs.time":
			if date == "" {
				date = s.Value
			}
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	return commit, date, modified
}

// Info returns the multi-line text printed by `adbkit version`
func Info() string {
	commit, date, modified := buildSettings()
	if commit == "" {
		commit = "unknown"
	} else if len(commit) > 12 {
		commit = commit[:12]
	}
	if modified {
		commit += "-dirty"
	}
	if date == "" {
		date = "unknown"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "adbkit %s\n", Version)
	fmt.Fprintf(&b, "Commit: %s\n", commit)
	fmt.Fprintf(&b, "Built: %s\n", date)
	fmt.Fprintf(&b, "Go: %s\n", runtime.Version())
	fmt.Fprintf(&b, "OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	return b.String()
}

// Short returns the bare version
func Short() string {
	return Version
}
