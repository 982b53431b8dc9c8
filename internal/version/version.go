// Package version reports the build version of greemqtt.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Set at build time via ldflags:
//
//	go build -ldflags="-X github.com/greemqtt/greemqtt/internal/version.Version=v1.2.3 \
//	                   -X github.com/greemqtt/greemqtt/internal/version.Commit=abc123"
//
// Unset values are filled from the embedded VCS info, then from "dev".
var (
	Version = ""
	Commit  = ""
)

func init() {
	Version, Commit = resolve(Version, Commit, readSettings())
}

func readSettings() map[string]string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	return settings
}

// resolve fills an empty version and commit from build settings
// (vcs.revision, vcs.modified, vcs.time).
func resolve(version, commit string, settings map[string]string) (string, string) {
	if commit == "" {
		if rev := settings["vcs.revision"]; rev != "" {
			if len(rev) > 7 {
				rev = rev[:7]
			}
			if settings["vcs.modified"] == "true" {
				rev += "-dirty"
			}
			commit = rev
		}
	}
	if version == "" {
		if t, err := time.Parse(time.RFC3339, settings["vcs.time"]); err == nil {
			version = "dev-" + t.Format("20060102")
		}
	}

	if version == "" {
		version = "dev-" + time.Now().Format("20060102-150405")
	}
	if commit == "" {
		commit = "unknown"
	}
	return version, commit
}

// Full returns the version including the commit.
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// UserAgent identifies the bridge to brokers and in logs,
// e.g. "greemqtt/v1.2.3 (linux/amd64)".
func UserAgent() string {
	return fmt.Sprintf("greemqtt/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}
