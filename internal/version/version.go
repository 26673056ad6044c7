// Package version stamps prsentryd/prsentryctl builds with the commit
// they were built from, for the version subcommand and the /health
// response's top-level "version" field.
package version

import (
	"runtime/debug"
	"strings"
)

// Version is the short build identifier. Set via -ldflags for release
// builds; dev builds fall back to the short VCS revision, suffixed
// "-dirty" if the working tree had uncommitted changes.
var Version = "dev"

func init() {
	if Version != "dev" {
		return
	}
	Version = shortRevision()
}

func shortRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	var revision string
	var dirty bool

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}

	if revision == "" {
		return "dev"
	}

	if len(revision) > 7 {
		revision = revision[:7]
	}
	if dirty {
		revision += "-dirty"
	}
	return revision
}

// Full returns Version plus the commit timestamp, for the /health
// component and the CLI's --verbose version output where a bare short
// hash isn't enough to tell how stale a deployed daemon is.
func Full() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}

	parts := []string{Version}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.time" {
			parts = append(parts, setting.Value)
			break
		}
	}
	return strings.Join(parts, " ")
}
