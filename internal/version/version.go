package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the current release of cloudbridge
	Version = "0.3.0"

	// GitCommit is the git commit hash, injected at build time
	GitCommit string

	// BuildTime is the build timestamp, injected at build time
	BuildTime string
)

// String returns the full version string
func String() string {
	if GitCommit != "" && BuildTime != "" {
		commit := GitCommit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		return fmt.Sprintf("%s (commit: %s, built: %s, %s)", Version, commit, BuildTime, runtime.Version())
	}
	return Version
}

// ShortString returns just the version number
func ShortString() string {
	return Version
}

// Info returns the build metadata as labels
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
	}
}
