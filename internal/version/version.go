package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the connector
	Version = "dev"
	// GitCommit is the git commit hash
	GitCommit = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Info returns version information as a map
func Info() map[string]string {
	return map[string]string{
		"name":      "showads-connector",
		"version":   Version,
		"gitCommit": GitCommit,
		"buildTime": BuildTime,
		"goVersion": runtime.Version(),
	}
}

// String returns a formatted version string
func String() string {
	return fmt.Sprintf("showads-connector %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
