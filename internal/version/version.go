// Package version holds build metadata stamped in with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release tag, or dev for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is when the binary was built.
	BuildTime = "unknown"
)

// String formats the build metadata for a binary's version output.
func String(binary string) string {
	return fmt.Sprintf("%s %s (%s, built %s)", binary, Version, GitSHA, BuildTime)
}
