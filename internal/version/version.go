package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns the version and commit in the form stamped into checkpoints.
func String() string {
	return fmt.Sprintf("%s (%s)", Version, GitSHA)
}
