package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time
	// with -ldflags "-X payment-router/internal/version.Version=...".
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// String renders build information on one line.
func String() string {
	return fmt.Sprintf("payrouter %s (commit %s, built %s)", Version, Commit, BuildDate)
}
