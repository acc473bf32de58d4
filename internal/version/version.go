package version

import "fmt"

// 构建时通过 -ldflags "-X bullion-pipeline/internal/version.Version=..." 覆盖。
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build info on one line, e.g. for --version and log fields.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}
