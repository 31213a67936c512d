package config

// Set with -ldflags "-X praiafinder/internal/config.version=..." (and commit,
// buildTime) by the release build; local builds keep the placeholders.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo reports the linker-injected version, surfaced by /health.
func NewBuildInfo() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
}
