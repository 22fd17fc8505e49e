package version

// Build information, overridden at build time via -ldflags -X.
var (
	// Version is the semantic version of streamguardd
	Version = "v0.1.0"

	// Commit is the git commit hash
	Commit = "unknown"

	// BuiltAt is the build timestamp
	BuiltAt = "unknown"
)

// Info returns the short version string.
func Info() string {
	return Version
}

// FullInfo returns complete build information
func FullInfo() string {
	return "version=" + Version + " commit=" + Commit + " built_at=" + BuiltAt
}

// Map returns build information for JSON responses.
func Map() map[string]string {
	return map[string]string{"version": Version, "commit": Commit, "built_at": BuiltAt}
}
