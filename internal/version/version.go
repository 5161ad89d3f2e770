package version

// Build information. Release builds override these via
// -ldflags "-X certitrack/internal/version.Version=..." and friends.
var (
	// Version is the semantic version of the application.
	Version = "0.3.0"
	// Commit is the short hash of the built revision.
	Commit = "dev"
	// BuildDate is the UTC build timestamp.
	BuildDate = "unknown"
)

// Info returns build information as a structured map.
func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"commit":    Commit,
		"buildDate": BuildDate,
	}
}
