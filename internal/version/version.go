// Package version holds build information for kgindex.
package version

// Overridable at build time:
// go build -ldflags "-X kgindex/internal/version.Version=1.2.0 -X kgindex/internal/version.Commit=abc123"
var (
	// Version is the semantic version of the kgindex binary.
	Version = "0.4.0"

	// Commit is the git commit hash (set at build time)
	Commit = "unknown"

	// BuildDate is the build timestamp (set at build time)
	BuildDate = "unknown"
)

// Info returns a short version string, with the abbreviated commit when known.
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// Full returns complete version information
func Full() string {
	return "kgindex version " + Version + "\n" +
		"Commit: " + Commit + "\n" +
		"Built: " + BuildDate
}

// UserAgent is sent by outbound HTTP clients such as the semantic search client.
func UserAgent() string {
	return "kgindex/" + Version
}
