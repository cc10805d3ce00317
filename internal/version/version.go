// Package version holds the cos version string.
package version

// Version is the current cos version. Overridden at release time via
// -ldflags "-X github.com/claudeos/cos/internal/version.Version=...".
var Version = "0.4.1"
