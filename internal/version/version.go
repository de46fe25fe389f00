// Package version holds the build identity shared by the CLI and the
// catalog client user agent.
package version

// Version is the kicad-lcsc release version.
const Version = "0.3.0"

// UserAgent returns the User-Agent string sent with catalog requests.
func UserAgent() string {
	return "kicad-lcsc/" + Version
}
