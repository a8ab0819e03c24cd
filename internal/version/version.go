// Package version holds build-time metadata, adapted from the
// teacher's main/version.go so it can be imported from both cmd and
// main instead of being trapped in package main.
package version

import "fmt"

var (
	BuildTS   = "None"
	GitHash   = "None"
	GitBranch = "None"
	Version   = "None"
)

// GetVersion returns the version string, suffixed with a short commit
// hash when one was set at build time.
func GetVersion() string {
	if GitHash != "" && GitHash != "None" {
		h := GitHash
		if len(h) > 7 {
			h = h[:7]
		}
		return fmt.Sprintf("%s-%s", Version, h)
	}
	return Version
}

// Printer writes the full build metadata to stdout.
func Printer() {
	fmt.Println("Version:         ", GetVersion())
	fmt.Println("Git Branch:      ", GitBranch)
	fmt.Println("Git Commit:      ", GitHash)
	fmt.Println("Build Time (UTC):", BuildTS)
}
