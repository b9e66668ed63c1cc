package agentversion

import "fmt"

// Set at build time with -ldflags "-X ...".
var (
	version   string
	commit    string
	buildTime string
)

// Short returns the bare version.
func Short() string {
	if version == "" {
		return "dev"
	}
	return version
}

// Version returns version, commit and build time.
func Version() string {
	return fmt.Sprintf("version: %s, commit: %s, built at: %s", Short(), commit, buildTime)
}
