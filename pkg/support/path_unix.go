//go:build linux
// +build linux

package support

import (
	"os/user"
	"path/filepath"
)

func DefaultPaths() (Paths, error) {
	currentUser, err := user.Current()
	if err != nil {
		return Paths{}, err
	}

	if currentUser.Username == "root" {
		return Paths{
			LogFile: "/var/log/edna/edna.log",
			DataDir: "/var/lib/edna",
		}, nil
	}
	return Paths{
		LogFile: filepath.Join(currentUser.HomeDir, ".local/state/edna/edna.log"),
		DataDir: filepath.Join(currentUser.HomeDir, ".local/share/edna"),
	}, nil
}
