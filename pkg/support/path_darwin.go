//go:build darwin
// +build darwin

package support

import (
	"os/user"
	"path/filepath"
)

func DefaultPaths() (Paths, error) {
	user, err := user.Current()
	if err != nil {
		return Paths{}, err
	}

	if user.Username == "root" {
		return Paths{
			LogFile: "/var/log/edna/edna.log",
			DataDir: "/usr/local/var/edna",
		}, nil
	}
	return Paths{
		LogFile: filepath.Join(user.HomeDir, "Library/Logs/edna/edna.log"),
		DataDir: filepath.Join(user.HomeDir, "Library/Application Support/edna"),
	}, nil
}
