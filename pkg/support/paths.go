// Package support holds the per platform defaults.
package support

import "path/filepath"

// Paths are the default locations used when the configuration leaves
// them out.
type Paths struct {
	LogFile string
	DataDir string
}

// BackupDir is the default filesystem output directory.
func (p Paths) BackupDir() string {
	return filepath.Join(p.DataDir, "backups")
}

// DatabaseURL is the default state database.
func (p Paths) DatabaseURL() string {
	return "sqlite://" + filepath.Join(p.DataDir, "edna.db")
}
