//go:build linux || darwin
// +build linux darwin

package support

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPaths(t *testing.T) {
	p, err := DefaultPaths()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(p.LogFile))
	assert.True(t, filepath.IsAbs(p.DataDir))
	assert.Equal(t, filepath.Join(p.DataDir, "backups"), p.BackupDir())
	assert.True(t, strings.HasPrefix(p.DatabaseURL(), "sqlite:///"))
}
