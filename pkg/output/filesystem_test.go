package output

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/models"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestFilenameRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 20, 30, 123456000, time.UTC)
	id := Filename("core-sw1", ts)
	assert.Equal(t, "core-sw1_20240301_102030.123456.cfg", id)

	got, err := ParseFilename("core-sw1", id)
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))

	legacy, err := ParseFilename("core-sw1", "core-sw1_20240301_102030.cfg")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC), legacy)

	for _, bad := range []string{"other_20240301_102030.cfg", "core-sw1_x.cfg", "core-sw1_20240301_102030.txt", "../core-sw1_20240301_102030.cfg"} {
		_, err := ParseFilename("core-sw1", bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestFilesystemSaveGetRoundTrip(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir(), 10, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	content := []byte("! Command: show running-config\nhostname r1\n \x00\xff\n")
	ref, err := fs.Save(ctx, "r1", content, t0)
	require.NoError(t, err)
	assert.Equal(t, "r1", ref.Device)
	assert.Equal(t, int64(len(content)), ref.Size)
	assert.True(t, t0.Equal(ref.CreationTime))

	got, err := fs.Get(ctx, "r1", ref.ID)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	refs, err := fs.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, ref.ID, refs[0].ID)

	devices, err := fs.Devices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, devices)
}

func TestFilesystemRetention(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir(), 2, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ref, err := fs.Save(ctx, "x", []byte(fmt.Sprintf("run %d", i)), t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		ids = append(ids, ref.ID)
	}

	refs, err := fs.List(ctx, "x")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, ids[2], refs[0].ID)
	assert.Equal(t, ids[1], refs[1].ID)

	_, err = fs.Get(ctx, "x", ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemRetentionKeepsNewestUnderConcurrency(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir(), 3, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := fs.Save(ctx, "x", []byte("cfg"), t0.Add(time.Duration(i)*time.Minute))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	refs, err := fs.List(ctx, "x")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(refs), 3)
	assert.NotEmpty(t, refs)
}

func TestFilesystemSameTimestamp(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir(), 0, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	a, err := fs.Save(ctx, "r1", []byte("a"), t0)
	require.NoError(t, err)
	b, err := fs.Save(ctx, "r1", []byte("b"), t0)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	refs, err := fs.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, b.ID, refs[0].ID)
}

func TestFilesystemWriteFailed(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	root := t.TempDir()
	fs, err := NewFilesystem(root, 10, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, os.Chmod(root, 0500))
	defer os.Chmod(root, 0700)

	_, err = fs.Save(context.Background(), "r1", []byte("cfg"), t0)
	assert.ErrorIs(t, err, models.ErrWriteFailed)

	refs, _ := fs.List(context.Background(), "r1")
	assert.Empty(t, refs)
}

func TestFilesystemFilenameTooLong(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir(), 10, zap.NewNop())
	require.NoError(t, err)

	// The device directory fits in a path component, its backup name does not.
	device := strings.Repeat("d", 250)
	done := make(chan error, 1)
	go func() {
		_, err := fs.Save(context.Background(), device, []byte("cfg"), t0)
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, models.ErrWriteFailed)
	case <-time.After(5 * time.Second):
		t.Fatal("save did not return")
	}
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir(), 10, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = fs.Save(ctx, "..", []byte("x"), t0)
	assert.ErrorIs(t, err, models.ErrWriteFailed)

	_, err = fs.Get(ctx, "..", ".._20240301_100000.cfg")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Get(ctx, "r1", "../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemIgnoresForeignFiles(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFilesystem(root, 10, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "r1"), 0700))
	require.NoError(t, ioutil.WriteFile(filepath.Join(root, "r1", "notes.txt"), []byte("x"), 0600))

	refs, err := fs.List(context.Background(), "r1")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestCleanupTemp(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFilesystem(root, 10, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, ioutil.WriteFile(filepath.Join(root, tempDir, "temp-123"), []byte("partial"), 0600))

	n, err := fs.CleanupTemp()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	devices, err := fs.Devices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestExpired(t *testing.T) {
	refs := []models.BackupRef{{ID: "c"}, {ID: "b"}, {ID: "a"}}
	assert.Nil(t, expired(refs, 0))
	assert.Nil(t, expired(refs, 3))
	assert.Equal(t, []models.BackupRef{{ID: "a"}}, expired(refs, 2))
}
