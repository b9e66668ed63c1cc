package output

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/models"
)

const (
	dirMode  = 0750
	fileMode = 0640
	tempDir  = ".tmp"
)

// FilesystemConfig configures the filesystem sink.
type FilesystemConfig struct {
	Path string `mapstructure:"path"`
}

// Filesystem stores one file per backup under <path>/<device>/.
type Filesystem struct {
	root      string
	tmp       string
	retention int
	locks     deviceLocks
	logger    *zap.Logger
}

var _ Sink = (*Filesystem)(nil)

// NewFilesystem creates the sink directories under root.
func NewFilesystem(root string, retention int, logger *zap.Logger) (*Filesystem, error) {
	if root == "" {
		return nil, errors.New("filesystem output: path is required")
	}
	return newFilesystem(root, filepath.Join(root, tempDir), retention, logger)
}

func newFilesystem(root, tmp string, retention int, logger *zap.Logger) (*Filesystem, error) {
	for _, dir := range []string{root, tmp} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Filesystem{root: root, tmp: tmp, retention: retention, logger: logger}, nil
}

func (f *Filesystem) Name() string {
	return "filesystem"
}

// Save writes content to a temporary file and renames it into place, then
// removes the oldest backups beyond the retention count.
func (f *Filesystem) Save(ctx context.Context, device string, content []byte, ts time.Time) (models.BackupRef, error) {
	if !validDevice(device) {
		return models.BackupRef{}, writeFailed("invalid device name %q", device)
	}
	unlock := f.locks.lock(device)
	defer unlock()

	ref, err := f.write(device, content, ts)
	if err != nil {
		return models.BackupRef{}, err
	}
	refs, err := f.List(ctx, device)
	if err != nil {
		f.logger.Warn("List backups for rotation failed", zap.String("device", device), zap.Error(err))
		return ref, nil
	}
	for _, old := range expired(refs, f.retention) {
		if err := os.Remove(f.path(device, old.ID)); err != nil {
			f.logger.Warn("Remove expired backup failed", zap.String("device", device), zap.String("filename", old.ID), zap.Error(err))
			continue
		}
		f.logger.Debug("Removed expired backup", zap.String("device", device), zap.String("filename", old.ID))
	}
	return ref, nil
}

func (f *Filesystem) write(device string, content []byte, ts time.Time) (models.BackupRef, error) {
	dir := filepath.Join(f.root, device)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return models.BackupRef{}, writeFailed("create %s: %v", dir, err)
	}

	ts = ts.UTC().Truncate(time.Microsecond)
	id := Filename(device, ts)
	for {
		_, err := os.Lstat(filepath.Join(dir, id))
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return models.BackupRef{}, writeFailed("stat %s: %v", id, err)
		}
		ts = ts.Add(time.Microsecond)
		id = Filename(device, ts)
	}

	tmp, err := ioutil.TempFile(f.tmp, "temp-")
	if err != nil {
		return models.BackupRef{}, writeFailed("create temp file: %v", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return models.BackupRef{}, writeFailed("write %s: %v", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return models.BackupRef{}, writeFailed("sync %s: %v", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return models.BackupRef{}, writeFailed("close %s: %v", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), fileMode); err != nil {
		return models.BackupRef{}, writeFailed("chmod %s: %v", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, id)); err != nil {
		return models.BackupRef{}, writeFailed("publish %s: %v", id, err)
	}

	return models.BackupRef{
		Sink:         f.Name(),
		Device:       device,
		ID:           id,
		CreationTime: ts,
		Size:         int64(len(content)),
	}, nil
}

func (f *Filesystem) path(device, id string) string {
	return filepath.Join(f.root, device, id)
}

// List implements Sink.
func (f *Filesystem) List(ctx context.Context, device string) ([]models.BackupRef, error) {
	if !validDevice(device) {
		return nil, nil
	}
	entries, err := ioutil.ReadDir(filepath.Join(f.root, device))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	refs := make([]models.BackupRef, 0, len(entries))
	for _, e := range entries {
		if !e.Mode().IsRegular() {
			continue
		}
		ts, err := ParseFilename(device, e.Name())
		if err != nil {
			continue
		}
		refs = append(refs, models.BackupRef{
			Sink:         f.Name(),
			Device:       device,
			ID:           e.Name(),
			CreationTime: ts,
			Size:         e.Size(),
		})
	}
	sortNewestFirst(refs)
	return refs, nil
}

// Get implements Sink.
func (f *Filesystem) Get(ctx context.Context, device, id string) ([]byte, error) {
	if !validDevice(device) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, device, id)
	}
	if _, err := ParseFilename(device, id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	buf, err := ioutil.ReadFile(f.path(device, id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, device, id)
	}
	return buf, err
}

// Devices implements Sink.
func (f *Filesystem) Devices(ctx context.Context) ([]string, error) {
	entries, err := ioutil.ReadDir(f.root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// CleanupTemp removes temporary files left behind by interrupted writes.
func (f *Filesystem) CleanupTemp() (int, error) {
	entries, err := ioutil.ReadDir(f.tmp)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(f.tmp, e.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
