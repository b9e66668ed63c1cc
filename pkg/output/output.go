// Package output persists device backups and rotates them.
package output

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bizflycloud/edna/pkg/models"
)

const (
	fileSuffix = ".cfg"
	timeLayout = "20060102_150405.000000"
	// legacyLayout is the second precision naming of older backups.
	legacyLayout = "20060102_150405"
)

var (
	ErrNotFound  = errors.New("backup not found")
	ErrInvalidID = errors.New("invalid backup id")
)

// Sink persists backups. List returns backups newest first.
type Sink interface {
	Name() string
	Save(ctx context.Context, device string, content []byte, ts time.Time) (models.BackupRef, error)
	List(ctx context.Context, device string) ([]models.BackupRef, error)
	Get(ctx context.Context, device, id string) ([]byte, error)
	Devices(ctx context.Context) ([]string, error)
}

// Filename returns the backup id for device at ts.
func Filename(device string, ts time.Time) string {
	return device + "_" + ts.UTC().Format(timeLayout) + fileSuffix
}

// ParseFilename returns the creation time encoded in id, checking that id
// belongs to device.
func ParseFilename(device, id string) (time.Time, error) {
	prefix := device + "_"
	if !strings.HasPrefix(id, prefix) || !strings.HasSuffix(id, fileSuffix) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(id, prefix), fileSuffix)
	for _, layout := range []string{timeLayout, legacyLayout} {
		if ts, err := time.ParseInLocation(layout, stamp, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
}

// validDevice reports whether device is usable as a path element.
func validDevice(device string) bool {
	return device != "" && !strings.HasPrefix(device, ".") && !strings.ContainsAny(device, `/\`)
}

// sortNewestFirst orders refs by creation time, newest first.
func sortNewestFirst(refs []models.BackupRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].CreationTime.Equal(refs[j].CreationTime) {
			return refs[i].ID > refs[j].ID
		}
		return refs[i].CreationTime.After(refs[j].CreationTime)
	})
}

// expired returns the refs beyond the retention count of a newest first
// list. A retention of zero or less keeps everything.
func expired(refs []models.BackupRef, retention int) []models.BackupRef {
	if retention <= 0 || len(refs) <= retention {
		return nil
	}
	return refs[retention:]
}

// deviceLocks serializes writes and rotation per device.
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *deviceLocks) lock(device string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[device]
	if !ok {
		m = &sync.Mutex{}
		l.locks[device] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func writeFailed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", models.ErrWriteFailed, fmt.Sprintf(format, args...))
}
