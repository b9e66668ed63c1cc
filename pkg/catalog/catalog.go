// Package catalog answers queries on persisted backups.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bizflycloud/edna/pkg/output"
	"github.com/bizflycloud/edna/pkg/store"
)

// ErrNoBackup is returned by Latest when a device has no backup.
var ErrNoBackup = errors.New("no backup found")

// Entry is one backup in a device history.
type Entry struct {
	Filename     string    `json:"filename"`
	CreationTime time.Time `json:"creation_time"`
	ElapsedTime  string    `json:"elapsed_time"`
	Size         int64     `json:"size"`
}

// Device is one line of the device listing.
type Device struct {
	Name       string     `json:"name"`
	Host       string     `json:"host,omitempty"`
	DeviceType string     `json:"device_type,omitempty"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
}

// DeviceCache is the state store view used for the device listing.
type DeviceCache interface {
	ListDevices(ctx context.Context) ([]store.CachedDevice, error)
}

// Catalog reads what a sink wrote.
type Catalog struct {
	sink  output.Sink
	cache DeviceCache
	now   func() time.Time
}

// New returns a catalog over sink. cache may be nil.
func New(sink output.Sink, cache DeviceCache) *Catalog {
	return &Catalog{sink: sink, cache: cache, now: time.Now}
}

// List returns the backups of device, newest first.
func (c *Catalog) List(ctx context.Context, device string) ([]Entry, error) {
	refs, err := c.sink.List(ctx, device)
	if err != nil {
		return nil, err
	}
	now := c.now()
	out := make([]Entry, 0, len(refs))
	for _, r := range refs {
		out = append(out, Entry{
			Filename:     r.ID,
			CreationTime: r.CreationTime,
			ElapsedTime:  humanize.RelTime(r.CreationTime, now, "ago", "from now"),
			Size:         r.Size,
		})
	}
	return out, nil
}

// Get returns the content of one backup.
func (c *Catalog) Get(ctx context.Context, device, id string) ([]byte, error) {
	return c.sink.Get(ctx, device, id)
}

// Latest returns the newest backup of device.
func (c *Catalog) Latest(ctx context.Context, device string) (Entry, []byte, error) {
	entries, err := c.List(ctx, device)
	if err != nil {
		return Entry{}, nil, err
	}
	if len(entries) == 0 {
		return Entry{}, nil, fmt.Errorf("%w for device %s", ErrNoBackup, device)
	}
	content, err := c.sink.Get(ctx, device, entries[0].Filename)
	if err != nil {
		return Entry{}, nil, err
	}
	return entries[0], content, nil
}

// Devices merges the device cache with the devices present in the sink,
// so devices removed from the inventory keep their history visible.
func (c *Catalog) Devices(ctx context.Context) ([]Device, error) {
	byName := make(map[string]*Device)
	if c.cache != nil {
		cached, err := c.cache.ListDevices(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range cached {
			byName[d.Name] = &Device{Name: d.Name, Host: d.Host, DeviceType: d.DeviceType, LastBackup: d.LastBackup}
		}
	}

	names, err := c.sink.Devices(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		d, ok := byName[name]
		if !ok {
			d = &Device{Name: name}
			byName[name] = d
		}
		if d.LastBackup != nil {
			continue
		}
		refs, err := c.sink.List(ctx, name)
		if err != nil {
			return nil, err
		}
		if len(refs) > 0 {
			t := refs[0].CreationTime
			d.LastBackup = &t
		}
	}

	out := make([]Device, 0, len(byName))
	for _, d := range byName {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
