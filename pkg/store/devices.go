package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bizflycloud/edna/pkg/models"
)

// CachedDevice is the last known state of an inventory entry.
type CachedDevice struct {
	Name       string     `json:"name"`
	Host       string     `json:"host"`
	DeviceType string     `json:"device_type"`
	Source     string     `json:"source,omitempty"`
	LastSeen   time.Time  `json:"last_seen"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
}

func (s *Store) upsertDeviceSQL() string {
	switch s.d {
	case dialectMySQL:
		return "INSERT INTO devices (name, host, device_type, source, last_seen) VALUES (?, ?, ?, ?, ?) " +
			"ON DUPLICATE KEY UPDATE host=VALUES(host), device_type=VALUES(device_type), source=VALUES(source), last_seen=VALUES(last_seen)"
	default:
		return `INSERT INTO devices (name, host, device_type, source, last_seen) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (name) DO UPDATE
			SET host=excluded.host, device_type=excluded.device_type, source=excluded.source, last_seen=excluded.last_seen`
	}
}

// UpsertDevices records devices as seen at the given time.
func (s *Store) UpsertDevices(ctx context.Context, devices []models.Device, seen time.Time) error {
	if len(devices) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, s.rebind(s.upsertDeviceSQL()))
	if err != nil {
		return fmt.Errorf("store: prepare device upsert: %w", err)
	}
	defer stmt.Close()

	for _, d := range devices {
		if _, err := stmt.ExecContext(ctx, d.Name, d.Host, d.DeviceType, d.Source, seen.UnixNano()); err != nil {
			return fmt.Errorf("store: upsert device %q: %w", d.Name, err)
		}
	}
	return tx.Commit()
}

// MarkBackup sets the last successful backup time of a cached device.
func (s *Store) MarkBackup(ctx context.Context, name string, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE devices SET last_backup = ? WHERE name = ?`, at.UnixNano(), name)
	if err != nil {
		return fmt.Errorf("store: mark backup %q: %w", name, err)
	}
	return nil
}

// ListDevices returns the cached devices ordered by name.
func (s *Store) ListDevices(ctx context.Context) ([]CachedDevice, error) {
	rows, err := s.query(ctx, `SELECT name, host, device_type, source, last_seen, last_backup FROM devices ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list devices: %w", err)
	}
	defer rows.Close()

	var out []CachedDevice
	for rows.Next() {
		var (
			d          CachedDevice
			seen       int64
			lastBackup sql.NullInt64
		)
		if err := rows.Scan(&d.Name, &d.Host, &d.DeviceType, &d.Source, &seen, &lastBackup); err != nil {
			return nil, fmt.Errorf("store: scan device: %w", err)
		}
		d.LastSeen = time.Unix(0, seen).UTC()
		if lastBackup.Valid {
			t := time.Unix(0, lastBackup.Int64).UTC()
			d.LastBackup = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RemoveStale deletes devices not seen since before.
func (s *Store) RemoveStale(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM devices WHERE last_seen < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("store: remove stale devices: %w", err)
	}
	return res.RowsAffected()
}
