package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bizflycloud/edna/pkg/models"
)

// SaveRun stores a finished report.
func (s *Store) SaveRun(ctx context.Context, r *models.RunReport) error {
	buf, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: encode run %s: %w", r.ID, err)
	}
	_, err = s.exec(ctx, `INSERT INTO runs (id, run_trigger, status, started_at, finished_at, report) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Trigger, string(r.Status), r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(), string(buf))
	if err != nil {
		return fmt.Errorf("store: save run %s: %w", r.ID, err)
	}
	return nil
}

// ListRuns returns up to limit reports, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*models.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.query(ctx, `SELECT report FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []*models.RunReport
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		r, err := decodeRun(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastRun returns the most recent report or ErrNotFound.
func (s *Store) LastRun(ctx context.Context) (*models.RunReport, error) {
	var raw string
	err := s.queryRow(ctx, `SELECT report FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: last run: %w", err)
	}
	return decodeRun(raw)
}

func decodeRun(raw string) (*models.RunReport, error) {
	var r models.RunReport
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("store: decode run: %w", err)
	}
	return &r, nil
}
