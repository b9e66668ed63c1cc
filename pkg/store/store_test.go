package store

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/models"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "edna.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edna.db")
	s, err := Open(context.Background(), "sqlite://"+path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// migrations are applied once
	s, err = Open(context.Background(), "sqlite://"+path, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, len(migrations(dialectSQLite)), n)

	mem, err := Open(context.Background(), "sqlite://", nil)
	require.NoError(t, err)
	mem.Close()

	_, err = Open(context.Background(), "oracle://db", nil)
	assert.Error(t, err)
}

func TestMySQLDSN(t *testing.T) {
	u, err := url.Parse("mysql://edna:pw@db/edna?parseTime=true")
	require.NoError(t, err)
	applyDefaultPort(u, map[string]string{"mysql": "3306"})
	assert.Equal(t, "edna:pw@tcp(db:3306)/edna?parseTime=true", toMySQLDSN(u))
}

func TestRebind(t *testing.T) {
	s := &Store{d: dialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", s.rebind("SELECT a FROM t WHERE b = ? AND c = ?"))
	s.d = dialectMySQL
	assert.Equal(t, "x = ?", s.rebind("x = ?"))
}

func TestDeviceCache(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := old.Add(48 * time.Hour)

	require.NoError(t, s.UpsertDevices(ctx, []models.Device{
		{Name: "r2", Host: "10.0.0.2", DeviceType: "cisco_ios", Source: "csv"},
		{Name: "gone", Host: "10.0.0.9", DeviceType: "cisco_ios"},
	}, old))
	require.NoError(t, s.UpsertDevices(ctx, []models.Device{
		{Name: "r1", Host: "10.0.0.1", DeviceType: "routeros"},
		{Name: "r2", Host: "10.0.0.22", DeviceType: "cisco_ios", Source: "csv"},
	}, now))
	require.NoError(t, s.MarkBackup(ctx, "r2", now))

	list, err := s.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "gone", list[0].Name)
	assert.Equal(t, "r1", list[1].Name)
	assert.Nil(t, list[1].LastBackup)
	assert.Equal(t, "10.0.0.22", list[2].Host)
	require.NotNil(t, list[2].LastBackup)
	assert.True(t, now.Equal(*list[2].LastBackup))

	n, err := s.RemoveStale(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	list, err = s.ListDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestUsers(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.CreateUser(ctx, User{Username: "admin", PasswordHash: "h1", Role: "admin"}))
	err = s.CreateUser(ctx, User{Username: "admin", PasswordHash: "h2", Role: "user"})
	assert.ErrorIs(t, err, ErrUserExists)

	u, err := s.GetUser(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "h1", u.PasswordHash)
	assert.Equal(t, "admin", u.Role)
	assert.False(t, u.CreatedAt.IsZero())

	require.NoError(t, s.SetPassword(ctx, "admin", "h3"))
	u, err = s.GetUser(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "h3", u.PasswordHash)

	assert.ErrorIs(t, s.SetPassword(ctx, "nobody", "x"), ErrNotFound)
	_, err = s.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRuns(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	_, err := s.LastRun(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	start := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		r := &models.RunReport{
			ID:        id,
			Trigger:   "scheduler",
			StartedAt: start.Add(time.Duration(i) * time.Hour),
			Outcomes: []models.DeviceOutcome{
				{Device: "r1", Status: models.StatusSuccess},
				{Device: "r2", Status: models.StatusFailed, ErrorKind: models.KindAuthFailed},
			},
		}
		r.Finalize(r.StartedAt.Add(time.Minute))
		require.NoError(t, s.SaveRun(ctx, r))
	}

	last, err := s.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-3", last.ID)
	assert.Equal(t, 1, last.Failed)
	assert.Equal(t, models.KindAuthFailed, last.Outcomes[1].ErrorKind)

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, "run-2", runs[1].ID)
}
