package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/auth"
	"github.com/bizflycloud/edna/pkg/backup"
	"github.com/bizflycloud/edna/pkg/broker"
	"github.com/bizflycloud/edna/pkg/catalog"
	"github.com/bizflycloud/edna/pkg/models"
	"github.com/bizflycloud/edna/pkg/output"
	"github.com/bizflycloud/edna/pkg/progress"
	"github.com/bizflycloud/edna/pkg/scheduler"
	"github.com/bizflycloud/edna/pkg/store"
	"github.com/bizflycloud/edna/pkg/testlib"
)

var (
	server *httptest.Server
	srv    *Server
	orch   *fakeOrchestrator
	sched  *fakeScheduler
	fb     *testlib.Broker
	token  string
)

type fakeOrchestrator struct {
	mu      sync.Mutex
	running bool
	calls   []backup.RunOptions
	last    *models.RunReport
	prog    *progress.Progress
}

func (f *fakeOrchestrator) RunOnce(ctx context.Context, opts backup.RunOptions) (*models.RunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil, models.ErrAlreadyRunning
	}
	f.calls = append(f.calls, opts)
	f.last = &models.RunReport{
		ID:        "run-1",
		Trigger:   opts.Trigger,
		Status:    models.StatusSuccess,
		Attempted: 2,
		Succeeded: 1,
		Failed:    1,
		Outcomes: []models.DeviceOutcome{
			{Device: "sw1", Status: models.StatusSuccess},
			{Device: "sw2", Status: models.StatusFailed, ErrorKind: models.KindAuthFailed},
		},
	}
	return f.last, nil
}

func (f *fakeOrchestrator) Start(ctx context.Context, opts backup.RunOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return "", models.ErrAlreadyRunning
	}
	f.calls = append(f.calls, opts)
	return "run-async", nil
}

func (f *fakeOrchestrator) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeOrchestrator) LastReport() *models.RunReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeOrchestrator) Progress() *progress.Progress {
	return f.prog
}

func (f *fakeOrchestrator) setRunning(v bool) {
	f.mu.Lock()
	f.running = v
	f.mu.Unlock()
}

func (f *fakeOrchestrator) lastCall() backup.RunOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeScheduler struct {
	mu      sync.Mutex
	enabled bool
}

func (f *fakeScheduler) Start() {
	f.mu.Lock()
	f.enabled = true
	f.mu.Unlock()
}

func (f *fakeScheduler) Stop() {
	f.mu.Lock()
	f.enabled = false
	f.mu.Unlock()
}

func (f *fakeScheduler) Status() scheduler.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := scheduler.Status{State: scheduler.StateStopped, Enabled: f.enabled, Cron: "0 2 * * *"}
	if f.enabled {
		st.State = scheduler.StateIdle
	}
	return st
}

type fakeCatalog struct{}

var created = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func (fakeCatalog) List(ctx context.Context, device string) ([]catalog.Entry, error) {
	if device != "sw1" {
		return []catalog.Entry{}, nil
	}
	return []catalog.Entry{{Filename: "sw1_20240301-100000.000000", CreationTime: created, ElapsedTime: "1 hour ago", Size: 8}}, nil
}

func (fakeCatalog) Get(ctx context.Context, device, id string) ([]byte, error) {
	if device == "sw1" && id == "sw1_20240301-100000.000000" {
		return []byte("hostname sw1\n"), nil
	}
	return nil, fmt.Errorf("%w: %s/%s", output.ErrNotFound, device, id)
}

func (fakeCatalog) Latest(ctx context.Context, device string) (catalog.Entry, []byte, error) {
	if device != "sw1" {
		return catalog.Entry{}, nil, fmt.Errorf("%w for %s", catalog.ErrNoBackup, device)
	}
	return catalog.Entry{Filename: "sw1_20240301-100000.000000"}, []byte("hostname sw1\n"), nil
}

func (fakeCatalog) Devices(ctx context.Context) ([]catalog.Device, error) {
	return []catalog.Device{{Name: "sw1", Host: "10.0.0.1", DeviceType: "cisco_ios", LastBackup: &created}}, nil
}

func setUp(t *testing.T) {
	st, err := store.Open(context.Background(), "sqlite://", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	a, err := auth.New(st, "secret", time.Hour, zap.NewNop())
	require.NoError(t, err)
	_, err = a.EnsureAdmin(context.Background(), "admin-pass")
	require.NoError(t, err)

	orch = &fakeOrchestrator{prog: progress.NewProgress(time.Hour)}
	sched = &fakeScheduler{enabled: true}
	fb = testlib.NewBroker()
	require.NoError(t, fb.Connect())

	srv, err = New(
		WithOrchestrator(orch),
		WithScheduler(sched),
		WithCatalog(fakeCatalog{}),
		WithAuthenticator(a),
		WithRunHistory(st),
		WithBroker(fb),
		WithPublishTopic("edna/reports"),
		WithConfigInfo(ConfigInfo{Input: []string{"netbox", "csv"}, Output: []string{"filesystem"}, Retention: 10}),
		WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	server = httptest.NewServer(srv.router)

	tok, err := a.Login(context.Background(), "admin", "admin-pass")
	require.NoError(t, err)
	token = tok.AccessToken
}

func tearDown() {
	server.Close()
}

func do(t *testing.T, method, path string, body interface{}, out interface{}) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestLogin(t *testing.T) {
	setUp(t)
	defer tearDown()
	token = ""

	var tok auth.Token
	resp := do(t, http.MethodPost, "/api/auth/login", loginRequest{Username: "admin", Password: "admin-pass"}, &tok)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.Equal(t, "admin", tok.Username)
	assert.Equal(t, auth.RoleAdmin, tok.Role)
	assert.NotEmpty(t, tok.AccessToken)

	var e errorResponse
	resp = do(t, http.MethodPost, "/api/auth/login", loginRequest{Username: "admin", Password: "wrong"}, &e)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, auth.ErrInvalidCredentials.Error(), e.Detail)

	resp = do(t, http.MethodGet, "/api/status", nil, &e)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token = tok.AccessToken
	var me userResponse
	resp = do(t, http.MethodGet, "/api/auth/me", nil, &me)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, userResponse{Username: "admin", Role: auth.RoleAdmin}, me)

	var msg messageResponse
	resp = do(t, http.MethodPost, "/api/auth/logout", nil, &msg)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Logged out successfully", msg.Message)

	resp = do(t, http.MethodGet, "/api/auth/me", nil, &e)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRoot(t *testing.T) {
	setUp(t)
	defer tearDown()
	token = ""

	var body map[string]string
	resp := do(t, http.MethodGet, "/", nil, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "EDNA API", body["name"])
	assert.Equal(t, "running", body["status"])
}

func TestStatus(t *testing.T) {
	setUp(t)
	defer tearDown()

	var st StatusResponse
	resp := do(t, http.MethodGet, "/api/status", nil, &st)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "netbox, csv", st.Config.Input)
	assert.Equal(t, "filesystem", st.Config.Output)
	assert.Equal(t, 10, st.Config.Retention)
	assert.Equal(t, "0 2 * * *", st.Scheduler.Cron)
	assert.True(t, st.Scheduler.Enabled)
	assert.Nil(t, st.Scheduler.Progress)
	assert.Nil(t, st.LastRun)

	orch.prog.Start(5)
	orch.prog.Report(progress.Stat{Devices: 2, Succeeded: 2, Bytes: 512})
	defer orch.prog.Done()

	st = StatusResponse{}
	do(t, http.MethodGet, "/api/status", nil, &st)
	require.NotNil(t, st.Scheduler.Progress)
	assert.Equal(t, uint64(5), st.Scheduler.Progress.Total)
	assert.Equal(t, uint64(2), st.Scheduler.Progress.Succeeded)
}

func TestDevicesAndBackups(t *testing.T) {
	setUp(t)
	defer tearDown()

	var devices []catalog.Device
	resp := do(t, http.MethodGet, "/api/devices", nil, &devices)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, devices, 1)
	assert.Equal(t, "sw1", devices[0].Name)
	assert.True(t, created.Equal(*devices[0].LastBackup))

	var entries []catalog.Entry
	do(t, http.MethodGet, "/api/devices/sw1/backups", nil, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "1 hour ago", entries[0].ElapsedTime)

	entries = nil
	resp = do(t, http.MethodGet, "/api/devices/unknown/backups", nil, &entries)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, entries)

	var content contentResponse
	resp = do(t, http.MethodGet, "/api/devices/sw1/backups/sw1_20240301-100000.000000", nil, &content)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hostname sw1\n", content.Content)

	var e errorResponse
	resp = do(t, http.MethodGet, "/api/devices/sw1/backups/nope", nil, &e)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	content = contentResponse{}
	resp = do(t, http.MethodGet, "/api/devices/sw1/last_backup", nil, &content)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hostname sw1\n", content.Content)

	resp = do(t, http.MethodGet, "/api/devices/sw9/last_backup", nil, &e)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunBackup(t *testing.T) {
	setUp(t)
	defer tearDown()

	var report models.RunReport
	resp := do(t, http.MethodPost, "/api/backup/run", nil, &report)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, backup.TriggerManual, orch.lastCall().Trigger)

	report = models.RunReport{}
	do(t, http.MethodPost, "/api/backup/run", runRequest{DeviceName: "sw1"}, &report)
	assert.Equal(t, "sw1", orch.lastCall().Device)

	var accepted runAccepted
	resp = do(t, http.MethodPost, "/api/backup/run?async=true", nil, &accepted)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "run-async", accepted.RunID)

	orch.setRunning(true)
	var e errorResponse
	resp = do(t, http.MethodPost, "/api/backup/run", nil, &e)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, models.KindAlreadyRunning, e.Kind)

	resp = do(t, http.MethodPost, "/api/backup/run?async=1", nil, &e)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodPost, "/api/backup/run", "not an object", &e)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunHistory(t *testing.T) {
	setUp(t)
	defer tearDown()

	var e errorResponse
	resp := do(t, http.MethodGet, "/api/backup/last", nil, &e)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var runs []*models.RunReport
	resp = do(t, http.MethodGet, "/api/backup/runs", nil, &runs)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, runs)

	do(t, http.MethodPost, "/api/backup/run", nil, nil)

	var last models.RunReport
	resp = do(t, http.MethodGet, "/api/backup/last", nil, &last)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "run-1", last.ID)
}

func TestSchedulerEndpoints(t *testing.T) {
	setUp(t)
	defer tearDown()

	var st SchedulerStatus
	resp := do(t, http.MethodPost, "/api/scheduler/stop", nil, &st)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, st.Enabled)
	assert.Equal(t, scheduler.StateStopped, st.State)

	st = SchedulerStatus{}
	do(t, http.MethodPost, "/api/scheduler/start", nil, &st)
	assert.True(t, st.Enabled)
	assert.Equal(t, scheduler.StateIdle, st.State)

	st = SchedulerStatus{}
	do(t, http.MethodGet, "/api/scheduler/status", nil, &st)
	assert.True(t, st.Enabled)
}

func TestServerEventHandler(t *testing.T) {
	setUp(t)
	defer tearDown()

	require.NoError(t, fb.Subscribe([]string{"edna/agent"}, srv.handleBrokerEvent))

	msg := func(v broker.Message) []byte {
		buf, err := json.Marshal(v)
		require.NoError(t, err)
		return buf
	}

	require.NoError(t, fb.Deliver("edna/agent", msg(broker.Message{EventType: broker.BackupManual, DeviceName: "sw1"})))
	assert.Equal(t, backup.RunOptions{Trigger: backup.TriggerBroker, Device: "sw1"}, orch.lastCall())

	require.NoError(t, fb.Deliver("edna/agent", msg(broker.Message{EventType: broker.SchedulerStop})))
	assert.False(t, sched.Status().Enabled)
	require.NoError(t, fb.Deliver("edna/agent", msg(broker.Message{EventType: broker.SchedulerStart})))
	assert.True(t, sched.Status().Enabled)

	err := fb.Deliver("edna/agent", msg(broker.Message{EventType: "reboot"}))
	assert.ErrorIs(t, err, broker.ErrUnknownEventType)

	orch.setRunning(true)
	err = fb.Deliver("edna/agent", msg(broker.Message{EventType: broker.BackupManual}))
	assert.ErrorIs(t, err, models.ErrAlreadyRunning)
}

func TestPublishReport(t *testing.T) {
	setUp(t)
	defer tearDown()

	srv.PublishReport(&models.RunReport{ID: "r1", Trigger: backup.TriggerScheduler, Status: models.StatusSuccess, Attempted: 1, Succeeded: 1})
	published := fb.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "edna/reports", published[0].Topic)

	var n broker.RunNotification
	require.NoError(t, json.Unmarshal(published[0].Payload, &n))
	assert.Equal(t, broker.RunFinished, n.EventType)
	assert.Equal(t, "r1", n.Run.ID)
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(WithAddr(":0"))
	assert.Error(t, err)
}

func TestServerRun(t *testing.T) {
	tests := []struct {
		addr string
	}{
		{"unix://" + filepath.Join(os.TempDir(), "edna-test-server.sock")},
		{":1810"},
	}
	for _, tc := range tests {
		setUp(t)
		s, err := New(
			WithAddr(tc.addr),
			WithBroker(fb),
			WithSubscribeTopics("edna/agent"),
			WithOrchestrator(orch),
			WithCatalog(fakeCatalog{}),
			WithAuthenticator(srv.auth),
			WithLogger(zap.NewNop()),
		)
		require.NoError(t, err)
		s.testSignalCh = make(chan os.Signal, 1)
		var serverError error
		done := make(chan struct{})
		go func() {
			serverError = s.Run()
			close(done)
		}()
		time.Sleep(time.Duration(rand.Intn(1000)) * time.Millisecond)
		s.testSignalCh <- syscall.SIGTERM
		<-done
		assert.IsType(t, http.ErrServerClosed, serverError)
		tearDown()
	}
}
