package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/agentversion"
	"github.com/bizflycloud/edna/pkg/auth"
	"github.com/bizflycloud/edna/pkg/backup"
	"github.com/bizflycloud/edna/pkg/catalog"
	"github.com/bizflycloud/edna/pkg/models"
	"github.com/bizflycloud/edna/pkg/output"
	"github.com/bizflycloud/edna/pkg/progress"
	"github.com/bizflycloud/edna/pkg/scheduler"
	"github.com/bizflycloud/edna/pkg/store"
)

type errorResponse struct {
	Detail string           `json:"detail"`
	Kind   models.ErrorKind `json:"kind,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type runRequest struct {
	DeviceName string `json:"device_name"`
}

type runAccepted struct {
	Status  string `json:"status"`
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

type contentResponse struct {
	Content string `json:"content"`
}

// ConfigStatus summarizes the configured inputs and outputs.
type ConfigStatus struct {
	Input     string `json:"input"`
	Output    string `json:"output"`
	Retention int    `json:"retention"`
}

// SchedulerStatus is the scheduler part of /api/status.
type SchedulerStatus struct {
	scheduler.Status
	Progress *ProgressStatus `json:"progress,omitempty"`
}

// ProgressStatus is the progress of the run in flight.
type ProgressStatus struct {
	progress.Stat
	Elapsed float64 `json:"elapsed_seconds"`
}

// StatusResponse is the body of /api/status.
type StatusResponse struct {
	Scheduler SchedulerStatus `json:"scheduler"`
	Config    ConfigStatus    `json:"config"`
	LastRun   *models.Summary `json:"last_run,omitempty"`
}

type userResponse struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	kind := models.Classify(err)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		code, kind = http.StatusUnauthorized, ""
	case errors.Is(err, output.ErrNotFound), errors.Is(err, output.ErrInvalidID),
		errors.Is(err, catalog.ErrNoBackup), errors.Is(err, store.ErrNotFound):
		code, kind = http.StatusNotFound, ""
	case errors.Is(err, models.ErrAlreadyRunning):
		code = http.StatusConflict
	default:
		s.logger.Error("Request failed", zap.Error(err))
	}
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, code, errorResponse{Detail: err.Error(), Kind: kind})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Detail: msg})
}

func (s *Server) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "EDNA API",
		"version": agentversion.Short(),
		"status":  "running",
	})
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid login request")
		return
	}
	tok, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.logger.Info("Login failed", zap.String("username", req.Username))
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	c := claimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, userResponse{Username: c.Subject, Role: c.Role})
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	s.auth.Logout(claimsFromContext(r.Context()))
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

func (s *Server) schedulerStatus() SchedulerStatus {
	var st SchedulerStatus
	if s.scheduler != nil {
		st.Status = s.scheduler.Status()
	} else {
		st.State = scheduler.StateStopped
		st.IsRunning = s.orchestrator.IsRunning()
	}
	if stat, elapsed, ok := s.orchestrator.Progress().Current(); ok {
		st.Progress = &ProgressStatus{Stat: stat, Elapsed: elapsed.Seconds()}
	}
	return st
}

func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Scheduler: s.schedulerStatus(),
		Config: ConfigStatus{
			Input:     strings.Join(s.info.Input, ", "),
			Output:    strings.Join(s.info.Output, ", "),
			Retention: s.info.Retention,
		},
	}
	if last := s.orchestrator.LastReport(); last != nil {
		sum := last.Summary()
		resp.LastRun = &sum
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.catalog.Devices(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if devices == nil {
		devices = []catalog.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) ListBackups(w http.ResponseWriter, r *http.Request) {
	entries, err := s.catalog.List(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) GetBackup(w http.ResponseWriter, r *http.Request) {
	content, err := s.catalog.Get(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contentResponse{Content: string(content)})
}

func (s *Server) LastBackup(w http.ResponseWriter, r *http.Request) {
	_, content, err := s.catalog.Latest(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contentResponse{Content: string(content)})
}

// RunBackup runs the orchestrator. With ?async=true it answers 202 once
// the run gate is claimed, otherwise it answers with the run report.
func (s *Server) RunBackup(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		badRequest(w, "invalid run request")
		return
	}
	opts := backup.RunOptions{Trigger: backup.TriggerManual, Device: req.DeviceName}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		id, err := s.orchestrator.Start(s.runCtx, opts)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, runAccepted{Status: "accepted", RunID: id, Message: "Backup started in background"})
		return
	}

	// The run is not bound to the request so a client disconnect does not
	// abort device sessions half way.
	report, err := s.orchestrator.RunOnce(s.runCtx, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusOK, []*models.RunReport{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*models.RunReport{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) LastRun(w http.ResponseWriter, r *http.Request) {
	if last := s.orchestrator.LastReport(); last != nil {
		writeJSON(w, http.StatusOK, last)
		return
	}
	if s.runs == nil {
		s.writeError(w, store.ErrNotFound)
		return
	}
	last, err := s.runs.LastRun(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Server) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.schedulerStatus())
}

func (s *Server) StartScheduler(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: "scheduler is not configured"})
		return
	}
	s.scheduler.Start()
	s.logger.Info("Scheduler started from API", zap.String("username", claimsFromContext(r.Context()).Subject))
	writeJSON(w, http.StatusOK, s.schedulerStatus())
}

func (s *Server) StopScheduler(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: "scheduler is not configured"})
		return
	}
	s.scheduler.Stop()
	s.logger.Info("Scheduler stopped from API", zap.String("username", claimsFromContext(r.Context()).Subject))
	writeJSON(w, http.StatusOK, s.schedulerStatus())
}
