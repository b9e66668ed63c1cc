// Package scheduler triggers backup runs from a cron expression.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/backup"
	"github.com/bizflycloud/edna/pkg/models"
)

// State of the scheduler.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Runner is the orchestrator as seen by the scheduler.
type Runner interface {
	RunOnce(ctx context.Context, opts backup.RunOptions) (*models.RunReport, error)
	IsRunning() bool
	LastReport() *models.RunReport
}

// Status is the read-only snapshot returned by Status.
type Status struct {
	State     State      `json:"state"`
	Enabled   bool       `json:"enabled"`
	IsRunning bool       `json:"is_running"`
	Cron      string     `json:"cron"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// Scheduler invokes the runner on every cron tick while it is started.
type Scheduler struct {
	spec     string
	schedule cron.Schedule
	runner   Runner
	location *time.Location
	ctx      context.Context
	logger   *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	lastRun time.Time
}

// New creates a stopped scheduler for the standard cron expression spec.
// Descriptors such as @daily and @every 1h are accepted.
func New(spec string, runner Runner, opts ...Option) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler: runner is required")
	}
	s := &Scheduler{
		spec:     spec,
		runner:   runner,
		location: time.Local,
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		s.logger = l
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron %q: %w", spec, err)
	}
	s.schedule = sched
	return s, nil
}

// Start begins honoring the cron expression. Starting a started scheduler
// does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}
	l := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	s.entry = c.Schedule(s.schedule, cron.FuncJob(s.tick))
	c.Start()
	s.cron = c
	s.logger.Info("Scheduler started", zap.String("cron", s.spec))
}

// Stop suppresses future triggers. A run in flight is left to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	s.cron.Stop()
	s.cron = nil
	s.logger.Info("Scheduler stopped")
}

// Enabled reports whether the scheduler is started.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	report, err := s.runner.RunOnce(s.ctx, backup.RunOptions{Trigger: backup.TriggerScheduler})
	if errors.Is(err, models.ErrAlreadyRunning) {
		s.logger.Info("Skipped scheduled run, a run is already in progress")
		return
	}
	if err != nil {
		s.logger.Error("Scheduled run failed", zap.Error(err))
		return
	}
	s.logger.Debug("Scheduled run done", zap.String("run_id", report.ID))
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	enabled := s.cron != nil
	var next time.Time
	if enabled {
		next = s.cron.Entry(s.entry).Next
		if next.IsZero() {
			next = s.schedule.Next(time.Now().In(s.location))
		}
	}
	last := s.lastRun
	s.mu.Unlock()

	if r := s.runner.LastReport(); r != nil && r.StartedAt.After(last) {
		last = r.StartedAt
	}

	st := Status{
		Enabled:   enabled,
		IsRunning: s.runner.IsRunning(),
		Cron:      s.spec,
	}
	switch {
	case !enabled:
		st.State = StateStopped
	case st.IsRunning:
		st.State = StateRunning
	default:
		st.State = StateIdle
	}
	if !last.IsZero() {
		st.LastRun = &last
	}
	if !next.IsZero() {
		st.NextRun = &next
	}
	return st
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
