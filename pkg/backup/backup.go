// Package backup runs backup passes over the inventory.
package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bizflycloud/edna/pkg/devicemodel"
	"github.com/bizflycloud/edna/pkg/inventory"
	"github.com/bizflycloud/edna/pkg/models"
	"github.com/bizflycloud/edna/pkg/output"
	"github.com/bizflycloud/edna/pkg/progress"
)

// Triggers recorded in reports.
const (
	TriggerManual    = "manual"
	TriggerScheduler = "scheduler"
	TriggerBroker    = "broker"
	TriggerCLI       = "cli"
)

const defaultMaxWorkers = 4

// ErrDeviceNotFound is reported when a single device run names a device
// the inventory does not contain.
var ErrDeviceNotFound = errors.New("device not found in inventory")

// Runner backs up one device. It reports failures in the record.
type Runner interface {
	Run(ctx context.Context, device *models.Device, model devicemodel.Model) *models.Record
}

// Resolver finds the device model of a device type.
type Resolver interface {
	Resolve(deviceType string) (devicemodel.Model, error)
}

// StateStore is the part of the state database the orchestrator feeds.
type StateStore interface {
	UpsertDevices(ctx context.Context, devices []models.Device, seen time.Time) error
	MarkBackup(ctx context.Context, name string, at time.Time) error
	RemoveStale(ctx context.Context, before time.Time) (int64, error)
	SaveRun(ctx context.Context, r *models.RunReport) error
}

// RunOptions select what a run does.
type RunOptions struct {
	Trigger string
	// Device limits the run to one device when set.
	Device string
}

// Orchestrator executes runs. At most one run is in flight at a time,
// whatever triggered it.
type Orchestrator struct {
	provider   inventory.Provider
	resolver   Resolver
	runner     Runner
	sinks      []output.Sink
	maxWorkers int
	store      StateStore
	staleAfter time.Duration
	progress   *progress.Progress
	hooks      []func(r *models.RunReport)
	logger     *zap.Logger
	now        func() time.Time

	running int32

	mu   sync.RWMutex
	last *models.RunReport
}

// New creates an Orchestrator.
func New(provider inventory.Provider, resolver Resolver, runner Runner, sinks []output.Sink, opts ...Option) (*Orchestrator, error) {
	if provider == nil || resolver == nil || runner == nil {
		return nil, errors.New("backup: provider, resolver and runner are required")
	}
	if len(sinks) == 0 {
		return nil, errors.New("backup: at least one sink is required")
	}
	o := &Orchestrator{
		provider:   provider,
		resolver:   resolver,
		runner:     runner,
		sinks:      sinks,
		maxWorkers: defaultMaxWorkers,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		o.logger = l
	}
	return o, nil
}

func (o *Orchestrator) acquire() bool {
	return atomic.CompareAndSwapInt32(&o.running, 0, 1)
}

func (o *Orchestrator) release() {
	atomic.StoreInt32(&o.running, 0)
}

// IsRunning reports whether a run is in flight.
func (o *Orchestrator) IsRunning() bool {
	return atomic.LoadInt32(&o.running) == 1
}

// LastReport returns the report of the last finished run, or nil.
func (o *Orchestrator) LastReport() *models.RunReport {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

// Progress returns the live counters, nil when none are tracked.
func (o *Orchestrator) Progress() *progress.Progress {
	return o.progress
}

// RunOnce performs one run and returns its report. It fails with
// models.ErrAlreadyRunning when another run is in flight. Run-level
// failures are carried by the report, not the error.
func (o *Orchestrator) RunOnce(ctx context.Context, opts RunOptions) (*models.RunReport, error) {
	if !o.acquire() {
		return nil, models.ErrAlreadyRunning
	}
	defer o.release()
	return o.run(ctx, uuid.New().String(), opts), nil
}

// Start claims the run gate and performs the run in the background. The
// returned id is the id of the future report. ctx must outlive the run.
func (o *Orchestrator) Start(ctx context.Context, opts RunOptions) (string, error) {
	if !o.acquire() {
		return "", models.ErrAlreadyRunning
	}
	id := uuid.New().String()
	go func() {
		defer o.release()
		o.run(ctx, id, opts)
	}()
	return id, nil
}

func (o *Orchestrator) run(ctx context.Context, id string, opts RunOptions) *models.RunReport {
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}
	logger := o.logger.With(zap.String("run_id", id), zap.String("trigger", opts.Trigger))
	report := &models.RunReport{
		ID:        id,
		Trigger:   opts.Trigger,
		StartedAt: o.now(),
		Outcomes:  []models.DeviceOutcome{},
	}
	logger.Info("Starting backup run", zap.String("device", opts.Device))

	devices, err := o.inventory(ctx, report, opts)
	if err != nil {
		report.Status = models.StatusFailed
		report.ErrorKind = models.Classify(err)
		report.ErrorDetail = err.Error()
		logger.Error("Backup run aborted", zap.Error(err), zap.String("error_kind", string(report.ErrorKind)))
		return o.finish(ctx, report, opts, logger)
	}

	o.progress.Start(len(devices))
	defer o.progress.Done()

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(o.maxWorkers)
	for i := range devices {
		d := devices[i]
		g.Go(func() error {
			out := o.backupDevice(ctx, &d, logger)
			mu.Lock()
			report.Outcomes = append(report.Outcomes, out)
			mu.Unlock()

			s := progress.Stat{Devices: 1, Bytes: uint64(out.Bytes)}
			if out.Status == models.StatusSuccess {
				s.Succeeded = 1
			} else {
				s.Failed = 1
			}
			o.progress.Report(s)
			return nil
		})
	}
	_ = g.Wait()

	return o.finish(ctx, report, opts, logger)
}

// inventory lists the devices of the run. Rejected records become failed
// outcomes of the report.
func (o *Orchestrator) inventory(ctx context.Context, report *models.RunReport, opts RunOptions) ([]models.Device, error) {
	batch, err := o.provider.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	if o.store != nil {
		if err := o.store.UpsertDevices(ctx, batch.Devices, report.StartedAt); err != nil {
			o.logger.Warn("Failed to update device cache", zap.Error(err))
		}
	}

	for _, r := range batch.Rejected {
		if opts.Device != "" && r.Name != opts.Device {
			continue
		}
		report.Outcomes = append(report.Outcomes, models.DeviceOutcome{
			Device:      r.Name,
			Status:      models.StatusFailed,
			ErrorKind:   models.KindSourceMalformed,
			ErrorDetail: fmt.Sprintf("%s: %s", r.Source, r.Reason),
			StartedAt:   report.StartedAt,
		})
	}

	if opts.Device == "" {
		return batch.Devices, nil
	}
	for _, d := range batch.Devices {
		if d.Name == opts.Device {
			return []models.Device{d}, nil
		}
	}
	if len(report.Outcomes) > 0 {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, opts.Device)
}

// backupDevice resolves the model, runs the device and saves the content
// in every sink. A device succeeds only if every sink stored it.
func (o *Orchestrator) backupDevice(ctx context.Context, d *models.Device, logger *zap.Logger) models.DeviceOutcome {
	out := models.DeviceOutcome{
		Device:     d.Name,
		Host:       d.Host,
		DeviceType: d.DeviceType,
		StartedAt:  o.now(),
	}
	fail := func(err error) models.DeviceOutcome {
		out.Status = models.StatusFailed
		out.ErrorKind = models.Classify(err)
		out.ErrorDetail = err.Error()
		return out
	}

	model, err := o.resolver.Resolve(d.DeviceType)
	if err != nil {
		logger.Warn("No device model", zap.String("device", d.Name), zap.String("device_type", d.DeviceType))
		return fail(err)
	}

	rec := o.runner.Run(ctx, d, model)
	out.StartedAt = rec.CreationTime
	out.Elapsed = rec.ElapsedTime
	if !rec.Succeeded() {
		out.Status = models.StatusFailed
		out.ErrorKind = rec.ErrorKind
		out.ErrorDetail = rec.ErrorDetail
		return out
	}
	out.Bytes = int64(len(rec.Content))

	var failed []string
	for _, sink := range o.sinks {
		ref, err := sink.Save(ctx, d.Name, rec.Content, rec.CreationTime)
		if err != nil {
			logger.Error("Failed to save backup", zap.String("device", d.Name), zap.String("sink", sink.Name()), zap.Error(err))
			failed = append(failed, fmt.Sprintf("%s: %v", sink.Name(), err))
			continue
		}
		out.Backups = append(out.Backups, ref)
	}
	if len(failed) > 0 {
		out.Status = models.StatusFailed
		out.ErrorKind = models.KindWriteFailed
		out.ErrorDetail = strings.Join(failed, "; ")
		return out
	}

	out.Status = models.StatusSuccess
	if o.store != nil {
		if err := o.store.MarkBackup(ctx, d.Name, rec.CreationTime); err != nil {
			logger.Warn("Failed to record backup time", zap.String("device", d.Name), zap.Error(err))
		}
	}
	return out
}

func (o *Orchestrator) finish(ctx context.Context, report *models.RunReport, opts RunOptions, logger *zap.Logger) *models.RunReport {
	report.Finalize(o.now())

	if o.store != nil {
		if err := o.store.SaveRun(ctx, report); err != nil {
			logger.Warn("Failed to save run report", zap.Error(err))
		}
		if o.staleAfter > 0 && opts.Device == "" && report.Status == models.StatusSuccess {
			n, err := o.store.RemoveStale(ctx, report.StartedAt.Add(-o.staleAfter))
			if err != nil {
				logger.Warn("Failed to remove stale devices", zap.Error(err))
			} else if n > 0 {
				logger.Info("Removed stale devices", zap.Int64("count", n))
			}
		}
	}

	o.mu.Lock()
	o.last = report
	o.mu.Unlock()

	for _, fn := range o.hooks {
		fn(report)
	}
	logger.Info("Backup run finished",
		zap.String("status", string(report.Status)),
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report
}
