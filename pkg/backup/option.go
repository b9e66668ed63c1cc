package backup

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/models"
	"github.com/bizflycloud/edna/pkg/progress"
)

// Option configures an Orchestrator.
type Option func(o *Orchestrator) error

// WithLogger sets the orchestrator logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) error {
		o.logger = logger
		return nil
	}
}

// WithMaxWorkers bounds the number of devices backed up at the same time.
func WithMaxWorkers(n int) Option {
	return func(o *Orchestrator) error {
		if n <= 0 {
			return errors.New("backup: max workers must be positive")
		}
		o.maxWorkers = n
		return nil
	}
}

// WithStore records the inventory, backup times and reports in st.
// Devices not seen for staleAfter are dropped from the cache after each
// full run; zero keeps them.
func WithStore(st StateStore, staleAfter time.Duration) Option {
	return func(o *Orchestrator) error {
		o.store = st
		o.staleAfter = staleAfter
		return nil
	}
}

// WithProgress reports live counters of the run in flight to p.
func WithProgress(p *progress.Progress) Option {
	return func(o *Orchestrator) error {
		o.progress = p
		return nil
	}
}

// WithReportHook calls fn with every finished report.
func WithReportHook(fn func(r *models.RunReport)) Option {
	return func(o *Orchestrator) error {
		o.hooks = append(o.hooks, fn)
		return nil
	}
}
