package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Option configures a Scheduler.
type Option func(s *Scheduler) error

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) error {
		s.logger = logger
		return nil
	}
}

// WithLocation sets the time zone the cron expression is evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) error {
		s.location = loc
		return nil
	}
}

// WithContext sets the context passed to scheduled runs.
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) error {
		s.ctx = ctx
		return nil
	}
}
