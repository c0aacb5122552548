// Package runner schedules the independent fixed-interval loops. Processes
// never call each other; each loop only touches the shared store and the
// signal channel, so a failing tick degrades to a no-op for that loop alone.
package runner

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Loop is one independently scheduled task with a per-tick deadline.
type Loop struct {
	Name        string
	Interval    time.Duration
	TickTimeout time.Duration
	// Fn runs one tick. Returning an error logs it; the loop continues on the
	// next interval. Only context cancellation stops the loop.
	Fn     func(ctx context.Context) error
	Logger *zap.Logger
}

// Run executes the loop until ctx is cancelled. An immediate first tick runs
// before the ticker cadence starts.
func (l *Loop) Run(ctx context.Context) error {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("loop", l.Name))

	timeout := l.TickTimeout
	if timeout == 0 || timeout > l.Interval {
		timeout = l.Interval
	}

	logger.Info("loop started", zap.Duration("interval", l.Interval))

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	l.tick(ctx, timeout, logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info("loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx, timeout, logger)
		}
	}
}

func (l *Loop) tick(ctx context.Context, timeout time.Duration, logger *zap.Logger) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := l.Fn(tctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Error("tick failed", zap.Error(err))
	}
}
