// Package schedule triggers a full batch run once per day at a configured
// local time.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// BatchRunner starts the daily generation run for the given users.
type BatchRunner interface {
	RunAll(ctx context.Context) error
}

// Scheduler fires the batch runner once per day at a fixed wall-clock time.
type Scheduler struct {
	runner BatchRunner
	at     string
	logger *slog.Logger

	// now is swapped out in tests.
	now func() time.Time
}

// New creates a Scheduler firing daily at the given "HH:MM" local time.
func New(runner BatchRunner, at string) (*Scheduler, error) {
	if _, err := time.Parse("15:04", at); err != nil {
		return nil, fmt.Errorf("invalid schedule time %q: %w", at, err)
	}
	return &Scheduler{
		runner: runner,
		at:     at,
		logger: slog.Default(),
		now:    time.Now,
	}, nil
}

// Run blocks until ctx is cancelled, firing the batch run at each daily
// deadline. A failing run is logged and the next day's run still happens.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := nextRun(s.now(), s.at)
		s.logger.Info("next scheduled run", "at", next.Format(time.RFC3339))

		t := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		if err := s.runner.RunAll(ctx); err != nil {
			s.logger.Error("scheduled run failed", "error", err)
		}
	}
}

// nextRun returns the next occurrence of the "HH:MM" wall-clock time strictly
// after now, in now's location.
func nextRun(now time.Time, at string) time.Time {
	hm, _ := time.Parse("15:04", at)
	next := time.Date(now.Year(), now.Month(), now.Day(), hm.Hour(), hm.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
