// Package batch fans the generation pipeline out over the whole user base.
// Users are processed in fixed-size waves with a pause between waves so the
// upstream model APIs see a bounded request rate.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/forja/internal/pipeline"
)

const (
	defaultWaveSize  = 5
	defaultWavePause = 2 * time.Second
)

// UserProcessor runs the full generation pipeline for one user.
type UserProcessor interface {
	ProcessUser(ctx context.Context, userID string) (pipeline.Outcome, error)
}

// Summary aggregates a batch run.
type Summary struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	SuccessRate string  `json:"success_rate"`
	Outcomes    []Entry `json:"outcomes"`
}

// Entry is the result for a single user within a batch.
type Entry struct {
	UserID  string           `json:"user_id"`
	Outcome pipeline.Outcome `json:"outcome"`
	Err     string           `json:"error,omitempty"`
}


// Coordinator schedules pipeline runs across many users.
type Coordinator struct {
	processor UserProcessor
	waveSize  int
	wavePause time.Duration
	logger    *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Coordinator. waveSize <= 0 and wavePause <= 0 fall back to
// defaults.
func New(processor UserProcessor, waveSize int, wavePause time.Duration) *Coordinator {
	if waveSize <= 0 {
		waveSize = defaultWaveSize
	}
	if wavePause <= 0 {
		wavePause = defaultWavePause
	}
	return &Coordinator{
		processor: processor,
		waveSize:  waveSize,
		wavePause: wavePause,
		logger:    slog.Default(),
		sleep:     sleepCtx,
	}
}

// Run processes every user in waves of waveSize. Users within a wave run
// concurrently; a failing user never affects the others. Run returns early
// only when ctx is cancelled between waves.
func (c *Coordinator) Run(ctx context.Context, userIDs []string) (Summary, error) {
	sum := Summary{Total: len(userIDs), Outcomes: make([]Entry, len(userIDs))}
	if len(userIDs) == 0 {
		return c.finish(sum), nil
	}

	waves := (len(userIDs) + c.waveSize - 1) / c.waveSize
	c.logger.Info("batch run starting", "users", len(userIDs), "waves", waves, "wave_size", c.waveSize)

	for w := 0; w < waves; w++ {
		lo := w * c.waveSize
		hi := min(lo+c.waveSize, len(userIDs))

		var g errgroup.Group
		for i := lo; i < hi; i++ {
			i := i
			g.Go(func() error {
				sum.Outcomes[i] = c.processOne(ctx, userIDs[i])
				return nil
			})
		}
		g.Wait()

		if w < waves-1 {
			if err := c.sleep(ctx, c.wavePause); err != nil {
				return c.finish(sum), err
			}
		}
	}
	return c.finish(sum), nil
}

// processOne runs one user and contains any panic so a single bad record
// cannot take down the wave.
func (c *Coordinator) processOne(ctx context.Context, userID string) (e Entry) {
	e.UserID = userID
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("user processing panicked", "user_id", userID, "panic", rec)
			e.Err = fmt.Sprintf("panic: %v", rec)
		}
	}()

	out, err := c.processor.ProcessUser(ctx, userID)
	e.Outcome = out
	if err != nil {
		c.logger.Warn("user processing failed", "user_id", userID, "error", err)
		e.Err = err.Error()
	}
	return e
}

func (c *Coordinator) finish(sum Summary) Summary {
	for _, e := range sum.Outcomes {
		if e.Err == "" && e.Outcome.Success() {
			sum.Successful++
		} else {
			sum.Failed++
		}
	}
	sum.SuccessRate = fmt.Sprintf("%d/%d", sum.Successful, sum.Total)
	c.logger.Info("batch run finished", "success_rate", sum.SuccessRate)
	return sum
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
