package poll

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"ebay-scanner/pkg/scanner"
)

// Jitter bounds for both the startup delay and the spacing added to each
// interval. The spread desynchronizes targets and keeps request timing
// from looking machine-regular to the scraped site.
const (
	jitterMin = 1 * time.Second
	jitterMax = 15 * time.Second
)

// Scheduler keeps every enabled target scanning forever, each on its own
// goroutine. One target's failure never affects another's schedule and
// never stops the process; runs for the same target are serialized.
type Scheduler struct {
	runner     *Runner
	logger     *slog.Logger
	alertAfter int // consecutive failures before an operational alert; 0 disables
	wg         sync.WaitGroup
	jitter     func() time.Duration
}

// NewScheduler creates a scheduler around the given runner.
func NewScheduler(runner *Runner, alertAfter int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		logger:     logger,
		alertAfter: alertAfter,
		jitter: func() time.Duration {
			return jitterMin + rand.N(jitterMax-jitterMin)
		},
	}
}

// Start launches one scanning loop per enabled target and returns.
// Enablement is read here, once; editing the configuration requires a
// restart. Cancel the context to stop arming new runs.
func (s *Scheduler) Start(ctx context.Context, targets []scanner.Target) {
	started := 0
	for i := range targets {
		t := targets[i]
		if !t.Enabled {
			continue
		}
		started++
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, &t)
		}()
	}
	s.logger.Info("Scheduler started", "targets", started)
}

// Wait blocks until all target loops have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// loop is one target's schedule: initial jitter, then run, then re-arm
// with interval plus fresh jitter, forever. A run never overlaps its
// successor because the next timer is armed only after the run returns.
func (s *Scheduler) loop(ctx context.Context, target *scanner.Target) {
	interval := time.Duration(target.IntervalMinutes()) * time.Minute
	delay := s.jitter()

	s.logger.Info("Target scheduled",
		"target", target.Key(),
		"interval", interval.String(),
		"initial_delay", delay.String())

	failures := 0
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Target loop stopping", "target", target.Key())
			return
		case <-time.After(delay):
		}

		if err := s.runSafely(ctx, target); err != nil {
			failures++
			s.logger.Error("Scan failed, target stays scheduled",
				"target", target.Key(),
				"consecutive_failures", failures,
				"error", err)
			if s.alertAfter > 0 && failures == s.alertAfter {
				s.runner.Alert(ctx, target,
					fmt.Sprintf("%d consecutive scan failures, most recent: %v", failures, err))
			}
		} else {
			failures = 0
		}

		delay = interval + s.jitter()
		s.logger.Debug("Target re-armed", "target", target.Key(), "next_in", delay.String())
	}
}

// runSafely converts a panicking run into an error so a broken parse can
// never take the whole process down.
func (s *Scheduler) runSafely(ctx context.Context, target *scanner.Target) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("scan panicked: %v", rec)
		}
	}()
	return s.runner.RunOnce(ctx, target)
}
