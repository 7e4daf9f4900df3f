// Package jobs runs the periodic maintenance sweeps that keep time-driven
// state current: completing elapsed bookings, expiring overdue approval
// steps and releasing lapsed waiting-list offers.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/lab-booking/internal/application"
)

// Sweeper schedules the recurring sweeps on a cron runner. All three sweeps
// are lazy-evaluation backstops; the read paths already apply deadline and
// expiry rules on access, so a delayed sweep never changes an outcome.
type Sweeper struct {
	bookings *application.BookingService
	waitlist *application.WaitlistService
	interval time.Duration
	logger   *slog.Logger
	runner   *cron.Cron
}

// NewSweeper creates a sweeper that runs every interval once started.
func NewSweeper(
	bookings *application.BookingService,
	waitlist *application.WaitlistService,
	interval time.Duration,
	logger *slog.Logger,
) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		bookings: bookings,
		waitlist: waitlist,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
	}
}

// Start registers the sweep job and starts the cron runner.
func (s *Sweeper) Start(ctx context.Context) error {
	runner := cron.New()
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := runner.AddFunc(spec, func() {
		s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", spec, err)
	}

	runner.Start()
	s.runner = runner
	s.logger.InfoContext(ctx, "sweeper started", "interval", s.interval)
	return nil
}

// Stop halts the cron runner and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.runner == nil {
		return
	}
	<-s.runner.Stop().Done()
	s.logger.Info("sweeper stopped")
}

// RunOnce executes a single sweep pass. Each sweep is independent; a failure
// in one does not block the others.
func (s *Sweeper) RunOnce(ctx context.Context) {
	started := time.Now()

	if err := s.bookings.CompleteElapsed(ctx); err != nil {
		s.logger.ErrorContext(ctx, "elapsed booking sweep failed", "error", err)
	}
	if err := s.bookings.ExpireApprovals(ctx); err != nil {
		s.logger.ErrorContext(ctx, "approval deadline sweep failed", "error", err)
	}
	if err := s.waitlist.ExpireOffers(ctx); err != nil {
		s.logger.ErrorContext(ctx, "offer expiry sweep failed", "error", err)
	}

	s.logger.DebugContext(ctx, "sweep completed", "duration", time.Since(started))
}
