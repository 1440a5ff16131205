/*
scheduler.go - Automated year-close scheduler

PURPOSE:
  Periodically checks whether the previous calendar year is still open and,
  once it is over, archives and freezes it through Archive.CloseYear.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Only the year before the current one is ever closed automatically;
    older years are closed by hand (POST /api/admin/close-year or the CLI)
  - A year closed concurrently by an admin is treated as done

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewYearCloseScheduler(engine.Archive, repo, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: CloseYear endpoint (manual close)
  - leave/archive.go: CloseYear
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/leave-engine/leave"
)

// SchedulerActor is recorded as the actor of automatic closes.
const SchedulerActor = "scheduler"

type yearCloser interface {
	CloseYear(ctx context.Context, year int, actorID string) (leave.CloseYearResult, error)
}

// YearCloseScheduler handles automated year-end archiving.
type YearCloseScheduler struct {
	Archive       yearCloser
	Years         leave.YearStore
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewYearCloseScheduler creates a new scheduler.
func NewYearCloseScheduler(archive yearCloser, years leave.YearStore, logger *slog.Logger) *YearCloseScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &YearCloseScheduler{
		Archive:       archive,
		Years:         years,
		Logger:        logger.With("component", "year-close-scheduler"),
		CheckInterval: time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (s *YearCloseScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	s.Logger.Info("started", "interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for a running check to finish.
func (s *YearCloseScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("stopped")
}

func (s *YearCloseScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.checkAndProcess()

	for {
		select {
		case <-s.ticker.C:
			s.checkAndProcess()
		case <-s.stop:
			return
		}
	}
}

func (s *YearCloseScheduler) checkAndProcess() {
	if _, err := s.RunNow(context.Background()); err != nil {
		s.Logger.Error("year close failed", "error", err)
	}
}

// RunNow closes the previous year if it is still open. closed reports
// whether this call did the close.
func (s *YearCloseScheduler) RunNow(ctx context.Context) (closed bool, err error) {
	year := s.Now().Year() - 1

	done, err := s.Years.IsYearClosed(ctx, year)
	if err != nil {
		return false, err
	}
	if done {
		s.Logger.Debug("year already closed", "year", year)
		return false, nil
	}

	res, err := s.Archive.CloseYear(ctx, year, SchedulerActor)
	if errors.Is(err, leave.ErrNotEligible) {
		s.Logger.Info("year close deferred", "year", year, "reason", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.Logger.Info("closed year",
		"year", res.Year,
		"archived", len(res.Archived),
		"skipped", len(res.Skipped),
	)
	return true, nil
}
