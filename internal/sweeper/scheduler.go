// Package sweeper periodically consolidates custodial funds into the pooled wallet.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/suspectuso/tipbot/internal/metrics"
	"github.com/suspectuso/tipbot/internal/storage"
)

var ErrInvalidDuration = errors.New("invalid suspend duration")

// Ledger is what a sweep pass needs from the ledger.
type Ledger interface {
	Accounts(ctx context.Context) ([]storage.Account, error)
	SweepAccount(ctx context.Context, a *storage.Account) (decimal.Decimal, error)
	PurgePending(ctx context.Context) (int, error)
}

// Result summarizes one tick.
type Result struct {
	Suspended bool
	Accounts  int
	Swept     int
	Failed    int
	Total     decimal.Decimal
}

// Scheduler runs sweep passes on an interval unless suspended.
type Scheduler struct {
	ledger      Ledger
	log         *slog.Logger
	interval    time.Duration
	maxSuspend  time.Duration
	concurrency int
	now         func() time.Time

	mu             sync.Mutex
	suspendedUntil time.Time
	defaultSuspend time.Duration
}

func NewScheduler(ledger Ledger, interval, defaultSuspend, maxSuspend time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		ledger:         ledger,
		log:            log,
		interval:       interval,
		maxSuspend:     maxSuspend,
		concurrency:    4,
		now:            time.Now,
		defaultSuspend: defaultSuspend,
	}
}

// WithClock replaces the time source, for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Suspend pauses sweeps for minutes, or for the current default when
// minutes is 0. An explicit duration becomes the new default.
func (s *Scheduler) Suspend(minutes int) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.defaultSuspend
	if minutes != 0 {
		d = time.Duration(minutes) * time.Minute
		if minutes < 1 || d > s.maxSuspend {
			return time.Time{}, fmt.Errorf("%w: must be 1 to %d minutes", ErrInvalidDuration, int(s.maxSuspend/time.Minute))
		}
		s.defaultSuspend = d
	}

	s.suspendedUntil = s.now().Add(d)
	s.log.Info("sweeps suspended", "duration", d, "until", s.suspendedUntil)
	return s.suspendedUntil, nil
}

// SuspendedUntil reports the end of the current suspension, if any.
func (s *Scheduler) SuspendedUntil() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.now().Before(s.suspendedUntil) {
		return s.suspendedUntil, true
	}
	return time.Time{}, false
}

// Tick runs one sweep pass. A failing account is logged and skipped.
func (s *Scheduler) Tick(ctx context.Context) (Result, error) {
	if until, ok := s.SuspendedUntil(); ok {
		metrics.SweepRuns.WithLabelValues("suspended").Inc()
		s.log.Info("sweep skipped, suspended", "until", until)
		return Result{Suspended: true, Total: decimal.Zero}, nil
	}
	metrics.SweepRuns.WithLabelValues("ran").Inc()

	accounts, err := s.ledger.Accounts(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list accounts: %w", err)
	}

	var (
		mu  sync.Mutex
		res = Result{Accounts: len(accounts), Total: decimal.Zero}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range accounts {
		a := &accounts[i]
		g.Go(func() error {
			swept, err := s.ledger.SweepAccount(gctx, a)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				s.log.Warn("sweep account failed", "account_id", a.ID, "error", err)
				return nil
			}
			if swept.IsPositive() {
				res.Swept++
				res.Total = res.Total.Add(swept)
			}
			return nil
		})
	}
	_ = g.Wait()

	if n, err := s.ledger.PurgePending(ctx); err != nil {
		s.log.Warn("purge pending transfers", "error", err)
	} else if n > 0 {
		s.log.Debug("pending transfers purged", "count", n)
	}

	s.log.Info("sweep finished",
		"accounts", res.Accounts,
		"swept", res.Swept,
		"failed", res.Failed,
		"total", res.Total,
	)
	return res, nil
}

// Start runs a pass immediately and then on every interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("sweep scheduler started", "interval", s.interval)

	s.run(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweep scheduler stopped")
			return
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	if _, err := s.Tick(ctx); err != nil {
		s.log.Error("sweep failed", "error", err)
	}
}
