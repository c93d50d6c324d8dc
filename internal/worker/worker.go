package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpiredTokenClearer is the store call the sweeper drives.
type ExpiredTokenClearer interface {
	ClearExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// SweepObserver receives the outcome of each sweep; observability.Prom
// implements it.
type SweepObserver interface {
	ObserveSweep(cleared int64, err error)
}

type Config struct {
	PollInterval time.Duration
	RunTimeout   time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

type Stats interface {
	Record(cleared int64, err error, d time.Duration, at time.Time)
}

// Sweeper moves expired refresh-token slots back to empty on a fixed interval.
type Sweeper struct {
	cfg     Config
	store   ExpiredTokenClearer
	log     *slog.Logger
	metrics SweepObserver
	stats   Stats
	now     func() time.Time

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, store ExpiredTokenClearer, log *slog.Logger, metrics SweepObserver, stats Stats) *Sweeper {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	return &Sweeper{
		cfg:     cfg,
		store:   store,
		log:     log.With(slog.String("component", "sweeper")),
		metrics: metrics,
		stats:   stats,
		now:     time.Now,
	}
}

// Run sweeps once immediately, then every PollInterval. Consecutive failures
// stretch the wait with exponential backoff. Returns nil when ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.setReady(true)
	defer s.setReady(false)

	s.log.InfoContext(ctx, "sweeper started", slog.Duration("interval", s.cfg.PollInterval))

	failures := 0
	for {
		wait := s.cfg.PollInterval

		if _, err := s.SweepOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			wait = ExponentialBackoff(failures, s.cfg.BackoffBase, s.cfg.BackoffCap)
			failures++
			s.log.WarnContext(ctx, "sweep failed",
				slog.Any("error", err),
				slog.Int("attempt", failures),
				slog.Duration("retry_in", wait),
			)
		} else {
			failures = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("sweeper received shutdown signal")
			return nil
		case <-timer.C:
		}
	}

	s.log.Info("sweeper received shutdown signal")
	return nil
}

// SweepOnce clears every slot whose expiry is at or before now.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	start := s.now()
	n, err := s.store.ClearExpiredRefreshTokens(runCtx, start.UTC())

	if s.metrics != nil {
		s.metrics.ObserveSweep(n, err)
	}
	if s.stats != nil {
		s.stats.Record(n, err, s.now().Sub(start), start)
	}

	if err != nil {
		return 0, err
	}

	if n > 0 {
		s.log.InfoContext(ctx, "expired refresh tokens cleared", slog.Int64("count", n))
	}
	return n, nil
}

func (s *Sweeper) Ready() bool {
	s.readyMu.RLock()
	defer s.readyMu.RUnlock()
	return s.ready
}

func (s *Sweeper) setReady(v bool) {
	s.readyMu.Lock()
	s.ready = v
	s.readyMu.Unlock()
}
