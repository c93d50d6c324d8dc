package observability

import (
	"sync/atomic"
	"time"
)

// SweepStats is an in-process view of sweeper activity, served by the worker's
// /stats endpoint. Prometheus carries the same numbers for scraping.
type SweepStats struct {
	runs    atomic.Uint64
	failed  atomic.Uint64
	cleared atomic.Uint64

	lastRunUnixNano atomic.Int64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewSweepStats() *SweepStats {
	return &SweepStats{}
}

func (s *SweepStats) Record(cleared int64, err error, d time.Duration, at time.Time) {
	s.runs.Add(1)
	if err != nil {
		s.failed.Add(1)
	} else if cleared > 0 {
		s.cleared.Add(uint64(cleared))
	}
	s.lastRunUnixNano.Store(at.UnixNano())

	ns := d.Nanoseconds()
	s.durationCount.Add(1)
	s.durationTotal.Add(ns)

	for {
		curr := s.durationMax.Load()

		if ns <= curr {
			return
		}

		if s.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type SweepStatsSnapshot struct {
	Runs            uint64        `json:"runs"`
	Failed          uint64        `json:"failed"`
	Cleared         uint64        `json:"cleared"`
	LastRunAt       *time.Time    `json:"lastRunAt,omitempty"`
	AverageDuration time.Duration `json:"averageDurationNs"`
	MaxDuration     time.Duration `json:"maxDurationNs"`
}

func (s *SweepStats) Snapshot() SweepStatsSnapshot {
	count := s.durationCount.Load()
	total := s.durationTotal.Load()

	var avg time.Duration
	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	snap := SweepStatsSnapshot{
		Runs:            s.runs.Load(),
		Failed:          s.failed.Load(),
		Cleared:         s.cleared.Load(),
		AverageDuration: avg,
		MaxDuration:     time.Duration(s.durationMax.Load()),
	}

	if ns := s.lastRunUnixNano.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		snap.LastRunAt = &t
	}

	return snap
}
