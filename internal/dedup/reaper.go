package dedup

import (
	"context"
	"log/slog"
	"time"
)

const defaultReapInterval = 10 * time.Second

// Reaper periodically sweeps a Cache for expired completed entries so
// memory is reclaimed even when no new request touches a stale
// fingerprint. Implements worker.Worker, the same periodic-ticker shape
// used by the balance monitor (eugener-gandalf/internal/worker/
// quota_sync.go).
type Reaper struct {
	cache    *Cache
	interval time.Duration
}

// NewReaper builds a Reaper sweeping cache every interval; interval <= 0
// uses defaultReapInterval.
func NewReaper(cache *Cache, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = defaultReapInterval
	}
	return &Reaper{cache: cache, interval: interval}
}

// Name identifies this worker in process logs.
func (r *Reaper) Name() string { return "dedup_cache_reaper" }

// Run sweeps the cache on an interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := r.cache.ReapExpired(time.Now()); n > 0 {
				slog.Info("dedup cache reaped", "removed", n)
			}
		}
	}
}
