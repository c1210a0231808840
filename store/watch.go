package store

import (
	"context"
	"sync/atomic"
	"time"
)

// WatchOptions tunes the cross-process change poller.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 500ms.
	Interval time.Duration
	// Debounce is the quiet period after a version change before rows are
	// re-read. Further changes during the window restart it. Default: 0.
	Debounce time.Duration
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = 500 * time.Millisecond
	}
}

// WatchStats are point-in-time counters of the poller.
type WatchStats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
	Syncs   int64 `json:"syncs"`
}

type watchCounters struct {
	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	syncs   atomic.Int64
}

// WatchStats returns the poller counters.
func (s *SQLite) WatchStats() WatchStats {
	return WatchStats{
		Checks:  s.counters.checks.Load(),
		Changes: s.counters.changes.Load(),
		Errors:  s.counters.errors.Load(),
		Syncs:   s.counters.syncs.Load(),
	}
}

// Watch blocks until ctx is cancelled, polling PRAGMA data_version. When the
// version moves and the debounce window passes quietly, Sync delivers the
// changed keys to subscribers. A failed Sync does not advance the version,
// so it is retried on the next tick.
func (s *SQLite) Watch(ctx context.Context, opts WatchOptions) {
	opts.defaults()
	log := s.logger

	version, err := s.dataVersion(ctx)
	if err != nil {
		log.Warn("store: initial version check failed", "error", err)
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := int64(-1)

	log.Info("store: watching", "interval", opts.Interval, "debounce", opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			log.Info("store: watch stopped")
			return

		case <-ticker.C:
			s.counters.checks.Add(1)
			cur, err := s.dataVersion(ctx)
			if err != nil {
				s.counters.errors.Add(1)
				log.Warn("store: version check failed", "error", err)
				continue
			}
			if cur == version || cur == pending {
				continue
			}
			s.counters.changes.Add(1)
			pending = cur
			if opts.Debounce <= 0 {
				if s.syncVersion(ctx, pending) {
					version = pending
				}
				pending = -1
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(opts.Debounce)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			if pending >= 0 {
				if s.syncVersion(ctx, pending) {
					version = pending
				}
				pending = -1
			}
		}
	}
}

func (s *SQLite) syncVersion(ctx context.Context, v int64) bool {
	n, err := s.Sync(ctx)
	if err != nil {
		s.counters.errors.Add(1)
		s.logger.Error("store: sync failed", "error", err, "version", v)
		return false
	}
	s.counters.syncs.Add(1)
	s.logger.Debug("store: synced", "version", v, "changes", n)
	return true
}

func (s *SQLite) dataVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}
