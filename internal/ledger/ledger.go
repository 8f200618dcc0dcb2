// Package ledger guards at-most-once delivery to the sink. It tracks
// which (symbol, tradeId) pairs have already been forwarded, shared by
// the stream and poll ingestion paths, with a bounded retention window
// so memory stays flat over long uptimes.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// key is the exact-match dedup key. Probabilistic structures are off
// the table: neither false negatives nor false positives are tolerable.
type key struct {
	symbol  string
	tradeID string
}

// Config holds ledger settings.
type Config struct {
	Retention     time.Duration // how long entries are kept
	EvictInterval time.Duration // how often the eviction pass runs
}

// DefaultConfig returns sensible defaults. Retention must comfortably
// exceed the reconciliation poll lookback so an entry is never evicted
// while a poll covering it is still in flight.
func DefaultConfig() Config {
	return Config{
		Retention:     24 * time.Hour,
		EvictInterval: 15 * time.Minute,
	}
}

// Ledger is safe for concurrent use by both ingestion paths.
type Ledger struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	entries map[key]int64 // key → firstSeen ms since epoch

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Ledger.
func New(cfg Config, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = DefaultConfig().EvictInterval
	}
	return &Ledger{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[key]int64),
	}
}

// MarkAndCheck records the pair and reports whether it was new. A
// second call for the same pair always returns false, regardless of
// which ingestion path issued either call.
func (l *Ledger) MarkAndCheck(symbol, tradeID string) bool {
	k := key{symbol: symbol, tradeID: tradeID}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, seen := l.entries[k]; seen {
		return false
	}
	l.entries[k] = time.Now().UnixMilli()
	return true
}

// Evict removes entries first seen before the cutoff and returns how
// many were removed.
func (l *Ledger) Evict(olderThan time.Time) int {
	cutoff := olderThan.UnixMilli()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, firstSeen := range l.entries {
		if firstSeen < cutoff {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Start launches the background eviction loop.
func (l *Ledger) Start(ctx context.Context) error {
	l.ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go l.evictLoop()

	l.logger.Info("dedup ledger started",
		"retention", l.cfg.Retention,
		"evict_interval", l.cfg.EvictInterval,
	)
	return nil
}

// Stop shuts down the eviction loop.
func (l *Ledger) Stop(ctx context.Context) error {
	if l.cancel != nil {
		l.cancel()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("dedup ledger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Ledger) evictLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.EvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			removed := l.Evict(time.Now().Add(-l.cfg.Retention))
			if removed > 0 {
				l.logger.Debug("evicted ledger entries",
					"removed", removed,
					"remaining", l.Len(),
				)
			}
		}
	}
}
