// Package poller runs the REST fetch cycles: own-trade reconciliation,
// balance snapshots, and candle snapshots, each on its own timer.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/olundqvist/mexc-ingest/internal/api"
	"github.com/olundqvist/mexc-ingest/internal/dialect"
	"github.com/olundqvist/mexc-ingest/internal/model"
	"github.com/olundqvist/mexc-ingest/internal/pipeline"
)

// Config holds scheduler settings.
type Config struct {
	Symbol string

	TradeInterval   time.Duration // own-trade reconciliation cadence
	BalanceInterval time.Duration // balance snapshot cadence
	CandleInterval  time.Duration // candle snapshot cadence

	TradeLookback time.Duration  // how far back each reconciliation fetch reaches
	TradeLimit    int            // page limit for myTrades
	CandleWidth   model.Interval // bar width to fetch
	CandleBars    int            // how many latest bars per cycle

	Assets []string // balance allow-list

	Timeout time.Duration // per-request timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TradeInterval:   15 * time.Second,
		BalanceInterval: 20 * time.Second,
		CandleInterval:  5 * time.Minute,
		TradeLookback:   10 * time.Minute,
		TradeLimit:      500,
		CandleWidth:     model.Interval5m,
		CandleBars:      12,
		Timeout:         10 * time.Second,
	}
}

// TaskStats tracks one polling task.
type TaskStats struct {
	Runs                int64
	Failures            int64
	ConsecutiveFailures int64
	AuthFailures        int64
	LastSuccessMillis   int64
}

// Stats holds per-task counters.
type Stats struct {
	Trades   TaskStats
	Balances TaskStats
	Candles  TaskStats
}

// Scheduler runs the three polling tasks. Tasks share no lock-step: a
// slow reconciliation call never delays the balance or candle timers.
type Scheduler struct {
	cfg        Config
	client     *api.Client
	normalizer *dialect.Normalizer
	pipe       *pipeline.Pipeline
	logger     *slog.Logger

	assets map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// New creates a Scheduler.
func New(cfg Config, client *api.Client, n *dialect.Normalizer, p *pipeline.Pipeline, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	assets := make(map[string]struct{}, len(cfg.Assets))
	for _, a := range cfg.Assets {
		assets[a] = struct{}{}
	}

	return &Scheduler{
		cfg:        cfg,
		client:     client,
		normalizer: n,
		pipe:       p,
		logger:     logger,
		assets:     assets,
	}
}

// Start launches the three polling loops. Each runs once immediately,
// then on its interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(3)
	go s.loop(s.cfg.TradeInterval, s.pollTrades, &s.stats.Trades, "trades")
	go s.loop(s.cfg.BalanceInterval, s.pollBalances, &s.stats.Balances, "balances")
	go s.loop(s.cfg.CandleInterval, s.pollCandles, &s.stats.Candles, "candles")

	s.logger.Info("polling scheduler started",
		"symbol", s.cfg.Symbol,
		"trade_interval", s.cfg.TradeInterval,
		"balance_interval", s.cfg.BalanceInterval,
		"candle_interval", s.cfg.CandleInterval,
	)
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("polling scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of per-task counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// loop drives one task: run immediately, then on each tick. A failed
// run produces zero events for that cycle and never stops the loop.
func (s *Scheduler) loop(interval time.Duration, task func(context.Context) error, stats *TaskStats, name string) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runOnce(task, stats, name)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(task, stats, name)
		}
	}
}

func (s *Scheduler) runOnce(task func(context.Context) error, stats *TaskStats, name string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Timeout)
	defer cancel()

	s.mu.Lock()
	stats.Runs++
	s.mu.Unlock()

	err := task(ctx)
	if err == nil {
		s.mu.Lock()
		stats.ConsecutiveFailures = 0
		stats.LastSuccessMillis = time.Now().UnixMilli()
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	stats.Failures++
	stats.ConsecutiveFailures++
	consecutive := stats.ConsecutiveFailures
	if api.IsAuthError(err) {
		stats.AuthFailures++
	}
	s.mu.Unlock()

	switch {
	case api.IsAuthError(err):
		// Persistent auth failure is an operator problem, not a reason
		// to stop the other tasks.
		s.logger.Error("poll cycle rejected by exchange auth",
			"task", name,
			"consecutive", consecutive,
			"error", err,
		)
	case api.IsRateLimitError(err):
		s.logger.Warn("poll cycle throttled, skipping",
			"task", name,
			"error", err,
		)
	default:
		s.logger.Warn("poll cycle failed",
			"task", name,
			"error", err,
		)
	}
}

// pollTrades fetches recent own trades and pushes them through the
// normalize/dedup/sink path. Duplicates already delivered by the
// stream are filtered by the ledger.
func (s *Scheduler) pollTrades(ctx context.Context) error {
	startTime := time.Now().Add(-s.cfg.TradeLookback).UnixMilli()

	trades, err := s.client.GetMyTrades(ctx, s.cfg.Symbol, api.GetMyTradesOptions{
		StartTime: startTime,
		Limit:     s.cfg.TradeLimit,
	})
	if err != nil {
		return err
	}

	events := s.normalizer.NormalizeMyTrades(trades)
	forwarded := s.pipe.SubmitTrades(events)

	s.logger.Debug("trade reconciliation cycle",
		"fetched", len(trades),
		"forwarded", forwarded,
	)
	return nil
}

// pollBalances fetches account balances and emits one snapshot per
// allow-listed asset, unconditionally.
func (s *Scheduler) pollBalances(ctx context.Context) error {
	account, err := s.client.GetAccount(ctx)
	if err != nil {
		return err
	}

	tracked := make([]api.Balance, 0, len(s.assets))
	for _, b := range account.Balances {
		if _, ok := s.assets[b.Asset]; ok {
			tracked = append(tracked, b)
		}
	}

	events := s.normalizer.NormalizeBalances(tracked, time.Now())
	s.pipe.SubmitBalances(events)

	s.logger.Debug("balance snapshot cycle", "assets", len(events))
	return nil
}

// pollCandles fetches the latest bars and emits them; the sink applies
// last-write-wins per (symbol, interval, open time).
func (s *Scheduler) pollCandles(ctx context.Context) error {
	klines, err := s.client.GetKlines(ctx, s.cfg.Symbol, string(s.cfg.CandleWidth), s.cfg.CandleBars)
	if err != nil {
		return err
	}

	events := s.normalizer.NormalizeKlines(s.cfg.CandleWidth, klines)
	s.pipe.SubmitCandles(events)

	s.logger.Debug("candle snapshot cycle", "bars", len(events))
	return nil
}
