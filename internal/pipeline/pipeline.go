// Package pipeline is the shared hand-off path for both ingestion
// paths: canonical events from the normalizer pass the dedup ledger
// and are forwarded to the sink writer.
package pipeline

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/olundqvist/mexc-ingest/internal/dialect"
	"github.com/olundqvist/mexc-ingest/internal/ledger"
	"github.com/olundqvist/mexc-ingest/internal/model"
)

// EventWriter is the sink surface the pipeline forwards to.
type EventWriter interface {
	WriteTrade(ev model.TradeEvent)
	WriteCandle(ev model.CandleEvent)
	WriteBalance(ev model.BalanceEvent)
}

// Stats counts pipeline activity.
type Stats struct {
	TradesForwarded  int64
	TradesDuplicate  int64
	CandlesForwarded int64
	BalancesEmitted  int64
	Malformed        int64
}

// Pipeline routes canonical events through the dedup ledger to the
// sink. Trades are delivered at most once per (symbol, tradeId);
// candles and balances pass through unconditionally.
type Pipeline struct {
	normalizer *dialect.Normalizer
	ledger     *ledger.Ledger
	writer     EventWriter
	logger     *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Pipeline.
func New(n *dialect.Normalizer, l *ledger.Ledger, w EventWriter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		normalizer: n,
		ledger:     l,
		writer:     w,
		logger:     logger,
	}
}

// Stats returns a snapshot of pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// HandlePayload implements the stream manager's handler: normalize a
// raw stream payload and forward the surviving trades. A malformed
// payload is dropped and the loop continues.
func (p *Pipeline) HandlePayload(data []byte, receivedAt time.Time) {
	events, err := p.normalizer.NormalizeStream(data, receivedAt)
	if err != nil {
		if errors.Is(err, dialect.ErrMalformed) {
			p.logger.Warn("dropping malformed stream payload", "error", err)
			p.mu.Lock()
			p.stats.Malformed++
			p.mu.Unlock()
			return
		}
		p.logger.Error("normalize stream payload", "error", err)
		return
	}

	p.SubmitTrades(events)
}

// SubmitTrades dedup-checks trades and forwards survivors to the
// sink. Returns how many were forwarded.
func (p *Pipeline) SubmitTrades(events []model.TradeEvent) int {
	forwarded := 0
	for _, ev := range events {
		if !p.ledger.MarkAndCheck(ev.Symbol, ev.TradeID) {
			p.mu.Lock()
			p.stats.TradesDuplicate++
			p.mu.Unlock()
			continue
		}
		p.writer.WriteTrade(ev)
		forwarded++
	}

	p.mu.Lock()
	p.stats.TradesForwarded += int64(forwarded)
	p.mu.Unlock()

	return forwarded
}

// SubmitCandles forwards candles unconditionally; the sink applies
// last-write-wins per bar.
func (p *Pipeline) SubmitCandles(events []model.CandleEvent) {
	for _, ev := range events {
		p.writer.WriteCandle(ev)
	}

	p.mu.Lock()
	p.stats.CandlesForwarded += int64(len(events))
	p.mu.Unlock()
}

// SubmitBalances forwards balance snapshots unconditionally.
func (p *Pipeline) SubmitBalances(events []model.BalanceEvent) {
	for _, ev := range events {
		p.writer.WriteBalance(ev)
	}

	p.mu.Lock()
	p.stats.BalancesEmitted += int64(len(events))
	p.mu.Unlock()
}
