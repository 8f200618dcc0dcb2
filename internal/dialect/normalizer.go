package dialect

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olundqvist/mexc-ingest/internal/api"
	"github.com/olundqvist/mexc-ingest/internal/model"
)

// Per-dialect side-flag mappings. Keys are the lowercased flag tokens
// as they appear on the wire. Polarity is configured here, never
// inferred at runtime.
var sideMaps = map[Dialect]map[string]model.Side{
	DialectAggDeals: {
		"buy": model.SideBuy, "sell": model.SideSell,
		"1": model.SideBuy, "2": model.SideSell,
	},
	DialectAggDealsInverted: {
		"buy": model.SideSell, "sell": model.SideBuy,
		"1": model.SideSell, "2": model.SideBuy,
	},
}

// Normalizer converts raw provider payloads into canonical events.
type Normalizer struct {
	dialect Dialect
	symbol  string
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Normalizer for the configured stream dialect and symbol.
func New(d Dialect, symbol string, logger *slog.Logger) (*Normalizer, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("unknown dialect %q", d)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		dialect: d,
		symbol:  symbol,
		logger:  logger,
	}, nil
}

// Stats returns a snapshot of normalizer counters.
func (n *Normalizer) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// NormalizeStream converts one stream payload into zero or more trade
// events. Payloads missing required fields are rejected with
// ErrMalformed; individual bad elements inside an aggregated message
// are dropped and counted without failing the rest of the batch.
// receivedAt supplies the event time when the dialect omits one.
func (n *Normalizer) NormalizeStream(data []byte, receivedAt time.Time) ([]model.TradeEvent, error) {
	n.mu.Lock()
	n.stats.Messages++
	n.mu.Unlock()

	var (
		events []model.TradeEvent
		err    error
	)

	switch n.dialect {
	case DialectAggDeals, DialectAggDealsInverted:
		events, err = n.normalizeAggDeals(data, receivedAt)
	case DialectRawStream:
		events, err = n.normalizeRawStream(data, receivedAt)
	}

	if err != nil {
		n.countMalformed(1)
		return nil, err
	}

	n.mu.Lock()
	n.stats.Events += int64(len(events))
	n.mu.Unlock()

	return events, nil
}

// normalizeAggDeals handles the array-under-"data" layout.
func (n *Normalizer) normalizeAggDeals(data []byte, receivedAt time.Time) ([]model.TradeEvent, error) {
	var wire aggDealsWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if wire.Data == nil {
		return nil, fmt.Errorf("%w: missing data array", ErrMalformed)
	}

	sideMap := sideMaps[n.dialect]
	events := make([]model.TradeEvent, 0, len(wire.Data))

	for _, d := range wire.Data {
		side, ok := sideMap[flagToken(d.Side)]
		if !ok {
			n.dropElement("unmapped side flag", string(d.Side))
			continue
		}

		price, err := parseDecimal(d.Price)
		if err != nil {
			n.dropElement("bad price", d.Price)
			continue
		}
		qty, err := parseDecimal(d.Volume)
		if err != nil {
			n.dropElement("bad volume", d.Volume)
			continue
		}

		ts := toMillis(d.Ts)
		if ts == 0 {
			ts = toMillis(wire.Ts)
		}
		if ts == 0 {
			ts = receivedAt.UnixMilli()
		}

		ev := model.TradeEvent{
			Symbol:          n.symbol,
			Side:            side,
			Price:           price,
			Quantity:        qty,
			QuoteQuantity:   price * qty,
			EventTimeMillis: ts,
			Source:          model.SourceStream,
		}
		// Public deals carry no trade id; derive a stable one so the
		// ledger can still key on (symbol, tradeId).
		ev.TradeID = syntheticID(ev)
		events = append(events, ev)
	}

	return events, nil
}

// normalizeRawStream handles single-object short-code messages.
func (n *Normalizer) normalizeRawStream(data []byte, receivedAt time.Time) ([]model.TradeEvent, error) {
	var wire rawStreamWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	price, err := parseDecimal(wire.Price)
	if err != nil {
		return nil, fmt.Errorf("%w: bad price %q", ErrMalformed, wire.Price)
	}

	rawQty := wire.Qty
	if rawQty == "" {
		rawQty = wire.QtyAlt
	}
	qty, err := parseDecimal(rawQty)
	if err != nil {
		return nil, fmt.Errorf("%w: bad quantity %q", ErrMalformed, rawQty)
	}

	symbol := wire.Symbol
	if symbol == "" {
		symbol = n.symbol
	}

	ts := toMillis(wire.TradeTime)
	if ts == 0 {
		ts = toMillis(wire.EventTime)
	}
	if ts == 0 {
		ts = receivedAt.UnixMilli()
	}

	// m marks the buyer as maker: the taker sold.
	side := model.SideBuy
	if wire.IsBuyerMaker {
		side = model.SideSell
	}

	ev := model.TradeEvent{
		Symbol:          symbol,
		Side:            side,
		Price:           price,
		Quantity:        qty,
		QuoteQuantity:   price * qty,
		EventTimeMillis: ts,
		Source:          model.SourceStream,
	}
	if wire.TradeID != 0 {
		ev.TradeID = strconv.FormatInt(wire.TradeID, 10)
	} else {
		ev.TradeID = syntheticID(ev)
	}

	return []model.TradeEvent{ev}, nil
}

// NormalizeMyTrades converts the REST myTrades dialect (long-form
// field names) into canonical trade events. Elements that fail numeric
// parsing are dropped and counted.
func (n *Normalizer) NormalizeMyTrades(trades []api.MyTrade) []model.TradeEvent {
	events := make([]model.TradeEvent, 0, len(trades))

	for _, t := range trades {
		if t.ID == "" {
			n.dropElement("missing trade id", t.Symbol)
			continue
		}
		price, err := parseDecimal(t.Price)
		if err != nil {
			n.dropElement("bad price", t.Price)
			continue
		}
		qty, err := parseDecimal(t.Qty)
		if err != nil {
			n.dropElement("bad qty", t.Qty)
			continue
		}

		quoteQty := price * qty
		if t.QuoteQty != "" {
			if q, err := parseDecimal(t.QuoteQty); err == nil {
				quoteQty = q
			}
		}

		var commission float64
		if t.Commission != "" {
			commission, _ = parseDecimal(t.Commission)
		}

		side := model.SideSell
		if t.IsBuyer {
			side = model.SideBuy
		}

		symbol := t.Symbol
		if symbol == "" {
			symbol = n.symbol
		}

		events = append(events, model.TradeEvent{
			Symbol:          symbol,
			Side:            side,
			Price:           price,
			Quantity:        qty,
			QuoteQuantity:   quoteQty,
			TradeID:         t.ID,
			OrderID:         t.OrderID,
			Commission:      commission,
			CommissionAsset: t.CommissionAsset,
			EventTimeMillis: toMillis(t.Time),
			Source:          model.SourcePoll,
		})
	}

	n.mu.Lock()
	n.stats.Events += int64(len(events))
	n.mu.Unlock()

	return events
}

// NormalizeKlines converts REST kline bars into candle events.
func (n *Normalizer) NormalizeKlines(interval model.Interval, klines []api.Kline) []model.CandleEvent {
	events := make([]model.CandleEvent, 0, len(klines))

	for _, k := range klines {
		open, err1 := parseDecimal(k.Open)
		high, err2 := parseDecimal(k.High)
		low, err3 := parseDecimal(k.Low)
		closep, err4 := parseDecimal(k.Close)
		volume, err5 := parseDecimal(k.Volume)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || k.OpenTime == 0 {
			n.dropElement("bad kline", strconv.FormatInt(k.OpenTime, 10))
			continue
		}

		events = append(events, model.CandleEvent{
			Symbol:         n.symbol,
			Interval:       interval,
			Open:           open,
			High:           high,
			Low:            low,
			Close:          closep,
			Volume:         volume,
			OpenTimeMillis: toMillis(k.OpenTime),
		})
	}

	n.mu.Lock()
	n.stats.Events += int64(len(events))
	n.mu.Unlock()

	return events
}

// NormalizeBalances converts account balances into snapshot events.
func (n *Normalizer) NormalizeBalances(balances []api.Balance, observedAt time.Time) []model.BalanceEvent {
	events := make([]model.BalanceEvent, 0, len(balances))

	for _, b := range balances {
		if b.Asset == "" {
			n.dropElement("missing asset", "")
			continue
		}
		free, err := parseDecimal(b.Free)
		if err != nil {
			n.dropElement("bad free balance", b.Free)
			continue
		}
		var locked float64
		if b.Locked != "" {
			locked, err = parseDecimal(b.Locked)
			if err != nil {
				n.dropElement("bad locked balance", b.Locked)
				continue
			}
		}

		events = append(events, model.BalanceEvent{
			Asset:            b.Asset,
			Free:             free,
			Locked:           locked,
			ObservedAtMillis: observedAt.UnixMilli(),
		})
	}

	n.mu.Lock()
	n.stats.Events += int64(len(events))
	n.mu.Unlock()

	return events
}

func (n *Normalizer) dropElement(reason, value string) {
	n.logger.Warn("dropping malformed element", "reason", reason, "value", value)
	n.countMalformed(1)
}

func (n *Normalizer) countMalformed(delta int64) {
	n.mu.Lock()
	n.stats.Malformed += delta
	n.mu.Unlock()
}

// flagToken lowercases a raw side flag, stripping JSON string quotes.
func flagToken(raw json.RawMessage) string {
	s := strings.Trim(string(raw), `"`)
	return strings.ToLower(strings.TrimSpace(s))
}

// parseDecimal parses a decimal string, rejecting empty input.
func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty decimal")
	}
	return strconv.ParseFloat(s, 64)
}

// toMillis normalizes an exchange timestamp to milliseconds since
// epoch. Seconds and microseconds granularity are both observed in the
// wild; zero passes through for the caller to substitute a fallback.
func toMillis(ts int64) int64 {
	switch {
	case ts == 0:
		return 0
	case ts < 1_000_000_000_000: // seconds
		return ts * 1000
	case ts >= 1_000_000_000_000_000: // microseconds
		return ts / 1000
	default:
		return ts
	}
}

// syntheticID derives a stable trade id for feeds that do not supply
// one, hashing the fields that identify the trade.
func syntheticID(ev model.TradeEvent) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%d|%g|%g|%s", ev.Symbol, ev.EventTimeMillis, ev.Price, ev.Quantity, ev.Side)
	return hex.EncodeToString(h.Sum(nil))
}
