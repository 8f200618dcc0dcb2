package model

// Side is the canonical trade direction. A trade is a Buy when the
// taker bought the base asset, regardless of how the source dialect
// encoded its side flag.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Source identifies which ingestion path produced an event.
type Source string

const (
	SourceStream Source = "stream"
	SourcePoll   Source = "poll"
)

// Interval is a supported candlestick bar width, in MEXC notation.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval60m Interval = "60m"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// Valid reports whether the interval is one the exchange accepts.
func (i Interval) Valid() bool {
	switch i {
	case Interval1m, Interval5m, Interval15m, Interval30m, Interval60m, Interval4h, Interval1d:
		return true
	}
	return false
}

// TradeEvent is an executed trade. TradeID uniquely identifies the
// trade within a (symbol, source) scope; EventTimeMillis is the
// exchange timestamp and is NOT guaranteed non-decreasing across a
// stream (late delivery happens).
type TradeEvent struct {
	Symbol          string
	Side            Side
	Price           float64
	Quantity        float64
	QuoteQuantity   float64 // Price * Quantity unless the exchange reported its own
	TradeID         string
	OrderID         string // optional, own trades only
	Commission      float64
	CommissionAsset string // optional
	EventTimeMillis int64
	Source          Source
}

// CandleEvent is one candlestick bar. At most one bar exists per
// (symbol, interval, open time); later observations of the same bar
// overwrite earlier ones at the sink.
type CandleEvent struct {
	Symbol         string
	Interval       Interval
	Open           float64
	High           float64
	Low            float64
	Close          float64
	Volume         float64
	OpenTimeMillis int64
}

// BalanceEvent is a wallet balance snapshot for a single asset. It is
// never deduplicated; every poll cycle emits a fresh observation.
type BalanceEvent struct {
	Asset            string
	Free             float64
	Locked           float64
	ObservedAtMillis int64
}
