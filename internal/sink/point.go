package sink

import (
	"github.com/olundqvist/mexc-ingest/internal/model"
)

// Measurement names under the configured bucket.
const (
	MeasurementTrades   = "trades"
	MeasurementCandles  = "candles"
	MeasurementBalances = "balances"
)

// Point is the sink's wire unit: a measurement name, tag set, field
// set, and millisecond timestamp.
type Point struct {
	Measurement     string
	Tags            map[string]string
	Fields          map[string]any
	TimestampMillis int64
}

// TradePoint converts a canonical trade event to its point form.
func TradePoint(ev model.TradeEvent) Point {
	fields := map[string]any{
		"price":          ev.Price,
		"quantity":       ev.Quantity,
		"quote_quantity": ev.QuoteQuantity,
		"trade_id":       ev.TradeID,
	}
	if ev.OrderID != "" {
		fields["order_id"] = ev.OrderID
	}
	if ev.Commission != 0 {
		fields["commission"] = ev.Commission
		fields["commission_asset"] = ev.CommissionAsset
	}

	return Point{
		Measurement: MeasurementTrades,
		Tags: map[string]string{
			"symbol": ev.Symbol,
			"side":   string(ev.Side),
			"source": string(ev.Source),
		},
		Fields:          fields,
		TimestampMillis: ev.EventTimeMillis,
	}
}

// CandlePoint converts a candle event to its point form.
func CandlePoint(ev model.CandleEvent) Point {
	return Point{
		Measurement: MeasurementCandles,
		Tags: map[string]string{
			"symbol":   ev.Symbol,
			"interval": string(ev.Interval),
		},
		Fields: map[string]any{
			"open":   ev.Open,
			"high":   ev.High,
			"low":    ev.Low,
			"close":  ev.Close,
			"volume": ev.Volume,
		},
		TimestampMillis: ev.OpenTimeMillis,
	}
}

// BalancePoint converts a balance snapshot to its point form.
func BalancePoint(ev model.BalanceEvent) Point {
	return Point{
		Measurement: MeasurementBalances,
		Tags: map[string]string{
			"asset": ev.Asset,
		},
		Fields: map[string]any{
			"free":   ev.Free,
			"locked": ev.Locked,
		},
		TimestampMillis: ev.ObservedAtMillis,
	}
}

func (p Point) tag(name string) string {
	return p.Tags[name]
}

func (p Point) floatField(name string) float64 {
	v, _ := p.Fields[name].(float64)
	return v
}

func (p Point) stringField(name string) string {
	v, _ := p.Fields[name].(string)
	return v
}
