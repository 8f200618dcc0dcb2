package dialect

import (
	"encoding/json"
	"errors"
)

// ErrMalformed marks a payload that is missing a required field or
// fails numeric parsing. Malformed payloads are dropped; they never
// abort the receive loop.
var ErrMalformed = errors.New("malformed message")

// Dialect identifies a stream message layout.
type Dialect string

const (
	// DialectAggDeals is the public aggregated-deals layout: an array
	// of trades under "data" with a literal side flag.
	DialectAggDeals Dialect = "aggdeals"

	// DialectAggDealsInverted is the same layout on feed versions where
	// the side flag polarity is reversed (the flag that reads "buy"
	// marks a taker sell).
	DialectAggDealsInverted Dialect = "aggdeals_inverted"

	// DialectRawStream is the single-object trade-stream layout with
	// short field codes (p, q, T, m).
	DialectRawStream Dialect = "rawstream"
)

// Valid reports whether d names a supported dialect.
func (d Dialect) Valid() bool {
	switch d {
	case DialectAggDeals, DialectAggDealsInverted, DialectRawStream:
		return true
	}
	return false
}

// aggDealsWire is the aggregated-deals envelope.
type aggDealsWire struct {
	Channel string    `json:"c"`
	Data    []aggDeal `json:"data"`
	Ts      int64     `json:"t"`
}

// aggDeal is a single trade inside an aggregated-deals message. The
// side flag arrives as either a string ("BUY"/"SELL") or a numeric
// code (1/2), so it is kept raw until mapped.
type aggDeal struct {
	Price  string          `json:"p"`
	Volume string          `json:"v"`
	Side   json.RawMessage `json:"S"`
	Ts     int64           `json:"t"`
}

// rawStreamWire is the short-code trade-stream layout. Quantity may
// arrive under "q" or "v" depending on feed version.
type rawStreamWire struct {
	EventType    string `json:"e"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	QtyAlt       string `json:"v"`
	TradeTime    int64  `json:"T"`
	EventTime    int64  `json:"E"`
	IsBuyerMaker bool   `json:"m"`
}

// Stats counts normalizer activity.
type Stats struct {
	Messages  int64 // stream payloads inspected
	Events    int64 // canonical events produced
	Malformed int64 // payloads or elements dropped
}
