package dialect

import (
	"testing"
	"time"

	"github.com/olundqvist/mexc-ingest/internal/api"
	"github.com/olundqvist/mexc-ingest/internal/model"
)

func newTestNormalizer(t *testing.T, d Dialect) *Normalizer {
	t.Helper()
	n, err := New(d, "BTCUSDT", nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return n
}

func TestNewRejectsUnknownDialect(t *testing.T) {
	if _, err := New("binary", "BTCUSDT", nil); err == nil {
		t.Fatal("New should reject an unknown dialect")
	}
}

func TestNormalizeAggDeals(t *testing.T) {
	n := newTestNormalizer(t, DialectAggDeals)

	payload := []byte(`{"c":"spot@public.deals.v3.api@BTCUSDT","data":[{"p":"45000.5","v":"0.25","S":"BUY","t":1700000000000},{"p":"45001.0","v":"0.1","S":2,"t":1700000000500}],"t":1700000001000}`)

	events, err := n.NormalizeStream(payload, time.Now())
	if err != nil {
		t.Fatalf("NormalizeStream failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	first := events[0]
	if first.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT", first.Symbol)
	}
	if first.Side != model.SideBuy {
		t.Errorf("Side = %q, want buy", first.Side)
	}
	if first.Price != 45000.5 {
		t.Errorf("Price = %v, want 45000.5", first.Price)
	}
	if first.Quantity != 0.25 {
		t.Errorf("Quantity = %v, want 0.25", first.Quantity)
	}
	if first.EventTimeMillis != 1700000000000 {
		t.Errorf("EventTimeMillis = %d, want 1700000000000", first.EventTimeMillis)
	}
	if first.Source != model.SourceStream {
		t.Errorf("Source = %q, want stream", first.Source)
	}
	if first.TradeID == "" {
		t.Error("TradeID should be synthesized for public deals")
	}

	// Numeric side code 2 maps to sell under the standard dialect.
	if events[1].Side != model.SideSell {
		t.Errorf("numeric side 2 = %q, want sell", events[1].Side)
	}
}

func TestNormalizeAggDealsInvertedFlipsSide(t *testing.T) {
	n := newTestNormalizer(t, DialectAggDealsInverted)

	payload := []byte(`{"data":[{"p":"1.23","v":"10","S":"BUY","t":1700000000000}]}`)

	events, err := n.NormalizeStream(payload, time.Now())
	if err != nil {
		t.Fatalf("NormalizeStream failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Price != 1.23 {
		t.Errorf("Price = %v, want 1.23", events[0].Price)
	}
	if events[0].Quantity != 10 {
		t.Errorf("Quantity = %v, want 10", events[0].Quantity)
	}
	// Inverted dialect: the flag reading BUY marks a taker sell.
	if events[0].Side != model.SideSell {
		t.Errorf("Side = %q, want sell", events[0].Side)
	}
}

func TestNormalizeAggDealsMalformed(t *testing.T) {
	n := newTestNormalizer(t, DialectAggDeals)

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{{{`},
		{"missing data array", `{"c":"spot@public.deals.v3.api@BTCUSDT","t":1700000000000}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.NormalizeStream([]byte(tt.payload), time.Now())
			if err == nil {
				t.Fatal("expected error for malformed payload")
			}
		})
	}

	if n.Stats().Malformed != 2 {
		t.Errorf("Malformed = %d, want 2", n.Stats().Malformed)
	}
}

func TestNormalizeAggDealsDropsBadElements(t *testing.T) {
	n := newTestNormalizer(t, DialectAggDeals)

	// Second element has no price, third an unmapped side flag; both
	// drop without failing the batch.
	payload := []byte(`{"data":[{"p":"100","v":"1","S":"SELL","t":1700000000000},{"v":"2","S":"BUY","t":1700000000000},{"p":"101","v":"3","S":"HOLD","t":1700000000000}]}`)

	events, err := n.NormalizeStream(payload, time.Now())
	if err != nil {
		t.Fatalf("NormalizeStream failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if n.Stats().Malformed != 2 {
		t.Errorf("Malformed = %d, want 2", n.Stats().Malformed)
	}
}

func TestNormalizeAggDealsTimestampFallback(t *testing.T) {
	n := newTestNormalizer(t, DialectAggDeals)
	receivedAt := time.UnixMilli(1700000009999)

	// No per-deal timestamp: envelope timestamp applies.
	events, err := n.NormalizeStream(
		[]byte(`{"data":[{"p":"100","v":"1","S":"BUY"}],"t":1700000005000}`), receivedAt)
	if err != nil {
		t.Fatalf("NormalizeStream failed: %v", err)
	}
	if events[0].EventTimeMillis != 1700000005000 {
		t.Errorf("EventTimeMillis = %d, want envelope 1700000005000", events[0].EventTimeMillis)
	}

	// No timestamp anywhere: receive time applies.
	events, err = n.NormalizeStream(
		[]byte(`{"data":[{"p":"100","v":"1","S":"BUY"}]}`), receivedAt)
	if err != nil {
		t.Fatalf("NormalizeStream failed: %v", err)
	}
	if events[0].EventTimeMillis != 1700000009999 {
		t.Errorf("EventTimeMillis = %d, want receivedAt 1700000009999", events[0].EventTimeMillis)
	}
}

func TestNormalizeRawStream(t *testing.T) {
	n := newTestNormalizer(t, DialectRawStream)

	payload := []byte(`{"e":"trade","s":"ETHUSDT","t":12345,"p":"2500.75","q":"1.5","T":1700000000000,"m":false}`)

	events, err := n.NormalizeStream(payload, time.Now())
	if err != nil {
		t.Fatalf("NormalizeStream failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	ev := events[0]
	if ev.Symbol != "ETHUSDT" {
		t.Errorf("Symbol = %q, want ETHUSDT (from payload)", ev.Symbol)
	}
	if ev.TradeID != "12345" {
		t.Errorf("TradeID = %q, want 12345", ev.TradeID)
	}
	// Buyer was not the maker: the taker bought.
	if ev.Side != model.SideBuy {
		t.Errorf("Side = %q, want buy", ev.Side)
	}
	if ev.QuoteQuantity != 2500.75*1.5 {
		t.Errorf("QuoteQuantity = %v, want %v", ev.QuoteQuantity, 2500.75*1.5)
	}
}

func TestNormalizeRawStreamBuyerMakerMeansSell(t *testing.T) {
	n := newTestNormalizer(t, DialectRawStream)

	payload := []byte(`{"p":"100","q":"1","T":1700000000000,"m":true}`)

	events, err := n.NormalizeStream(payload, time.Now())
	if err != nil {
		t.Fatalf("NormalizeStream failed: %v", err)
	}
	if events[0].Side != model.SideSell {
		t.Errorf("Side = %q, want sell when buyer is maker", events[0].Side)
	}
	// No symbol on the wire: configured symbol applies.
	if events[0].Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want configured BTCUSDT", events[0].Symbol)
	}
	// No trade id on the wire: a synthetic one is derived.
	if events[0].TradeID == "" {
		t.Error("TradeID should be synthesized when absent")
	}
}

func TestNormalizeRawStreamQuantityAlternateField(t *testing.T) {
	n := newTestNormalizer(t, DialectRawStream)

	events, err := n.NormalizeStream(
		[]byte(`{"p":"100","v":"2.5","T":1700000000000,"m":false}`), time.Now())
	if err != nil {
		t.Fatalf("NormalizeStream failed: %v", err)
	}
	if events[0].Quantity != 2.5 {
		t.Errorf("Quantity = %v, want 2.5 from the v field", events[0].Quantity)
	}
}

func TestSyntheticIDStable(t *testing.T) {
	n := newTestNormalizer(t, DialectAggDeals)
	payload := []byte(`{"data":[{"p":"100","v":"1","S":"BUY","t":1700000000000}]}`)

	a, err := n.NormalizeStream(payload, time.Now())
	if err != nil {
		t.Fatalf("NormalizeStream failed: %v", err)
	}
	b, err := n.NormalizeStream(payload, time.Now())
	if err != nil {
		t.Fatalf("NormalizeStream failed: %v", err)
	}

	if a[0].TradeID != b[0].TradeID {
		t.Errorf("synthetic id not stable: %q vs %q", a[0].TradeID, b[0].TradeID)
	}
}

func TestNormalizeMyTrades(t *testing.T) {
	n := newTestNormalizer(t, DialectAggDeals)

	trades := []api.MyTrade{
		{
			Symbol: "BTCUSDT", ID: "555", OrderID: "order-1",
			Price: "45000", Qty: "0.5", QuoteQty: "22500",
			Commission: "0.1", CommissionAsset: "USDT",
			Time: 1700000000000, IsBuyer: true,
		},
		{
			Symbol: "BTCUSDT", ID: "556",
			Price: "45100", Qty: "0.2",
			Time: 1700000001000, IsBuyer: false,
		},
		{
			// No id: dropped.
			Symbol: "BTCUSDT", Price: "45200", Qty: "0.1", Time: 1700000002000,
		},
	}

	events := n.NormalizeMyTrades(trades)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	first := events[0]
	if first.TradeID != "555" {
		t.Errorf("TradeID = %q, want 555", first.TradeID)
	}
	if first.Side != model.SideBuy {
		t.Errorf("Side = %q, want buy for isBuyer", first.Side)
	}
	if first.QuoteQuantity != 22500 {
		t.Errorf("QuoteQuantity = %v, want reported 22500", first.QuoteQuantity)
	}
	if first.Commission != 0.1 || first.CommissionAsset != "USDT" {
		t.Errorf("commission = %v %q, want 0.1 USDT", first.Commission, first.CommissionAsset)
	}
	if first.Source != model.SourcePoll {
		t.Errorf("Source = %q, want poll", first.Source)
	}

	if events[1].Side != model.SideSell {
		t.Errorf("Side = %q, want sell for !isBuyer", events[1].Side)
	}
	// No reported quote quantity: derived from price * qty.
	if events[1].QuoteQuantity != 45100*0.2 {
		t.Errorf("QuoteQuantity = %v, want derived %v", events[1].QuoteQuantity, 45100*0.2)
	}
}

func TestNormalizeKlines(t *testing.T) {
	n := newTestNormalizer(t, DialectAggDeals)

	klines := []api.Kline{
		{OpenTime: 1700000000000, Open: "100", High: "110", Low: "95", Close: "105", Volume: "12.5"},
		{OpenTime: 0, Open: "100", High: "110", Low: "95", Close: "105", Volume: "1"}, // dropped
	}

	events := n.NormalizeKlines(model.Interval5m, klines)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	ev := events[0]
	if ev.Symbol != "BTCUSDT" || ev.Interval != model.Interval5m {
		t.Errorf("identity = %q/%q, want BTCUSDT/5m", ev.Symbol, ev.Interval)
	}
	if ev.Open != 100 || ev.High != 110 || ev.Low != 95 || ev.Close != 105 || ev.Volume != 12.5 {
		t.Errorf("ohlcv = %v/%v/%v/%v/%v", ev.Open, ev.High, ev.Low, ev.Close, ev.Volume)
	}
	if ev.OpenTimeMillis != 1700000000000 {
		t.Errorf("OpenTimeMillis = %d, want 1700000000000", ev.OpenTimeMillis)
	}
}

func TestNormalizeBalances(t *testing.T) {
	n := newTestNormalizer(t, DialectAggDeals)
	observedAt := time.UnixMilli(1700000000000)

	balances := []api.Balance{
		{Asset: "USDT", Free: "1000.5", Locked: "250"},
		{Asset: "BTC", Free: "0.75"},
		{Asset: "", Free: "1"}, // dropped
	}

	events := n.NormalizeBalances(balances, observedAt)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Asset != "USDT" || events[0].Free != 1000.5 || events[0].Locked != 250 {
		t.Errorf("USDT event = %+v", events[0])
	}
	if events[1].Locked != 0 {
		t.Errorf("missing locked should parse as 0, got %v", events[1].Locked)
	}
	if events[0].ObservedAtMillis != 1700000000000 {
		t.Errorf("ObservedAtMillis = %d, want 1700000000000", events[0].ObservedAtMillis)
	}
}

func TestToMillis(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want int64
	}{
		{"zero passes through", 0, 0},
		{"seconds", 1_700_000_000, 1_700_000_000_000},
		{"milliseconds", 1_700_000_000_000, 1_700_000_000_000},
		{"microseconds", 1_700_000_000_000_000, 1_700_000_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toMillis(tt.in); got != tt.want {
				t.Errorf("toMillis(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestStatsCounters(t *testing.T) {
	n := newTestNormalizer(t, DialectAggDeals)

	n.NormalizeStream([]byte(`{"data":[{"p":"100","v":"1","S":"BUY","t":1700000000000}]}`), time.Now())
	n.NormalizeStream([]byte(`not json`), time.Now())

	stats := n.Stats()
	if stats.Messages != 2 {
		t.Errorf("Messages = %d, want 2", stats.Messages)
	}
	if stats.Events != 1 {
		t.Errorf("Events = %d, want 1", stats.Events)
	}
	if stats.Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", stats.Malformed)
	}
}
