package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/olundqvist/mexc-ingest/internal/api"
	"github.com/olundqvist/mexc-ingest/internal/dialect"
	"github.com/olundqvist/mexc-ingest/internal/ledger"
	"github.com/olundqvist/mexc-ingest/internal/model"
	"github.com/olundqvist/mexc-ingest/internal/pipeline"
	"github.com/olundqvist/mexc-ingest/internal/sign"
)

// mockWriter records events reaching the sink side.
type mockWriter struct {
	mu       sync.Mutex
	trades   []model.TradeEvent
	candles  []model.CandleEvent
	balances []model.BalanceEvent
}

func (m *mockWriter) WriteTrade(ev model.TradeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, ev)
}

func (m *mockWriter) WriteCandle(ev model.CandleEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles = append(m.candles, ev)
}

func (m *mockWriter) WriteBalance(ev model.BalanceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = append(m.balances, ev)
}

func (m *mockWriter) counts() (trades, candles, balances int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trades), len(m.candles), len(m.balances)
}

// fixture wires a scheduler against an httptest exchange.
type fixture struct {
	scheduler *Scheduler
	pipe      *pipeline.Pipeline
	writer    *mockWriter
}

func newFixture(t *testing.T, serverURL string, cfg Config) *fixture {
	t.Helper()

	creds, err := sign.NewCredentials("test-key", "test-secret")
	if err != nil {
		t.Fatalf("NewCredentials failed: %v", err)
	}
	client := api.NewClient(serverURL, creds, api.WithRetries(0, time.Millisecond))

	n, err := dialect.New(dialect.DialectAggDeals, "BTCUSDT", nil)
	if err != nil {
		t.Fatalf("dialect.New failed: %v", err)
	}

	writer := &mockWriter{}
	pipe := pipeline.New(n, ledger.New(ledger.DefaultConfig(), nil), writer, nil)

	return &fixture{
		scheduler: New(cfg, client, n, pipe, nil),
		pipe:      pipe,
		writer:    writer,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Symbol = "BTCUSDT"
	// Long intervals: tests rely on the immediate first run.
	cfg.TradeInterval = time.Hour
	cfg.BalanceInterval = time.Hour
	cfg.CandleInterval = time.Hour
	cfg.Timeout = 2 * time.Second
	cfg.Assets = []string{"USDT"}
	return cfg
}

func runOnce(t *testing.T, f *fixture) {
	t.Helper()

	before := f.scheduler.Stats()
	start := time.Now().UnixMilli() - 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait for all three first runs of this Start to complete.
	settled := func(cur, prev TaskStats) bool {
		return cur.Failures > prev.Failures || cur.LastSuccessMillis >= start
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := f.scheduler.Stats()
		if settled(s.Trades, before.Trades) &&
			settled(s.Balances, before.Balances) &&
			settled(s.Candles, before.Candles) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := f.scheduler.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func exchangeHandler(t *testing.T, trades []api.MyTrade, balances []api.Balance, klines string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/myTrades":
			if r.Header.Get("X-MEXC-APIKEY") == "" {
				t.Error("myTrades must be signed")
			}
			if r.URL.Query().Get("startTime") == "" {
				t.Error("trade reconciliation must send a lookback startTime")
			}
			json.NewEncoder(w).Encode(trades)
		case "/api/v3/account":
			json.NewEncoder(w).Encode(api.AccountResponse{Balances: balances})
		case "/api/v3/klines":
			w.Write([]byte(klines))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestScheduler_FirstCycleRunsImmediately(t *testing.T) {
	server := httptest.NewServer(exchangeHandler(t,
		[]api.MyTrade{
			{Symbol: "BTCUSDT", ID: "100", Price: "45000", Qty: "0.5", Time: 1700000000000, IsBuyer: true},
		},
		[]api.Balance{
			{Asset: "USDT", Free: "1000", Locked: "0"},
			{Asset: "DOGE", Free: "99999", Locked: "0"}, // not allow-listed
		},
		`[[1700000000000,"100","110","95","105","12.5",1700000300000,"1300"]]`,
	))
	defer server.Close()

	f := newFixture(t, server.URL, testConfig())
	runOnce(t, f)

	trades, candles, balances := f.writer.counts()
	if trades != 1 {
		t.Errorf("trades = %d, want 1", trades)
	}
	if candles != 1 {
		t.Errorf("candles = %d, want 1", candles)
	}
	// Only the allow-listed asset is tracked.
	if balances != 1 {
		t.Errorf("balances = %d, want 1", balances)
	}

	f.writer.mu.Lock()
	defer f.writer.mu.Unlock()
	if f.writer.trades[0].Source != model.SourcePoll {
		t.Errorf("Source = %q, want poll", f.writer.trades[0].Source)
	}
	if f.writer.balances[0].Asset != "USDT" {
		t.Errorf("balance asset = %q, want USDT", f.writer.balances[0].Asset)
	}
}

func TestScheduler_PolledDuplicateNotRewritten(t *testing.T) {
	server := httptest.NewServer(exchangeHandler(t,
		[]api.MyTrade{
			{Symbol: "BTCUSDT", ID: "555", Price: "45000", Qty: "0.5", Time: 1700000000000, IsBuyer: true},
		},
		nil,
		`[]`,
	))
	defer server.Close()

	f := newFixture(t, server.URL, testConfig())

	// The stream already delivered trade 555.
	f.pipe.SubmitTrades([]model.TradeEvent{{
		Symbol: "BTCUSDT", TradeID: "555", Side: model.SideBuy,
		Price: 45000, Quantity: 0.5, EventTimeMillis: 1700000000000,
		Source: model.SourceStream,
	}})

	runOnce(t, f)

	trades, _, _ := f.writer.counts()
	if trades != 1 {
		t.Errorf("sink saw %d trades, want 1 (poll replay must not rewrite)", trades)
	}
	if f.pipe.Stats().TradesDuplicate != 1 {
		t.Errorf("TradesDuplicate = %d, want 1", f.pipe.Stats().TradesDuplicate)
	}
}

func TestScheduler_UnchangedBalanceStillWritten(t *testing.T) {
	server := httptest.NewServer(exchangeHandler(t,
		nil,
		[]api.Balance{{Asset: "USDT", Free: "1000", Locked: "0"}},
		`[]`,
	))
	defer server.Close()

	cfg := testConfig()
	f := newFixture(t, server.URL, cfg)

	// Two consecutive cycles with identical balances.
	runOnce(t, f)
	runOnce(t, f)

	_, _, balances := f.writer.counts()
	if balances != 2 {
		t.Errorf("balances = %d, want 2 (snapshots are unconditional)", balances)
	}
}

func TestScheduler_FailedTaskDoesNotStopOthers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/myTrades":
			w.WriteHeader(http.StatusInternalServerError)
		case "/api/v3/account":
			json.NewEncoder(w).Encode(api.AccountResponse{
				Balances: []api.Balance{{Asset: "USDT", Free: "1000", Locked: "0"}},
			})
		case "/api/v3/klines":
			w.Write([]byte(`[]`))
		}
	}))
	defer server.Close()

	f := newFixture(t, server.URL, testConfig())
	runOnce(t, f)

	stats := f.scheduler.Stats()
	if stats.Trades.Failures == 0 {
		t.Error("trade task failure should be counted")
	}
	if stats.Balances.Failures != 0 {
		t.Errorf("balance task failed: %+v", stats.Balances)
	}

	_, _, balances := f.writer.counts()
	if balances != 1 {
		t.Errorf("balances = %d, want 1 (independent of trade task)", balances)
	}
}

func TestScheduler_AuthFailuresTracked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/klines":
			w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	f := newFixture(t, server.URL, testConfig())
	runOnce(t, f)

	stats := f.scheduler.Stats()
	if stats.Trades.AuthFailures == 0 {
		t.Error("trade task auth failure should be counted")
	}
	if stats.Balances.AuthFailures == 0 {
		t.Error("balance task auth failure should be counted")
	}
	// Public candle fetch is unaffected by bad credentials.
	if stats.Candles.Failures != 0 {
		t.Errorf("candle task failed: %+v", stats.Candles)
	}
}

func TestScheduler_RepeatsOnInterval(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/klines" {
			calls.Add(1)
			w.Write([]byte(`[]`))
			return
		}
		json.NewEncoder(w).Encode([]api.MyTrade{})
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.CandleInterval = 50 * time.Millisecond
	f := newFixture(t, server.URL, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && calls.Load() < 3 {
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	f.scheduler.Stop(stopCtx)

	if calls.Load() < 3 {
		t.Errorf("kline calls = %d, want >= 3", calls.Load())
	}
}
