package config

import (
	"time"

	"github.com/google/uuid"
)

// Default values for optional configuration fields.
const (
	DefaultRestURL         = "https://api.mexc.com"
	DefaultWSURL           = "wss://wbs.mexc.com/ws"
	DefaultDialect         = "aggdeals"
	DefaultAPITimeout      = 10 * time.Second
	DefaultMaxRetries      = 3
	DefaultRecvWindow      = 5 * time.Second
	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultMaxConns        = 10
	DefaultMinConns        = 2
	DefaultPingInterval    = 20 * time.Second
	DefaultSilence         = 60 * time.Second
	DefaultBackoffBase     = 1 * time.Second
	DefaultBackoffMax      = 60 * time.Second
	DefaultReadBufferSize  = 1000
	DefaultTradeInterval   = 15 * time.Second
	DefaultBalanceInterval = 20 * time.Second
	DefaultCandleInterval  = 5 * time.Minute
	DefaultTradeLookback   = 10 * time.Minute
	DefaultTradeLimit      = 500
	DefaultCandleWidth     = "5m"
	DefaultCandleBars      = 12
	DefaultLedgerRetention = 24 * time.Hour
	DefaultEvictInterval   = 15 * time.Minute
	DefaultBucket          = "market_data"
	DefaultBatchSize       = 100
	DefaultFlushInterval   = 1 * time.Second
	DefaultBufferSize      = 1000
	DefaultHealthPort      = 8080
)

func (c *IngestorConfig) applyDefaults() {
	// Instance: generate an id when the operator doesn't assign one.
	if c.Instance.ID == "" {
		c.Instance.ID = "ingestor-" + uuid.NewString()[:8]
	}

	// Exchange defaults
	if c.Exchange.RestURL == "" {
		c.Exchange.RestURL = DefaultRestURL
	}
	if c.Exchange.WSURL == "" {
		c.Exchange.WSURL = DefaultWSURL
	}
	if c.Exchange.Dialect == "" {
		c.Exchange.Dialect = DefaultDialect
	}
	if c.Exchange.Timeout == 0 {
		c.Exchange.Timeout = DefaultAPITimeout
	}
	if c.Exchange.MaxRetries == 0 {
		c.Exchange.MaxRetries = DefaultMaxRetries
	}
	if c.Exchange.RecvWindow == 0 {
		c.Exchange.RecvWindow = DefaultRecvWindow
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Stream defaults
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.SilenceThreshold == 0 {
		c.Stream.SilenceThreshold = DefaultSilence
	}
	if c.Stream.BackoffBase == 0 {
		c.Stream.BackoffBase = DefaultBackoffBase
	}
	if c.Stream.BackoffMax == 0 {
		c.Stream.BackoffMax = DefaultBackoffMax
	}
	if c.Stream.ReadBufferSize == 0 {
		c.Stream.ReadBufferSize = DefaultReadBufferSize
	}

	// Poller defaults
	if c.Poller.TradeInterval == 0 {
		c.Poller.TradeInterval = DefaultTradeInterval
	}
	if c.Poller.BalanceInterval == 0 {
		c.Poller.BalanceInterval = DefaultBalanceInterval
	}
	if c.Poller.CandleInterval == 0 {
		c.Poller.CandleInterval = DefaultCandleInterval
	}
	if c.Poller.TradeLookback == 0 {
		c.Poller.TradeLookback = DefaultTradeLookback
	}
	if c.Poller.TradeLimit == 0 {
		c.Poller.TradeLimit = DefaultTradeLimit
	}
	if c.Poller.CandleWidth == "" {
		c.Poller.CandleWidth = DefaultCandleWidth
	}
	if c.Poller.CandleBars == 0 {
		c.Poller.CandleBars = DefaultCandleBars
	}
	if len(c.Poller.Assets) == 0 {
		c.Poller.Assets = []string{"USDT"}
	}

	// Ledger defaults
	if c.Ledger.Retention == 0 {
		c.Ledger.Retention = DefaultLedgerRetention
	}
	if c.Ledger.EvictInterval == 0 {
		c.Ledger.EvictInterval = DefaultEvictInterval
	}

	// Sink defaults
	if c.Sink.Bucket == "" {
		c.Sink.Bucket = DefaultBucket
	}
	if c.Sink.BatchSize == 0 {
		c.Sink.BatchSize = DefaultBatchSize
	}
	if c.Sink.FlushInterval == 0 {
		c.Sink.FlushInterval = DefaultFlushInterval
	}
	if c.Sink.BufferSize == 0 {
		c.Sink.BufferSize = DefaultBufferSize
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}
