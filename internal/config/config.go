package config

import (
	"time"

	"github.com/olundqvist/mexc-ingest/internal/model"
)

// IngestorConfig is the root configuration for an ingestor instance.
type IngestorConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Database DBConfig       `yaml:"database"`
	Stream   StreamConfig   `yaml:"stream"`
	Poller   PollerConfig   `yaml:"poller"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Sink     SinkConfig     `yaml:"sink"`
	Health   HealthConfig   `yaml:"health"`
}

// InstanceConfig identifies this ingestor.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ExchangeConfig holds exchange endpoints, credentials, and the
// payload dialect the stream speaks.
type ExchangeConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	APIKey     string        `yaml:"api_key"`
	SecretKey  string        `yaml:"secret_key"`
	Symbol     string        `yaml:"symbol"`
	Dialect    string        `yaml:"dialect"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RecvWindow time.Duration `yaml:"recv_window"`
}

// DBConfig holds the TimescaleDB connection for time-series data.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// StreamConfig holds WebSocket connection manager settings.
type StreamConfig struct {
	PingInterval     time.Duration `yaml:"ping_interval"`
	SilenceThreshold time.Duration `yaml:"silence_threshold"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
	ReadBufferSize   int           `yaml:"read_buffer_size"`
}

// PollerConfig holds REST polling scheduler settings.
type PollerConfig struct {
	TradeInterval   time.Duration `yaml:"trade_interval"`
	BalanceInterval time.Duration `yaml:"balance_interval"`
	CandleInterval  time.Duration `yaml:"candle_interval"`
	TradeLookback   time.Duration `yaml:"trade_lookback"`
	TradeLimit      int           `yaml:"trade_limit"`
	CandleWidth     string        `yaml:"candle_width"`
	CandleBars      int           `yaml:"candle_bars"`
	Assets          []string      `yaml:"assets"`
}

// LedgerConfig holds dedup ledger settings.
type LedgerConfig struct {
	Retention     time.Duration `yaml:"retention"`
	EvictInterval time.Duration `yaml:"evict_interval"`
}

// SinkConfig holds sink writer settings.
type SinkConfig struct {
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// HealthConfig holds the HTTP health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// Width returns the configured candle width as a typed interval.
func (p PollerConfig) Width() model.Interval {
	return model.Interval(p.CandleWidth)
}
