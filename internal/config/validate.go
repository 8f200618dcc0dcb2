package config

import (
	"errors"
	"fmt"

	"github.com/olundqvist/mexc-ingest/internal/dialect"
)

// Validate checks that all required fields are set and values are valid.
// Missing credentials are a hard startup error: every ingestor instance
// polls signed endpoints, so there is no useful unauthenticated mode.
func (c *IngestorConfig) Validate() error {
	if c.Exchange.APIKey == "" {
		return errors.New("exchange.api_key is required")
	}
	if c.Exchange.SecretKey == "" {
		return errors.New("exchange.secret_key is required")
	}
	if c.Exchange.Symbol == "" {
		return errors.New("exchange.symbol is required")
	}
	if !dialect.Dialect(c.Exchange.Dialect).Valid() {
		return fmt.Errorf("exchange.dialect %q is not a known payload dialect", c.Exchange.Dialect)
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Stream.BackoffBase > c.Stream.BackoffMax {
		return fmt.Errorf("stream.backoff_base (%s) cannot exceed backoff_max (%s)",
			c.Stream.BackoffBase, c.Stream.BackoffMax)
	}

	if !c.Poller.Width().Valid() {
		return fmt.Errorf("poller.candle_width %q is not a supported interval", c.Poller.CandleWidth)
	}
	if c.Poller.TradeLimit < 1 {
		return errors.New("poller.trade_limit must be >= 1")
	}

	// Retention must comfortably outlast the reconciliation lookback or
	// evicted entries let polled trades slip past the dedup gate.
	if c.Ledger.Retention < 2*c.Poller.TradeLookback {
		return fmt.Errorf("ledger.retention (%s) must be at least twice poller.trade_lookback (%s)",
			c.Ledger.Retention, c.Poller.TradeLookback)
	}

	if c.Sink.BatchSize < 1 {
		return errors.New("sink.batch_size must be >= 1")
	}
	if c.Sink.BufferSize < 1 {
		return errors.New("sink.buffer_size must be >= 1")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
