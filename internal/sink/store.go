package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store accepts canonical points for a bucket. Implementations map
// each measurement to its own append table.
type Store interface {
	// WritePoints writes a batch of points to the bucket. Points are
	// written in submission order.
	WritePoints(ctx context.Context, bucket string, points []Point) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}

// PostgresStore writes points into per-measurement tables under a
// bucket schema in TimescaleDB/Postgres.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a store over an existing pool.
func NewPostgresStore(db *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// WritePoints writes a batch of points using a single pgx batch
// round-trip. Trades are idempotent at the table level as a backstop
// behind the dedup ledger; candles are last-write-wins; balances are
// plain appends.
func (s *PostgresStore) WritePoints(ctx context.Context, bucket string, points []Point) error {
	batch := &pgx.Batch{}

	for _, p := range points {
		ts := time.UnixMilli(p.TimestampMillis).UTC()

		switch p.Measurement {
		case MeasurementTrades:
			batch.Queue(fmt.Sprintf(`
				INSERT INTO %s (symbol, side, source, trade_id, order_id, price, quantity, quote_quantity, commission, commission_asset, event_time)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (symbol, source, trade_id) DO NOTHING
			`, tableName(bucket, MeasurementTrades)),
				p.tag("symbol"), p.tag("side"), p.tag("source"),
				p.stringField("trade_id"), p.stringField("order_id"),
				p.floatField("price"), p.floatField("quantity"), p.floatField("quote_quantity"),
				p.floatField("commission"), p.stringField("commission_asset"),
				ts,
			)

		case MeasurementCandles:
			batch.Queue(fmt.Sprintf(`
				INSERT INTO %s (symbol, "interval", open_time, "open", high, low, "close", volume)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (symbol, "interval", open_time) DO UPDATE SET
					"open" = EXCLUDED."open",
					high = EXCLUDED.high,
					low = EXCLUDED.low,
					"close" = EXCLUDED."close",
					volume = EXCLUDED.volume
			`, tableName(bucket, MeasurementCandles)),
				p.tag("symbol"), p.tag("interval"), ts,
				p.floatField("open"), p.floatField("high"), p.floatField("low"),
				p.floatField("close"), p.floatField("volume"),
			)

		case MeasurementBalances:
			batch.Queue(fmt.Sprintf(`
				INSERT INTO %s (asset, free, locked, observed_at)
				VALUES ($1, $2, $3, $4)
			`, tableName(bucket, MeasurementBalances)),
				p.tag("asset"), p.floatField("free"), p.floatField("locked"), ts,
			)

		default:
			s.logger.Warn("skipping unknown measurement", "measurement", p.Measurement)
		}
	}

	if batch.Len() == 0 {
		return nil
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("write point batch: %w", err)
		}
	}

	return nil
}

// Ping verifies the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// tableName builds a sanitized schema-qualified table identifier.
func tableName(bucket, measurement string) string {
	return pgx.Identifier{bucket, measurement}.Sanitize()
}
