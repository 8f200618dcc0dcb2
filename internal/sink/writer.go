package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/olundqvist/mexc-ingest/internal/model"
)

// WriterConfig holds sink writer settings.
type WriterConfig struct {
	Bucket        string        // target bucket (schema) identifier
	BatchSize     int           // 1 = write-through, >1 = buffer until full
	FlushInterval time.Duration // force-flush partially filled batches
	BufferSize    int           // initial queue capacity
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		Bucket:        "market_data",
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// WriterMetrics counts writer activity.
type WriterMetrics struct {
	Enqueued int64
	Written  int64
	Flushes  int64
	Errors   int64
	Dropped  int64 // points lost to failed writes
}

// Writer accepts canonical events, converts them to points, and
// writes them to the store in submission order with batch and flush
// discipline. A failed write is logged and its points are dropped;
// there is no durable retry queue at this layer.
type Writer struct {
	cfg    WriterConfig
	store  Store
	logger *slog.Logger

	input *GrowableBuffer[Point]

	batch       []Point
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewWriter creates a sink writer over the given store.
func NewWriter(cfg WriterConfig, store Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		store:  store,
		logger: logger,
		input:  NewGrowableBuffer[Point](cfg.BufferSize),
		batch:  make([]Point, 0, cfg.BatchSize),
	}
}

// Start begins consuming queued points and writing to the store.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("sink writer started",
		"bucket", w.cfg.Bucket,
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains goroutines and performs a final flush.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping sink writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("sink writer stopped")
	case <-ctx.Done():
		w.logger.Warn("sink writer stop timed out")
	}

	// Drain whatever is still queued, then flush.
	for {
		p, ok := w.input.TryReceive()
		if !ok {
			break
		}
		w.appendPoint(p)
	}
	w.flush()

	return nil
}

// WriteTrade enqueues a trade event.
func (w *Writer) WriteTrade(ev model.TradeEvent) {
	w.enqueue(TradePoint(ev))
}

// WriteCandle enqueues a candle event.
func (w *Writer) WriteCandle(ev model.CandleEvent) {
	w.enqueue(CandlePoint(ev))
}

// WriteBalance enqueues a balance snapshot.
func (w *Writer) WriteBalance(ev model.BalanceEvent) {
	w.enqueue(BalancePoint(ev))
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *Writer) enqueue(p Point) {
	w.batchMu.Lock()
	w.metrics.Enqueued++
	w.batchMu.Unlock()

	w.input.Send(p)
}

// consumeLoop reads from the input queue and accumulates batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			p, ok := w.input.TryReceive()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			w.appendPoint(p)
		}
	}
}

// flushLoop periodically flushes partially filled batches.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

func (w *Writer) appendPoint(p Point) {
	w.batchMu.Lock()
	w.batch = append(w.batch, p)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// flush writes the current batch to the store.
func (w *Writer) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	batch := w.batch
	w.batch = make([]Point, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	ctx := w.ctx
	if ctx == nil || ctx.Err() != nil {
		// Final flush during shutdown runs on its own deadline.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	if err := w.store.WritePoints(ctx, w.cfg.Bucket, batch); err != nil {
		w.logger.Error("point write failed, dropping batch",
			"error", err,
			"count", len(batch),
		)
		w.batchMu.Lock()
		w.metrics.Errors++
		w.metrics.Dropped += int64(len(batch))
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Written += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed points",
		"count", len(batch),
		"duration", time.Since(start),
	)
}
