package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one journal entry.
type Event struct {
	ID         uuid.UUID
	Instance   string
	OccurredAt time.Time
	Kind       string // "state-change", "subscribe", "unsubscribe"
	FromState  string
	ToState    string
	Attempt    int
	Detail     string
}

// Kinds of journal events.
const (
	KindStateChange = "state-change"
	KindSubscribe   = "subscribe"
	KindUnsubscribe = "unsubscribe"
)

// WriterConfig configures the journal writer.
type WriterConfig struct {
	Instance      string        // client instance ID stamped on every event
	BatchSize     int           // rows per insert batch
	FlushInterval time.Duration // max latency before a partial batch flushes
	BufferSize    int           // initial event buffer capacity
}

// Writer consumes events from a buffer and writes them to the
// session_events table in batches.
type Writer struct {
	cfg    WriterConfig
	logger *slog.Logger

	db  *pgxpool.Pool
	buf *eventBuffer

	// Batching
	batch       []Event
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// WriterMetrics counts writer activity.
type WriterMetrics struct {
	Inserts int64
	Flushes int64
	Errors  int64
	Dropped int64
}

// NewWriter creates a journal writer.
func NewWriter(cfg WriterConfig, db *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1000
	}
	return &Writer{
		cfg:    cfg,
		logger: logger,
		db:     db,
		buf:    newEventBuffer(cfg.BufferSize),
		batch:  make([]Event, 0, cfg.BatchSize),
	}
}

// Start begins consuming events and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer, flushing what remains.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	w.buf.close()
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
		w.logger.Info("journal writer stopped")
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
	}

	// Final flush
	w.flush()

	return nil
}

// Record enqueues one event. Non-blocking; events recorded after Stop are
// dropped and counted.
func (w *Writer) Record(ev Event) {
	if ev.ID == (uuid.UUID{}) {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	if ev.Instance == "" {
		ev.Instance = w.cfg.Instance
	}

	if !w.buf.push(ev) {
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
	}
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop drains the buffer into the batch.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		ev, ok := w.buf.pop()
		if !ok {
			return
		}

		w.batchMu.Lock()
		w.batch = append(w.batch, ev)
		shouldFlush := len(w.batch) >= w.cfg.BatchSize
		w.batchMu.Unlock()

		if shouldFlush {
			w.flush()
		}
	}
}

// flushLoop periodically flushes partial batches.
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

// flush writes the current batch to the database.
func (w *Writer) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]Event, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(batch); err != nil {
		w.logger.Error("journal batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal events",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(events []Event) error {
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO session_events (id, instance, occurred_at, kind, from_state, to_state, attempt, detail)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING
		`, ev.ID, ev.Instance, ev.OccurredAt, ev.Kind, ev.FromState, ev.ToState, ev.Attempt, ev.Detail)
	}

	ctx := w.ctx
	if ctx == nil || ctx.Err() != nil {
		// Final flush after Stop still needs a usable context.
		ctx = context.Background()
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
