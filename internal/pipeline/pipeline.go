// Package pipeline moves a potentially very large sequence of source rows
// into a target table with bounded memory and high write throughput.
//
// One producer stage reads the source sequentially and pushes mapped row
// records onto a bounded queue. A consumer stage drains the queue into
// batches and submits each batch to the batch writer under a bounded
// concurrency gate, so the database never sees more simultaneous batch
// writes than the gate allows. The whole import runs inside a single
// transaction: all batches commit together or none do.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-batch/internal/domain"
	"github.com/djlord-it/easy-batch/internal/source"
)

const (
	// queueHighWater bounds pending rows; the producer blocks on a full
	// queue, which is the backpressure pause.
	queueHighWater = 10000

	minBatchSize     = 200
	defaultBatchSize = 500
	maxBatchSize     = 1000

	smallImportRows = 1000
	largeImportRows = 10000

	// maxRecordedRowErrors caps the per-row error list carried in the
	// result; the counts are always exact.
	maxRecordedRowErrors = 100
)

var ErrImportCancelled = errors.New("import cancelled")

// MappedRow is one output row: target field name to converted value.
type MappedRow map[string]any

// BatchWriter performs validated bulk inserts. All three operations run
// against the single transaction owned by the enclosing TxRunner; an
// implementation backed by database/sql must serialize access to its
// transaction handle internally.
type BatchWriter interface {
	EnsureTable(ctx context.Context, table string, mappings []domain.FieldMapping) error
	ClearTable(ctx context.Context, table string) error
	InsertBatch(ctx context.Context, table string, rows []MappedRow) (int, error)
}

// TxRunner opens one transaction, hands a writer bound to it to fn, and
// commits when fn returns nil or rolls back when it returns an error.
type TxRunner interface {
	RunInTransaction(ctx context.Context, fn func(w BatchWriter) error) error
}

// EventPublisher receives progress events at batch boundaries.
type EventPublisher interface {
	Publish(event domain.ExecutionEvent)
}

// MetricsSink records pipeline metrics. Methods must be non-blocking.
type MetricsSink interface {
	ImportRows(success, failed int)
	BatchWriteCompleted(duration time.Duration, err error)
	QueueDepthUpdate(depth int)
}

// Config describes one import run.
type Config struct {
	ExecutionID uuid.UUID
	JobID       uuid.UUID

	TargetTable     string
	Mappings        []domain.FieldMapping
	ClearBeforeLoad bool

	// TotalRows is the known source row count; 0 means unknown. It
	// drives batch sizing and percent-done reporting only.
	TotalRows int

	// Gate overrides the concurrent batch-write limit. 0 means the
	// number of available processors.
	Gate int
}

// RowError records one failed row conversion.
type RowError struct {
	RowNumber int
	Err       string
}

// Result aggregates an import run. SuccessRows + FailedRows equals the
// number of source rows processed.
type Result struct {
	TotalRows   int
	SuccessRows int
	FailedRows  int
	Batches     int
	Duration    time.Duration
	RowErrors   []RowError
}

type Importer struct {
	tx      TxRunner
	events  EventPublisher // optional, nil = disabled
	metrics MetricsSink    // optional, nil = disabled
	gate    int            // default gate when Config.Gate is 0
}

func New(tx TxRunner) *Importer {
	return &Importer{tx: tx}
}

// WithEvents attaches a progress event publisher to the importer.
func (i *Importer) WithEvents(pub EventPublisher) *Importer {
	i.events = pub
	return i
}

// WithMetrics attaches a metrics sink to the importer.
func (i *Importer) WithMetrics(sink MetricsSink) *Importer {
	i.metrics = sink
	return i
}

// WithGate sets the default concurrent batch-write limit applied when a
// run does not specify its own. 0 keeps the processor-count default.
func (i *Importer) WithGate(n int) *Importer {
	i.gate = n
	return i
}

// chooseBatchSize picks the batch size once per import from the total
// row count, trading per-call overhead against commit memory footprint.
func chooseBatchSize(totalRows int) int {
	switch {
	case totalRows > 0 && totalRows <= smallImportRows:
		return minBatchSize
	case totalRows > largeImportRows:
		return maxBatchSize
	default:
		return defaultBatchSize
	}
}

// counters is the shared progress state, guarded by its own mutex.
type counters struct {
	mu        sync.Mutex
	processed int
	success   int
	failed    int
	batches   int
	rowErrors []RowError
}

func (c *counters) recordRowError(rowNumber int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed++
	c.failed++
	if len(c.rowErrors) < maxRecordedRowErrors {
		c.rowErrors = append(c.rowErrors, RowError{RowNumber: rowNumber, Err: err.Error()})
	}
}

func (c *counters) recordBatch(rows int) (processed, success, failed, batches int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed += rows
	c.success += rows
	c.batches++
	return c.processed, c.success, c.failed, c.batches
}

func (c *counters) snapshot() (processed, success, failed, batches int, rowErrors []RowError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed, c.success, c.failed, c.batches, c.rowErrors
}

// Run executes one import. The cursor is consumed to exhaustion unless
// the context is cancelled or a batch write fails; either aborts the
// transaction and the target table is left untouched.
func (i *Importer) Run(ctx context.Context, cursor source.Cursor, cfg Config) (Result, error) {
	start := time.Now()
	batchSize := chooseBatchSize(cfg.TotalRows)

	gateSize := cfg.Gate
	if gateSize <= 0 {
		gateSize = i.gate
	}
	if gateSize <= 0 {
		gateSize = runtime.NumCPU()
	}

	log.Printf("pipeline: import starting table=%s total=%d batch_size=%d gate=%d",
		cfg.TargetTable, cfg.TotalRows, batchSize, gateSize)

	cnt := &counters{}

	err := i.tx.RunInTransaction(ctx, func(w BatchWriter) error {
		if err := w.EnsureTable(ctx, cfg.TargetTable, cfg.Mappings); err != nil {
			return fmt.Errorf("ensure table: %w", err)
		}
		if cfg.ClearBeforeLoad {
			if err := w.ClearTable(ctx, cfg.TargetTable); err != nil {
				return fmt.Errorf("clear table: %w", err)
			}
		}
		return i.runStages(ctx, cursor, cfg, w, batchSize, gateSize, cnt, start)
	})

	processed, success, failed, batches, rowErrors := cnt.snapshot()
	result := Result{
		TotalRows:   processed,
		SuccessRows: success,
		FailedRows:  failed,
		Batches:     batches,
		Duration:    time.Since(start),
		RowErrors:   rowErrors,
	}

	if err != nil {
		// Rolled back: nothing was committed regardless of batch counts.
		result.SuccessRows = 0
		result.FailedRows = processed
		log.Printf("pipeline: import aborted table=%s rows=%d err=%v", cfg.TargetTable, processed, err)
		return result, err
	}

	if i.metrics != nil {
		i.metrics.ImportRows(result.SuccessRows, result.FailedRows)
	}
	log.Printf("pipeline: import complete table=%s success=%d failed=%d batches=%d elapsed=%s",
		cfg.TargetTable, result.SuccessRows, result.FailedRows, result.Batches, result.Duration.Round(time.Millisecond))
	return result, nil
}

// runStages wires the producer and consumer around the bounded queue.
func (i *Importer) runStages(ctx context.Context, cursor source.Cursor, cfg Config, w BatchWriter, batchSize, gateSize int, cnt *counters, start time.Time) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan MappedRow, queueHighWater)

	var prodErr error
	prodDone := make(chan struct{})
	go func() {
		defer close(prodDone)
		defer close(queue)
		prodErr = i.produce(runCtx, cursor, cfg, cnt, queue)
	}()

	gate := make(chan struct{}, gateSize)
	var wg sync.WaitGroup

	var writeMu sync.Mutex
	var writeErr error

	flush := func(rows []MappedRow) {
		wg.Add(1)
		gate <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-gate }()

			writeStart := time.Now()
			_, err := w.InsertBatch(runCtx, cfg.TargetTable, rows)
			if i.metrics != nil {
				i.metrics.BatchWriteCompleted(time.Since(writeStart), err)
			}
			if err != nil {
				writeMu.Lock()
				if writeErr == nil {
					writeErr = fmt.Errorf("insert batch: %w", err)
				}
				writeMu.Unlock()
				cancel()
				return
			}
			i.reportProgress(cfg, cnt, batchSize, start, rows)
		}()
	}

	batch := make([]MappedRow, 0, batchSize)

consume:
	for {
		select {
		case <-runCtx.Done():
			break consume
		case row, ok := <-queue:
			if !ok {
				if len(batch) > 0 {
					flush(batch)
				}
				break consume
			}
			batch = append(batch, row)
			if len(batch) == batchSize {
				flush(batch)
				batch = make([]MappedRow, 0, batchSize)
			}
		}
	}

	wg.Wait()
	<-prodDone

	writeMu.Lock()
	werr := writeErr
	writeMu.Unlock()

	if werr != nil {
		return werr
	}
	if prodErr != nil {
		return prodErr
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrImportCancelled, err)
	}
	return nil
}

// produce reads the cursor sequentially, converts each row against the
// field mappings, and enqueues it. A row that fails conversion is counted
// as failed and never enqueued; it does not abort the import.
func (i *Importer) produce(ctx context.Context, cursor source.Cursor, cfg Config, cnt *counters, queue chan<- MappedRow) error {
	rowNumber := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: producer stopped", ErrImportCancelled)
		}

		row, err := cursor.Next()
		if err == source.ErrEndOfSource {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}
		rowNumber++

		mapped, err := ConvertRow(row, cfg.Mappings)
		if err != nil {
			cnt.recordRowError(rowNumber, err)
			continue
		}

		select {
		case queue <- mapped:
		case <-ctx.Done():
			return fmt.Errorf("%w: producer stopped", ErrImportCancelled)
		}

		if i.metrics != nil && rowNumber%100 == 0 {
			i.metrics.QueueDepthUpdate(len(queue))
		}
	}
}

// reportProgress publishes one progress event after a committed batch.
// Progress is reported per batch, not per row, to keep overhead low.
func (i *Importer) reportProgress(cfg Config, cnt *counters, batchSize int, start time.Time, rows []MappedRow) {
	processed, success, failed, batches := cnt.recordBatch(len(rows))

	if i.events == nil {
		return
	}

	totalBatches := 0
	percent := 0.0
	if cfg.TotalRows > 0 {
		totalBatches = (cfg.TotalRows + batchSize - 1) / batchSize
		percent = float64(processed) / float64(cfg.TotalRows) * 100
	}

	elapsed := time.Since(start).Seconds()
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(processed) / elapsed
	}

	i.events.Publish(domain.ExecutionEvent{
		ExecutionID: cfg.ExecutionID,
		JobID:       cfg.JobID,
		Type:        domain.EventImportProgress,
		Timestamp:   time.Now().UTC(),
		Message:     fmt.Sprintf("imported batch %d/%d (%d rows)", batches, totalBatches, len(rows)),
		Progress: &domain.ImportProgress{
			TotalRows:     cfg.TotalRows,
			ProcessedRows: processed,
			SuccessRows:   success,
			FailedRows:    failed,
			CurrentBatch:  batches,
			TotalBatches:  totalBatches,
			RowsPerSecond: throughput,
			PercentDone:   percent,
		},
	})
}
