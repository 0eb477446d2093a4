package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/easy-batch/internal/domain"
	"github.com/djlord-it/easy-batch/internal/source"
)

// sliceCursor serves rows from memory; onRow runs before each row is
// returned, which lets tests cancel mid-read.
type sliceCursor struct {
	rows  []source.Row
	idx   int
	onRow func(n int)
}

func (c *sliceCursor) Next() (source.Row, error) {
	if c.idx >= len(c.rows) {
		return nil, source.ErrEndOfSource
	}
	if c.onRow != nil {
		c.onRow(c.idx + 1)
	}
	row := c.rows[c.idx]
	c.idx++
	return row, nil
}

func (c *sliceCursor) Close() error { return nil }

// fakeWriter records batch writes; failOnBatch (1-based) injects an error.
type fakeWriter struct {
	mu          sync.Mutex
	ensured     []string
	cleared     []string
	batches     [][]MappedRow
	failOnBatch int
}

func (w *fakeWriter) EnsureTable(ctx context.Context, table string, mappings []domain.FieldMapping) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensured = append(w.ensured, table)
	return nil
}

func (w *fakeWriter) ClearTable(ctx context.Context, table string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cleared = append(w.cleared, table)
	return nil
}

func (w *fakeWriter) InsertBatch(ctx context.Context, table string, rows []MappedRow) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, rows)
	if w.failOnBatch > 0 && len(w.batches) == w.failOnBatch {
		return 0, errors.New("unique constraint violated")
	}
	return len(rows), nil
}

func (w *fakeWriter) batchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

func (w *fakeWriter) rowCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

// fakeTx implements TxRunner and records the commit/rollback outcome.
type fakeTx struct {
	writer     *fakeWriter
	committed  bool
	rolledBack bool
}

func (f *fakeTx) RunInTransaction(ctx context.Context, fn func(w BatchWriter) error) error {
	if err := fn(f.writer); err != nil {
		f.rolledBack = true
		return err
	}
	f.committed = true
	return nil
}

// eventRecorder collects published events.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.ExecutionEvent
}

func (r *eventRecorder) Publish(event domain.ExecutionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) progressEvents() []domain.ExecutionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ExecutionEvent
	for _, e := range r.events {
		if e.Type == domain.EventImportProgress {
			out = append(out, e)
		}
	}
	return out
}

func testMappings() []domain.FieldMapping {
	return []domain.FieldMapping{
		{SourceColumn: "name", TargetField: "name", TargetType: "text", Required: true},
		{SourceColumn: "n", TargetField: "n", TargetType: "integer"},
	}
}

func makeRows(count int) []source.Row {
	rows := make([]source.Row, count)
	for i := range rows {
		rows[i] = source.Row{"name": fmt.Sprintf("row-%d", i), "n": fmt.Sprintf("%d", i)}
	}
	return rows
}

func TestChooseBatchSize(t *testing.T) {
	tests := []struct {
		total int
		want  int
	}{
		{0, defaultBatchSize},
		{1, minBatchSize},
		{1000, minBatchSize},
		{1001, defaultBatchSize},
		{2500, defaultBatchSize},
		{10000, defaultBatchSize},
		{10001, maxBatchSize},
		{1000000, maxBatchSize},
	}
	for _, tt := range tests {
		if got := chooseBatchSize(tt.total); got != tt.want {
			t.Errorf("chooseBatchSize(%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}

// Medium-volume import: exactly ceil(2500/500) batch writes and every
// row accounted for.
func TestImporter_MediumImport(t *testing.T) {
	tx := &fakeTx{writer: &fakeWriter{}}
	rec := &eventRecorder{}
	imp := New(tx).WithEvents(rec)

	cursor := &sliceCursor{rows: makeRows(2500)}
	result, err := imp.Run(context.Background(), cursor, Config{
		TargetTable: "staging_people",
		Mappings:    testMappings(),
		TotalRows:   2500,
	})
	require.NoError(t, err)

	assert.Equal(t, 2500, result.TotalRows)
	assert.Equal(t, 2500, result.SuccessRows)
	assert.Equal(t, 0, result.FailedRows)
	assert.Equal(t, 5, result.Batches)
	assert.Equal(t, 5, tx.writer.batchCount())
	assert.Equal(t, 2500, tx.writer.rowCount())
	assert.True(t, tx.committed)

	progress := rec.progressEvents()
	require.Len(t, progress, 5)
	last := progress[len(progress)-1].Progress
	require.NotNil(t, last)
	assert.Equal(t, 5, last.TotalBatches)
}

func TestImporter_RowConversionErrorsCountedNotFatal(t *testing.T) {
	rows := makeRows(10)
	rows[3]["n"] = "not-a-number"
	rows[7]["name"] = "" // required

	tx := &fakeTx{writer: &fakeWriter{}}
	imp := New(tx)

	result, err := imp.Run(context.Background(), &sliceCursor{rows: rows}, Config{
		TargetTable: "staging_people",
		Mappings:    testMappings(),
		TotalRows:   10,
	})
	require.NoError(t, err)

	assert.Equal(t, 10, result.TotalRows)
	assert.Equal(t, 8, result.SuccessRows)
	assert.Equal(t, 2, result.FailedRows)
	assert.Equal(t, result.TotalRows, result.SuccessRows+result.FailedRows)
	require.Len(t, result.RowErrors, 2)
	assert.Equal(t, 4, result.RowErrors[0].RowNumber)
	assert.True(t, tx.committed)
}

func TestImporter_BatchWriteFailureRollsBack(t *testing.T) {
	tx := &fakeTx{writer: &fakeWriter{failOnBatch: 2}}
	imp := New(tx)

	result, err := imp.Run(context.Background(), &sliceCursor{rows: makeRows(2500)}, Config{
		TargetTable: "staging_people",
		Mappings:    testMappings(),
		TotalRows:   2500,
	})
	require.Error(t, err)

	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
	// Nothing committed: no rows count as successful.
	assert.Equal(t, 0, result.SuccessRows)
}

func TestImporter_CancellationRollsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cursor := &sliceCursor{
		rows: makeRows(5000),
		onRow: func(n int) {
			if n == 1000 {
				cancel()
			}
		},
	}

	tx := &fakeTx{writer: &fakeWriter{}}
	imp := New(tx)

	_, err := imp.Run(ctx, cursor, Config{
		TargetTable: "staging_people",
		Mappings:    testMappings(),
		TotalRows:   5000,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImportCancelled)
	assert.True(t, tx.rolledBack)

	// The producer stopped promptly instead of draining the source.
	assert.Less(t, cursor.idx, 5000)
}

func TestImporter_ClearBeforeLoad(t *testing.T) {
	tx := &fakeTx{writer: &fakeWriter{}}
	imp := New(tx)

	_, err := imp.Run(context.Background(), &sliceCursor{rows: makeRows(10)}, Config{
		TargetTable:     "staging_people",
		Mappings:        testMappings(),
		ClearBeforeLoad: true,
		TotalRows:       10,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"staging_people"}, tx.writer.ensured)
	assert.Equal(t, []string{"staging_people"}, tx.writer.cleared)
}

func TestImporter_EmptySource(t *testing.T) {
	tx := &fakeTx{writer: &fakeWriter{}}
	imp := New(tx)

	result, err := imp.Run(context.Background(), &sliceCursor{}, Config{
		TargetTable: "staging_people",
		Mappings:    testMappings(),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.TotalRows)
	assert.Equal(t, 0, result.Batches)
	assert.True(t, tx.committed)
}

func TestImporter_UnknownTotalUsesDefaultBatchSize(t *testing.T) {
	tx := &fakeTx{writer: &fakeWriter{}}
	imp := New(tx)

	result, err := imp.Run(context.Background(), &sliceCursor{rows: makeRows(1200)}, Config{
		TargetTable: "staging_people",
		Mappings:    testMappings(),
		// TotalRows unknown.
	})
	require.NoError(t, err)

	assert.Equal(t, 1200, result.SuccessRows)
	// ceil(1200/500) = 3 batches.
	assert.Equal(t, 3, result.Batches)
}
