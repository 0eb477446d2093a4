package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lib/pq"

	"github.com/djlord-it/easy-batch/internal/domain"
	"github.com/djlord-it/easy-batch/internal/pipeline"
)

// TxRunner owns the single transaction an import runs in: fn returning
// nil commits every batch at once, an error rolls everything back.
type TxRunner struct {
	db *sql.DB
}

var _ pipeline.TxRunner = (*TxRunner)(nil)

func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{db: db}
}

func (r *TxRunner) RunInTransaction(ctx context.Context, fn func(w pipeline.BatchWriter) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&batchWriter{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// batchWriter performs bulk inserts on one transaction. database/sql
// transactions are not safe for concurrent use, so the mutex serializes
// the pipeline's gated writers onto the single tx; the gate still bounds
// how many batches are in flight at once.
type batchWriter struct {
	mu sync.Mutex
	tx *sql.Tx
}

var _ pipeline.BatchWriter = (*batchWriter)(nil)

// EnsureTable creates the target table if it does not exist, one column
// per mapped target field.
func (w *batchWriter) EnsureTable(ctx context.Context, table string, mappings []domain.FieldMapping) error {
	cols := make([]string, 0, len(mappings))
	for _, m := range mappings {
		sqlType, err := columnType(m.TargetType)
		if err != nil {
			return err
		}
		cols = append(cols, fmt.Sprintf("%s %s", pq.QuoteIdentifier(m.TargetField), sqlType))
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		pq.QuoteIdentifier(table), strings.Join(cols, ", "))

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.tx.ExecContext(ctx, stmt)
	return err
}

// ClearTable deletes all rows from the target table inside the import
// transaction, so a rolled-back import also restores the old contents.
func (w *batchWriter) ClearTable(ctx context.Context, table string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", pq.QuoteIdentifier(table)))
	return err
}

// InsertBatch writes one batch as a single multi-row INSERT and returns
// the number of rows written.
func (w *batchWriter) InsertBatch(ctx context.Context, table string, rows []pipeline.MappedRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	// Stable column order across the whole batch; rows may omit
	// optional fields, which insert as NULL.
	fields := collectFields(rows)

	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = pq.QuoteIdentifier(f)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ",
		pq.QuoteIdentifier(table), strings.Join(quoted, ", "))

	args := make([]any, 0, len(rows)*len(fields))
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, f := range fields {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+1)
			args = append(args, row[f])
		}
		sb.WriteString(")")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	res, err := w.tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return len(rows), nil
	}
	return int(n), nil
}

func collectFields(rows []pipeline.MappedRow) []string {
	seen := make(map[string]bool)
	var fields []string
	for _, row := range rows {
		for f := range row {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	sort.Strings(fields)
	return fields
}

func columnType(targetType string) (string, error) {
	switch targetType {
	case "text", "":
		return "text", nil
	case "integer":
		return "bigint", nil
	case "numeric":
		return "numeric", nil
	case "boolean":
		return "boolean", nil
	case "timestamp":
		return "timestamptz", nil
	}
	return "", fmt.Errorf("unsupported target type %q", targetType)
}
