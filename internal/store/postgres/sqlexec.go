package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/djlord-it/easy-batch/internal/engine"
)

// SQLRunner executes configured SQL statements against named data
// sources, each backed by its own connection pool.
type SQLRunner struct {
	mu    sync.RWMutex
	pools map[string]*sql.DB
}

var _ engine.SQLExecutor = (*SQLRunner)(nil)

func NewSQLRunner() *SQLRunner {
	return &SQLRunner{pools: make(map[string]*sql.DB)}
}

// RegisterDataSource makes a connection pool addressable by name.
func (r *SQLRunner) RegisterDataSource(name string, db *sql.DB) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[name] = db
}

// Execute runs the statement against the named data source and returns
// the affected row count and wall time.
func (r *SQLRunner) Execute(ctx context.Context, sqlText, dataSource string) (int64, time.Duration, error) {
	r.mu.RLock()
	db, ok := r.pools[dataSource]
	r.mu.RUnlock()
	if !ok {
		return 0, 0, fmt.Errorf("unknown data source %q", dataSource)
	}

	started := time.Now()
	res, err := db.ExecContext(ctx, sqlText)
	elapsed := time.Since(started)
	if err != nil {
		return 0, elapsed, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		// Statement kinds without a row count still succeed.
		return 0, elapsed, nil
	}
	return affected, elapsed, nil
}
