// Package reconciler cleans up abandoned executions.
//
// An execution is abandoned when it has status='running' but the process
// driving it is gone (crash, kill, node loss). Those rows would otherwise
// stay running forever and block any terminal-status accounting.
//
// The reconciler periodically scans for running executions older than a
// threshold and marks them failed. The store's terminal-state guard makes
// this safe against races: an execution that finishes normally between
// scan and update keeps its real status.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/djlord-it/easy-batch/internal/domain"
)

// Store defines the persistence surface the reconciler needs.
type Store interface {
	GetStaleRunningExecutions(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.JobExecution, error)
	UpdateExecution(ctx context.Context, exec domain.JobExecution) error
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Threshold is the age after which a running execution is considered abandoned.
	// Default: 1 hour.
	Threshold time.Duration

	// BatchSize is the maximum number of abandoned executions to process per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: time.Hour,
		BatchSize: 100,
	}
}

// Reconciler detects abandoned executions and marks them failed.
type Reconciler struct {
	config Config
	store  Store
	clock  func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store) *Reconciler {
	return &Reconciler{
		config: config,
		store:  store,
		clock:  time.Now,
	}
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	cutoff := now.Add(-r.config.Threshold)

	stale, err := r.store.GetStaleRunningExecutions(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		// DB error: log and abort cycle. Will retry next interval.
		log.Printf("reconciler: failed to fetch stale executions: %v", err)
		return
	}

	if len(stale) == 0 {
		// Nothing to do. Silent success.
		return
	}

	log.Printf("reconciler: found %d abandoned executions", len(stale))

	reconciled := 0
	failed := 0

	for _, exec := range stale {
		// Check context before each update to allow graceful shutdown
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d/%d executions", reconciled+failed, len(stale))
			return
		}

		exec.Status = domain.ExecutionStatusFailed
		exec.FinishedAt = now
		exec.Duration = now.Sub(exec.StartedAt)
		exec.ErrorMessage = "abandoned: process stopped while execution was running"

		if err := r.store.UpdateExecution(ctx, exec); err != nil {
			// The execution may have finished normally in the meantime;
			// the terminal-state guard rejects our update, which is fine.
			log.Printf("reconciler: could not mark execution=%s job=%q failed: %v",
				exec.ID, exec.JobName, err)
			failed++
			continue
		}

		log.Printf("reconciler: marked execution=%s job=%q failed (age=%s)",
			exec.ID, exec.JobName, now.Sub(exec.StartedAt).Round(time.Second))
		reconciled++
	}

	log.Printf("reconciler: cycle complete, reconciled=%d, skipped=%d", reconciled, failed)
}
