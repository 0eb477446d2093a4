package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-batch/internal/domain"
)

// mockStore returns configurable stale executions and records updates.
type mockStore struct {
	mu        sync.Mutex
	stale     []domain.JobExecution
	fetchErr  error
	updateErr error
	updates   []domain.JobExecution
}

func (s *mockStore) GetStaleRunningExecutions(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.JobExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	var result []domain.JobExecution
	for _, exec := range s.stale {
		if exec.StartedAt.Before(olderThan) {
			result = append(result, exec)
			if len(result) >= maxResults {
				break
			}
		}
	}
	return result, nil
}

func (s *mockStore) UpdateExecution(ctx context.Context, exec domain.JobExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates = append(s.updates, exec)
	return nil
}

func (s *mockStore) getUpdates() []domain.JobExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]domain.JobExecution, len(s.updates))
	copy(result, s.updates)
	return result
}

func runningExecution(started time.Time) domain.JobExecution {
	return domain.JobExecution{
		ID:        uuid.New(),
		JobID:     uuid.New(),
		JobName:   "nightly-load",
		Status:    domain.ExecutionStatusRunning,
		StartedAt: started,
	}
}

func TestRunCycle_MarksStaleExecutionsFailed(t *testing.T) {
	now := time.Now().UTC()
	store := &mockStore{
		stale: []domain.JobExecution{
			runningExecution(now.Add(-2 * time.Hour)),
			runningExecution(now.Add(-3 * time.Hour)),
		},
	}

	r := New(DefaultConfig(), store)
	r.clock = func() time.Time { return now }

	r.runCycle(context.Background())

	updates := store.getUpdates()
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	for _, u := range updates {
		if u.Status != domain.ExecutionStatusFailed {
			t.Errorf("expected status failed, got %s", u.Status)
		}
		if u.ErrorMessage == "" {
			t.Error("expected an error message on reconciled execution")
		}
		if u.FinishedAt.IsZero() {
			t.Error("expected a finished timestamp")
		}
	}
}

func TestRunCycle_RecentRunningExecutionsLeftAlone(t *testing.T) {
	now := time.Now().UTC()
	store := &mockStore{
		stale: []domain.JobExecution{
			runningExecution(now.Add(-10 * time.Minute)),
		},
	}

	r := New(DefaultConfig(), store)
	r.clock = func() time.Time { return now }

	r.runCycle(context.Background())

	if updates := store.getUpdates(); len(updates) != 0 {
		t.Fatalf("expected no updates for recent executions, got %d", len(updates))
	}
}

func TestRunCycle_FetchErrorAbortsCycle(t *testing.T) {
	store := &mockStore{fetchErr: errors.New("db down")}

	r := New(DefaultConfig(), store)
	r.runCycle(context.Background())

	if updates := store.getUpdates(); len(updates) != 0 {
		t.Fatalf("expected no updates after fetch error, got %d", len(updates))
	}
}

func TestRunCycle_UpdateErrorDoesNotStopCycle(t *testing.T) {
	now := time.Now().UTC()
	store := &mockStore{
		stale: []domain.JobExecution{
			runningExecution(now.Add(-2 * time.Hour)),
			runningExecution(now.Add(-2 * time.Hour)),
		},
		updateErr: errors.New("already terminal"),
	}

	r := New(DefaultConfig(), store)
	r.clock = func() time.Time { return now }

	// Must not panic or stop; both updates fail, cycle completes.
	r.runCycle(context.Background())
}

func TestRunCycle_BatchSizeLimit(t *testing.T) {
	now := time.Now().UTC()
	var stale []domain.JobExecution
	for i := 0; i < 10; i++ {
		stale = append(stale, runningExecution(now.Add(-2*time.Hour)))
	}
	store := &mockStore{stale: stale}

	cfg := DefaultConfig()
	cfg.BatchSize = 3
	r := New(cfg, store)
	r.clock = func() time.Time { return now }

	r.runCycle(context.Background())

	if updates := store.getUpdates(); len(updates) != 3 {
		t.Fatalf("expected batch size to cap updates at 3, got %d", len(updates))
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := &mockStore{}
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond

	r := New(cfg, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after context cancel")
	}
}
