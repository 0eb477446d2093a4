package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-batch/internal/domain"
)

// ExecutionContext is the mutable state owned by exactly one execution:
// a variable bag for passing step outputs forward, an append-only log,
// and progress bookkeeping. It is never persisted; only the derived
// JobExecution and StepExecutionResult records are.
type ExecutionContext struct {
	ExecutionID uuid.UUID
	Job         domain.JobConfig
	Parameters  []domain.JobParameter

	mu          sync.Mutex
	vars        map[string]any
	log         []string
	currentStep int
	totalSteps  int
	percentDone float64
}

func newExecutionContext(executionID uuid.UUID, job domain.JobConfig, params []domain.JobParameter) *ExecutionContext {
	ec := &ExecutionContext{
		ExecutionID: executionID,
		Job:         job,
		Parameters:  params,
		vars:        make(map[string]any),
	}
	for _, p := range params {
		ec.vars["param."+p.Name] = p.Value
	}
	return ec
}

// SetVar stores a value for later steps to read.
func (ec *ExecutionContext) SetVar(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.vars[key] = value
}

// GetVar reads a value written by an earlier step or a parameter.
func (ec *ExecutionContext) GetVar(key string) (any, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	v, ok := ec.vars[key]
	return v, ok
}

// Logf appends a timestamped line to the execution log.
func (ec *ExecutionContext) Logf(format string, args ...any) {
	line := fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.log = append(ec.log, line)
}

// Log returns a copy of the execution log so far.
func (ec *ExecutionContext) Log() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]string, len(ec.log))
	copy(out, ec.log)
	return out
}

// logMark returns the current log length; logSince returns the lines
// appended after a mark. Used to attribute log lines to one step.
func (ec *ExecutionContext) logMark() int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return len(ec.log)
}

func (ec *ExecutionContext) logSince(mark int) []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if mark >= len(ec.log) {
		return nil
	}
	out := make([]string, len(ec.log)-mark)
	copy(out, ec.log[mark:])
	return out
}

func (ec *ExecutionContext) setStepProgress(current, total int) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.currentStep = current
	ec.totalSteps = total
	if total > 0 {
		ec.percentDone = float64(current-1) / float64(total) * 100
	}
}

func (ec *ExecutionContext) markDone() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.percentDone = 100
}

// Progress is a point-in-time snapshot of one execution's advancement.
type Progress struct {
	ExecutionID uuid.UUID
	CurrentStep int
	TotalSteps  int
	PercentDone float64
}

func (ec *ExecutionContext) progress() Progress {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return Progress{
		ExecutionID: ec.ExecutionID,
		CurrentStep: ec.currentStep,
		TotalSteps:  ec.totalSteps,
		PercentDone: ec.percentDone,
	}
}
