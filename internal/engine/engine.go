// Package engine runs one job from start to terminal status, sequencing
// its steps and applying per-step retry and continue-on-failure policy.
//
// Executions run concurrently, one goroutine per execution id, each with
// its own isolated ExecutionContext. The only shared state is the
// mutex-guarded context and cancel registries, keyed by execution id and
// cleaned up on terminal status.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-batch/internal/domain"
	"github.com/djlord-it/easy-batch/internal/pipeline"
	"github.com/djlord-it/easy-batch/internal/source"
)

var (
	ErrJobNotFound          = errors.New("job not found")
	ErrJobDisabled          = errors.New("job is disabled")
	ErrNoStepsConfigured    = errors.New("no steps configured")
	ErrMissingConfiguration = errors.New("missing configuration")
	ErrUnsupportedStepType  = errors.New("unsupported step type")
	ErrExecutionNotFound    = errors.New("execution not found")
)

// Store is the persistence surface the engine needs: configuration
// lookup plus execution history writes.
type Store interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (domain.JobConfig, error)
	GetExcelConfig(ctx context.Context, id uuid.UUID) (domain.ExcelConfig, error)
	GetSQLConfig(ctx context.Context, id uuid.UUID) (domain.SQLConfig, error)
	InsertExecution(ctx context.Context, exec domain.JobExecution) error
	UpdateExecution(ctx context.Context, exec domain.JobExecution) error
	InsertStepResult(ctx context.Context, result domain.StepExecutionResult) error
}

// SQLExecutor runs a SQL statement against a named data source.
type SQLExecutor interface {
	Execute(ctx context.Context, sqlText, dataSource string) (affectedRows int64, duration time.Duration, err error)
}

// SourceOpener opens the row cursor behind an Excel configuration and
// reports the total row count when it is cheaply known (0 = unknown).
type SourceOpener interface {
	Open(cfg domain.ExcelConfig) (source.Cursor, int, error)
}

// ImportRunner is the pipeline entry point the import step delegates to.
type ImportRunner interface {
	Run(ctx context.Context, cursor source.Cursor, cfg pipeline.Config) (pipeline.Result, error)
}

// EventPublisher fans lifecycle events out to subscribers.
type EventPublisher interface {
	Publish(event domain.ExecutionEvent)
}

// Breaker guards the SQL execution collaborator per data source.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// AnalyticsSink records execution events as a best-effort side effect.
type AnalyticsSink interface {
	Record(ctx context.Context, event domain.ExecutionEvent)
}

// MetricsSink records engine metrics. Methods must be non-blocking.
type MetricsSink interface {
	ExecutionStarted()
	ExecutionCompleted(status string, duration time.Duration)
	StepCompleted(stepType string, success bool, duration time.Duration)
	StepRetry(stepType string)
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()
}

type Engine struct {
	store    Store
	sqlExec  SQLExecutor
	sources  SourceOpener
	importer ImportRunner

	events    EventPublisher // optional, nil = disabled
	metrics   MetricsSink    // optional, nil = disabled
	analytics AnalyticsSink  // optional, nil = disabled
	breaker   Breaker        // optional, nil = disabled

	handlers map[domain.StepType]stepHandler
	clock    func() time.Time

	mu       sync.Mutex
	contexts map[uuid.UUID]*ExecutionContext
	cancels  map[uuid.UUID]context.CancelFunc
}

func New(store Store, sqlExec SQLExecutor, sources SourceOpener, importer ImportRunner) *Engine {
	e := &Engine{
		store:    store,
		sqlExec:  sqlExec,
		sources:  sources,
		importer: importer,
		clock:    time.Now,
		contexts: make(map[uuid.UUID]*ExecutionContext),
		cancels:  make(map[uuid.UUID]context.CancelFunc),
	}
	e.handlers = map[domain.StepType]stepHandler{
		domain.StepTypeExcelImport:  e.runExcelImportStep,
		domain.StepTypeSQLExecution: e.runSQLExecutionStep,
		domain.StepTypeDataExport:   e.runDataExportStep,
		domain.StepTypeWait:         e.runWaitStep,
		domain.StepTypeCondition:    e.runConditionStep,
	}
	return e
}

// WithEvents attaches a lifecycle event publisher to the engine.
func (e *Engine) WithEvents(pub EventPublisher) *Engine {
	e.events = pub
	return e
}

// WithMetrics attaches a metrics sink to the engine.
func (e *Engine) WithMetrics(sink MetricsSink) *Engine {
	e.metrics = sink
	return e
}

// WithAnalytics attaches an analytics sink to the engine.
func (e *Engine) WithAnalytics(sink AnalyticsSink) *Engine {
	e.analytics = sink
	return e
}

// WithBreaker attaches a circuit breaker for SQL execution steps.
func (e *Engine) WithBreaker(b Breaker) *Engine {
	e.breaker = b
	return e
}

// ExecuteJob runs one job to a terminal status and returns the aggregate
// result. The returned error reflects infrastructure failures (job not
// found, persistence down); a job that ran and failed returns a result
// with status failed and a nil error.
func (e *Engine) ExecuteJob(ctx context.Context, jobID uuid.UUID, params []domain.JobParameter, executedBy string) (domain.JobExecutionResult, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobExecutionResult{}, fmt.Errorf("load job: %w", err)
	}
	if !job.Enabled {
		return domain.JobExecutionResult{}, ErrJobDisabled
	}

	executionID := uuid.New()
	now := e.clock().UTC()

	exec := domain.JobExecution{
		ID:         executionID,
		JobID:      job.ID,
		JobName:    job.Name,
		Status:     domain.ExecutionStatusRunning,
		StartedAt:  now,
		ExecutedBy: executedBy,
		Parameters: params,
		CreatedAt:  now,
	}
	if err := e.store.InsertExecution(ctx, exec); err != nil {
		return domain.JobExecutionResult{}, fmt.Errorf("insert execution: %w", err)
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if job.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	ec := newExecutionContext(executionID, job, params)

	e.mu.Lock()
	e.contexts[executionID] = ec
	e.cancels[executionID] = cancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.contexts, executionID)
		delete(e.cancels, executionID)
		e.mu.Unlock()
	}()

	if e.metrics != nil {
		e.metrics.ExecutionStarted()
		e.metrics.ExecutionsInFlightIncr()
		defer e.metrics.ExecutionsInFlightDecr()
	}

	e.publish(ctx, domain.ExecutionEvent{
		ExecutionID: executionID,
		JobID:       job.ID,
		Type:        domain.EventJobStarted,
		Timestamp:   now,
		Message:     fmt.Sprintf("job %q started by %s", job.Name, executedBy),
	})
	log.Printf("engine: execution=%s job=%q started by=%s", executionID, job.Name, executedBy)

	status, stepResults, runErr := e.runSteps(runCtx, ctx, ec, exec)

	finished := e.clock().UTC()
	exec.Status = status
	exec.FinishedAt = finished
	exec.Duration = finished.Sub(exec.StartedAt)
	if runErr != nil {
		exec.ErrorMessage = runErr.Error()
	}

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		log.Printf("engine: execution=%s failed to persist final status: %v", executionID, err)
	}

	ec.markDone()
	e.finishEvents(ctx, exec)
	if e.metrics != nil {
		e.metrics.ExecutionCompleted(string(status), exec.Duration)
	}
	log.Printf("engine: execution=%s job=%q finished status=%s duration=%s",
		executionID, job.Name, status, exec.Duration.Round(time.Millisecond))

	result := domain.JobExecutionResult{
		ExecutionID: executionID,
		JobID:       job.ID,
		Status:      status,
		StartedAt:   exec.StartedAt,
		FinishedAt:  finished,
		Duration:    exec.Duration,
		StepResults: stepResults,
		Error:       exec.ErrorMessage,
		Log:         ec.Log(),
	}
	return result, nil
}

// runSteps drives the step state machine over the job's enabled steps in
// order. A panic inside a step is caught here and turns the run into a
// failed execution instead of crashing the host.
//
// persistCtx outlives ctx so the final step result of a cancelled or
// timed-out run still reaches the store.
func (e *Engine) runSteps(ctx, persistCtx context.Context, ec *ExecutionContext, exec domain.JobExecution) (status domain.ExecutionStatus, results []domain.StepExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			status = domain.ExecutionStatusFailed
			err = fmt.Errorf("internal error: %v", r)
			log.Printf("engine: execution=%s panic: %v", exec.ID, r)
		}
	}()

	steps := enabledStepsInOrder(ec.Job.Steps)
	if len(steps) == 0 {
		ec.Logf("no enabled steps configured")
		return domain.ExecutionStatusFailed, nil, ErrNoStepsConfigured
	}

	for i, step := range steps {
		if ctxErr := ctx.Err(); ctxErr != nil {
			ec.Logf("execution stopped before step %d: %v", step.OrderIndex, ctxErr)
			return statusForContextError(ctxErr), results, ctxErr
		}

		ec.setStepProgress(i+1, len(steps))

		result := e.runStep(ctx, step, ec)
		results = append(results, result)

		if perr := e.store.InsertStepResult(persistCtx, result); perr != nil {
			log.Printf("engine: execution=%s failed to persist step result: %v", exec.ID, perr)
		}

		if result.Success {
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return statusForContextError(ctxErr), results, ctxErr
		}

		if step.ContinueOnFailure {
			ec.Logf("step %d %q failed, continuing per policy: %s", step.OrderIndex, step.Name, result.ErrorMessage)
			continue
		}

		ec.Logf("step %d %q failed, aborting run: %s", step.OrderIndex, step.Name, result.ErrorMessage)
		return domain.ExecutionStatusFailed, results, errors.New(result.ErrorMessage)
	}

	return domain.ExecutionStatusCompleted, results, nil
}

// Cancel sets the cancellation signal for a running execution. The
// execution observes it at the next step or batch boundary.
func (e *Engine) Cancel(executionID uuid.UUID) error {
	e.mu.Lock()
	cancel, ok := e.cancels[executionID]
	e.mu.Unlock()

	if !ok {
		return ErrExecutionNotFound
	}
	log.Printf("engine: execution=%s cancellation requested", executionID)
	cancel()
	return nil
}

// GetProgress returns the progress snapshot of a running execution.
func (e *Engine) GetProgress(executionID uuid.UUID) (Progress, error) {
	e.mu.Lock()
	ec, ok := e.contexts[executionID]
	e.mu.Unlock()

	if !ok {
		return Progress{}, ErrExecutionNotFound
	}
	return ec.progress(), nil
}

// RunningExecutions returns the ids of executions currently in flight.
func (e *Engine) RunningExecutions() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(e.contexts))
	for id := range e.contexts {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) publish(ctx context.Context, event domain.ExecutionEvent) {
	if e.events != nil {
		e.events.Publish(event)
	}
	if e.analytics != nil {
		e.analytics.Record(ctx, event)
	}
}

func (e *Engine) finishEvents(ctx context.Context, exec domain.JobExecution) {
	var typ domain.EventType
	switch exec.Status {
	case domain.ExecutionStatusCompleted:
		typ = domain.EventJobCompleted
	case domain.ExecutionStatusCancelled:
		typ = domain.EventJobCancelled
	case domain.ExecutionStatusTimeout:
		typ = domain.EventJobTimeout
	default:
		typ = domain.EventJobFailed
	}

	msg := fmt.Sprintf("job %q %s", exec.JobName, exec.Status)
	if exec.ErrorMessage != "" {
		msg += ": " + exec.ErrorMessage
	}

	e.publish(ctx, domain.ExecutionEvent{
		ExecutionID: exec.ID,
		JobID:       exec.JobID,
		Type:        typ,
		Timestamp:   exec.FinishedAt,
		Message:     msg,
	})
}

func enabledStepsInOrder(steps []domain.JobStep) []domain.JobStep {
	out := make([]domain.JobStep, 0, len(steps))
	for _, s := range steps {
		if s.Enabled {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out
}

func statusForContextError(err error) domain.ExecutionStatus {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ExecutionStatusTimeout
	}
	return domain.ExecutionStatusCancelled
}
