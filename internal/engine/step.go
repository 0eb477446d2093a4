package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-batch/internal/domain"
)

// stepHandler does the actual work of one step type. It returns the
// structured output to attach to the step result, or the attempt error.
type stepHandler func(ctx context.Context, step domain.JobStep, ec *ExecutionContext) (map[string]any, error)

// runStep drives one step through its attempt chain: run, and on failure
// retry up to step.RetryCount additional times with a fixed interval
// between attempts. Retries are exhausted before continue-on-failure is
// consulted by the caller. A context cancellation or an unsupported step
// type ends the chain immediately, retries remaining or not.
func (e *Engine) runStep(ctx context.Context, step domain.JobStep, ec *ExecutionContext) domain.StepExecutionResult {
	started := e.clock().UTC()
	mark := ec.logMark()

	result := domain.StepExecutionResult{
		ID:          uuid.New(),
		ExecutionID: ec.ExecutionID,
		StepID:      step.ID,
		StepName:    step.Name,
		StepType:    step.Type,
		StartedAt:   started,
	}

	e.publishStepEvent(ec, domain.EventStepStarted,
		fmt.Sprintf("step %d %q started", step.OrderIndex, step.Name))
	ec.Logf("step %d %q (%s) started", step.OrderIndex, step.Name, step.Type)

	handler, ok := e.handlers[step.Type]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnsupportedStepType, step.Type)
		return e.finishStep(ec, step, result, mark, nil, err)
	}

	attempts := step.RetryCount + 1
	var output map[string]any
	var err error

	for attempt := 1; attempt <= attempts; attempt++ {
		output, err = e.runAttempt(ctx, handler, step, ec)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			// The execution is being cancelled or timed out; retrying
			// cannot succeed and would only delay the shutdown.
			break
		}
		if attempt == attempts {
			break
		}

		result.RetryCount = attempt
		ec.Logf("step %d %q attempt %d/%d failed, retrying in %ds: %v",
			step.OrderIndex, step.Name, attempt, attempts, step.RetryIntervalSeconds, err)
		if e.metrics != nil {
			e.metrics.StepRetry(string(step.Type))
		}
		e.publishStepEvent(ec, domain.EventStepRetrying,
			fmt.Sprintf("step %d %q retrying, attempt %d of %d", step.OrderIndex, step.Name, attempt+1, attempts))

		if werr := sleepCtx(ctx, time.Duration(step.RetryIntervalSeconds)*time.Second); werr != nil {
			err = werr
			break
		}
	}

	return e.finishStep(ec, step, result, mark, output, err)
}

// runAttempt runs the handler once under the step's own timeout, if any,
// converting a step-level deadline into a plain error so the rest of the
// job keeps running.
func (e *Engine) runAttempt(ctx context.Context, handler stepHandler, step domain.JobStep, ec *ExecutionContext) (map[string]any, error) {
	attemptCtx := ctx
	if step.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	output, err := handler(attemptCtx, step, ec)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("step timed out after %ds", step.TimeoutSeconds)
	}
	return output, err
}

func (e *Engine) finishStep(ec *ExecutionContext, step domain.JobStep, result domain.StepExecutionResult, mark int, output map[string]any, err error) domain.StepExecutionResult {
	finished := e.clock().UTC()
	result.FinishedAt = finished
	result.Duration = finished.Sub(result.StartedAt)
	result.Output = output
	result.Success = err == nil

	if err == nil {
		ec.Logf("step %d %q succeeded in %s", step.OrderIndex, step.Name, result.Duration.Round(time.Millisecond))
		e.publishStepEvent(ec, domain.EventStepSucceeded,
			fmt.Sprintf("step %d %q succeeded", step.OrderIndex, step.Name))
	} else {
		result.ErrorMessage = err.Error()
		ec.Logf("step %d %q failed after %d retries: %v", step.OrderIndex, step.Name, result.RetryCount, err)
		e.publishStepEvent(ec, domain.EventStepFailed,
			fmt.Sprintf("step %d %q failed: %v", step.OrderIndex, step.Name, err))
		log.Printf("engine: execution=%s step=%q failed retries=%d err=%v",
			ec.ExecutionID, step.Name, result.RetryCount, err)
	}

	result.LogLines = ec.logSince(mark)
	if e.metrics != nil {
		e.metrics.StepCompleted(string(step.Type), result.Success, result.Duration)
	}
	return result
}

func (e *Engine) publishStepEvent(ec *ExecutionContext, typ domain.EventType, msg string) {
	e.publish(context.Background(), domain.ExecutionEvent{
		ExecutionID: ec.ExecutionID,
		JobID:       ec.Job.ID,
		Type:        typ,
		Timestamp:   e.clock().UTC(),
		Message:     msg,
	})
}

// sleepCtx waits for d unless ctx ends first, in which case it returns
// the context error.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
