package domain

import (
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusTimeout   ExecutionStatus = "timeout"
)

// IsTerminal reports whether the status permits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed,
		ExecutionStatusCancelled, ExecutionStatusTimeout:
		return true
	}
	return false
}

// JobExecution records one run attempt of a job.
type JobExecution struct {
	ID      uuid.UUID
	JobID   uuid.UUID
	JobName string

	Status     ExecutionStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration

	ExecutedBy string
	Parameters []JobParameter

	ErrorMessage string
	ErrorDetail  string

	CreatedAt time.Time
}

// StepExecutionResult is the immutable outcome of one step attempt chain.
type StepExecutionResult struct {
	ID          uuid.UUID
	ExecutionID uuid.UUID
	StepID      uuid.UUID
	StepName    string
	StepType    StepType

	Success    bool
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration

	ErrorMessage string
	ErrorDetail  string

	RetryCount int
	Output     map[string]any
	LogLines   []string
}

// JobExecutionResult aggregates a finished run for the caller.
type JobExecutionResult struct {
	ExecutionID uuid.UUID
	JobID       uuid.UUID
	Status      ExecutionStatus
	StartedAt   time.Time
	FinishedAt  time.Time
	Duration    time.Duration
	StepResults []StepExecutionResult
	Error       string
	Log         []string
}
