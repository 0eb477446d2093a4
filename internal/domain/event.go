package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventJobStarted     EventType = "job_started"
	EventJobCompleted   EventType = "job_completed"
	EventJobFailed      EventType = "job_failed"
	EventJobCancelled   EventType = "job_cancelled"
	EventJobTimeout     EventType = "job_timeout"
	EventStepStarted    EventType = "step_started"
	EventStepSucceeded  EventType = "step_succeeded"
	EventStepFailed     EventType = "step_failed"
	EventStepRetrying   EventType = "step_retrying"
	EventImportProgress EventType = "import_progress"
)

// ExecutionEvent is a transient notification fanned out to subscribers.
// Events are never persisted.
type ExecutionEvent struct {
	ExecutionID uuid.UUID
	JobID       uuid.UUID
	Type        EventType
	Timestamp   time.Time
	Message     string

	// Progress fields, set for import_progress events.
	Progress *ImportProgress
}

// ImportProgress is a point-in-time snapshot emitted at batch boundaries.
type ImportProgress struct {
	TotalRows      int
	ProcessedRows  int
	SuccessRows    int
	FailedRows     int
	CurrentBatch   int
	TotalBatches   int
	RowsPerSecond  float64
	PercentDone    float64
}
