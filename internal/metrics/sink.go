package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, jobsFired int, err error)
	TickDrift(drift time.Duration)

	// Engine metrics
	ExecutionStarted()
	ExecutionCompleted(status string, duration time.Duration)
	StepCompleted(stepType string, success bool, duration time.Duration)
	StepRetry(stepType string)
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()

	// Import pipeline metrics
	ImportRows(success, failed int)
	BatchWriteCompleted(duration time.Duration, err error)
	QueueDepthUpdate(depth int)

	// Broker metrics
	BufferSizeUpdate(size int)
	EmitError()
}

// Status label values for ExecutionCompleted.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusTimeout   = "timeout"
)
