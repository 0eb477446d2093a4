package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                       {}
func (n *NoopSink) TickCompleted(duration time.Duration, jobsFired int, err error)     {}
func (n *NoopSink) TickDrift(drift time.Duration)                                      {}
func (n *NoopSink) ExecutionStarted()                                                  {}
func (n *NoopSink) ExecutionCompleted(status string, duration time.Duration)           {}
func (n *NoopSink) StepCompleted(stepType string, success bool, duration time.Duration) {}
func (n *NoopSink) StepRetry(stepType string)                                          {}
func (n *NoopSink) ExecutionsInFlightIncr()                                            {}
func (n *NoopSink) ExecutionsInFlightDecr()                                            {}
func (n *NoopSink) ImportRows(success, failed int)                                     {}
func (n *NoopSink) BatchWriteCompleted(duration time.Duration, err error)              {}
func (n *NoopSink) QueueDepthUpdate(depth int)                                         {}
func (n *NoopSink) BufferSizeUpdate(size int)                                          {}
func (n *NoopSink) EmitError()                                                         {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                  {}
func (n *NoopSink) LeaderAcquired()                                                    {}
func (n *NoopSink) LeaderLost(reason string)                                           {}

var _ Sink = (*NoopSink)(nil)
