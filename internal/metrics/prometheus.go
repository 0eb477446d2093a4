package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	ticksTotal      prometheus.Counter
	tickErrorsTotal prometheus.Counter
	jobsFiredTotal  prometheus.Counter
	tickDuration    prometheus.Histogram
	tickDrift       prometheus.Histogram

	// Engine metrics
	executionsStartedTotal   prometheus.Counter
	executionsCompletedTotal *prometheus.CounterVec
	executionDuration        prometheus.Histogram
	stepsCompletedTotal      *prometheus.CounterVec
	stepRetriesTotal         *prometheus.CounterVec
	executionsInFlight       prometheus.Gauge

	// Pipeline metrics
	importRowsTotal    *prometheus.CounterVec
	batchWritesTotal   *prometheus.CounterVec
	batchWriteDuration prometheus.Histogram
	queueDepth         prometheus.Gauge

	// Broker metrics
	bufferSize      prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Leader election metrics
	leaderStatus        prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// Metrics that fail to register keep working locally; they just do not export.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initEngineMetrics(reg)
	s.initPipelineMetrics(reg)
	s.initBrokerMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easybatch_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easybatch_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.jobsFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easybatch_scheduler_jobs_fired_total",
		Help: "Total number of due jobs handed to the execution callback.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easybatch_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easybatch_scheduler_tick_drift_seconds",
		Help:    "Difference between actual tick time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.register(reg, s.ticksTotal, "easybatch_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "easybatch_scheduler_tick_errors_total")
	s.register(reg, s.jobsFiredTotal, "easybatch_scheduler_jobs_fired_total")
	s.register(reg, s.tickDuration, "easybatch_scheduler_tick_duration_seconds")
	s.register(reg, s.tickDrift, "easybatch_scheduler_tick_drift_seconds")
}

func (s *PrometheusSink) initEngineMetrics(reg prometheus.Registerer) {
	s.executionsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easybatch_engine_executions_started_total",
		Help: "Total number of job executions started.",
	})
	s.executionsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easybatch_engine_executions_completed_total",
		Help: "Total number of job executions by terminal status.",
	}, []string{"status"})
	s.executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easybatch_engine_execution_duration_seconds",
		Help:    "End-to-end job execution duration in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800},
	})
	s.stepsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easybatch_engine_steps_completed_total",
		Help: "Total number of step executions by type and outcome.",
	}, []string{"step_type", "outcome"})
	s.stepRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easybatch_engine_step_retries_total",
		Help: "Total number of step retry attempts (excludes first attempt).",
	}, []string{"step_type"})
	s.executionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easybatch_engine_executions_in_flight",
		Help: "Number of job executions currently running.",
	})

	s.register(reg, s.executionsStartedTotal, "easybatch_engine_executions_started_total")
	s.register(reg, s.executionsCompletedTotal, "easybatch_engine_executions_completed_total")
	s.register(reg, s.executionDuration, "easybatch_engine_execution_duration_seconds")
	s.register(reg, s.stepsCompletedTotal, "easybatch_engine_steps_completed_total")
	s.register(reg, s.stepRetriesTotal, "easybatch_engine_step_retries_total")
	s.register(reg, s.executionsInFlight, "easybatch_engine_executions_in_flight")
}

func (s *PrometheusSink) initPipelineMetrics(reg prometheus.Registerer) {
	s.importRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easybatch_pipeline_import_rows_total",
		Help: "Total number of imported rows by outcome.",
	}, []string{"outcome"})
	s.batchWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easybatch_pipeline_batch_writes_total",
		Help: "Total number of batch write operations by outcome.",
	}, []string{"outcome"})
	s.batchWriteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easybatch_pipeline_batch_write_duration_seconds",
		Help:    "Duration of each batch write in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})
	s.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easybatch_pipeline_queue_depth",
		Help: "Current number of rows waiting in the import queue.",
	})

	s.register(reg, s.importRowsTotal, "easybatch_pipeline_import_rows_total")
	s.register(reg, s.batchWritesTotal, "easybatch_pipeline_batch_writes_total")
	s.register(reg, s.batchWriteDuration, "easybatch_pipeline_batch_write_duration_seconds")
	s.register(reg, s.queueDepth, "easybatch_pipeline_queue_depth")
}

func (s *PrometheusSink) initBrokerMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easybatch_broker_buffer_size",
		Help: "Current number of events in the broker tap buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easybatch_broker_emit_errors_total",
		Help: "Total number of events dropped from a full tap buffer.",
	})

	s.register(reg, s.bufferSize, "easybatch_broker_buffer_size")
	s.register(reg, s.emitErrorsTotal, "easybatch_broker_emit_errors_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easybatch_leader_status",
		Help: "1 when this instance holds the leader lock, 0 otherwise.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easybatch_leader_acquired_total",
		Help: "Total number of times this instance acquired leadership.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easybatch_leader_lost_total",
		Help: "Total number of times this instance lost leadership by reason.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "easybatch_leader_status")
	s.register(reg, s.leaderAcquiredTotal, "easybatch_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "easybatch_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, jobsFired int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.jobsFiredTotal.Add(float64(jobsFired))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

// Engine metrics implementation

func (s *PrometheusSink) ExecutionStarted() {
	s.executionsStartedTotal.Inc()
}

func (s *PrometheusSink) ExecutionCompleted(status string, duration time.Duration) {
	s.executionsCompletedTotal.WithLabelValues(status).Inc()
	s.executionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) StepCompleted(stepType string, success bool, duration time.Duration) {
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	s.stepsCompletedTotal.WithLabelValues(stepType, outcome).Inc()
}

func (s *PrometheusSink) StepRetry(stepType string) {
	s.stepRetriesTotal.WithLabelValues(stepType).Inc()
}

func (s *PrometheusSink) ExecutionsInFlightIncr() {
	s.executionsInFlight.Inc()
}

func (s *PrometheusSink) ExecutionsInFlightDecr() {
	s.executionsInFlight.Dec()
}

// Pipeline metrics implementation

func (s *PrometheusSink) ImportRows(success, failed int) {
	if success > 0 {
		s.importRowsTotal.WithLabelValues("success").Add(float64(success))
	}
	if failed > 0 {
		s.importRowsTotal.WithLabelValues("failed").Add(float64(failed))
	}
}

func (s *PrometheusSink) BatchWriteCompleted(duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failed"
	}
	s.batchWritesTotal.WithLabelValues(outcome).Inc()
	s.batchWriteDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) QueueDepthUpdate(depth int) {
	s.queueDepth.Set(float64(depth))
}

// Broker metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
