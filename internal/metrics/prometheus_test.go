package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for k, v := range labels {
				if !hasLabel(m, k, v) {
					continue metric
				}
			}
			switch {
			case m.Counter != nil:
				return m.Counter.GetValue()
			case m.Gauge != nil:
				return m.Gauge.GetValue()
			case m.Histogram != nil:
				return float64(m.Histogram.GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func hasLabel(m *dto.Metric, key, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == key && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestPrometheusSink_SchedulerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.TickStarted()
	s.TickStarted()
	s.TickCompleted(100*time.Millisecond, 3, nil)
	s.TickCompleted(100*time.Millisecond, 2, errors.New("tick failed"))

	if got := gatherValue(t, reg, "easybatch_scheduler_ticks_total", nil); got != 2 {
		t.Errorf("ticks_total = %v, want 2", got)
	}
	if got := gatherValue(t, reg, "easybatch_scheduler_jobs_fired_total", nil); got != 5 {
		t.Errorf("jobs_fired_total = %v, want 5", got)
	}
	if got := gatherValue(t, reg, "easybatch_scheduler_tick_errors_total", nil); got != 1 {
		t.Errorf("tick_errors_total = %v, want 1", got)
	}
}

func TestPrometheusSink_EngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.ExecutionStarted()
	s.ExecutionCompleted(StatusCompleted, time.Second)
	s.ExecutionCompleted(StatusFailed, time.Second)
	s.ExecutionCompleted(StatusFailed, time.Second)
	s.StepCompleted("excel_import", true, time.Second)
	s.StepCompleted("excel_import", false, time.Second)
	s.StepRetry("excel_import")
	s.ExecutionsInFlightIncr()
	s.ExecutionsInFlightIncr()
	s.ExecutionsInFlightDecr()

	if got := gatherValue(t, reg, "easybatch_engine_executions_completed_total", map[string]string{"status": "failed"}); got != 2 {
		t.Errorf("executions_completed{failed} = %v, want 2", got)
	}
	if got := gatherValue(t, reg, "easybatch_engine_steps_completed_total", map[string]string{"step_type": "excel_import", "outcome": "succeeded"}); got != 1 {
		t.Errorf("steps_completed{succeeded} = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "easybatch_engine_step_retries_total", map[string]string{"step_type": "excel_import"}); got != 1 {
		t.Errorf("step_retries = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "easybatch_engine_executions_in_flight", nil); got != 1 {
		t.Errorf("executions_in_flight = %v, want 1", got)
	}
}

func TestPrometheusSink_PipelineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.ImportRows(500, 3)
	s.ImportRows(500, 0)
	s.BatchWriteCompleted(50*time.Millisecond, nil)
	s.BatchWriteCompleted(50*time.Millisecond, errors.New("insert failed"))
	s.QueueDepthUpdate(1200)

	if got := gatherValue(t, reg, "easybatch_pipeline_import_rows_total", map[string]string{"outcome": "success"}); got != 1000 {
		t.Errorf("import_rows{success} = %v, want 1000", got)
	}
	if got := gatherValue(t, reg, "easybatch_pipeline_import_rows_total", map[string]string{"outcome": "failed"}); got != 3 {
		t.Errorf("import_rows{failed} = %v, want 3", got)
	}
	if got := gatherValue(t, reg, "easybatch_pipeline_batch_writes_total", map[string]string{"outcome": "failed"}); got != 1 {
		t.Errorf("batch_writes{failed} = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "easybatch_pipeline_queue_depth", nil); got != 1200 {
		t.Errorf("queue_depth = %v, want 1200", got)
	}
}

func TestPrometheusSink_DuplicateRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()

	// Registering twice against the same registry logs and continues.
	NewPrometheusSink(reg)
	NewPrometheusSink(reg)
}
