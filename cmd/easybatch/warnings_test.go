package main

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/djlord-it/easy-batch/internal/config"
)

// captureLogOutput calls logConfigWarnings with the given config and
// returns the captured log output as a string.
func captureLogOutput(cfg *config.Config) string {
	var buf bytes.Buffer
	original := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(original)

	logConfigWarnings(cfg)
	return buf.String()
}

func TestLogConfigWarnings_SchedulerWithoutReconciler(t *testing.T) {
	cfg := &config.Config{
		SchedulerEnabled:        true,
		ReconcileEnabled:        false,
		MetricsEnabled:          true,
		CircuitBreakerThreshold: 5,
	}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P0]: RECONCILE_ENABLED=false") {
		t.Error("expected no-reconciler P0 warning, got:", output)
	}
	if strings.Contains(output, "METRICS_ENABLED=false") {
		t.Error("did not expect metrics warning when metrics enabled, got:", output)
	}
	if strings.Contains(output, "CIRCUIT_BREAKER_THRESHOLD=0") {
		t.Error("did not expect breaker warning when breaker enabled, got:", output)
	}
}

func TestLogConfigWarnings_ThresholdCloseToInterval(t *testing.T) {
	cfg := &config.Config{
		SchedulerEnabled:        true,
		ReconcileEnabled:        true,
		ReconcileInterval:       5 * time.Minute,
		ReconcileThreshold:      6 * time.Minute,
		MetricsEnabled:          true,
		CircuitBreakerThreshold: 5,
	}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P2]: RECONCILE_THRESHOLD=6m0s") {
		t.Error("expected tight-threshold P2 warning, got:", output)
	}
	if strings.Contains(output, "WARNING [P0]") {
		t.Error("did not expect P0 warning with reconciler enabled, got:", output)
	}
}

func TestLogConfigWarnings_APIOnlyInstance(t *testing.T) {
	cfg := &config.Config{
		SchedulerEnabled:        false,
		ReconcileEnabled:        false,
		MetricsEnabled:          true,
		CircuitBreakerThreshold: 5,
	}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "INFO: SCHEDULER_ENABLED=false") {
		t.Error("expected api-only INFO, got:", output)
	}
	if strings.Contains(output, "WARNING [P0]") {
		t.Error("did not expect P0 warning when scheduler disabled, got:", output)
	}
}

func TestLogConfigWarnings_CleanProductionConfig(t *testing.T) {
	cfg := &config.Config{
		SchedulerEnabled:        true,
		ReconcileEnabled:        true,
		ReconcileInterval:       5 * time.Minute,
		ReconcileThreshold:      time.Hour,
		MetricsEnabled:          true,
		CircuitBreakerThreshold: 5,
	}
	output := captureLogOutput(cfg)

	if strings.Contains(output, "WARNING") {
		t.Error("expected no warnings for a clean config, got:", output)
	}
}
