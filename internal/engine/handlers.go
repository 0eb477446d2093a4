package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-batch/internal/domain"
	"github.com/djlord-it/easy-batch/internal/pipeline"
)

// runExcelImportStep resolves the referenced spreadsheet configuration,
// opens its row cursor and hands the rest to the import pipeline. The
// pipeline's row counts become the step output so later steps can read
// them from the variable bag.
func (e *Engine) runExcelImportStep(ctx context.Context, step domain.JobStep, ec *ExecutionContext) (map[string]any, error) {
	if step.ExcelConfigID == uuid.Nil {
		return nil, fmt.Errorf("%w: excel config reference", ErrMissingConfiguration)
	}

	cfg, err := e.store.GetExcelConfig(ctx, step.ExcelConfigID)
	if err != nil {
		return nil, fmt.Errorf("load excel config: %w", err)
	}
	if len(cfg.Mappings) == 0 {
		return nil, fmt.Errorf("%w: excel config %q has no field mappings", ErrMissingConfiguration, cfg.Name)
	}
	if _, err := os.Stat(cfg.FilePath); err != nil {
		return nil, fmt.Errorf("%w: source file %s: %v", ErrMissingConfiguration, cfg.FilePath, err)
	}

	cursor, totalRows, err := e.sources.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer cursor.Close()

	ec.Logf("importing %s into %s (%d known rows)", cfg.FilePath, cfg.TargetTable, totalRows)

	res, err := e.importer.Run(ctx, cursor, pipeline.Config{
		ExecutionID:     ec.ExecutionID,
		JobID:           ec.Job.ID,
		TargetTable:     cfg.TargetTable,
		Mappings:        cfg.Mappings,
		ClearBeforeLoad: cfg.ClearBeforeLoad,
		TotalRows:       totalRows,
	})
	if err != nil {
		return nil, fmt.Errorf("import into %s: %w", cfg.TargetTable, err)
	}

	ec.SetVar("import.total_rows", res.TotalRows)
	ec.SetVar("import.success_rows", res.SuccessRows)
	ec.SetVar("import.failed_rows", res.FailedRows)

	ec.Logf("imported %d/%d rows into %s in %s (%d batches, %d row errors)",
		res.SuccessRows, res.TotalRows, cfg.TargetTable,
		res.Duration.Round(time.Millisecond), res.Batches, res.FailedRows)

	return map[string]any{
		"total_rows":   res.TotalRows,
		"success_rows": res.SuccessRows,
		"failed_rows":  res.FailedRows,
		"batches":      res.Batches,
		"duration_ms":  res.Duration.Milliseconds(),
	}, nil
}

// runSQLExecutionStep resolves the referenced SQL configuration and
// delegates to the SQL executor, guarded by the per-data-source circuit
// breaker when one is attached.
func (e *Engine) runSQLExecutionStep(ctx context.Context, step domain.JobStep, ec *ExecutionContext) (map[string]any, error) {
	if step.SQLConfigID == uuid.Nil {
		return nil, fmt.Errorf("%w: sql config reference", ErrMissingConfiguration)
	}

	cfg, err := e.store.GetSQLConfig(ctx, step.SQLConfigID)
	if err != nil {
		return nil, fmt.Errorf("load sql config: %w", err)
	}
	if strings.TrimSpace(cfg.SQLText) == "" {
		return nil, fmt.Errorf("%w: sql config %q has empty statement", ErrMissingConfiguration, cfg.Name)
	}
	if strings.TrimSpace(cfg.DataSourceName) == "" {
		return nil, fmt.Errorf("%w: sql config %q has no data source", ErrMissingConfiguration, cfg.Name)
	}

	if e.breaker != nil {
		if err := e.breaker.Allow(cfg.DataSourceName); err != nil {
			return nil, fmt.Errorf("data source %s: %w", cfg.DataSourceName, err)
		}
	}

	affected, duration, err := e.sqlExec.Execute(ctx, cfg.SQLText, cfg.DataSourceName)
	if err != nil {
		if e.breaker != nil {
			e.breaker.RecordFailure(cfg.DataSourceName)
		}
		return nil, fmt.Errorf("execute %q against %s: %w", cfg.Name, cfg.DataSourceName, err)
	}
	if e.breaker != nil {
		e.breaker.RecordSuccess(cfg.DataSourceName)
	}

	ec.SetVar("sql.affected_rows", affected)
	ec.Logf("executed %q against %s: %d rows affected in %s",
		cfg.Name, cfg.DataSourceName, affected, duration.Round(time.Millisecond))

	return map[string]any{
		"affected_rows": affected,
		"duration_ms":   duration.Milliseconds(),
	}, nil
}

// runDataExportStep records the export request against its target. The
// export transport itself lives behind the collaborator boundary; here
// we validate the target and surface what was asked for.
func (e *Engine) runDataExportStep(ctx context.Context, step domain.JobStep, ec *ExecutionContext) (map[string]any, error) {
	if strings.TrimSpace(step.ExportTarget) == "" {
		return nil, fmt.Errorf("%w: export target", ErrMissingConfiguration)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ec.Logf("export requested to %s", step.ExportTarget)
	ec.SetVar("export.target", step.ExportTarget)

	return map[string]any{"target": step.ExportTarget}, nil
}

// runWaitStep blocks for the configured number of seconds, waking early
// only on cancellation or timeout.
func (e *Engine) runWaitStep(ctx context.Context, step domain.JobStep, ec *ExecutionContext) (map[string]any, error) {
	d := time.Duration(step.WaitSeconds) * time.Second
	ec.Logf("waiting %s", d)
	if err := sleepCtx(ctx, d); err != nil {
		return nil, err
	}
	return map[string]any{"waited_seconds": step.WaitSeconds}, nil
}

// runConditionStep evaluates "<variable> == <value>" or
// "<variable> != <value>" against the execution's variable bag. A false
// condition is a step failure, so continue-on-failure decides whether
// the run proceeds past it.
func (e *Engine) runConditionStep(ctx context.Context, step domain.JobStep, ec *ExecutionContext) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	variable, op, want, err := parseCondition(step.Condition)
	if err != nil {
		return nil, err
	}

	raw, _ := ec.GetVar(variable)
	got := fmt.Sprintf("%v", raw)

	var pass bool
	switch op {
	case "==":
		pass = got == want
	case "!=":
		pass = got != want
	}

	ec.Logf("condition %q: %s=%q, result=%t", step.Condition, variable, got, pass)
	if !pass {
		return nil, fmt.Errorf("condition %q not met (%s is %q)", step.Condition, variable, got)
	}
	return map[string]any{"condition": step.Condition, "result": true}, nil
}

func parseCondition(expr string) (variable, op, value string, err error) {
	for _, candidate := range []string{"!=", "=="} {
		if idx := strings.Index(expr, candidate); idx >= 0 {
			variable = strings.TrimSpace(expr[:idx])
			value = strings.TrimSpace(expr[idx+len(candidate):])
			if variable == "" {
				return "", "", "", fmt.Errorf("condition %q: empty variable name", expr)
			}
			return variable, candidate, value, nil
		}
	}
	return "", "", "", fmt.Errorf("condition %q: expected <variable> == <value> or <variable> != <value>", expr)
}
