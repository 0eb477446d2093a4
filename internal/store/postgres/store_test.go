package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/easy-batch/internal/domain"
	"github.com/djlord-it/easy-batch/internal/engine"
)

func newMockDB(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestGetJob_LoadsStepsAndParameters(t *testing.T) {
	store, mock := newMockDB(t)
	jobID := uuid.New()
	stepID := uuid.New()
	excelID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(queryGetJob).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "mode", "cron_expression", "enabled",
			"timeout_seconds", "max_retry_count", "retry_interval_seconds",
			"created_at", "updated_at",
		}).AddRow(jobID, "nightly-load", "scheduled", "0 2 * * *", true, 3600, 0, 0, now, now))

	mock.ExpectQuery(queryGetJobSteps).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_id", "type", "name", "order_index", "enabled",
			"continue_on_failure", "retry_count", "retry_interval_seconds", "timeout_seconds",
			"excel_config_id", "sql_config_id", "export_target", "wait_seconds", "condition",
		}).AddRow(stepID, jobID, "excel_import", "load", 1, true, false, 2, 30, 600, excelID, nil, nil, 0, nil))

	mock.ExpectQuery(queryGetJobParameters).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "value"}).
			AddRow("load_type", "text", "full"))

	job, err := store.GetJob(context.Background(), jobID)
	require.NoError(t, err)

	assert.Equal(t, "nightly-load", job.Name)
	assert.Equal(t, "0 2 * * *", job.CronExpression)
	require.Len(t, job.Steps, 1)
	assert.Equal(t, domain.StepTypeExcelImport, job.Steps[0].Type)
	assert.Equal(t, excelID, job.Steps[0].ExcelConfigID)
	assert.Equal(t, uuid.Nil, job.Steps[0].SQLConfigID)
	require.Len(t, job.Parameters, 1)
	assert.Equal(t, "full", job.Parameters[0].Value)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJob_NotFound(t *testing.T) {
	store, mock := newMockDB(t)
	jobID := uuid.New()

	mock.ExpectQuery(queryGetJob).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetJob(context.Background(), jobID)
	assert.ErrorIs(t, err, engine.ErrJobNotFound)
}

func TestGetExcelConfig_LoadsMappings(t *testing.T) {
	store, mock := newMockDB(t)
	cfgID := uuid.New()

	mock.ExpectQuery(queryGetExcelConfig).
		WithArgs(cfgID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "file_path", "sheet_name", "target_table",
			"header_row", "skip_empty_rows", "split_merged_cells", "clear_before_load",
		}).AddRow(cfgID, "staff-load", "/data/staff.csv", "Sheet1", "staff", 1, true, true, false))

	mock.ExpectQuery(queryGetFieldMappings).
		WithArgs(cfgID).
		WillReturnRows(sqlmock.NewRows([]string{
			"source_column", "target_field", "target_type", "required", "order_index",
		}).
			AddRow("Name", "name", "text", true, 1).
			AddRow("Age", "age", "integer", false, 2))

	cfg, err := store.GetExcelConfig(context.Background(), cfgID)
	require.NoError(t, err)

	assert.Equal(t, "staff", cfg.TargetTable)
	require.Len(t, cfg.Mappings, 2)
	assert.Equal(t, "name", cfg.Mappings[0].TargetField)
	assert.True(t, cfg.Mappings[0].Required)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateExecution_TerminalGuard(t *testing.T) {
	store, mock := newMockDB(t)
	execID := uuid.New()

	exec := domain.JobExecution{
		ID:         execID,
		Status:     domain.ExecutionStatusCompleted,
		FinishedAt: time.Now().UTC(),
		Duration:   3 * time.Second,
	}

	// Update matches nothing; row exists and is already terminal.
	mock.ExpectExec(queryUpdateExecution).
		WithArgs("completed", exec.FinishedAt, int64(3000), "", execID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(queryGetExecutionStatus).
		WithArgs(execID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))

	err := store.UpdateExecution(context.Background(), exec)
	assert.ErrorIs(t, err, ErrExecutionFinished)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateExecution_NotFound(t *testing.T) {
	store, mock := newMockDB(t)
	execID := uuid.New()

	exec := domain.JobExecution{ID: execID, Status: domain.ExecutionStatusFailed}

	mock.ExpectExec(queryUpdateExecution).
		WithArgs("failed", exec.FinishedAt, int64(0), "", execID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(queryGetExecutionStatus).
		WithArgs(execID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := store.UpdateExecution(context.Background(), exec)
	assert.ErrorIs(t, err, engine.ErrExecutionNotFound)
}

func TestUpdateExecution_Success(t *testing.T) {
	store, mock := newMockDB(t)
	execID := uuid.New()

	exec := domain.JobExecution{
		ID:           execID,
		Status:       domain.ExecutionStatusFailed,
		FinishedAt:   time.Now().UTC(),
		Duration:     1500 * time.Millisecond,
		ErrorMessage: "step 2 failed",
	}

	mock.ExpectExec(queryUpdateExecution).
		WithArgs("failed", exec.FinishedAt, int64(1500), "step 2 failed", execID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateExecution(context.Background(), exec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertStepResult_MarshalsOutputAndLog(t *testing.T) {
	store, mock := newMockDB(t)
	result := domain.StepExecutionResult{
		ID:          uuid.New(),
		ExecutionID: uuid.New(),
		StepID:      uuid.New(),
		StepName:    "load",
		StepType:    domain.StepTypeExcelImport,
		Success:     true,
		StartedAt:   time.Now().UTC(),
		FinishedAt:  time.Now().UTC(),
		Duration:    2 * time.Second,
		RetryCount:  1,
		Output:      map[string]any{"total_rows": 10},
		LogLines:    []string{"imported 10 rows"},
	}

	mock.ExpectExec(queryInsertStepResult).
		WithArgs(result.ID, result.ExecutionID, result.StepID, "load", "excel_import",
			true, result.StartedAt, result.FinishedAt, int64(2000),
			"", 1, []byte(`{"total_rows":10}`), []byte(`["imported 10 rows"]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.InsertStepResult(context.Background(), result))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStaleRunningExecutions(t *testing.T) {
	store, mock := newMockDB(t)
	cutoff := time.Now().Add(-time.Hour)
	execID := uuid.New()
	jobID := uuid.New()
	started := cutoff.Add(-30 * time.Minute)

	mock.ExpectQuery(queryGetStaleRunningExecutions).
		WithArgs(cutoff, 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_id", "job_name", "status", "started_at", "finished_at",
			"duration_ms", "executed_by", "error_message", "created_at",
		}).AddRow(execID, jobID, "nightly-load", "running", started, nil, nil, "scheduler", nil, started))

	execs, err := store.GetStaleRunningExecutions(context.Background(), cutoff, 100)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, execID, execs[0].ID)
	assert.Equal(t, domain.ExecutionStatusRunning, execs[0].Status)
}
