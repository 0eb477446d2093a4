package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-batch/internal/domain"
	"github.com/djlord-it/easy-batch/internal/engine"
)

// ErrExecutionFinished is returned when an update targets an execution
// that already reached a terminal status.
var ErrExecutionFinished = errors.New("execution already in terminal status")

// Store implements engine.Store and the read queries the API serves,
// backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ engine.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetJob returns a job with its steps and parameters.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (domain.JobConfig, error) {
	var job domain.JobConfig
	var cron sql.NullString

	err := s.db.QueryRowContext(ctx, queryGetJob, jobID).Scan(
		&job.ID,
		&job.Name,
		&job.Mode,
		&cron,
		&job.Enabled,
		&job.TimeoutSeconds,
		&job.MaxRetryCount,
		&job.RetryIntervalSeconds,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return domain.JobConfig{}, engine.ErrJobNotFound
	}
	if err != nil {
		return domain.JobConfig{}, err
	}
	job.CronExpression = cron.String

	job.Steps, err = s.getJobSteps(ctx, jobID)
	if err != nil {
		return domain.JobConfig{}, err
	}
	job.Parameters, err = s.getJobParameters(ctx, jobID)
	if err != nil {
		return domain.JobConfig{}, err
	}
	return job, nil
}

func (s *Store) getJobSteps(ctx context.Context, jobID uuid.UUID) ([]domain.JobStep, error) {
	rows, err := s.db.QueryContext(ctx, queryGetJobSteps, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.JobStep
	for rows.Next() {
		var step domain.JobStep
		var excelID, sqlID uuid.NullUUID
		var exportTarget, condition sql.NullString

		err := rows.Scan(
			&step.ID,
			&step.JobID,
			&step.Type,
			&step.Name,
			&step.OrderIndex,
			&step.Enabled,
			&step.ContinueOnFailure,
			&step.RetryCount,
			&step.RetryIntervalSeconds,
			&step.TimeoutSeconds,
			&excelID,
			&sqlID,
			&exportTarget,
			&step.WaitSeconds,
			&condition,
		)
		if err != nil {
			return nil, err
		}
		step.ExcelConfigID = excelID.UUID
		step.SQLConfigID = sqlID.UUID
		step.ExportTarget = exportTarget.String
		step.Condition = condition.String
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *Store) getJobParameters(ctx context.Context, jobID uuid.UUID) ([]domain.JobParameter, error) {
	rows, err := s.db.QueryContext(ctx, queryGetJobParameters, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []domain.JobParameter
	for rows.Next() {
		var p domain.JobParameter
		if err := rows.Scan(&p.Name, &p.Type, &p.Value); err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, rows.Err()
}

// ListScheduledJobs returns jobs in scheduled mode, paginated by limit
// and offset. Steps are loaded per job; registration needs them for
// validation, not execution.
func (s *Store) ListScheduledJobs(ctx context.Context, limit, offset int) ([]domain.JobConfig, error) {
	rows, err := s.db.QueryContext(ctx, queryListScheduledJobs, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.JobConfig
	for rows.Next() {
		var job domain.JobConfig
		var cron sql.NullString

		err := rows.Scan(
			&job.ID,
			&job.Name,
			&job.Mode,
			&cron,
			&job.Enabled,
			&job.TimeoutSeconds,
			&job.MaxRetryCount,
			&job.RetryIntervalSeconds,
			&job.CreatedAt,
			&job.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		job.CronExpression = cron.String
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetExcelConfig returns an import configuration with its field mappings.
func (s *Store) GetExcelConfig(ctx context.Context, id uuid.UUID) (domain.ExcelConfig, error) {
	var cfg domain.ExcelConfig
	var sheet sql.NullString

	err := s.db.QueryRowContext(ctx, queryGetExcelConfig, id).Scan(
		&cfg.ID,
		&cfg.Name,
		&cfg.FilePath,
		&sheet,
		&cfg.TargetTable,
		&cfg.HeaderRow,
		&cfg.SkipEmptyRows,
		&cfg.SplitMergedCells,
		&cfg.ClearBeforeLoad,
	)
	if err != nil {
		return domain.ExcelConfig{}, err
	}
	cfg.SheetName = sheet.String

	rows, err := s.db.QueryContext(ctx, queryGetFieldMappings, id)
	if err != nil {
		return domain.ExcelConfig{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.FieldMapping
		if err := rows.Scan(&m.SourceColumn, &m.TargetField, &m.TargetType, &m.Required, &m.OrderIndex); err != nil {
			return domain.ExcelConfig{}, err
		}
		cfg.Mappings = append(cfg.Mappings, m)
	}
	return cfg, rows.Err()
}

// GetSQLConfig returns a SQL configuration.
func (s *Store) GetSQLConfig(ctx context.Context, id uuid.UUID) (domain.SQLConfig, error) {
	var cfg domain.SQLConfig
	err := s.db.QueryRowContext(ctx, queryGetSQLConfig, id).Scan(
		&cfg.ID,
		&cfg.Name,
		&cfg.SQLText,
		&cfg.DataSourceName,
	)
	if err != nil {
		return domain.SQLConfig{}, err
	}
	return cfg, nil
}

// InsertExecution inserts a new execution record.
func (s *Store) InsertExecution(ctx context.Context, exec domain.JobExecution) error {
	_, err := s.db.ExecContext(ctx, queryInsertExecution,
		exec.ID,
		exec.JobID,
		exec.JobName,
		string(exec.Status),
		exec.StartedAt,
		exec.ExecutedBy,
		exec.CreatedAt,
	)
	return err
}

// UpdateExecution writes the terminal fields of an execution.
// Returns ErrExecutionFinished if the row is already terminal, so a
// status can never regress out of completed/failed/cancelled/timeout.
// This uses an atomic UPDATE with the guard in the WHERE clause;
// PostgreSQL acquires the row lock before evaluating WHERE, serializing
// concurrent finishers.
func (s *Store) UpdateExecution(ctx context.Context, exec domain.JobExecution) error {
	result, err := s.db.ExecContext(ctx, queryUpdateExecution,
		string(exec.Status),
		exec.FinishedAt,
		exec.Duration.Milliseconds(),
		exec.ErrorMessage,
		exec.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Either the execution does not exist or it is already terminal.
		var currentStatus string
		err := s.db.QueryRowContext(ctx, queryGetExecutionStatus, exec.ID).Scan(&currentStatus)
		if err == sql.ErrNoRows {
			return engine.ErrExecutionNotFound
		}
		if err != nil {
			return err
		}
		return ErrExecutionFinished
	}
	return nil
}

// GetExecution returns one execution record.
func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (domain.JobExecution, error) {
	exec, err := scanExecution(s.db.QueryRowContext(ctx, queryGetExecution, id))
	if err == sql.ErrNoRows {
		return domain.JobExecution{}, engine.ErrExecutionNotFound
	}
	return exec, err
}

// ListExecutions returns a job's execution history, newest first.
func (s *Store) ListExecutions(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.JobExecution, error) {
	rows, err := s.db.QueryContext(ctx, queryListExecutions, jobID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []domain.JobExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// GetStaleRunningExecutions returns executions still marked running that
// started before the cutoff. Used by the reconciler to find runs
// abandoned by a crashed process.
func (s *Store) GetStaleRunningExecutions(ctx context.Context, cutoff time.Time, limit int) ([]domain.JobExecution, error) {
	rows, err := s.db.QueryContext(ctx, queryGetStaleRunningExecutions, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []domain.JobExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (domain.JobExecution, error) {
	var exec domain.JobExecution
	var finished sql.NullTime
	var durationMs sql.NullInt64
	var errMsg sql.NullString

	err := row.Scan(
		&exec.ID,
		&exec.JobID,
		&exec.JobName,
		&exec.Status,
		&exec.StartedAt,
		&finished,
		&durationMs,
		&exec.ExecutedBy,
		&errMsg,
		&exec.CreatedAt,
	)
	if err != nil {
		return domain.JobExecution{}, err
	}
	exec.FinishedAt = finished.Time
	exec.Duration = time.Duration(durationMs.Int64) * time.Millisecond
	exec.ErrorMessage = errMsg.String
	return exec, nil
}

// InsertStepResult appends one step outcome to the execution history.
// Output and log lines are stored as JSON.
func (s *Store) InsertStepResult(ctx context.Context, result domain.StepExecutionResult) error {
	output, err := json.Marshal(result.Output)
	if err != nil {
		return err
	}
	logLines, err := json.Marshal(result.LogLines)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, queryInsertStepResult,
		result.ID,
		result.ExecutionID,
		result.StepID,
		result.StepName,
		string(result.StepType),
		result.Success,
		result.StartedAt,
		result.FinishedAt,
		result.Duration.Milliseconds(),
		result.ErrorMessage,
		result.RetryCount,
		output,
		logLines,
	)
	return err
}

// ListStepResults returns the step outcomes of one execution in start
// order.
func (s *Store) ListStepResults(ctx context.Context, executionID uuid.UUID) ([]domain.StepExecutionResult, error) {
	rows, err := s.db.QueryContext(ctx, queryListStepResults, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.StepExecutionResult
	for rows.Next() {
		var r domain.StepExecutionResult
		var durationMs int64
		var errMsg sql.NullString
		var output, logLines []byte

		err := rows.Scan(
			&r.ID,
			&r.ExecutionID,
			&r.StepID,
			&r.StepName,
			&r.StepType,
			&r.Success,
			&r.StartedAt,
			&r.FinishedAt,
			&durationMs,
			&errMsg,
			&r.RetryCount,
			&output,
			&logLines,
		)
		if err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.ErrorMessage = errMsg.String
		if len(output) > 0 {
			if err := json.Unmarshal(output, &r.Output); err != nil {
				return nil, err
			}
		}
		if len(logLines) > 0 {
			if err := json.Unmarshal(logLines, &r.LogLines); err != nil {
				return nil, err
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
