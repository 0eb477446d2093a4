package postgres

const queryGetJob = `
SELECT id, name, mode, cron_expression, enabled,
       timeout_seconds, max_retry_count, retry_interval_seconds,
       created_at, updated_at
FROM jobs
WHERE id = $1
`

const queryGetJobSteps = `
SELECT id, job_id, type, name, order_index, enabled,
       continue_on_failure, retry_count, retry_interval_seconds, timeout_seconds,
       excel_config_id, sql_config_id, export_target, wait_seconds, condition
FROM job_steps
WHERE job_id = $1
ORDER BY order_index
`

const queryGetJobParameters = `
SELECT name, type, value
FROM job_parameters
WHERE job_id = $1
ORDER BY name
`

const queryListScheduledJobs = `
SELECT id, name, mode, cron_expression, enabled,
       timeout_seconds, max_retry_count, retry_interval_seconds,
       created_at, updated_at
FROM jobs
WHERE mode = 'scheduled'
ORDER BY name
LIMIT $1 OFFSET $2
`

const queryGetExcelConfig = `
SELECT id, name, file_path, sheet_name, target_table,
       header_row, skip_empty_rows, split_merged_cells, clear_before_load
FROM excel_configs
WHERE id = $1
`

const queryGetFieldMappings = `
SELECT source_column, target_field, target_type, required, order_index
FROM field_mappings
WHERE excel_config_id = $1
ORDER BY order_index
`

const queryGetSQLConfig = `
SELECT id, name, sql_text, data_source_name
FROM sql_configs
WHERE id = $1
`

const queryInsertExecution = `
INSERT INTO executions (id, job_id, job_name, status, started_at, executed_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryUpdateExecution = `
UPDATE executions
SET status = $1, finished_at = $2, duration_ms = $3, error_message = $4
WHERE id = $5
  AND status NOT IN ('completed', 'failed', 'cancelled', 'timeout')
`

const queryGetExecutionStatus = `
SELECT status FROM executions WHERE id = $1
`

const queryGetExecution = `
SELECT id, job_id, job_name, status, started_at, finished_at, duration_ms,
       executed_by, error_message, created_at
FROM executions
WHERE id = $1
`

const queryListExecutions = `
SELECT id, job_id, job_name, status, started_at, finished_at, duration_ms,
       executed_by, error_message, created_at
FROM executions
WHERE job_id = $1
ORDER BY started_at DESC
LIMIT $2 OFFSET $3
`

const queryInsertStepResult = `
INSERT INTO step_results (id, execution_id, step_id, step_name, step_type,
                          success, started_at, finished_at, duration_ms,
                          error_message, retry_count, output, log_lines)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

const queryListStepResults = `
SELECT id, execution_id, step_id, step_name, step_type,
       success, started_at, finished_at, duration_ms,
       error_message, retry_count, output, log_lines
FROM step_results
WHERE execution_id = $1
ORDER BY started_at
`

const queryGetStaleRunningExecutions = `
SELECT id, job_id, job_name, status, started_at, finished_at, duration_ms,
       executed_by, error_message, created_at
FROM executions
WHERE status = 'running'
  AND started_at < $1
ORDER BY started_at ASC
LIMIT $2
`
