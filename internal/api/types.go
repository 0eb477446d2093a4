package api

import (
	"time"

	"github.com/djlord-it/easy-batch/internal/domain"
)

type TriggerRunRequest struct {
	ExecutedBy string             `json:"executed_by,omitempty"` // default "api"
	Parameters []ParameterRequest `json:"parameters,omitempty"`
}

type ParameterRequest struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"` // default "text"
	Value string `json:"value"`
}

type TriggerRunResponse struct {
	JobID    string `json:"job_id"`
	Accepted bool   `json:"accepted"`
}

type ExecutionResponse struct {
	ID           string               `json:"id"`
	JobID        string               `json:"job_id"`
	JobName      string               `json:"job_name"`
	Status       string               `json:"status"`
	StartedAt    string               `json:"started_at"`
	FinishedAt   string               `json:"finished_at,omitempty"`
	DurationMs   int64                `json:"duration_ms"`
	ExecutedBy   string               `json:"executed_by"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Steps        []StepResultResponse `json:"steps,omitempty"`
}

type StepResultResponse struct {
	StepName     string         `json:"step_name"`
	StepType     string         `json:"step_type"`
	Success      bool           `json:"success"`
	DurationMs   int64          `json:"duration_ms"`
	RetryCount   int            `json:"retry_count"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
}

type ProgressResponse struct {
	ExecutionID string  `json:"execution_id"`
	CurrentStep int     `json:"current_step"`
	TotalSteps  int     `json:"total_steps"`
	PercentDone float64 `json:"percent_done"`
}

type ScheduledEntryResponse struct {
	JobID          string `json:"job_id"`
	JobName        string `json:"job_name"`
	CronExpression string `json:"cron_expression"`
	Enabled        bool   `json:"enabled"`
	NextRunTime    string `json:"next_run_time"`
	RegisteredAt   string `json:"registered_at"`
}

type ListExecutionsResponse struct {
	Executions []ExecutionResponse `json:"executions"`
}

type ListScheduledEntriesResponse struct {
	Entries []ScheduledEntryResponse `json:"entries"`
}

// ValidateJobRequest mirrors a job configuration for pre-persistence
// validation.
type ValidateJobRequest struct {
	Name           string             `json:"name"`
	Mode           string             `json:"mode"`
	CronExpression string             `json:"cron_expression,omitempty"`
	TimeoutSeconds int                `json:"timeout_seconds,omitempty"`
	Steps          []ValidateStepItem `json:"steps"`
}

type ValidateStepItem struct {
	Type              string `json:"type"`
	Name              string `json:"name"`
	OrderIndex        int    `json:"order_index"`
	ContinueOnFailure bool   `json:"continue_on_failure,omitempty"`
	RetryCount        int    `json:"retry_count,omitempty"`
	RetryIntervalSecs int    `json:"retry_interval_seconds,omitempty"`
	TimeoutSeconds    int    `json:"timeout_seconds,omitempty"`
	ExcelConfigID     string `json:"excel_config_id,omitempty"`
	SQLConfigID       string `json:"sql_config_id,omitempty"`
	ExportTarget      string `json:"export_target,omitempty"`
	WaitSeconds       int    `json:"wait_seconds,omitempty"`
	Condition         string `json:"condition,omitempty"`
}

type ValidateJobResponse struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func executionResponse(exec domain.JobExecution) ExecutionResponse {
	resp := ExecutionResponse{
		ID:           exec.ID.String(),
		JobID:        exec.JobID.String(),
		JobName:      exec.JobName,
		Status:       string(exec.Status),
		StartedAt:    formatTime(exec.StartedAt),
		DurationMs:   exec.Duration.Milliseconds(),
		ExecutedBy:   exec.ExecutedBy,
		ErrorMessage: exec.ErrorMessage,
	}
	if !exec.FinishedAt.IsZero() {
		resp.FinishedAt = formatTime(exec.FinishedAt)
	}
	return resp
}

func stepResultResponse(r domain.StepExecutionResult) StepResultResponse {
	return StepResultResponse{
		StepName:     r.StepName,
		StepType:     string(r.StepType),
		Success:      r.Success,
		DurationMs:   r.Duration.Milliseconds(),
		RetryCount:   r.RetryCount,
		ErrorMessage: r.ErrorMessage,
		Output:       r.Output,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
