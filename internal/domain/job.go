package domain

import (
	"time"

	"github.com/google/uuid"
)

type ExecutionMode string

const (
	ExecutionModeManual    ExecutionMode = "manual"
	ExecutionModeScheduled ExecutionMode = "scheduled"
)

type StepType string

const (
	StepTypeExcelImport  StepType = "excel_import"
	StepTypeSQLExecution StepType = "sql_execution"
	StepTypeDataExport   StepType = "data_export"
	StepTypeWait         StepType = "wait"
	StepTypeCondition    StepType = "condition"
)

// JobConfig is a named, ordered sequence of steps, optionally cron-scheduled.
type JobConfig struct {
	ID   uuid.UUID
	Name string

	Mode           ExecutionMode
	CronExpression string // required when Mode == scheduled
	Enabled        bool

	TimeoutSeconds       int
	MaxRetryCount        int
	RetryIntervalSeconds int

	Steps      []JobStep
	Parameters []JobParameter

	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobStep is one unit of work within a job. Steps are replaced wholesale
// on job update, never patched individually.
type JobStep struct {
	ID    uuid.UUID
	JobID uuid.UUID

	Type       StepType
	Name       string
	OrderIndex int
	Enabled    bool

	ContinueOnFailure    bool
	RetryCount           int
	RetryIntervalSeconds int
	TimeoutSeconds       int

	// Type-specific configuration reference.
	ExcelConfigID uuid.UUID // excel_import
	SQLConfigID   uuid.UUID // sql_execution
	ExportTarget  string    // data_export
	WaitSeconds   int       // wait
	Condition     string    // condition: "<variable> == <value>"
}

type JobParameter struct {
	Name  string
	Type  string
	Value string
}
