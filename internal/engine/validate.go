package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-batch/internal/domain"
)

// ValidationError reports one invalid field on a job or step.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// CronValidator checks a cron expression for parseability.
type CronValidator interface {
	Validate(expr string) error
}

// ValidateJobConfig checks a job and all its steps before persistence.
// It returns nil when valid, ValidationErrors otherwise, and a list of
// non-fatal warnings either way.
func ValidateJobConfig(job domain.JobConfig, cron CronValidator) (warnings []string, err error) {
	var errs ValidationErrors

	if strings.TrimSpace(job.Name) == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "required"})
	}

	switch job.Mode {
	case domain.ExecutionModeManual, domain.ExecutionModeScheduled:
	default:
		errs = append(errs, ValidationError{
			Field:   "mode",
			Message: fmt.Sprintf("must be 'manual' or 'scheduled', got %q", job.Mode),
		})
	}

	if job.Mode == domain.ExecutionModeScheduled {
		if strings.TrimSpace(job.CronExpression) == "" {
			errs = append(errs, ValidationError{
				Field:   "cron_expression",
				Message: "required for scheduled jobs",
			})
		} else if cron != nil {
			if cerr := cron.Validate(job.CronExpression); cerr != nil {
				errs = append(errs, ValidationError{
					Field:   "cron_expression",
					Message: cerr.Error(),
				})
			}
		}
	}

	if job.TimeoutSeconds <= 0 {
		warnings = append(warnings, "timeout_seconds is not positive; executions will run unbounded")
	}

	if len(job.Steps) == 0 {
		errs = append(errs, ValidationError{Field: "steps", Message: "at least one step required"})
	} else {
		errs = append(errs, validateStepOrder(job.Steps)...)
		for i, step := range job.Steps {
			w, serrs := ValidateStepConfig(step)
			warnings = append(warnings, w...)
			for _, se := range serrs {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("steps[%d].%s", i, se.Field),
					Message: se.Message,
				})
			}
		}
	}

	if len(errs) > 0 {
		return warnings, errs
	}
	return warnings, nil
}

// ValidateStepConfig checks one step's type-specific requirements.
func ValidateStepConfig(step domain.JobStep) (warnings []string, errs ValidationErrors) {
	if strings.TrimSpace(step.Name) == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "required"})
	}

	switch step.Type {
	case domain.StepTypeExcelImport:
		if step.ExcelConfigID == uuid.Nil {
			errs = append(errs, ValidationError{Field: "excel_config_id", Message: "required for excel_import steps"})
		}
	case domain.StepTypeSQLExecution:
		if step.SQLConfigID == uuid.Nil {
			errs = append(errs, ValidationError{Field: "sql_config_id", Message: "required for sql_execution steps"})
		}
	case domain.StepTypeDataExport:
		if strings.TrimSpace(step.ExportTarget) == "" {
			errs = append(errs, ValidationError{Field: "export_target", Message: "required for data_export steps"})
		}
	case domain.StepTypeWait:
		if step.WaitSeconds <= 0 {
			errs = append(errs, ValidationError{Field: "wait_seconds", Message: "must be positive"})
		}
	case domain.StepTypeCondition:
		if _, _, _, err := parseCondition(step.Condition); err != nil {
			errs = append(errs, ValidationError{Field: "condition", Message: err.Error()})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "type",
			Message: fmt.Sprintf("unknown step type %q", step.Type),
		})
	}

	if step.RetryCount < 0 {
		errs = append(errs, ValidationError{Field: "retry_count", Message: "must not be negative"})
	}
	if step.RetryCount > 0 && step.RetryIntervalSeconds <= 0 {
		warnings = append(warnings, fmt.Sprintf("step %q retries without an interval; retries will fire back to back", step.Name))
	}
	if step.TimeoutSeconds < 0 {
		warnings = append(warnings, fmt.Sprintf("step %q has a negative timeout; it will be ignored", step.Name))
	}

	return warnings, errs
}

// validateStepOrder enforces that order indexes form a contiguous
// permutation of 1..N, duplicates and gaps both rejected.
func validateStepOrder(steps []domain.JobStep) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[int]bool, len(steps))

	for _, step := range steps {
		if step.OrderIndex < 1 || step.OrderIndex > len(steps) {
			errs = append(errs, ValidationError{
				Field:   "steps",
				Message: fmt.Sprintf("order index %d out of range 1..%d", step.OrderIndex, len(steps)),
			})
			continue
		}
		if seen[step.OrderIndex] {
			errs = append(errs, ValidationError{
				Field:   "steps",
				Message: fmt.Sprintf("duplicate order index %d", step.OrderIndex),
			})
		}
		seen[step.OrderIndex] = true
	}
	return errs
}
