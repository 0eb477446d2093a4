package api

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-batch/internal/domain"
)

// jobFromRequest converts a validation request into a domain job. Only
// malformed UUIDs fail here; semantic checks belong to the engine's
// validation.
func jobFromRequest(req ValidateJobRequest) (domain.JobConfig, error) {
	job := domain.JobConfig{
		ID:             uuid.New(),
		Name:           req.Name,
		Mode:           domain.ExecutionMode(req.Mode),
		CronExpression: req.CronExpression,
		Enabled:        true,
		TimeoutSeconds: req.TimeoutSeconds,
	}
	if req.Mode == "" {
		job.Mode = domain.ExecutionModeManual
	}

	for i, s := range req.Steps {
		step := domain.JobStep{
			ID:                   uuid.New(),
			JobID:                job.ID,
			Type:                 domain.StepType(s.Type),
			Name:                 s.Name,
			OrderIndex:           s.OrderIndex,
			Enabled:              true,
			ContinueOnFailure:    s.ContinueOnFailure,
			RetryCount:           s.RetryCount,
			RetryIntervalSeconds: s.RetryIntervalSecs,
			TimeoutSeconds:       s.TimeoutSeconds,
			ExportTarget:         s.ExportTarget,
			WaitSeconds:          s.WaitSeconds,
			Condition:            s.Condition,
		}

		if s.ExcelConfigID != "" {
			id, err := uuid.Parse(s.ExcelConfigID)
			if err != nil {
				return domain.JobConfig{}, fmt.Errorf("steps[%d]: invalid excel_config_id", i)
			}
			step.ExcelConfigID = id
		}
		if s.SQLConfigID != "" {
			id, err := uuid.Parse(s.SQLConfigID)
			if err != nil {
				return domain.JobConfig{}, fmt.Errorf("steps[%d]: invalid sql_config_id", i)
			}
			step.SQLConfigID = id
		}

		job.Steps = append(job.Steps, step)
	}

	return job, nil
}
