package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScheduledEntry is the scheduler's in-memory registration for one job.
// It references the job by id only; the entry owns nothing.
type ScheduledEntry struct {
	JobID          uuid.UUID
	JobName        string
	CronExpression string
	Enabled        bool
	NextRunTime    time.Time
	RegisteredAt   time.Time
}
