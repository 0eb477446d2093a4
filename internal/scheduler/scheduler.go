// Package scheduler decides, once per tick, which enabled scheduled jobs
// are due and hands each one to the execution callback exactly once per
// due occurrence.
//
// The scheduler never depends on the execution engine directly: a single
// FireFunc is injected after construction, which breaks the otherwise
// circular dependency between scheduling and execution.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-batch/internal/domain"
)

var (
	ErrAlreadyRunning        = errors.New("scheduler already running")
	ErrNotRunning            = errors.New("scheduler not running")
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrNotRegistered         = errors.New("job not registered")
	ErrJobNotFound           = errors.New("job not found")
)

// State is the scheduler lifecycle state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// CronParser parses cron expressions into schedules.
type CronParser interface {
	Parse(expr string, timezone string) (CronSchedule, error)
}

// CronSchedule computes the next due occurrence after a given time.
type CronSchedule interface {
	Next(after time.Time) time.Time
}

// JobLookup resolves a job id to its current configuration.
// Implementations return ErrJobNotFound (wrapped or not) when absent.
type JobLookup interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (domain.JobConfig, error)
}

// FireFunc is invoked once per due occurrence of a registered job.
// Implementations must not block the tick; long-running work belongs in
// a goroutine owned by the callback side.
type FireFunc func(jobID uuid.UUID, firedBy string)

// MetricsSink records scheduler metrics. Methods must be non-blocking.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, jobsFired int, err error)
	TickDrift(drift time.Duration)
}

type Config struct {
	TickInterval time.Duration
}

type entry struct {
	jobID          uuid.UUID
	jobName        string
	cronExpression string
	schedule       CronSchedule
	enabled        bool
	nextRunTime    time.Time
	registeredAt   time.Time
}

type Scheduler struct {
	config Config
	parser CronParser
	jobs   JobLookup

	mu      sync.Mutex
	state   State
	entries map[uuid.UUID]*entry
	fire    FireFunc

	clock    func() time.Time
	lastTick time.Time
	metrics  MetricsSink // optional, nil = disabled

	cancel context.CancelFunc
	done   chan struct{}
}

func New(config Config, parser CronParser, jobs JobLookup) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Minute
	}
	return &Scheduler{
		config:  config,
		parser:  parser,
		jobs:    jobs,
		state:   StateStopped,
		entries: make(map[uuid.UUID]*entry),
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// SetFireFunc injects the execution callback. Must be called before Start;
// ticks without a callback log a warning and fire nothing.
func (s *Scheduler) SetFireFunc(fn FireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fire = fn
}

// Start launches the tick loop. Returns ErrAlreadyRunning when the
// scheduler is already running or paused.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateRunning
	s.lastTick = s.clock().UTC()

	go s.run(ctx)

	log.Printf("scheduler: started, tick=%s", s.config.TickInterval)
	return nil
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cancel := s.cancel
	done := s.done
	s.state = StateStopped
	s.mu.Unlock()

	cancel()
	<-done

	log.Println("scheduler: stopped")
	return nil
}

// Pause suspends tick processing without canceling the timer.
// Only reachable from Running.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return ErrNotRunning
	}
	s.state = StatePaused
	log.Println("scheduler: paused")
	return nil
}

// Resume re-enables tick processing after Pause.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePaused {
		return ErrNotRunning
	}
	s.state = StateRunning
	log.Println("scheduler: resumed")
	return nil
}

// GetState returns the current lifecycle state.
func (s *Scheduler) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Register parses the cron expression, loads the job's current enabled
// flag, computes the next run time from now, and (re)inserts the entry.
// Idempotent per job id: re-registering replaces the prior entry.
func (s *Scheduler) Register(ctx context.Context, jobID uuid.UUID, cronExpression string) error {
	sched, err := s.parser.Parse(cronExpression, "")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCronExpression, err)
	}

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	now := s.clock().UTC()
	e := &entry{
		jobID:          jobID,
		jobName:        job.Name,
		cronExpression: cronExpression,
		schedule:       sched,
		enabled:        job.Enabled,
		nextRunTime:    sched.Next(now),
		registeredAt:   now,
	}

	s.mu.Lock()
	s.entries[jobID] = e
	s.mu.Unlock()

	log.Printf("scheduler: registered job=%s cron=%q next=%s", jobID, cronExpression, e.nextRunTime.Format(time.RFC3339))
	return nil
}

// Unregister removes the entry. Returns ErrNotRegistered if absent.
func (s *Scheduler) Unregister(jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[jobID]; !ok {
		return ErrNotRegistered
	}
	delete(s.entries, jobID)
	log.Printf("scheduler: unregistered job=%s", jobID)
	return nil
}

// SetEnabled toggles the in-memory entry's enabled flag. NextRunTime is
// untouched so re-enabling does not fire a past-due occurrence early.
func (s *Scheduler) SetEnabled(jobID uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[jobID]
	if !ok {
		return ErrNotRegistered
	}
	e.enabled = enabled
	log.Printf("scheduler: job=%s enabled=%v", jobID, enabled)
	return nil
}

// GetScheduledEntries returns a snapshot of all registered entries.
func (s *Scheduler) GetScheduledEntries() []domain.ScheduledEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.ScheduledEntry, 0, len(s.entries))
	for _, e := range s.entries {
		result = append(result, domain.ScheduledEntry{
			JobID:          e.jobID,
			JobName:        e.jobName,
			CronExpression: e.cronExpression,
			Enabled:        e.enabled,
			NextRunTime:    e.nextRunTime,
			RegisteredAt:   e.registeredAt,
		})
	}
	return result
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.processTick()
		}
	}
}

// processTick fires every due enabled entry and advances its NextRunTime.
// The next run time advances regardless of the callback's outcome, so a
// permanently failing job cannot re-fire every tick.
func (s *Scheduler) processTick() {
	now := s.clock().UTC()

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}

	if s.metrics != nil {
		s.metrics.TickStarted()
		if !s.lastTick.IsZero() {
			s.metrics.TickDrift(now.Sub(s.lastTick) - s.config.TickInterval)
		}
	}
	s.lastTick = now

	fire := s.fire
	if fire == nil {
		// Leave nextRunTime untouched so the occurrence fires once a
		// callback is registered instead of being silently dropped.
		dueCount := 0
		for _, e := range s.entries {
			if e.enabled && !e.nextRunTime.After(now) {
				dueCount++
			}
		}
		s.mu.Unlock()

		if dueCount > 0 {
			log.Printf("scheduler: %d jobs due but no execution callback registered, holding", dueCount)
			if s.metrics != nil {
				s.metrics.TickCompleted(s.clock().UTC().Sub(now), 0, errors.New("no fire callback"))
			}
		} else if s.metrics != nil {
			s.metrics.TickCompleted(s.clock().UTC().Sub(now), 0, nil)
		}
		return
	}

	var due []*entry
	for _, e := range s.entries {
		if e.enabled && !e.nextRunTime.After(now) {
			due = append(due, e)
			e.nextRunTime = e.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	fired := 0
	for _, e := range due {
		s.fireJob(fire, e)
		fired++
	}

	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().UTC().Sub(now), fired, nil)
	}
}

// fireJob invokes the callback for one entry, recovering panics so one
// failing job cannot block others in the same tick.
func (s *Scheduler) fireJob(fire FireFunc, e *entry) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: fire callback panic job=%s: %v", e.jobID, r)
		}
	}()

	log.Printf("scheduler: firing job=%s name=%q", e.jobID, e.jobName)
	fire(e.jobID, "scheduler")
}
