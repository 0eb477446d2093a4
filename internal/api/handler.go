package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-batch/internal/domain"
	"github.com/djlord-it/easy-batch/internal/engine"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	GetExecution(ctx context.Context, id uuid.UUID) (domain.JobExecution, error)
	ListExecutions(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.JobExecution, error)
	ListStepResults(ctx context.Context, executionID uuid.UUID) ([]domain.StepExecutionResult, error)
}

// Runner is the execution surface the API triggers and inspects.
type Runner interface {
	ExecuteJob(ctx context.Context, jobID uuid.UUID, params []domain.JobParameter, executedBy string) (domain.JobExecutionResult, error)
	Cancel(executionID uuid.UUID) error
	GetProgress(executionID uuid.UUID) (engine.Progress, error)
}

// SchedulerView exposes the scheduler's registry read-only.
type SchedulerView interface {
	GetScheduledEntries() []domain.ScheduledEntry
}

// CronValidator checks cron expressions in validation requests.
type CronValidator interface {
	Validate(expr string) error
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store     Store
	runner    Runner
	scheduler SchedulerView // optional, nil = endpoint disabled
	cron      CronValidator
	db        HealthChecker
}

func NewHandler(store Store, runner Runner, cron CronValidator) *Handler {
	return &Handler{store: store, runner: runner, cron: cron}
}

// WithScheduler exposes the scheduler registry on /scheduler/entries.
func (h *Handler) WithScheduler(s SchedulerView) *Handler {
	h.scheduler = s
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/scheduler/entries" && r.Method == http.MethodGet:
		h.listScheduledEntries(w, r)

	case path == "/jobs/validate" && r.Method == http.MethodPost:
		h.validateJob(w, r)

	case strings.HasSuffix(path, "/run") && r.Method == http.MethodPost:
		h.triggerRun(w, r)

	case strings.HasSuffix(path, "/executions") && r.Method == http.MethodGet:
		h.listExecutions(w, r)

	case strings.HasSuffix(path, "/progress") && r.Method == http.MethodGet:
		h.getProgress(w, r)

	case strings.HasSuffix(path, "/cancel") && r.Method == http.MethodPost:
		h.cancelExecution(w, r)

	case strings.HasPrefix(path, "/executions/") && r.Method == http.MethodGet:
		h.getExecution(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// triggerRun starts a manual execution of /jobs/{id}/run. The run is
// asynchronous: the response only acknowledges acceptance, clients poll
// the execution endpoints for the outcome.
func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobs", "run")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req TriggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	executedBy := req.ExecutedBy
	if executedBy == "" {
		executedBy = "api"
	}

	params := make([]domain.JobParameter, 0, len(req.Parameters))
	for _, p := range req.Parameters {
		typ := p.Type
		if typ == "" {
			typ = "text"
		}
		params = append(params, domain.JobParameter{Name: p.Name, Type: typ, Value: p.Value})
	}

	// Detached from the request context; closing the HTTP connection
	// must not cancel the run.
	go func() {
		if _, err := h.runner.ExecuteJob(context.Background(), jobID, params, executedBy); err != nil {
			log.Printf("api: manual run of job=%s failed to start: %v", jobID, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, TriggerRunResponse{JobID: jobID.String(), Accepted: true})
}

func (h *Handler) getExecution(w http.ResponseWriter, r *http.Request) {
	// Path: /executions/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "executions" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	execID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}

	exec, err := h.store.GetExecution(r.Context(), execID)
	if err != nil {
		if errors.Is(err, engine.ErrExecutionNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		log.Printf("api: get execution error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load execution")
		return
	}

	resp := executionResponse(exec)
	steps, err := h.store.ListStepResults(r.Context(), execID)
	if err != nil {
		log.Printf("api: list step results error: %v", err)
	} else {
		for _, s := range steps {
			resp.Steps = append(resp.Steps, stepResultResponse(s))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobs", "executions")
	if !ok {
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	executions, err := h.store.ListExecutions(r.Context(), jobID, limit, offset)
	if err != nil {
		log.Printf("api: list executions error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	resp := ListExecutionsResponse{Executions: make([]ExecutionResponse, len(executions))}
	for i, exec := range executions {
		resp.Executions[i] = executionResponse(exec)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getProgress(w http.ResponseWriter, r *http.Request) {
	execID, ok := pathID(w, r, "executions", "progress")
	if !ok {
		return
	}

	p, err := h.runner.GetProgress(execID)
	if err != nil {
		if errors.Is(err, engine.ErrExecutionNotFound) {
			writeError(w, http.StatusNotFound, "execution not running")
			return
		}
		log.Printf("api: get progress error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}

	writeJSON(w, http.StatusOK, ProgressResponse{
		ExecutionID: p.ExecutionID.String(),
		CurrentStep: p.CurrentStep,
		TotalSteps:  p.TotalSteps,
		PercentDone: p.PercentDone,
	})
}

func (h *Handler) cancelExecution(w http.ResponseWriter, r *http.Request) {
	execID, ok := pathID(w, r, "executions", "cancel")
	if !ok {
		return
	}

	if err := h.runner.Cancel(execID); err != nil {
		if errors.Is(err, engine.ErrExecutionNotFound) {
			writeError(w, http.StatusNotFound, "execution not running")
			return
		}
		log.Printf("api: cancel execution error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel execution")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listScheduledEntries(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		writeError(w, http.StatusNotFound, "scheduler not running on this instance")
		return
	}

	entries := h.scheduler.GetScheduledEntries()
	resp := ListScheduledEntriesResponse{Entries: make([]ScheduledEntryResponse, len(entries))}
	for i, e := range entries {
		resp.Entries[i] = ScheduledEntryResponse{
			JobID:          e.JobID.String(),
			JobName:        e.JobName,
			CronExpression: e.CronExpression,
			Enabled:        e.Enabled,
			NextRunTime:    formatTime(e.NextRunTime),
			RegisteredAt:   formatTime(e.RegisteredAt),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) validateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req ValidateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	job, err := jobFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	warnings, verr := engine.ValidateJobConfig(job, h.cron)
	resp := ValidateJobResponse{Valid: verr == nil, Warnings: warnings}
	if verr != nil {
		var errs engine.ValidationErrors
		if errors.As(verr, &errs) {
			for _, e := range errs {
				resp.Errors = append(resp.Errors, e.Error())
			}
		} else {
			resp.Errors = []string{verr.Error()}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// pathID extracts the UUID from a /{prefix}/{id}/{suffix} path.
func pathID(w http.ResponseWriter, r *http.Request, prefix, suffix string) (uuid.UUID, bool) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != prefix || parts[2] != suffix {
		writeError(w, http.StatusNotFound, "not found")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
