// Package api implements the task API's HTTP handlers and router.
//
// Handlers record their results with the wrapper package; the wrapper middleware
// renders them as JSON once the chain returns.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/taskapi/internal/bind"
	"github.com/nhalm/taskapi/internal/health"
	"github.com/nhalm/taskapi/internal/task"
	"github.com/nhalm/taskapi/internal/wrapper"
)

// HealthChecker produces a health report.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// Handler serves the task and health endpoints.
type Handler struct {
	tasks  task.Store
	health HealthChecker
}

// NewHandler creates a Handler. Both dependencies are shared across requests.
func NewHandler(tasks task.Store, checker HealthChecker) *Handler {
	return &Handler{tasks: tasks, health: checker}
}

type listTasksQuery struct {
	Priority task.Priority `query:"priority" validate:"omitempty,oneof=low medium high"`
	Done     *bool         `query:"done"`
}

type createTaskRequest struct {
	Title    string        `json:"title" validate:"required"`
	Priority task.Priority `json:"priority" validate:"omitempty,oneof=low medium high"`
}

type updateTaskRequest struct {
	Done *bool `json:"done" validate:"required"`
}

var errTaskNotFound = wrapper.ErrNotFound.With("Task not found")

// Health reports 200 when both stores answer and 503 otherwise.
func (h *Handler) Health(_ http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	wrapper.SetResponse(r, status, report)
}

// ListTasks returns all tasks, newest first, optionally filtered by
// ?priority= and ?done=.
func (h *Handler) ListTasks(_ http.ResponseWriter, r *http.Request) {
	var q listTasksQuery
	if !bind.Query(r, &q) {
		return
	}

	tasks, err := h.tasks.List(r.Context(), task.Filter{Priority: q.Priority, Done: q.Done})
	if err != nil {
		storeError(r, err)
		return
	}
	wrapper.SetResponse(r, http.StatusOK, tasks)
}

// CreateTask inserts a task. Priority defaults to medium.
func (h *Handler) CreateTask(_ http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !bind.JSON(r, &req) {
		return
	}
	if req.Priority == "" {
		req.Priority = task.DefaultPriority
	}

	t, err := h.tasks.Create(r.Context(), req.Title, req.Priority)
	if err != nil {
		storeError(r, err)
		return
	}
	wrapper.SetResponse(r, http.StatusCreated, t)
}

// UpdateTask sets a task's done flag.
func (h *Handler) UpdateTask(_ http.ResponseWriter, r *http.Request) {
	id, ok := taskID(r)
	if !ok {
		wrapper.SetError(r, errTaskNotFound)
		return
	}

	var req updateTaskRequest
	if !bind.JSON(r, &req) {
		return
	}

	t, err := h.tasks.SetDone(r.Context(), id, *req.Done)
	if err != nil {
		storeError(r, err)
		return
	}
	wrapper.SetResponse(r, http.StatusOK, t)
}

// DeleteTask removes a task and responds 204 with no body.
func (h *Handler) DeleteTask(_ http.ResponseWriter, r *http.Request) {
	id, ok := taskID(r)
	if !ok {
		wrapper.SetError(r, errTaskNotFound)
		return
	}

	if err := h.tasks.Delete(r.Context(), id); err != nil {
		storeError(r, err)
		return
	}
	wrapper.SetResponse(r, http.StatusNoContent, nil)
}

// taskID parses the {id} URL parameter. Ids that cannot exist are reported as
// not found rather than malformed.
func taskID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// storeError maps a store failure to a response. Unexpected errors carry the
// store's message; the router masks it when store errors are not exposed.
func storeError(r *http.Request, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		wrapper.SetError(r, errTaskNotFound)
	case errors.Is(err, task.ErrInvalid):
		wrapper.SetError(r, wrapper.ErrBadRequest.With(err.Error()))
	default:
		wrapper.SetError(r, wrapper.ErrInternal.With(err.Error()))
	}
}
