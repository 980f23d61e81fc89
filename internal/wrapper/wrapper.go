// Package wrapper provides context-based response handling for the task API.
//
// Handlers and middleware set responses and errors in request context rather than
// writing directly to the ResponseWriter. The outermost wrapper middleware renders
// whatever was recorded once the chain returns. This gives:
//   - One JSON error shape for every failure: {"error": "<message>"}
//   - Field-level details for validation failures under "errors"
//   - Panic recovery with a safe 500 response
//   - Optional canonical logging via canonlog integration
//   - Optional SLO tracking with PASS/FAIL status
//
// Basic usage:
//
//	r := chi.NewRouter()
//	r.Use(wrapper.New()) // Outermost middleware
//
//	r.Post("/tasks", func(w http.ResponseWriter, r *http.Request) {
//	    t, err := store.Create(r.Context(), title, priority)
//	    if err != nil {
//	        wrapper.SetError(r, wrapper.ErrInternal.With(err.Error()))
//	        return
//	    }
//	    wrapper.SetResponse(r, http.StatusCreated, t)
//	})
package wrapper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/canonlog"
	"github.com/nhalm/taskapi/internal/slo"
)

type contextKey string

const stateKey contextKey = "wrapper_state"

// State holds the response state for a request.
type State struct {
	mu      sync.Mutex
	err     *Error
	status  int
	body    any
	headers http.Header
}

// Error is a structured API error. Type and Code classify the failure for logs;
// only Message (and field errors) reach the client.
type Error struct {
	Type    string
	Code    string
	Message string
	Param   string
	Errors  []FieldError
	Status  int
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Param   string `json:"param"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error  string       `json:"error"`
	Errors []FieldError `json:"errors,omitempty"`
}

var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is implements errors.Is for comparing error types.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// With returns a copy of the error with a custom message.
func (e *Error) With(message string) *Error {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Message = message
	return &dup
}

// WithParam returns a copy of the error with a custom message and parameter.
func (e *Error) WithParam(message, param string) *Error {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Message = message
	dup.Param = param
	return &dup
}

// Predefined sentinel errors
var (
	ErrBadRequest         = &Error{Type: "request_error", Code: "bad_request", Message: "Bad request", Status: http.StatusBadRequest}
	ErrNotFound           = &Error{Type: "not_found", Code: "resource_not_found", Message: "Resource not found", Status: http.StatusNotFound}
	ErrMethodNotAllowed   = &Error{Type: "request_error", Code: "method_not_allowed", Message: "Method not allowed", Status: http.StatusMethodNotAllowed}
	ErrPayloadTooLarge    = &Error{Type: "request_error", Code: "payload_too_large", Message: "Payload too large", Status: http.StatusRequestEntityTooLarge}
	ErrRateLimited        = &Error{Type: "rate_limit_error", Code: "limit_exceeded", Message: "Too many requests, please try again later.", Status: http.StatusTooManyRequests}
	ErrInternal           = &Error{Type: "internal_error", Code: "internal", Message: "Internal server error", Status: http.StatusInternalServerError}
	ErrServiceUnavailable = &Error{Type: "internal_error", Code: "service_unavailable", Message: "Service unavailable", Status: http.StatusServiceUnavailable}
)

// NewValidationError creates a validation error with multiple field errors.
// The message names the first failing field, e.g. "title is required".
func NewValidationError(errors []FieldError) *Error {
	message := "Validation failed"
	if len(errors) > 0 && errors[0].Param != "" {
		message = errors[0].Param + " " + errors[0].Message
	}
	return &Error{
		Type:    "validation_error",
		Code:    "invalid_request",
		Message: message,
		Errors:  errors,
		Status:  http.StatusBadRequest,
	}
}

// SetError sets an error response in the request context.
// If wrapper middleware is not present (state is nil), this is a no-op.
// Use HasState() to check if wrapper middleware is active.
func SetError(r *http.Request, err *Error) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.err = err
}

// SetResponse sets a success response in the request context.
// If wrapper middleware is not present (state is nil), this is a no-op.
func SetResponse(r *http.Request, status int, body any) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.status = status
	state.body = body
}

// SetHeader sets a response header in the request context.
// If wrapper middleware is not present (state is nil), this is a no-op.
func SetHeader(r *http.Request, key, value string) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.headers == nil {
		state.headers = make(http.Header)
	}
	state.headers.Set(key, value)
}

// HasState returns true if wrapper state exists in the context.
func HasState(ctx context.Context) bool {
	return getState(ctx) != nil
}

func getState(ctx context.Context) *State {
	state, _ := ctx.Value(stateKey).(*State)
	return state
}

// Option configures the wrapper middleware.
type Option func(*config)

type config struct {
	canonlog       bool
	canonlogFields func(*http.Request) map[string]any
	slosEnabled    bool
}

// WithCanonlog enables canonical logging for requests.
// Logs method, path, route, status, and duration_ms for each request.
// Errors set via SetError are automatically logged.
func WithCanonlog() Option {
	return func(c *config) {
		c.canonlog = true
	}
}

// WithCanonlogFields adds custom fields to each log entry.
// Called at request start, before the handler executes.
func WithCanonlogFields(fn func(*http.Request) map[string]any) Option {
	return func(c *config) {
		c.canonlogFields = fn
	}
}

// WithSLOs enables SLO status logging. Requires WithCanonlog().
func WithSLOs() Option {
	return func(c *config) {
		c.slosEnabled = true
	}
}

// New returns middleware that manages response state and writes responses.
func New(opts ...Option) func(http.Handler) http.Handler {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := &State{}
			ctx := context.WithValue(r.Context(), stateKey, state)

			var start time.Time
			if cfg.canonlog {
				ctx = canonlog.NewContext(ctx)
				start = time.Now()

				canonlog.InfoAddMany(ctx, map[string]any{
					"method": r.Method,
					"path":   r.URL.Path,
				})

				if cfg.canonlogFields != nil {
					canonlog.InfoAddMany(ctx, cfg.canonlogFields(r))
				}
			}

			r = r.WithContext(ctx)

			defer func() {
				if rec := recover(); rec != nil {
					state.mu.Lock()
					state.err = ErrInternal
					state.mu.Unlock()

					if cfg.canonlog {
						canonlog.ErrorAdd(ctx, fmt.Errorf("panic: %v", rec))
					}
				}

				if cfg.canonlog {
					logRequest(ctx, r, state, start, cfg.slosEnabled)
				}

				writeResponse(w, state)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func logRequest(ctx context.Context, r *http.Request, state *State, start time.Time, slos bool) {
	state.mu.Lock()
	status := state.status
	if status == 0 {
		status = http.StatusOK
	}
	if state.err != nil {
		status = state.err.Status
		canonlog.ErrorAdd(ctx, state.err)
		canonlog.InfoAdd(ctx, "error_code", state.err.Code)
	}
	state.mu.Unlock()

	duration := time.Since(start)

	route := r.URL.Path
	if rctx := chi.RouteContext(ctx); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			route = pattern
		}
	}

	canonlog.InfoAddMany(ctx, map[string]any{
		"route":       route,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})

	if slos {
		if tier, target, ok := slo.GetTier(ctx); ok {
			sloStatus := "PASS"
			if duration > target {
				sloStatus = "FAIL"
			}
			canonlog.InfoAdd(ctx, "slo_class", string(tier))
			canonlog.InfoAdd(ctx, "slo_status", sloStatus)
		}
	}

	canonlog.Flush(ctx)
}

func writeResponse(w http.ResponseWriter, state *State) {
	state.mu.Lock()
	defer state.mu.Unlock()

	for key, values := range state.headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	if state.err != nil {
		writeJSON(w, state.err.Status, errorResponse{Error: state.err.Message, Errors: state.err.Errors})
		return
	}

	if state.body != nil {
		writeJSON(w, state.status, state.body)
		return
	}

	if state.status != 0 {
		w.WriteHeader(state.status)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal server error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
