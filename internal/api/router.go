package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nhalm/taskapi/internal/ratelimit"
	"github.com/nhalm/taskapi/internal/sanitize"
	"github.com/nhalm/taskapi/internal/slo"
	"github.com/nhalm/taskapi/internal/validate"
	"github.com/nhalm/taskapi/internal/wrapper"
)

// RouterConfig holds the cross-cutting pieces of the request pipeline.
type RouterConfig struct {
	// Limiter gates every /api route. Nil disables rate limiting.
	Limiter *ratelimit.Limiter

	// MaxBodyBytes caps request bodies on /api routes.
	MaxBodyBytes int64

	// ExposeStoreErrors returns store error messages in 5xx bodies. When false,
	// the error and message fields of 5xx bodies are replaced with a generic
	// message and the rest of the body is kept.
	ExposeStoreErrors bool
}

// NewRouter builds the HTTP handler:
//
//	request ID -> [sanitize] -> wrapper -> rate limit -> body limit -> handler
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if !cfg.ExposeStoreErrors {
		r.Use(sanitize.New())
	}
	r.Use(wrapper.New(
		wrapper.WithCanonlog(),
		wrapper.WithCanonlogFields(func(r *http.Request) map[string]any {
			return map[string]any{
				"request_id": middleware.GetReqID(r.Context()),
			}
		}),
		wrapper.WithSLOs(),
	))

	r.NotFound(func(_ http.ResponseWriter, r *http.Request) {
		wrapper.SetError(r, wrapper.ErrNotFound)
	})
	r.MethodNotAllowed(func(_ http.ResponseWriter, r *http.Request) {
		wrapper.SetError(r, wrapper.ErrMethodNotAllowed)
	})

	r.Route("/api", func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Handler)
		}
		if cfg.MaxBodyBytes > 0 {
			r.Use(validate.MaxBodySize(cfg.MaxBodyBytes))
		}

		r.With(slo.Track(slo.Probe)).Get("/health", h.Health)

		r.Route("/tasks", func(r chi.Router) {
			r.With(slo.Track(slo.Read)).Get("/", h.ListTasks)
			r.With(slo.Track(slo.Write)).Post("/", h.CreateTask)
			r.With(slo.Track(slo.Write)).Patch("/{id}", h.UpdateTask)
			r.With(slo.Track(slo.Write)).Delete("/{id}", h.DeleteTask)
		})
	})

	return r
}
