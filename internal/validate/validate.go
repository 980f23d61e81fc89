// Package validate limits request body size.
//
//	r.Use(validate.MaxBodySize(1 << 20)) // 1MB limit
package validate

import (
	"net/http"

	"github.com/nhalm/taskapi/internal/wrapper"
)

// MaxBodySize returns middleware that rejects bodies larger than maxBytes.
//
// A declared Content-Length above the limit is rejected with 413 before the
// handler runs. Otherwise the body is wrapped with http.MaxBytesReader, so
// chunked or mislabeled bodies fail with *http.MaxBytesError when read; bind.JSON
// turns that into 413.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				if wrapper.HasState(r.Context()) {
					wrapper.SetError(r, wrapper.ErrPayloadTooLarge.With("Request body too large"))
				} else {
					http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				}
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
