// Package sanitize provides middleware that keeps internal details out of error
// responses.
//
// It sits outside the wrapper middleware and buffers every 4xx/5xx body. Server
// errors have their "error" and "message" fields replaced with a generic message;
// client errors keep their body with stack traces and file paths stripped.
//
//	r.Use(sanitize.New())
//	r.Use(wrapper.New())
package sanitize

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

var (
	stackTracePattern = regexp.MustCompile(`(?m)^\s*at\s+.*$|^\s*goroutine\s+\d+.*$|^\s*\S+\.go:\d+.*$`)
	filePathPattern   = regexp.MustCompile(`(/[a-zA-Z0-9_\-./]+\.go:\d+)|([A-Z]:\\[a-zA-Z0-9_\-\\./]+\.go:\d+)`)
)

// replacementMsg is the masked message for 500 responses. Other 5xx statuses use
// http.StatusText.
const replacementMsg = "Internal server error"

// maskedFields are the JSON object fields that carry error text.
var maskedFields = []string{"error", "message"}

// New returns the sanitizing middleware.
func New() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &sanitizeWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			defer sw.finish()
			next.ServeHTTP(sw, r)
		})
	}
}

type sanitizeWriter struct {
	http.ResponseWriter
	buf         bytes.Buffer
	statusCode  int
	wroteHeader bool
	buffering   bool
}

func (sw *sanitizeWriter) WriteHeader(code int) {
	if sw.wroteHeader {
		return
	}
	sw.statusCode = code
	sw.wroteHeader = true
	sw.buffering = code >= http.StatusBadRequest
	if !sw.buffering {
		sw.ResponseWriter.WriteHeader(code)
	}
}

func (sw *sanitizeWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.WriteHeader(http.StatusOK)
	}
	if !sw.buffering {
		return sw.ResponseWriter.Write(b)
	}
	return sw.buf.Write(b)
}

// Flush is a no-op while an error body is being buffered.
func (sw *sanitizeWriter) Flush() {
	if sw.buffering {
		return
	}
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *sanitizeWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("sanitize: underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}

func (sw *sanitizeWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

func (sw *sanitizeWriter) finish() {
	if !sw.buffering {
		return
	}

	var body []byte
	if sw.statusCode >= http.StatusInternalServerError {
		body = sw.mask()
	} else {
		body = sw.strip()
	}

	h := sw.ResponseWriter.Header()
	if h.Get("Content-Length") != "" {
		h.Set("Content-Length", strconv.Itoa(len(body)))
	}
	sw.ResponseWriter.WriteHeader(sw.statusCode)
	sw.ResponseWriter.Write(body)
}

// mask replaces the error text of a 5xx body. A JSON object keeps its shape with
// its error and message fields overwritten; anything else becomes
// {"error": "<message>"}.
func (sw *sanitizeWriter) mask() []byte {
	msg := http.StatusText(sw.statusCode)
	if sw.statusCode == http.StatusInternalServerError {
		msg = replacementMsg
	}

	obj := map[string]any{}
	if err := json.Unmarshal(sw.buf.Bytes(), &obj); err != nil || obj == nil {
		obj = map[string]any{}
	}
	masked := false
	for _, field := range maskedFields {
		if _, ok := obj[field]; ok {
			obj[field] = msg
			masked = true
		}
	}
	if !masked {
		obj["error"] = msg
	}

	sw.ResponseWriter.Header().Set("Content-Type", "application/json")
	body, _ := json.Marshal(obj)
	return append(body, '\n')
}

func (sw *sanitizeWriter) strip() []byte {
	body := sw.buf.String()

	body = stackTracePattern.ReplaceAllString(body, "")
	body = filePathPattern.ReplaceAllString(body, "[redacted]")

	body = strings.TrimSpace(body)
	if body == "" {
		body = http.StatusText(sw.statusCode)
	}
	return []byte(body)
}
