package bind_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nhalm/taskapi/internal/bind"
	"github.com/nhalm/taskapi/internal/validate"
	"github.com/nhalm/taskapi/internal/wrapper"
)

type createRequest struct {
	Title    string `json:"title" validate:"required,max=200"`
	Priority string `json:"priority" validate:"omitempty,oneof=low medium high"`
}

type updateRequest struct {
	Done *bool `json:"done" validate:"required"`
}

type listQuery struct {
	Priority string `query:"priority" validate:"omitempty,oneof=low medium high"`
	Done     *bool  `query:"done"`
	Limit    int    `query:"limit" validate:"gte=0,lte=500"`
}

type errorBody struct {
	Error  string               `json:"error"`
	Errors []wrapper.FieldError `json:"errors"`
}

// serve runs fn behind the wrapper middleware and decodes the response body.
func serve(t *testing.T, req *http.Request, fn func(r *http.Request) bool, mws ...func(http.Handler) http.Handler) (*httptest.ResponseRecorder, bool) {
	t.Helper()

	var ok bool
	var h http.Handler = http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ok = fn(r)
		if ok {
			wrapper.SetResponse(r, http.StatusOK, map[string]string{"status": "ok"})
		}
	})
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	h = wrapper.New()(h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, ok
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func TestJSON_ValidRequest(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"title": "Write docs", "priority": "high"}`))

	var got createRequest
	rec, ok := serve(t, req, func(r *http.Request) bool { return bind.JSON(r, &got) })

	if !ok {
		t.Fatalf("expected bind to succeed, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.Title != "Write docs" {
		t.Errorf("expected title 'Write docs', got %q", got.Title)
	}
	if got.Priority != "high" {
		t.Errorf("expected priority 'high', got %q", got.Priority)
	}
}

func TestJSON_MissingRequiredField(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"priority": "low"}`))

	var got createRequest
	rec, ok := serve(t, req, func(r *http.Request) bool { return bind.JSON(r, &got) })

	if ok {
		t.Fatal("expected bind to fail")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}

	body := decodeError(t, rec)
	if body.Error != "title is required" {
		t.Errorf("expected error 'title is required', got %q", body.Error)
	}
	if len(body.Errors) != 1 || body.Errors[0].Param != "title" || body.Errors[0].Code != "required" {
		t.Errorf("unexpected field errors: %+v", body.Errors)
	}
}

func TestJSON_EmptyTitle(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"title": ""}`))

	var got createRequest
	rec, _ := serve(t, req, func(r *http.Request) bool { return bind.JSON(r, &got) })

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "title is required" {
		t.Errorf("expected error 'title is required', got %q", body.Error)
	}
}

func TestJSON_OneOf(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"title": "x", "priority": "urgent"}`))

	var got createRequest
	rec, _ := serve(t, req, func(r *http.Request) bool { return bind.JSON(r, &got) })

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "priority must be one of: low, medium, high" {
		t.Errorf("unexpected error: %q", body.Error)
	}
}

func TestJSON_RequiredPointer(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantOK  bool
		wantErr string
	}{
		{name: "true", body: `{"done": true}`, wantOK: true},
		{name: "false", body: `{"done": false}`, wantOK: true},
		{name: "missing", body: `{}`, wantErr: "done is required"},
		{name: "null", body: `{"done": null}`, wantErr: "done is required"},
		{name: "string", body: `{"done": "yes"}`, wantErr: "done must be a boolean"},
		{name: "number", body: `{"done": 1}`, wantErr: "done must be a boolean"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("PATCH", "/", strings.NewReader(tt.body))

			var got updateRequest
			rec, ok := serve(t, req, func(r *http.Request) bool { return bind.JSON(r, &got) })

			if ok != tt.wantOK {
				t.Fatalf("JSON() = %v, want %v", ok, tt.wantOK)
			}
			if tt.wantOK {
				if got.Done == nil {
					t.Error("expected done to be set")
				}
				return
			}
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rec.Code)
			}
			if body := decodeError(t, rec); body.Error != tt.wantErr {
				t.Errorf("expected error %q, got %q", tt.wantErr, body.Error)
			}
		})
	}
}

func TestJSON_InvalidJSON(t *testing.T) {
	for _, raw := range []string{`{"title": invalid json`, `[1, 2]`, `{"title": `} {
		req := httptest.NewRequest("POST", "/", strings.NewReader(raw))

		var got createRequest
		rec, ok := serve(t, req, func(r *http.Request) bool { return bind.JSON(r, &got) })

		if ok {
			t.Errorf("body %q: expected bind to fail", raw)
			continue
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected status 400, got %d", raw, rec.Code)
		}
		if body := decodeError(t, rec); body.Error != "Invalid JSON request body" {
			t.Errorf("body %q: unexpected error %q", raw, body.Error)
		}
	}
}

func TestJSON_BodyTooLarge(t *testing.T) {
	raw := `{"title": "` + strings.Repeat("a", 200) + `"}`
	req := httptest.NewRequest("POST", "/", strings.NewReader(raw))
	req.ContentLength = -1

	var got createRequest
	rec, ok := serve(t, req, func(r *http.Request) bool { return bind.JSON(r, &got) }, validate.MaxBodySize(64))

	if ok {
		t.Fatal("expected bind to fail")
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status 413, got %d", rec.Code)
	}
}

func TestJSON_WithoutWrapper(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{}`))

	var got createRequest
	if bind.JSON(req, &got) {
		t.Error("expected bind to fail without panicking")
	}
}

func TestJSON_EmptyBody(t *testing.T) {
	for _, body := range []io.Reader{strings.NewReader(""), http.NoBody} {
		req := httptest.NewRequest("POST", "/", body)

		var got createRequest
		rec, ok := serve(t, req, func(r *http.Request) bool { return bind.JSON(r, &got) })

		if ok {
			t.Fatal("expected bind to fail")
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
		if got := decodeError(t, rec); got.Error != "title is required" {
			t.Errorf("expected empty body to validate as {}, got error %q", got.Error)
		}
	}
}

func TestQuery(t *testing.T) {
	tests := []struct {
		name         string
		url          string
		wantOK       bool
		wantPriority string
		wantDone     *bool
		wantLimit    int
	}{
		{name: "empty", url: "/", wantOK: true},
		{name: "all fields", url: "/?priority=high&done=true&limit=20", wantOK: true, wantPriority: "high", wantDone: ptr(true), wantLimit: 20},
		{name: "done false", url: "/?done=false", wantOK: true, wantDone: ptr(false)},
		{name: "bad bool", url: "/?done=maybe"},
		{name: "bad int", url: "/?limit=ten"},
		{name: "bad enum", url: "/?priority=urgent"},
		{name: "out of range", url: "/?limit=1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.url, http.NoBody)

			var got listQuery
			rec, ok := serve(t, req, func(r *http.Request) bool { return bind.Query(r, &got) })

			if ok != tt.wantOK {
				t.Fatalf("Query() = %v, want %v (%s)", ok, tt.wantOK, rec.Body.String())
			}
			if !tt.wantOK {
				if rec.Code != http.StatusBadRequest {
					t.Errorf("expected status 400, got %d", rec.Code)
				}
				return
			}
			if got.Priority != tt.wantPriority {
				t.Errorf("priority = %q, want %q", got.Priority, tt.wantPriority)
			}
			if (got.Done == nil) != (tt.wantDone == nil) || (got.Done != nil && *got.Done != *tt.wantDone) {
				t.Errorf("done = %v, want %v", got.Done, tt.wantDone)
			}
			if got.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", got.Limit, tt.wantLimit)
			}
		})
	}
}

func TestQuery_NonPointer(t *testing.T) {
	req := httptest.NewRequest("GET", "/?priority=high", http.NoBody)

	var got listQuery
	if bind.Query(req, got) {
		t.Error("expected Query to reject a non-pointer destination")
	}
}

func ptr[T any](v T) *T { return &v }
