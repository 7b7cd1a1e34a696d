package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/purpose168/xyops/internal/core"
	logx "github.com/purpose168/xyops/pkg/logx"
)

func TestCallCompletedExchangeIsSuccess(t *testing.T) {
	t.Parallel()
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody.Store(string(buf))
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"ok":false}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(logx.Nop())
	def := &core.WebHookDefinition{Method: "POST", Timeout: 5}
	res := c.Call(context.Background(), def, srv.URL, nil, []byte(`{"job":"j100"}`))

	// a 5xx response is still a completed exchange, not a webhook error
	if res.Code != core.CodeSuccess {
		t.Fatalf("expected success code, got %q (%s)", res.Code, res.Description)
	}
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if got, _ := gotBody.Load().(string); got != `{"job":"j100"}` {
		t.Fatalf("server saw body %q", got)
	}
	for _, want := range []string{"- **Method:** POST", "**Request Body:**", "**Response:** HTTP", "**Performance Metrics:**"} {
		if !strings.Contains(res.Details, want) {
			t.Fatalf("details missing %q:\n%s", want, res.Details)
		}
	}
}

func TestCallTransportFailure(t *testing.T) {
	t.Parallel()
	c := NewClient(logx.Nop())
	def := &core.WebHookDefinition{Method: "GET", Timeout: 1, Retries: 1}
	res := c.Call(context.Background(), def, "http://127.0.0.1:1/unreachable", nil, nil)

	if res.Code != core.CodeWebHook {
		t.Fatalf("expected webhook code, got %q", res.Code)
	}
	if res.Attempts != 2 {
		t.Fatalf("expected 2 attempts (1 retry), got %d", res.Attempts)
	}
	if !strings.Contains(res.Details, "http://127.0.0.1:1/unreachable") {
		t.Fatalf("details should still describe the request:\n%s", res.Details)
	}
}

func TestCallGetStripsBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 {
			t.Error("GET request carried a body")
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(logx.Nop())
	res := c.Call(context.Background(), &core.WebHookDefinition{Method: "get"}, srv.URL, nil, []byte("ignored"))
	if res.Code != core.CodeSuccess {
		t.Fatalf("unexpected failure: %s", res.Description)
	}
}

func TestCallRedirectNotFollowedByDefault(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(logx.Nop())
	res := c.Call(context.Background(), &core.WebHookDefinition{Method: "GET"}, srv.URL, nil, nil)
	if res.StatusCode != http.StatusFound {
		t.Fatalf("expected the redirect response itself, got %d", res.StatusCode)
	}
}

func TestCallSendsHeaders(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "abc123" {
			t.Errorf("missing custom header, got %v", r.Header)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	headers := ParseHeaderLines("X-Api-Key: abc123")
	c := NewClient(logx.Nop())
	res := c.Call(context.Background(), &core.WebHookDefinition{Method: "POST"}, srv.URL, headers, []byte("{}"))
	if res.Code != core.CodeSuccess {
		t.Fatalf("unexpected failure: %s", res.Description)
	}
}

func TestPostJSON(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(logx.Nop())
	status, err := c.PostJSON(context.Background(), srv.URL, map[string]any{"action": "job_error"})
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if !strings.HasPrefix(status, "200") {
		t.Fatalf("status = %q", status)
	}
}
