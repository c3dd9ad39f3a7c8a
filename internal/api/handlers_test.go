package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/streamchat/internal/upstream"
)

type fakeUpstream struct {
	body    string
	failAt  error
	openErr error
	catalog *upstream.Catalog

	asked upstream.Question
}

func (f *fakeUpstream) Open(ctx context.Context, q upstream.Question) (io.ReadCloser, error) {
	f.asked = q
	if f.openErr != nil {
		return nil, f.openErr
	}
	var r io.Reader = strings.NewReader(f.body)
	if f.failAt != nil {
		r = io.MultiReader(r, &failingReader{err: f.failAt})
	}
	return io.NopCloser(r), nil
}

func (f *fakeUpstream) Models(ctx context.Context) (*upstream.Catalog, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.catalog, nil
}

type failingReader struct {
	err error
}

func (f *failingReader) Read(p []byte) (int, error) {
	return 0, f.err
}

func newTestServer(cfg Config, up upstream.Upstream) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, up, logger)
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v (body %q)", err, rr.Body.String())
	}
	return resp.Error
}

func TestHandleHealthReportsBackend(t *testing.T) {
	srv := newTestServer(Config{UpstreamURL: "http://localhost:8000"}, &fakeUpstream{})
	rr := get(t, srv, "/health")

	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", rr.Code, http.StatusOK)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.Status != "ok" || resp.FastAPIURL != "http://localhost:8000" {
		t.Fatalf("unexpected health response %+v", resp)
	}
}

func TestHandleQuestionRequiresQuery(t *testing.T) {
	up := &fakeUpstream{}
	srv := newTestServer(Config{}, up)

	rr := get(t, srv, "/api/question?q=%20%20")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if got := decodeError(t, rr); got != `Question parameter "q" is required` {
		t.Fatalf("error = %q", got)
	}
}

func TestHandleQuestionRelaysStream(t *testing.T) {
	body := "data: {\"type\":\"token\",\"content\":\"Hi\"}\n\ndata: {\"type\":\"end\"}\n\n"
	up := &fakeUpstream{body: body}
	srv := newTestServer(Config{}, up)

	rr := get(t, srv, "/api/question?q=hello&model=m1")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	wantHeaders := map[string]string{
		"Content-Type":      "text/event-stream",
		"Cache-Control":     "no-cache",
		"Connection":        "keep-alive",
		"X-Accel-Buffering": "no",
	}
	for k, v := range wantHeaders {
		if got := rr.Header().Get(k); got != v {
			t.Fatalf("header %s = %q, want %q", k, got, v)
		}
	}
	if rr.Body.String() != body {
		t.Fatalf("relayed body = %q, want %q", rr.Body.String(), body)
	}
	if up.asked.Query != "hello" || up.asked.Model != "m1" {
		t.Fatalf("unexpected forwarded question %+v", up.asked)
	}
	if !rr.Flushed {
		t.Fatalf("expected response to be flushed")
	}
}

func TestHandleQuestionInterruptedStreamEmitsErrorFrame(t *testing.T) {
	up := &fakeUpstream{
		body:   "data: {\"type\":\"token\",\"content\":\"par\"}\n\n",
		failAt: errors.New("connection reset by peer"),
	}
	srv := newTestServer(Config{}, up)

	rr := get(t, srv, "/api/question?q=hello")
	want := "data: {\"type\":\"token\",\"content\":\"par\"}\n\n" +
		"data: {\"type\":\"error\",\"content\":\"Stream interrupted\"}\n\n"
	if rr.Body.String() != want {
		t.Fatalf("body = %q, want %q", rr.Body.String(), want)
	}
}

func TestHandleQuestionMapsUpstreamFailures(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "connection refused",
			err:        fmt.Errorf("%w: dial tcp: connection refused", upstream.ErrUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "Cannot connect to backend. Is it running?",
		},
		{
			name:       "backend status",
			err:        &upstream.StatusError{Code: http.StatusUnprocessableEntity, Detail: "q too long"},
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "q too long",
		},
		{
			name:       "anything else",
			err:        errors.New("tls handshake failure"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Internal server error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(Config{}, &fakeUpstream{openErr: tc.err})
			rr := get(t, srv, "/api/question?q=hello")
			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			if got := decodeError(t, rr); got != tc.wantError {
				t.Fatalf("error = %q, want %q", got, tc.wantError)
			}
		})
	}
}

func TestHandleQuestionNonStreamingAnswer(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		wantStatus int
		wantAnswer string
		wantError  string
	}{
		{
			name:       "tokens joined",
			body:       "data: {\"type\":\"token\",\"content\":\"Hel\"}\n\ndata: {\"type\":\"status\",\"content\":\"x\"}\n\ndata: {\"type\":\"token\",\"content\":\"lo\"}\n\ndata: {\"type\":\"end\"}\n\n",
			wantStatus: http.StatusOK,
			wantAnswer: "Hello",
		},
		{
			name:       "empty",
			body:       "data: {\"type\":\"end\"}\n\n",
			wantStatus: http.StatusOK,
			wantAnswer: "No response received",
		},
		{
			name:       "blocked",
			body:       "data: {\"type\":\"token\",\"content\":\"a\"}\n\ndata: {\"type\":\"blocked\",\"content\":\"policy\"}\n\n",
			wantStatus: http.StatusForbidden,
			wantError:  "Response blocked: policy",
		},
		{
			name:       "in-band error",
			body:       "data: {\"type\":\"error\",\"content\":\"model crashed\"}\n\n",
			wantStatus: http.StatusBadGateway,
			wantError:  "model crashed",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(Config{}, &fakeUpstream{body: tc.body})
			rr := get(t, srv, "/api/question?q=hello&stream=false")
			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			if tc.wantError != "" {
				if got := decodeError(t, rr); got != tc.wantError {
					t.Fatalf("error = %q, want %q", got, tc.wantError)
				}
				return
			}
			var resp AnswerResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode answer: %v", err)
			}
			if resp.Answer != tc.wantAnswer {
				t.Fatalf("answer = %q, want %q", resp.Answer, tc.wantAnswer)
			}
		})
	}
}

func TestHandleModels(t *testing.T) {
	srv := newTestServer(Config{}, &fakeUpstream{catalog: upstream.NewCatalog([]string{"a", "b"}, "b")})
	rr := get(t, srv, "/api/models")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var catalog upstream.Catalog
	if err := json.Unmarshal(rr.Body.Bytes(), &catalog); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if catalog.DefaultModel != "b" || len(catalog.Models) != 2 || catalog.Models[0].Identifier != "a" {
		t.Fatalf("unexpected catalog %+v", catalog)
	}
}

func TestQuestionRateLimit(t *testing.T) {
	srv := newTestServer(Config{RateLimit: 0.001, RateBurst: 1}, &fakeUpstream{body: "data: {\"type\":\"end\"}\n\n"})
	router := srv.setupRoutes()

	do := func() int {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/question?q=hi", nil))
		return rr.Code
	}
	if code := do(); code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", code, http.StatusOK)
	}
	if code := do(); code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", code, http.StatusTooManyRequests)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(Config{}, &fakeUpstream{openErr: upstream.ErrUnavailable})
	router := srv.setupRoutes()

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/question?q=hi", nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`streamchat_questions_total{mode="stream"} 1`,
		`streamchat_upstream_errors_total{reason="unavailable"} 1`,
		`streamchat_active_streams 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestStaticFilesServed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>chat</h1>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	srv := newTestServer(Config{StaticDir: dir}, &fakeUpstream{})

	rr := get(t, srv, "/")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), "<h1>chat</h1>") {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}
