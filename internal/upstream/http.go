package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// HTTPUpstream forwards questions to an HTTP backend that already speaks
// the SSE protocol.
type HTTPUpstream struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPUpstream creates an upstream for baseURL. timeout bounds the wait
// for response headers; an open stream is bounded only by its context.
func NewHTTPUpstream(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPUpstream {
	return &HTTPUpstream{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				ResponseHeaderTimeout: timeout,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		logger: logger,
	}
}

// BaseURL returns the backend address.
func (u *HTTPUpstream) BaseURL() string {
	return u.baseURL
}

// Open sends GET /question and returns the streaming body.
func (u *HTTPUpstream) Open(ctx context.Context, q Question) (io.ReadCloser, error) {
	params := url.Values{"q": {q.Query}}
	if q.Model != "" {
		params.Set("model", q.Model)
	}
	resp, err := u.get(ctx, "/question?"+params.Encode(), "text/event-stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Models sends GET /models.
func (u *HTTPUpstream) Models(ctx context.Context) (*Catalog, error) {
	resp, err := u.get(ctx, "/models", "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var catalog Catalog
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("parse models response: %w", err)
	}
	if catalog.DefaultModel == "" && len(catalog.Models) > 0 {
		catalog.DefaultModel = catalog.Models[0].Identifier
	}
	return &catalog, nil
}

func (u *HTTPUpstream) get(ctx context.Context, path, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &StatusError{Code: resp.StatusCode, Detail: parseDetail(body)}
	}
	return resp, nil
}

// parseDetail extracts the string `detail` field error bodies carry.
func parseDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(payload.Detail, &detail); err == nil && detail != "" {
			return detail
		}
	}
	return "Error from backend"
}
