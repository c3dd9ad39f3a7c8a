package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mattjoyce/streamchat/internal/sse"
	"github.com/mattjoyce/streamchat/internal/upstream"
)

// StatusError is a non-2xx response from the proxy.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// Client talks to the streamchat proxy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a proxy client. Streams are bounded by their context,
// not by a client timeout.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 120 * time.Second,
			},
		},
		logger: logger,
	}
}

// Stream asks question and calls emit for each event in arrival order.
// onOpen runs once the response headers are accepted. A cancelled ctx is
// returned as ctx.Err().
func (c *Client) Stream(ctx context.Context, question, model string, onOpen func(), emit func(sse.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.questionURL(question, model, true), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("connect stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readStatusError(resp)
	}
	if onOpen != nil {
		onOpen()
	}
	return sse.NewDecoder(c.logger).Decode(ctx, resp.Body, emit)
}

// Ask returns the complete answer using the non-streaming endpoint.
func (c *Client) Ask(ctx context.Context, question, model string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.questionURL(question, model, false), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ask: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readStatusError(resp)
	}
	var payload struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode answer: %w", err)
	}
	return payload.Answer, nil
}

// Models fetches the model catalog.
func (c *Client) Models(ctx context.Context) (*upstream.Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readStatusError(resp)
	}
	var catalog upstream.Catalog
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	return &catalog, nil
}

func (c *Client) questionURL(question, model string, stream bool) string {
	q := url.Values{"q": {question}}
	if model != "" {
		q.Set("model", model)
	}
	if !stream {
		q.Set("stream", "false")
	}
	return c.baseURL + "/api/question?" + q.Encode()
}

func readStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = "Failed to get response"
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}
