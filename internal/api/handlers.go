package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/streamchat/internal/sse"
	"github.com/mattjoyce/streamchat/internal/upstream"
)

const (
	errMissingQuestion   = `Question parameter "q" is required`
	errUnavailable       = "Cannot connect to backend. Is it running?"
	errInternal          = "Internal server error"
	errStreamInterrupted = "Stream interrupted"
	noResponse           = "No response received"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	FastAPIURL    string `json:"fastapi_url"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// AnswerResponse is returned by GET /api/question?stream=false.
type AnswerResponse struct {
	Answer string `json:"answer"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		FastAPIURL:    s.config.UpstreamURL,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleModels handles GET /api/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.upstream.Models(r.Context())
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, catalog)
}

// handleQuestion handles GET /api/question. The answer is relayed as an SSE
// stream unless stream=false asks for a single JSON answer.
func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := strings.TrimSpace(query.Get("q"))
	if q == "" {
		s.writeError(w, http.StatusBadRequest, errMissingQuestion)
		return
	}
	streaming := query.Get("stream") != "false"
	mode := "stream"
	if !streaming {
		mode = "answer"
	}
	s.metrics.questions.WithLabelValues(mode).Inc()

	s.logger.Info("forwarding question",
		"mode", mode,
		"model", query.Get("model"),
		"chars", len(q),
		"request_id", middleware.GetReqID(r.Context()),
	)

	body, err := s.upstream.Open(r.Context(), upstream.Question{Query: q, Model: query.Get("model")})
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	defer body.Close()

	if streaming {
		s.relay(w, r, body)
		return
	}
	s.answer(w, r, body)
}

// relay copies the upstream SSE bytes to the client, flushing after every
// read. A failure once headers are out is reported as an in-band error frame.
func (s *Server) relay(w http.ResponseWriter, r *http.Request, body io.Reader) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	s.metrics.activeStreams.Inc()
	defer s.metrics.activeStreams.Dec()

	buf := make([]byte, 4096)
	var relayed int64
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				s.logger.Info("client went away", "bytes", relayed, "error", werr)
				return
			}
			relayed += int64(n)
			flush()
		}
		if errors.Is(err, io.EOF) {
			s.logger.Info("stream ended", "bytes", relayed)
			return
		}
		if err != nil {
			if r.Context().Err() != nil {
				s.logger.Info("client cancelled stream", "bytes", relayed)
				return
			}
			s.metrics.upstreamErrors.WithLabelValues("interrupted").Inc()
			s.logger.Error("stream error", "bytes", relayed, "error", err)
			_ = sse.WriteEvent(w, sse.Event{Type: sse.EventError, Content: errStreamInterrupted})
			flush()
			return
		}
	}
}

// answer aggregates the token events of one stream into a single reply.
func (s *Server) answer(w http.ResponseWriter, r *http.Request, body io.Reader) {
	var (
		text    strings.Builder
		blocked *sse.Event
		failed  *sse.Event
	)
	err := sse.Decode(r.Context(), body, s.logger, func(ev sse.Event) {
		if blocked != nil || failed != nil {
			return
		}
		switch ev.Type {
		case sse.EventToken:
			text.WriteString(ev.Content)
		case sse.EventBlocked:
			blocked = &ev
		case sse.EventError:
			failed = &ev
		}
	})

	switch {
	case blocked != nil:
		msg := "Response blocked"
		if blocked.Content != "" {
			msg += ": " + blocked.Content
		}
		s.writeError(w, http.StatusForbidden, msg)
	case failed != nil:
		s.metrics.upstreamErrors.WithLabelValues("in_band").Inc()
		msg := failed.Content
		if msg == "" {
			msg = "Error from backend"
		}
		s.writeError(w, http.StatusBadGateway, msg)
	case err != nil:
		if errors.Is(err, context.Canceled) {
			return
		}
		s.metrics.upstreamErrors.WithLabelValues("interrupted").Inc()
		s.logger.Error("answer stream error", "error", err)
		s.writeError(w, http.StatusBadGateway, errStreamInterrupted)
	case text.Len() == 0:
		respondJSON(w, http.StatusOK, AnswerResponse{Answer: noResponse})
	default:
		respondJSON(w, http.StatusOK, AnswerResponse{Answer: text.String()})
	}
}

// writeUpstreamError maps a failure to reach the backend to a status code.
func (s *Server) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var statusErr *upstream.StatusError
	switch {
	case errors.As(err, &statusErr):
		s.metrics.upstreamErrors.WithLabelValues("status").Inc()
		s.logger.Warn("backend returned error", "status", statusErr.Code, "detail", statusErr.Detail)
		s.writeError(w, statusErr.Code, statusErr.Detail)
	case errors.Is(err, upstream.ErrUnavailable):
		s.metrics.upstreamErrors.WithLabelValues("unavailable").Inc()
		s.logger.Error("backend unavailable", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, errUnavailable)
	case r.Context().Err() != nil:
		s.logger.Info("client cancelled before upstream answered")
	default:
		s.metrics.upstreamErrors.WithLabelValues("internal").Inc()
		s.logger.Error("error calling backend", "error", err)
		s.writeError(w, http.StatusInternalServerError, errInternal)
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
