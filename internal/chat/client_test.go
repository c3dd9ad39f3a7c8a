package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/streamchat/internal/render"
	"github.com/mattjoyce/streamchat/internal/sse"
)

func writeFrames(t *testing.T, w http.ResponseWriter, events ...sse.Event) {
	t.Helper()
	for _, ev := range events {
		assert.NoError(t, sse.WriteEvent(w, ev))
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestClientStreamDeliversEventsInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/question", r.URL.Path)
		assert.Equal(t, "what now", r.URL.Query().Get("q"))
		assert.Equal(t, "m2", r.URL.Query().Get("model"))
		assert.Empty(t, r.URL.Query().Get("stream"))
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrames(t, w,
			sse.Event{Type: sse.EventStatus, Content: "Thinking"},
			sse.Event{Type: sse.EventToken, Content: "Hi"},
			sse.Event{Type: sse.EventEnd},
		)
	}))
	defer srv.Close()

	var opened bool
	var events []sse.Event
	err := NewClient(srv.URL, nil).Stream(context.Background(), "what now", "m2",
		func() { opened = true },
		func(ev sse.Event) { events = append(events, ev) },
	)
	require.NoError(t, err)
	assert.True(t, opened)
	assert.Equal(t, []sse.Event{
		{Type: sse.EventStatus, Content: "Thinking"},
		{Type: sse.EventToken, Content: "Hi"},
		{Type: sse.EventEnd},
	}, events)
}

func TestClientStreamReportsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"Cannot connect to backend. Is it running?"}`)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, nil).Stream(context.Background(), "q", "", nil, func(sse.Event) {
		t.Fatalf("no events expected")
	})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	assert.Equal(t, "Cannot connect to backend. Is it running?", statusErr.Message)
}

func TestClientAskAndModels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/question", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "false", r.URL.Query().Get("stream"))
		_, _ = io.WriteString(w, `{"answer":"42"}`)
	})
	mux.HandleFunc("/api/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"models":[{"identifier":"x"},{"identifier":"y"}],"default_model":"y"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL+"/", nil)
	answer, err := c.Ask(context.Background(), "life?", "")
	require.NoError(t, err)
	assert.Equal(t, "42", answer)

	catalog, err := c.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, catalog.Identifiers())
	assert.Equal(t, "y", catalog.DefaultModel)
}

func TestReadStatusErrorFallsBackToBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).Ask(context.Background(), "q", "")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, "upstream exploded", statusErr.Message)
}

// loop runs posted callbacks on the test goroutine, like the UI event loop.
type loop struct {
	posts chan func()
}

func newLoop() *loop {
	return &loop{posts: make(chan func(), 64)}
}

func (l *loop) post(fn func()) {
	l.posts <- fn
}

// runUntil executes callbacks until cond holds or the deadline passes.
func (l *loop) runUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case fn := <-l.posts:
			fn()
		case <-deadline:
			t.Fatalf("condition not reached")
		}
	}
}

func (l *loop) drain() {
	for len(l.posts) > 0 {
		(<-l.posts)()
	}
}

func TestRunStopMidStreamFinalizesPartialText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrames(t, w,
			sse.Event{Type: sse.EventToken, Content: "Hello"},
			sse.Event{Type: sse.EventToken, Content: " world"},
		)
		<-r.Context().Done()
	}))
	defer srv.Close()

	h := newHarness(nil)
	s, err := h.ctrl.Submit("greet me")
	require.NoError(t, err)

	l := newLoop()
	done := make(chan struct{})
	go func() {
		Run(NewClient(srv.URL, nil), s, l.post)
		close(done)
	}()

	l.runUntil(t, func() bool { return s.Text() == "Hello world" })
	h.ctrl.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("stream reader did not return after stop")
	}
	l.drain()

	assert.Equal(t, StateStopped, s.State())
	assert.True(t, s.Stopped())
	assert.Empty(t, h.doc.FindAll(render.ElementErrorNotice))
	responses := h.doc.FindAll(render.ElementResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, "Hello world", h.content(t, responses[0]))
	assert.Empty(t, h.doc.FindAll(render.ElementCursor))
}

func TestRunCompletesNaturally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrames(t, w,
			sse.Event{Type: sse.EventToken, Content: "<think>short</think>"},
			sse.Event{Type: sse.EventToken, Content: "Answer"},
			sse.Event{Type: sse.EventEnd},
		)
	}))
	defer srv.Close()

	h := newHarness(nil)
	s, err := h.ctrl.Submit("q")
	require.NoError(t, err)

	l := newLoop()
	go Run(NewClient(srv.URL, nil), s, l.post)
	l.runUntil(t, func() bool { return s.State().Terminal() })

	assert.Equal(t, StateCompleted, s.State())
	assert.Len(t, h.doc.FindAll(render.ElementThinking), 1)
	assert.Len(t, h.doc.FindAll(render.ElementResponse), 1)
}
