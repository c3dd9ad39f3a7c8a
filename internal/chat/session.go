// Package chat drives question/answer sessions: one in-flight stream at a
// time, rendered incrementally into a transcript surface.
package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mattjoyce/streamchat/internal/render"
	"github.com/mattjoyce/streamchat/internal/sse"
)

// State is a session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleted
	StateBlocked
	StateErrored
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateBlocked:
		return "blocked"
	case StateErrored:
		return "errored"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Terminal reports whether no further events change the session.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Session is one in-flight question. All methods except Context must be
// called from the event loop that owns the surface.
type Session struct {
	ID       string
	Question string
	Model    string

	ctx       context.Context
	cancel    context.CancelFunc
	surface   render.Surface
	formatter render.Formatter
	renderer  *render.Renderer
	message   render.ElementID
	logger    *slog.Logger
	onSettle  func(*Session)

	status    render.ElementID
	hasStatus bool
	notice    render.ElementID
	hasNotice bool

	state      State
	text       strings.Builder
	hasContent bool
	hasEnded   bool
	stopped    bool
}

// Context is cancelled when the session is stopped or settles. The stream
// reader checks it at every read.
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) State() State      { return s.state }
func (s *Session) Text() string      { return s.text.String() }
func (s *Session) Stopped() bool     { return s.stopped }
func (s *Session) HasContent() bool  { return s.hasContent }
func (s *Session) HasEnded() bool    { return s.hasEnded }
func (s *Session) ActiveTimers() int { return s.renderer.ActiveTimers() }

// Message returns the transcript element holding the answer.
func (s *Session) Message() render.ElementID {
	return s.message
}

// Notice returns the blocked/error notice element, if one was appended.
func (s *Session) Notice() (render.ElementID, bool) {
	return s.notice, s.hasNotice
}

// Accept marks the response headers as accepted.
func (s *Session) Accept() {
	if s.state == StateSending {
		s.state = StateStreaming
	}
}

// Handle applies one stream event. Events after a terminal state are
// dropped so a stale stream cannot write into the transcript.
func (s *Session) Handle(ev sse.Event) {
	if s.state.Terminal() {
		return
	}
	s.Accept()

	switch ev.Type {
	case sse.EventToken:
		s.text.WriteString(ev.Content)
		if ev.Content != "" {
			s.hasContent = true
		}
		s.clearStatus()
		s.renderer.Update(s.text.String())
	case sse.EventStatus:
		s.setStatus(ev.Content)
	case sse.EventToolCall:
		s.setStatus("Using " + ev.Tool + "…")
	case sse.EventBlocked:
		reason := ev.Content
		if reason == "" {
			reason = "this request was blocked by the content policy"
		}
		s.abort(StateBlocked, render.ElementBlockedNotice, "Response blocked: "+reason)
	case sse.EventError:
		msg := ev.Content
		if msg == "" {
			msg = "unknown stream error"
		}
		s.abort(StateErrored, render.ElementErrorNotice, "Error: "+msg)
	case sse.EventEnd:
		s.hasEnded = true
		s.finish(StateCompleted)
	}
}

// Close reports that the byte source finished. A nil err is a natural close
// and completes the session as if an end event had arrived. A failure after
// Stop is the expected cancellation and keeps the partial answer.
func (s *Session) Close(err error) {
	if s.state.Terminal() {
		return
	}
	switch {
	case err == nil:
		s.finish(StateCompleted)
	case s.stopped:
		s.finish(StateStopped)
	default:
		s.logger.Warn("stream failed", "session_id", s.ID, "error", err)
		s.abort(StateErrored, render.ElementErrorNotice, "Error: "+err.Error())
	}
}

// Stop cancels the read and finalizes whatever text has arrived.
func (s *Session) Stop() {
	if s.state.Terminal() {
		return
	}
	s.stopped = true
	s.cancel()
	s.finish(StateStopped)
}

// discard cancels the session and removes its message without a notice.
func (s *Session) discard() {
	if s.state.Terminal() {
		return
	}
	s.stopped = true
	s.cancel()
	s.clearStatus()
	s.renderer.Teardown()
	s.surface.Remove(s.message)
	s.settle(StateStopped)
}

func (s *Session) finish(state State) {
	s.clearStatus()
	s.renderer.Finalize(s.text.String())
	s.settle(state)
}

func (s *Session) abort(state State, kind render.ElementKind, text string) {
	s.clearStatus()
	s.renderer.Teardown()
	s.surface.Remove(s.message)
	s.notice = s.surface.Create(render.Root, kind)
	s.surface.SetContent(s.notice, s.formatter.Escape(text))
	s.hasNotice = true
	s.settle(state)
}

func (s *Session) settle(state State) {
	s.state = state
	s.cancel()
	s.logger.Info("session settled",
		"session_id", s.ID,
		"state", state.String(),
		"chars", s.text.Len(),
		"stopped", s.stopped,
	)
	if s.onSettle != nil {
		s.onSettle(s)
	}
}

func (s *Session) setStatus(text string) {
	if !s.hasStatus {
		s.status = s.surface.Create(s.message, render.ElementStatus)
		s.hasStatus = true
	}
	s.surface.SetContent(s.status, s.formatter.Escape(text))
}

func (s *Session) clearStatus() {
	if !s.hasStatus {
		return
	}
	s.surface.Remove(s.status)
	s.hasStatus = false
}
