package render

import (
	"fmt"
	"time"

	"github.com/mattjoyce/streamchat/internal/thinking"
)

// FallbackText is shown when a stream finishes without any content.
const FallbackText = "No response received"

// Options configures a Renderer. Zero values select defaults. Without a
// Scheduler, elapsed-time labels are only set on creation and on close.
type Options struct {
	Parser    *thinking.Parser
	Formatter Formatter
	Scheduler Scheduler
	Now       func() time.Time
	Tick      time.Duration
}

// Renderer owns the elements of one answer inside a message container.
// Every rendered segment exclusively owns its element and, for thinking
// segments, the repeating task that refreshes its elapsed-time label.
type Renderer struct {
	surface   Surface
	container ElementID
	parser    *thinking.Parser
	formatter Formatter
	scheduler Scheduler
	now       func() time.Time
	tick      time.Duration

	segments  []*renderedSegment
	cursor    ElementID
	hasCursor bool
	finalized bool
}

type renderedSegment struct {
	kind    thinking.Kind
	el      ElementID
	content string
	label   string
	started time.Time
	stop    func()
	done    bool
}

// NewRenderer returns a renderer drawing into container.
func NewRenderer(surface Surface, container ElementID, opts Options) *Renderer {
	r := &Renderer{
		surface:   surface,
		container: container,
		parser:    opts.Parser,
		formatter: opts.Formatter,
		scheduler: opts.Scheduler,
		now:       opts.Now,
		tick:      opts.Tick,
	}
	if r.parser == nil {
		r.parser = thinking.NewParser(thinking.DefaultMarkers)
	}
	if r.formatter == nil {
		r.formatter = HTMLFormatter{}
	}
	if r.scheduler == nil {
		r.scheduler = NewManualScheduler(time.Time{})
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.tick <= 0 {
		r.tick = time.Second
	}
	return r
}

// Update re-parses the full accumulated text and reconciles the elements
// with it while the stream is open.
func (r *Renderer) Update(text string) {
	if r.finalized {
		return
	}
	r.render(text, true)
}

// Finalize renders text as complete: the cursor disappears, every thinking
// segment resolves with its elapsed time, and an empty answer shows
// FallbackText.
func (r *Renderer) Finalize(text string) {
	if r.finalized {
		return
	}
	r.render(text, false)
	if len(r.segments) == 0 {
		rs := r.create(thinking.KindResponse)
		r.setContent(rs, r.formatter.Format(FallbackText))
		r.segments = append(r.segments, rs)
	}
	r.finalized = true
}

// Teardown removes every element the renderer created and cancels all
// timers. The container itself belongs to the caller.
func (r *Renderer) Teardown() {
	r.truncate(0)
	r.hideCursor()
	r.finalized = true
}

// Len returns the number of rendered segments.
func (r *Renderer) Len() int {
	return len(r.segments)
}

// ActiveTimers returns the number of thinking timers still running.
func (r *Renderer) ActiveTimers() int {
	n := 0
	for _, rs := range r.segments {
		if rs.stop != nil && !rs.done {
			n++
		}
	}
	return n
}

// Elements returns the element of each rendered segment in order.
func (r *Renderer) Elements() []ElementID {
	out := make([]ElementID, len(r.segments))
	for i, rs := range r.segments {
		out[i] = rs.el
	}
	return out
}

func (r *Renderer) render(text string, streaming bool) {
	res := r.parser.Parse(text)
	segs := res.Segments

	if len(r.segments) > len(segs) {
		r.truncate(len(segs))
	}
	// Only the last rendered segment can change type, when a provisional
	// marker completes or turns out not to be one.
	if n := len(r.segments); n > 0 && r.segments[n-1].kind != segs[n-1].Kind {
		r.truncate(n - 1)
	}

	if len(segs) == 0 {
		if streaming {
			r.showCursor()
		} else {
			r.hideCursor()
		}
		return
	}
	r.hideCursor()

	for i, seg := range segs {
		if i >= len(r.segments) {
			r.segments = append(r.segments, r.create(seg.Kind))
		}
		rs := r.segments[i]
		last := i == len(segs)-1
		open := streaming && last && (seg.Kind == thinking.KindResponse || res.IsThinking)

		body := r.formatter.Format(seg.Content)
		if open {
			body += r.formatter.Cursor()
		}
		r.setContent(rs, body)

		if seg.Kind == thinking.KindThinking && !open {
			r.complete(rs)
		}
	}
}

func (r *Renderer) create(kind thinking.Kind) *renderedSegment {
	if kind == thinking.KindResponse {
		return &renderedSegment{kind: kind, el: r.surface.Create(r.container, ElementResponse)}
	}
	rs := &renderedSegment{
		kind:    kind,
		el:      r.surface.Create(r.container, ElementThinking),
		started: r.now(),
	}
	r.setLabel(rs, thinkingLabel(0))
	rs.stop = r.scheduler.Every(r.tick, func() { r.refresh(rs) })
	return rs
}

func (r *Renderer) refresh(rs *renderedSegment) {
	if rs.done {
		return
	}
	r.setLabel(rs, thinkingLabel(r.now().Sub(rs.started)))
}

// complete stops the timer of a thinking segment, freezes its label and
// collapses it. Later calls are no-ops so user toggles are preserved.
func (r *Renderer) complete(rs *renderedSegment) {
	if rs.done {
		return
	}
	rs.done = true
	if rs.stop != nil {
		rs.stop()
	}
	r.setLabel(rs, thoughtLabel(r.now().Sub(rs.started)))
	r.surface.SetCollapsed(rs.el, true)
}

// truncate releases every rendered segment from index n on.
func (r *Renderer) truncate(n int) {
	for _, rs := range r.segments[n:] {
		if rs.stop != nil && !rs.done {
			rs.stop()
		}
		rs.done = true
		r.surface.Remove(rs.el)
	}
	r.segments = r.segments[:n]
}

func (r *Renderer) setContent(rs *renderedSegment, content string) {
	if rs.content == content {
		return
	}
	rs.content = content
	r.surface.SetContent(rs.el, content)
}

func (r *Renderer) setLabel(rs *renderedSegment, label string) {
	if rs.label == label {
		return
	}
	rs.label = label
	r.surface.SetLabel(rs.el, label)
}

func (r *Renderer) showCursor() {
	if r.hasCursor {
		return
	}
	r.cursor = r.surface.Create(r.container, ElementCursor)
	r.surface.SetContent(r.cursor, r.formatter.Cursor())
	r.hasCursor = true
}

func (r *Renderer) hideCursor() {
	if !r.hasCursor {
		return
	}
	r.surface.Remove(r.cursor)
	r.hasCursor = false
}

func thinkingLabel(elapsed time.Duration) string {
	return fmt.Sprintf("Thinking… %ds", int(elapsed/time.Second))
}

func thoughtLabel(elapsed time.Duration) string {
	secs := int(elapsed / time.Second)
	if secs == 1 {
		return "Thought for 1 second"
	}
	return fmt.Sprintf("Thought for %d seconds", secs)
}
