package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	dataPrefix     = "data: "
	frameSeparator = "\n\n"
	readSize       = 4096
	maxLoggedLine  = 200
)

// Decoder reassembles frames from arbitrarily split byte chunks. It is not
// safe for concurrent use; one decoder belongs to one stream.
type Decoder struct {
	logger  *slog.Logger
	utf8    transform.Transformer
	pending []byte // trailing bytes of an incomplete UTF-8 sequence
	buf     string // text after the last complete frame
}

// NewDecoder creates a Decoder. A nil logger discards diagnostics.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Decoder{
		logger: logger,
		utf8:   unicode.UTF8.NewDecoder(),
	}
}

// Feed appends a chunk and returns the events of every frame it completes.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf += d.decodeText(chunk, false)
	d.buf = strings.ReplaceAll(d.buf, "\r\n", "\n")

	frames := strings.Split(d.buf, frameSeparator)
	d.buf = frames[len(frames)-1]

	var events []Event
	for _, frame := range frames[:len(frames)-1] {
		events = d.appendFrame(events, frame)
	}
	return events
}

// Flush parses whatever remains buffered once the source is exhausted. This
// covers backends that omit the separator after the final frame.
func (d *Decoder) Flush() []Event {
	d.buf += d.decodeText(nil, true)
	rest := d.buf
	d.buf = ""
	if strings.TrimSpace(rest) == "" {
		return nil
	}
	return d.appendFrame(nil, rest)
}

// Decode reads r until EOF, calling emit for each event in arrival order.
// Cancellation of ctx is checked at every read and reported as ctx.Err(),
// never as a read failure.
func (d *Decoder) Decode(ctx context.Context, r io.Reader, emit func(Event)) error {
	buf := make([]byte, readSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			for _, ev := range d.Feed(buf[:n]) {
				emit(ev)
			}
		}
		if errors.Is(err, io.EOF) {
			for _, ev := range d.Flush() {
				emit(ev)
			}
			return nil
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

// Decode is shorthand for NewDecoder(logger).Decode(ctx, r, emit).
func Decode(ctx context.Context, r io.Reader, logger *slog.Logger, emit func(Event)) error {
	return NewDecoder(logger).Decode(ctx, r, emit)
}

// decodeText converts pending bytes plus chunk to text, holding back an
// incomplete trailing multi-byte sequence unless atEOF.
func (d *Decoder) decodeText(chunk []byte, atEOF bool) string {
	src := make([]byte, 0, len(d.pending)+len(chunk))
	src = append(src, d.pending...)
	src = append(src, chunk...)
	d.pending = nil
	if len(src) == 0 {
		return ""
	}

	// Each invalid byte may expand to a 3-byte replacement character.
	dst := make([]byte, 3*len(src)+4)
	nDst, nSrc, err := d.utf8.Transform(dst, src, atEOF)
	switch {
	case err == nil:
	case errors.Is(err, transform.ErrShortSrc):
		d.pending = append([]byte(nil), src[nSrc:]...)
	default:
		d.logger.Warn("utf-8 decode failed", "error", err)
	}
	return string(dst[:nDst])
}

func (d *Decoder) appendFrame(events []Event, frame string) []Event {
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		ev, ok, err := ParseData(line[len(dataPrefix):])
		if err != nil {
			d.logger.Warn("dropping malformed stream line", "line", truncate(line, maxLoggedLine), "error", err)
			continue
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events
}

// ParseData parses the payload of one data line. ok is false for well-formed
// events of an unknown type, which callers ignore.
func ParseData(data string) (ev Event, ok bool, err error) {
	var raw struct {
		Type    EventType `json:"type"`
		Content *string   `json:"content"`
		Tool    *string   `json:"tool"`
	}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return Event{}, false, fmt.Errorf("parse event: %w", err)
	}
	if raw.Type == "" {
		return Event{}, false, errors.New("parse event: missing type")
	}
	if !raw.Type.Known() {
		return Event{}, false, nil
	}

	ev.Type = raw.Type
	switch raw.Type {
	case EventToolCall:
		if raw.Tool == nil {
			return Event{}, false, errors.New("parse event: tool_call without tool")
		}
		ev.Tool = *raw.Tool
	case EventEnd:
	default:
		if raw.Content != nil {
			ev.Content = *raw.Content
		}
	}
	return ev, true, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
