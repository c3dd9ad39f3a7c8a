// Package thinking splits accumulated answer text into response and thinking
// segments delimited by plain-text markers.
package thinking

import "strings"

// Kind identifies a segment type.
type Kind int

const (
	KindResponse Kind = iota
	KindThinking
)

func (k Kind) String() string {
	if k == KindThinking {
		return "thinking"
	}
	return "response"
}

// Segment is one span of the parsed text. Round is the 1-based ordinal of the
// open marker that started a thinking span and zero for response spans.
type Segment struct {
	Kind    Kind
	Content string
	Round   int
}

// Result is the outcome of parsing a full accumulated text.
type Result struct {
	Segments []Segment
	// IsThinking is true when the text ends inside an unterminated span.
	IsThinking bool
	// ThinkingCount is the number of open markers seen.
	ThinkingCount int
}

// Markers holds the open/close delimiter pair.
type Markers struct {
	Open  string
	Close string
}

// DefaultMarkers are the delimiters emitted by reasoning models.
var DefaultMarkers = Markers{Open: "<think>", Close: "</think>"}

// Parser parses text with a fixed marker pair.
type Parser struct {
	markers Markers
}

// NewParser returns a parser for m. Empty markers fall back to DefaultMarkers.
func NewParser(m Markers) *Parser {
	if m.Open == "" || m.Close == "" {
		m = DefaultMarkers
	}
	return &Parser{markers: m}
}

// Markers returns the delimiters the parser recognises.
func (p *Parser) Markers() Markers {
	return p.markers
}

// Parse re-derives the full segment list from text. It is pure: the same text
// always yields the same result.
func (p *Parser) Parse(text string) Result {
	var res Result
	rest := text
	for rest != "" {
		open := strings.Index(rest, p.markers.Open)
		if open < 0 {
			res.Segments = appendSegment(res.Segments, KindResponse, rest, 0)
			break
		}
		res.Segments = appendSegment(res.Segments, KindResponse, rest[:open], 0)
		res.ThinkingCount++
		rest = rest[open+len(p.markers.Open):]

		end := strings.Index(rest, p.markers.Close)
		if end < 0 {
			res.Segments = appendSegment(res.Segments, KindThinking, rest, res.ThinkingCount)
			res.IsThinking = true
			break
		}
		res.Segments = appendSegment(res.Segments, KindThinking, rest[:end], res.ThinkingCount)
		rest = rest[end+len(p.markers.Close):]
	}
	return res
}

// Parse parses text with DefaultMarkers.
func Parse(text string) Result {
	return NewParser(DefaultMarkers).Parse(text)
}

func appendSegment(segs []Segment, kind Kind, content string, round int) []Segment {
	if content == "" {
		return segs
	}
	return append(segs, Segment{Kind: kind, Content: content, Round: round})
}
