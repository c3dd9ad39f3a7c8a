// Package sse decodes and encodes the chat event stream exchanged between the
// proxy and its clients. Frames are `data: <json>` lines separated by a blank
// line; the JSON object carries a type and a type-specific payload.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
)

// EventType identifies the kind of a stream event.
type EventType string

const (
	EventToken    EventType = "token"
	EventStatus   EventType = "status"
	EventToolCall EventType = "tool_call"
	EventBlocked  EventType = "blocked"
	EventError    EventType = "error"
	EventEnd      EventType = "end"
)

// Event is a single decoded stream event. Content carries the payload for
// token, status, blocked and error events; Tool carries it for tool_call.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Tool    string    `json:"tool,omitempty"`
}

func (e Event) String() string {
	switch e.Type {
	case EventToolCall:
		return fmt.Sprintf("%s(%s)", e.Type, e.Tool)
	case EventEnd:
		return string(e.Type)
	default:
		return fmt.Sprintf("%s(%q)", e.Type, e.Content)
	}
}

// Known reports whether t is one of the protocol's event types.
func (t EventType) Known() bool {
	switch t {
	case EventToken, EventStatus, EventToolCall, EventBlocked, EventError, EventEnd:
		return true
	}
	return false
}

// Frame returns the wire encoding of e, including the trailing blank line.
func Frame(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	frame := make([]byte, 0, len(dataPrefix)+len(payload)+len(frameSeparator))
	frame = append(frame, dataPrefix...)
	frame = append(frame, payload...)
	frame = append(frame, frameSeparator...)
	return frame, nil
}

// WriteEvent writes e to w as a single frame.
func WriteEvent(w io.Writer, e Event) error {
	frame, err := Frame(e)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
