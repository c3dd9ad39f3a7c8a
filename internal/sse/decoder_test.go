package sse

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(chunks ...[]byte) []Event {
	d := NewDecoder(nil)
	var events []Event
	for _, c := range chunks {
		events = append(events, d.Feed(c)...)
	}
	return append(events, d.Flush()...)
}

func TestDecoderTokenThenEndAcrossThreeChunks(t *testing.T) {
	stream := []byte("data: {\"type\":\"token\",\"content\":\"ab\"}\n\ndata: {\"type\":\"end\"}\n\n")
	want := []Event{{Type: EventToken, Content: "ab"}, {Type: EventEnd}}

	for i := 1; i < len(stream); i++ {
		for j := i + 1; j < len(stream); j++ {
			got := feedAll(stream[:i], stream[i:j], stream[j:])
			require.Equal(t, want, got, "split at %d,%d", i, j)
		}
	}
}

func TestDecoderChunkingInvariance(t *testing.T) {
	var b bytes.Buffer
	b.WriteString(": keep-alive\n\n")
	b.WriteString("data: {\"type\":\"status\",\"content\":\"Searching…\"}\n\n")
	b.WriteString("data: {\"type\":\"token\",\"content\":\"<think>héllo 世界\"}\n\n")
	b.WriteString("data: {\"type\":\"tool_call\",\"tool\":\"search\"}\r\n\r\n")
	b.WriteString("data: {not json}\n\n")
	b.WriteString("data: {\"type\":\"mystery\",\"content\":\"x\"}\n\n")
	b.WriteString("event: ignored\ndata: {\"type\":\"token\",\"content\":\"</think>🙂\"}\n\n")
	b.WriteString("data: {\"type\":\"end\"}")
	stream := b.Bytes()

	want := feedAll(stream)
	require.Equal(t, []Event{
		{Type: EventStatus, Content: "Searching…"},
		{Type: EventToken, Content: "<think>héllo 世界"},
		{Type: EventToolCall, Tool: "search"},
		{Type: EventToken, Content: "</think>🙂"},
		{Type: EventEnd},
	}, want)

	for i := 1; i < len(stream); i++ {
		got := feedAll(stream[:i], stream[i:])
		require.Equal(t, want, got, "split at %d", i)
	}

	// One byte at a time splits every multi-byte sequence.
	var single [][]byte
	for i := range stream {
		single = append(single, stream[i:i+1])
	}
	assert.Equal(t, want, feedAll(single...))
}

func TestDecoderHoldsPartialMultiByteSequence(t *testing.T) {
	d := NewDecoder(nil)
	frame := []byte("data: {\"type\":\"token\",\"content\":\"世\"}\n\n")
	cut := bytes.Index(frame, []byte("世")) + 1

	assert.Empty(t, d.Feed(frame[:cut]))
	assert.Len(t, d.pending, 1)
	got := d.Feed(frame[cut:])
	require.Len(t, got, 1)
	assert.Equal(t, "世", got[0].Content)
}

func TestDecoderDropsMalformedLinesAndContinues(t *testing.T) {
	got := feedAll([]byte("data: {\"type\":\"token\",\"content\":1}\ndata: {\"type\":\"token\",\"content\":\"ok\"}\n\n" +
		"data: {\"content\":\"no type\"}\n\ndata: {\"type\":\"tool_call\"}\n\n"))
	assert.Equal(t, []Event{{Type: EventToken, Content: "ok"}}, got)
}

func TestDecoderFlushParsesUnterminatedFinalFrame(t *testing.T) {
	d := NewDecoder(nil)
	assert.Empty(t, d.Feed([]byte(`data: {"type":"blocked","content":"policy"}`)))
	assert.Equal(t, []Event{{Type: EventBlocked, Content: "policy"}}, d.Flush())
	assert.Empty(t, d.Flush())
}

func TestDecodeReaderStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	var got []Event
	done := make(chan error, 1)
	go func() {
		done <- Decode(ctx, pr, nil, func(ev Event) {
			got = append(got, ev)
			cancel()
			_ = pr.CloseWithError(context.Canceled)
		})
	}()

	_, _ = pw.Write([]byte("data: {\"type\":\"token\",\"content\":\"a\"}\n\n"))
	err := <-done
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Equal(t, []Event{{Type: EventToken, Content: "a"}}, got)
}

func TestDecodeReaderReportsTransportError(t *testing.T) {
	r := io.MultiReader(strings.NewReader("data: {\"type\":\"token\",\"content\":\"a\"}\n\n"), errReader{})
	var got []Event
	err := Decode(context.Background(), r, nil, func(ev Event) { got = append(got, ev) })
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
	assert.Len(t, got, 1)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEvent(&buf, Event{Type: EventToken, Content: "a\n\nb"}))
	require.NoError(t, WriteEvent(&buf, Event{Type: EventEnd}))
	assert.Equal(t, "data: {\"type\":\"token\",\"content\":\"a\\n\\nb\"}\n\ndata: {\"type\":\"end\"}\n\n", buf.String())
	assert.Equal(t, []Event{{Type: EventToken, Content: "a\n\nb"}, {Type: EventEnd}}, feedAll(buf.Bytes()))
}
