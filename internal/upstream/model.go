package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"syscall"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/mattjoyce/streamchat/internal/sse"
	"github.com/mattjoyce/streamchat/internal/thinking"
)

// ChatModelFactory returns a chat model serving the named model.
type ChatModelFactory func(ctx context.Context, name string) (model.BaseChatModel, error)

// ModelUpstream answers directly from a chat model, encoding its streamed
// output as token frames followed by an end frame. Reasoning content is
// wrapped in the thinking markers so it reaches clients as a thinking span.
type ModelUpstream struct {
	factory      ChatModelFactory
	models       []string
	defaultModel string
	markers      thinking.Markers
	logger       *slog.Logger
}

// NewModelUpstream creates a direct-model upstream. An empty models list
// accepts any model name. Empty markers fall back to thinking.DefaultMarkers.
func NewModelUpstream(factory ChatModelFactory, models []string, defaultModel string, markers thinking.Markers, logger *slog.Logger) *ModelUpstream {
	return &ModelUpstream{
		factory:      factory,
		models:       slices.Clone(models),
		defaultModel: defaultModel,
		markers:      thinking.NewParser(markers).Markers(),
		logger:       logger,
	}
}

// Open starts streaming the model's answer to q.
func (u *ModelUpstream) Open(ctx context.Context, q Question) (io.ReadCloser, error) {
	name := q.Model
	if name == "" {
		name = u.defaultModel
	}
	if len(u.models) > 0 && !slices.Contains(u.models, name) {
		return nil, &StatusError{Code: http.StatusBadRequest, Detail: fmt.Sprintf("unknown model %q", name)}
	}

	cm, err := u.factory(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create chat model %q: %w", name, err)
	}
	stream, err := cm.Stream(ctx, []*schema.Message{schema.UserMessage(q.Query)})
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("start model stream: %w", err)
	}

	pr, pw := io.Pipe()
	go u.pump(name, stream, pw)
	return pr, nil
}

// Models lists the configured models.
func (u *ModelUpstream) Models(ctx context.Context) (*Catalog, error) {
	ids := u.models
	if len(ids) == 0 && u.defaultModel != "" {
		ids = []string{u.defaultModel}
	}
	return NewCatalog(ids, u.defaultModel), nil
}

func (u *ModelUpstream) pump(name string, stream *schema.StreamReader[*schema.Message], pw *io.PipeWriter) {
	defer stream.Close()
	reasoning := false
	emit := func(content string) bool {
		return sse.WriteEvent(pw, sse.Event{Type: sse.EventToken, Content: content}) == nil
	}
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if reasoning {
				_ = emit(u.markers.Close)
			}
			_ = sse.WriteEvent(pw, sse.Event{Type: sse.EventEnd})
			_ = pw.Close()
			return
		}
		if err != nil {
			u.logger.Error("model stream failed", "model", name, "error", err)
			_ = sse.WriteEvent(pw, sse.Event{Type: sse.EventError, Content: err.Error()})
			_ = pw.Close()
			return
		}
		if msg == nil {
			continue
		}

		var out string
		if msg.ReasoningContent != "" {
			if !reasoning {
				out += u.markers.Open
				reasoning = true
			}
			out += msg.ReasoningContent
		}
		if msg.Content != "" {
			if reasoning {
				out += u.markers.Close
				reasoning = false
			}
			out += msg.Content
		}
		if out == "" {
			continue
		}
		if !emit(out) {
			// Reader went away.
			return
		}
	}
}
