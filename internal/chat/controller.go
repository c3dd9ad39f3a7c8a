package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/mattjoyce/streamchat/internal/render"
)

var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrUnknownModel  = errors.New("unknown model")
)

// SelectedModelKey is the preference key holding the last chosen model.
const SelectedModelKey = "selected_model"

// Preferences persists small pieces of client state across runs.
type Preferences interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Surface render.Surface
	Render  render.Options
	Prefs   Preferences
	Logger  *slog.Logger
}

// Controller owns the process-wide chat state: the transcript, the selected
// model and the single active session. Every path that starts, replaces or
// clears a session goes through it so the previous session is always
// cancelled first.
type Controller struct {
	ctx     context.Context
	surface render.Surface
	opts    render.Options
	prefs   Preferences
	logger  *slog.Logger

	models   []string
	selected string
	active   *Session
	notices  []render.ElementID
}

// NewController creates a controller whose sessions derive from ctx.
func NewController(ctx context.Context, cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts := cfg.Render
	if opts.Formatter == nil {
		opts.Formatter = render.HTMLFormatter{}
	}
	return &Controller{
		ctx:     ctx,
		surface: cfg.Surface,
		opts:    opts,
		prefs:   cfg.Prefs,
		logger:  logger,
	}
}

// SetModels installs the available models and picks the selection: the
// persisted choice if still offered, else defaultModel, else the first.
func (c *Controller) SetModels(models []string, defaultModel string) string {
	c.models = slices.Clone(models)
	c.selected = ""

	if c.prefs != nil {
		saved, ok, err := c.prefs.Get(c.ctx, SelectedModelKey)
		if err != nil {
			c.logger.Warn("load saved model failed", "error", err)
		}
		if ok && slices.Contains(c.models, saved) {
			c.selected = saved
		}
	}
	if c.selected == "" && (defaultModel != "" && (len(c.models) == 0 || slices.Contains(c.models, defaultModel))) {
		c.selected = defaultModel
	}
	if c.selected == "" && len(c.models) > 0 {
		c.selected = c.models[0]
	}
	return c.selected
}

// Models returns the available model identifiers.
func (c *Controller) Models() []string {
	return slices.Clone(c.models)
}

// Selected returns the current model identifier.
func (c *Controller) Selected() string {
	return c.selected
}

// SelectModel stops any active session, then switches and persists the model.
func (c *Controller) SelectModel(id string) error {
	if !slices.Contains(c.models, id) {
		return fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	c.Stop()
	c.selected = id
	if c.prefs != nil {
		if err := c.prefs.Set(c.ctx, SelectedModelKey, id); err != nil {
			c.logger.Warn("save selected model failed", "model", id, "error", err)
		}
	}
	return nil
}

// Submit starts a session for question, stopping any session still in
// flight. The caller streams the answer into the returned session.
func (c *Controller) Submit(question string) (*Session, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	c.Stop()

	user := c.surface.Create(render.Root, render.ElementUserMessage)
	c.surface.SetContent(user, c.opts.Formatter.Escape(question))

	ctx, cancel := context.WithCancel(c.ctx)
	message := c.surface.Create(render.Root, render.ElementBotMessage)
	s := &Session{
		ID:        uuid.NewString(),
		Question:  question,
		Model:     c.selected,
		ctx:       ctx,
		cancel:    cancel,
		surface:   c.surface,
		formatter: c.opts.Formatter,
		renderer:  render.NewRenderer(c.surface, message, c.opts),
		message:   message,
		logger:    c.logger,
		onSettle:  c.settled,
		state:     StateSending,
	}
	s.renderer.Update("")
	c.active = s

	c.logger.Info("session started", "session_id", s.ID, "model", s.Model)
	return s, nil
}

// Stop stops the active session, keeping its partial answer.
func (c *Controller) Stop() {
	if c.active != nil {
		c.active.Stop()
	}
}

// Reset discards the active session and clears the transcript.
func (c *Controller) Reset() {
	if c.active != nil {
		c.active.discard()
		c.active = nil
	}
	for _, id := range c.notices {
		c.surface.Remove(id)
	}
	c.notices = nil
	if d, ok := c.surface.(interface{ Clear() }); ok {
		d.Clear()
	}
}

// Active returns the active session, or nil.
func (c *Controller) Active() *Session {
	return c.active
}

// State returns the active session's state, or StateIdle once it settled.
func (c *Controller) State() State {
	if c.active == nil || c.active.State().Terminal() {
		return StateIdle
	}
	return c.active.State()
}

// InputEnabled reports whether a new question can be typed.
func (c *Controller) InputEnabled() bool {
	return c.State() == StateIdle
}

// DismissNotice removes the most recent blocked/error notice.
func (c *Controller) DismissNotice() bool {
	if len(c.notices) == 0 {
		return false
	}
	last := c.notices[len(c.notices)-1]
	c.notices = c.notices[:len(c.notices)-1]
	c.surface.Remove(last)
	return true
}

func (c *Controller) settled(s *Session) {
	if id, ok := s.Notice(); ok {
		c.notices = append(c.notices, id)
	}
	if c.active == s {
		c.active = nil
	}
}
