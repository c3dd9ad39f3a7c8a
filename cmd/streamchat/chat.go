package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/streamchat/internal/chat"
	"github.com/mattjoyce/streamchat/internal/config"
	"github.com/mattjoyce/streamchat/internal/render"
	"github.com/mattjoyce/streamchat/internal/storage"
	"github.com/mattjoyce/streamchat/internal/store"
	"github.com/mattjoyce/streamchat/internal/thinking"
	"github.com/mattjoyce/streamchat/internal/upstream"
)

func runChat(args []string) error {
	fset := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fset.String("config", "config.yaml", "path to config file")
	server := fset.String("server", "", "proxy base URL (default client.server_url)")
	logFile := fset.String("log-file", "", "write logs to this file")
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, flagWasSet(fset, "config"))
	if err != nil {
		return err
	}
	if *server != "" {
		cfg.Client.ServerURL = *server
	}
	logger, closeLog, err := fileLogger(*logFile, cfg.Service.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, prefs, err := openPrefs(ctx, cfg.Database.Path)
	if err != nil {
		logger.Warn("preferences unavailable", "path", cfg.Database.Path, "error", err)
	} else {
		defer db.Close()
	}

	m := newChatModel(ctx, cfg, chat.NewClient(cfg.Client.ServerURL, logger), prefs, logger)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// callbackMsg carries work posted from stream readers and timers. It runs
// inside Update so the transcript is only ever touched by the event loop.
type callbackMsg func()

type modelsMsg struct {
	Catalog *upstream.Catalog
	Err     error
}

type chatModel struct {
	serverURL string
	client    *chat.Client
	ctrl      *chat.Controller
	doc       *render.Document
	callbacks chan func()
	input     textinput.Model
	viewport  viewport.Model
	logger    *slog.Logger
	width     int
	height    int
	banner    string
}

func newChatModel(ctx context.Context, cfg *config.Config, client *chat.Client, prefs chat.Preferences, logger *slog.Logger) chatModel {
	callbacks := make(chan func(), 64)
	post := func(fn func()) { callbacks <- fn }

	doc := render.NewDocument()
	ctrl := chat.NewController(ctx, chat.ControllerConfig{
		Surface: doc,
		Render: render.Options{
			Parser:    thinking.NewParser(thinkingMarkers(cfg)),
			Formatter: render.NewTerminalFormatter(),
			Scheduler: render.NewLoopScheduler(post),
			Tick:      cfg.Client.TickInterval,
		},
		Prefs:  prefs,
		Logger: logger,
	})

	ti := textinput.New()
	ti.Placeholder = "Ask a question..."
	ti.CharLimit = 4096
	ti.Prompt = "› "
	ti.Focus()

	return chatModel{
		serverURL: cfg.Client.ServerURL,
		client:    client,
		ctrl:      ctrl,
		doc:       doc,
		callbacks: callbacks,
		input:     ti,
		viewport:  viewport.New(80, 20),
		logger:    logger,
	}
}

func (m chatModel) post(fn func()) {
	m.callbacks <- fn
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		fetchModelsCmd(m.client),
		waitForCallbackCmd(m.callbacks),
	)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = bodyWidth(msg.Width)
		m.viewport.Height = transcriptHeight(msg.Height)
		m.input.Width = bodyWidth(msg.Width) - 4
		m.refresh()
		return m, nil
	case callbackMsg:
		msg()
		m.refresh()
		return m, waitForCallbackCmd(m.callbacks)
	case modelsMsg:
		if msg.Err != nil {
			m.logger.Warn("load models failed", "error", msg.Err)
			m.banner = "models unavailable: " + msg.Err.Error()
			return m, nil
		}
		selected := m.ctrl.SetModels(msg.Catalog.Identifiers(), msg.Catalog.DefaultModel)
		m.logger.Info("models loaded", "count", len(msg.Catalog.Models), "selected", selected)
		m.banner = ""
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m chatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.ctrl.Stop()
		return m, tea.Quit
	case "esc":
		m.ctrl.Stop()
		m.refresh()
		return m, nil
	case "ctrl+r":
		m.ctrl.Reset()
		m.refresh()
		return m, nil
	case "tab":
		if next := nextModel(m.ctrl.Models(), m.ctrl.Selected()); next != "" {
			if err := m.ctrl.SelectModel(next); err != nil {
				m.banner = err.Error()
			}
		}
		m.refresh()
		return m, nil
	case "ctrl+x":
		m.ctrl.DismissNotice()
		m.refresh()
		return m, nil
	case "ctrl+t":
		if ids := m.doc.FindAll(render.ElementThinking); len(ids) > 0 {
			m.doc.Toggle(ids[len(ids)-1])
		}
		m.refresh()
		return m, nil
	case "pgup", "pgdown", "up", "down":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case "enter":
		if !m.ctrl.InputEnabled() {
			return m, nil
		}
		s, err := m.ctrl.Submit(m.input.Value())
		if errors.Is(err, chat.ErrEmptyQuestion) {
			return m, nil
		}
		if err != nil {
			m.banner = err.Error()
			return m, nil
		}
		m.input.Reset()
		m.refresh()
		return m, runSessionCmd(m.client, s, m.post)
	}

	if !m.ctrl.InputEnabled() {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// refresh redraws the transcript and enables input only while idle.
func (m *chatModel) refresh() {
	if m.ctrl.InputEnabled() {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
	m.viewport.SetContent(renderTranscript(m.doc, m.viewport.Width))
	m.viewport.GotoBottom()
}

func (m chatModel) View() string {
	accent := lipgloss.Color("#F97316")
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#1C1007")).
		Background(accent).
		Padding(0, 1).
		Render("StreamChat")

	stateStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#1C1007")).
		Background(lipgloss.Color("#6B7280")).
		Padding(0, 1)
	state := m.ctrl.State()
	if state != chat.StateIdle {
		stateStyle = stateStyle.Background(accent)
	}

	model := m.ctrl.Selected()
	if model == "" {
		model = "-"
	}
	meta := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FDBA74")).
		Render(fmt.Sprintf("model=%s  server=%s", model, m.serverURL))

	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FDBA74")).
		Render("enter: send  esc: stop  tab: model  ctrl+t: thinking  ctrl+x: dismiss  ctrl+r: reset  ctrl+c: quit")
	if m.banner != "" {
		footer = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Render(m.banner)
	}

	input := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Width(bodyWidth(m.width)).
		Render(m.input.View())

	header := title + " " + stateStyle.Render(strings.ToUpper(state.String())) + " " + meta
	return strings.Join([]string{header, m.viewport.View(), input, footer}, "\n")
}

func fetchModelsCmd(client *chat.Client) tea.Cmd {
	return func() tea.Msg {
		catalog, err := client.Models(context.Background())
		return modelsMsg{Catalog: catalog, Err: err}
	}
}

func waitForCallbackCmd(in <-chan func()) tea.Cmd {
	return func() tea.Msg {
		return callbackMsg(<-in)
	}
}

// runSessionCmd streams s in the background. Every event comes back through
// post, so the command itself yields no message.
func runSessionCmd(client *chat.Client, s *chat.Session, post func(func())) tea.Cmd {
	return func() tea.Msg {
		chat.Run(client, s, post)
		return nil
	}
}

// nextModel returns the model after current, wrapping around.
func nextModel(models []string, current string) string {
	if len(models) == 0 {
		return ""
	}
	i := slices.Index(models, current)
	return models[(i+1)%len(models)]
}

func bodyWidth(terminalWidth int) int {
	if terminalWidth <= 0 {
		return 80
	}
	w := terminalWidth - 2
	if w < 40 {
		return 40
	}
	return w
}

func transcriptHeight(terminalHeight int) int {
	h := terminalHeight - 5
	if h < 5 {
		return 5
	}
	return h
}

// openPrefs opens the preference store. The chat still works without one.
func openPrefs(ctx context.Context, path string) (*sql.DB, chat.Preferences, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return db, store.NewPrefStore(db), nil
}
