package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattjoyce/streamchat/internal/chat"
	"github.com/mattjoyce/streamchat/internal/render"
	"github.com/mattjoyce/streamchat/internal/sse"
	"github.com/mattjoyce/streamchat/internal/thinking"
)

func runAsk(args []string) error {
	fset := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fset.String("config", "config.yaml", "path to config file")
	server := fset.String("server", "", "proxy base URL (default client.server_url)")
	model := fset.String("model", "", "model identifier")
	stream := fset.Bool("stream", false, "print tokens as they arrive")
	logFile := fset.String("log-file", "", "write logs to this file")
	if err := fset.Parse(args); err != nil {
		return err
	}
	question := strings.TrimSpace(strings.Join(fset.Args(), " "))
	if question == "" {
		return fmt.Errorf("usage: streamchat ask [--server <url>] [--model <id>] [--stream] <question>")
	}

	cfg, err := loadConfig(*configPath, flagWasSet(fset, "config"))
	if err != nil {
		return err
	}
	if *server == "" {
		*server = cfg.Client.ServerURL
	}
	logger, closeLog, err := fileLogger(*logFile, cfg.Service.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := chat.NewClient(*server, logger)
	markers := thinkingMarkers(cfg)
	if !*stream {
		answer, err := client.Ask(ctx, question, *model)
		if err != nil {
			return describeError(err)
		}
		p := newAnswerPrinter(markers, os.Stdout)
		p.add(answer)
		if !p.finish() {
			fmt.Println(render.FallbackText)
		}
		return nil
	}
	return streamAnswer(ctx, client, question, *model, markers, os.Stdout)
}

// streamAnswer prints the answer to out as tokens arrive, leaving out
// thinking spans. A stop signal keeps what was printed and is not an error.
func streamAnswer(ctx context.Context, client *chat.Client, question, model string, markers thinking.Markers, out io.Writer) error {
	p := newAnswerPrinter(markers, out)
	var streamErr error
	err := client.Stream(ctx, question, model, nil, func(ev sse.Event) {
		if streamErr != nil {
			return
		}
		switch ev.Type {
		case sse.EventToken:
			p.add(ev.Content)
		case sse.EventBlocked:
			streamErr = fmt.Errorf("response blocked: %s", ev.Content)
		case sse.EventError:
			streamErr = fmt.Errorf("%s", ev.Content)
		}
	})
	wrote := p.finish()
	switch {
	case streamErr != nil:
		return streamErr
	case errors.Is(err, context.Canceled):
		return nil
	case err != nil:
		return describeError(err)
	case !wrote:
		fmt.Fprintln(out, render.FallbackText)
	}
	return nil
}

// answerPrinter writes the response part of a growing answer. The text is
// re-parsed on every add and only newly visible response text is written.
type answerPrinter struct {
	parser  *thinking.Parser
	open    string
	text    strings.Builder
	printed int
	out     io.Writer
}

func newAnswerPrinter(markers thinking.Markers, out io.Writer) *answerPrinter {
	parser := thinking.NewParser(markers)
	return &answerPrinter{parser: parser, open: parser.Markers().Open, out: out}
}

func (p *answerPrinter) add(token string) {
	p.text.WriteString(token)
	p.flush(false)
}

// finish writes what add held back and ends the line. It reports whether
// any response text was written.
func (p *answerPrinter) finish() bool {
	p.flush(true)
	if p.printed == 0 {
		return false
	}
	fmt.Fprintln(p.out)
	return true
}

func (p *answerPrinter) flush(final bool) {
	text := p.text.String()
	if !final {
		text = trimPartialMarker(text, p.open)
	}
	var visible strings.Builder
	for _, seg := range p.parser.Parse(text).Segments {
		if seg.Kind == thinking.KindResponse {
			visible.WriteString(seg.Content)
		}
	}
	v := visible.String()
	if len(v) > p.printed {
		fmt.Fprint(p.out, v[p.printed:])
		p.printed = len(v)
	}
}

// trimPartialMarker drops a trailing prefix of marker, which may still
// become a full marker once more text arrives.
func trimPartialMarker(text, marker string) string {
	for k := min(len(marker)-1, len(text)); k > 0; k-- {
		if strings.HasSuffix(text, marker[:k]) {
			return text[:len(text)-k]
		}
	}
	return text
}

func describeError(err error) error {
	var statusErr *chat.StatusError
	if errors.As(err, &statusErr) {
		return errors.New(statusErr.Message)
	}
	return err
}
