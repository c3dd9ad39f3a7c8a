package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/streamchat/internal/api"
	"github.com/mattjoyce/streamchat/internal/config"
	"github.com/mattjoyce/streamchat/internal/provider"
	"github.com/mattjoyce/streamchat/internal/thinking"
	"github.com/mattjoyce/streamchat/internal/upstream"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "chat":
		err = runChat(os.Args[2:])
	case "ask":
		err = runAsk(os.Args[2:])
	case "version":
		fmt.Printf("streamchat %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: streamchat <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve     Start the streaming chat proxy")
	fmt.Fprintln(os.Stderr, "  chat      Chat with the proxy in a TUI")
	fmt.Fprintln(os.Stderr, "  ask       Ask a single question and print the answer")
	fmt.Fprintln(os.Stderr, "  version   Print version")
}

// loadConfig reads path. A missing file at the default path falls back to
// defaults plus environment overrides.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default()
	}
	return nil, fmt.Errorf("load config: %w", err)
}

func flagWasSet(fset *flag.FlagSet, name string) bool {
	set := false
	fset.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func runServe(args []string) error {
	fset := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fset.String("config", "config.yaml", "path to config file")
	listen := fset.String("listen", "", "override api.listen")
	staticDir := fset.String("static", "", "override api.static_dir")
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, flagWasSet(fset, "config"))
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.API.Listen = *listen
	}
	if *staticDir != "" {
		cfg.API.StaticDir = *staticDir
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Service.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("starting streamchat", "version", version, "config", *configPath, "upstream_mode", cfg.Upstream.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	up, err := newUpstream(cfg, logger)
	if err != nil {
		return err
	}

	srv := api.New(api.Config{
		Listen:      cfg.API.Listen,
		StaticDir:   cfg.API.StaticDir,
		UpstreamURL: upstreamURL(up, cfg),
		RateLimit:   cfg.API.RateLimit,
		RateBurst:   cfg.API.RateBurst,
	}, up, logger)

	// Signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

func newUpstream(cfg *config.Config, logger *slog.Logger) (upstream.Upstream, error) {
	switch cfg.Upstream.Mode {
	case config.UpstreamModeModel:
		factory := provider.NewFactory(cfg.LLM)
		return upstream.NewModelUpstream(factory.ChatModel, cfg.LLM.Models, cfg.LLM.Model, thinkingMarkers(cfg), logger), nil
	case config.UpstreamModeHTTP:
		return upstream.NewHTTPUpstream(cfg.Upstream.BaseURL, cfg.Upstream.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("unsupported upstream mode %q", cfg.Upstream.Mode)
	}
}

// upstreamURL is the backend address reported by /health.
func upstreamURL(up upstream.Upstream, cfg *config.Config) string {
	if h, ok := up.(*upstream.HTTPUpstream); ok {
		return h.BaseURL()
	}
	return cfg.Upstream.BaseURL
}

func thinkingMarkers(cfg *config.Config) thinking.Markers {
	return thinking.Markers{Open: cfg.Client.ThinkingOpen, Close: cfg.Client.ThinkingClose}
}

// fileLogger logs to path, or discards when path is empty.
func fileLogger(path, level string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: parseLevel(level)}))
	return logger, func() { _ = f.Close() }, nil
}
