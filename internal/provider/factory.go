// Package provider builds Eino chat models for direct model mode.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/mattjoyce/streamchat/internal/config"
)

// NewChatModel creates an Eino ChatModel serving name with the provider
// settings from cfg. An empty name selects cfg.Model.
func NewChatModel(ctx context.Context, cfg config.LLMConfig, name string) (model.ToolCallingChatModel, error) {
	if name != "" {
		cfg.Model = name
	}
	switch cfg.Provider {
	case "anthropic":
		return newAnthropicModel(ctx, cfg)
	case "openai":
		return newOpenAIModel(ctx, cfg)
	case "ollama":
		return newOllamaModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q (supported: anthropic, openai, ollama)", cfg.Provider)
	}
}

// Factory creates chat models on demand and reuses one per model name.
type Factory struct {
	cfg config.LLMConfig

	mu     sync.Mutex
	models map[string]model.BaseChatModel
}

// NewFactory returns a Factory for cfg.
func NewFactory(cfg config.LLMConfig) *Factory {
	return &Factory{cfg: cfg, models: make(map[string]model.BaseChatModel)}
}

// ChatModel returns the chat model serving name, creating it on first use.
func (f *Factory) ChatModel(ctx context.Context, name string) (model.BaseChatModel, error) {
	if name == "" {
		name = f.cfg.Model
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.models[name]; ok {
		return m, nil
	}
	m, err := NewChatModel(ctx, f.cfg, name)
	if err != nil {
		return nil, err
	}
	f.models[name] = m
	return m, nil
}

func newAnthropicModel(ctx context.Context, cfg config.LLMConfig) (model.ToolCallingChatModel, error) {
	claudeCfg := &claude.Config{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	}
	if cfg.BaseURL != "" {
		claudeCfg.BaseURL = &cfg.BaseURL
	}

	m, err := claude.NewChatModel(ctx, claudeCfg)
	if err != nil {
		return nil, fmt.Errorf("create anthropic model: %w", err)
	}
	return m, nil
}

func newOpenAIModel(ctx context.Context, cfg config.LLMConfig) (model.ToolCallingChatModel, error) {
	maxTokens := cfg.MaxTokens
	openAICfg := &openai.ChatModelConfig{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: &maxTokens,
	}
	if cfg.BaseURL != "" {
		openAICfg.BaseURL = cfg.BaseURL
	}

	m, err := openai.NewChatModel(ctx, openAICfg)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	return m, nil
}

func newOllamaModel(ctx context.Context, cfg config.LLMConfig) (model.ToolCallingChatModel, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	ollamaCfg := &ollama.ChatModelConfig{
		BaseURL: baseURL,
		Model:   cfg.Model,
	}

	m, err := ollama.NewChatModel(ctx, ollamaCfg)
	if err != nil {
		return nil, fmt.Errorf("create ollama model: %w", err)
	}
	return m, nil
}
