package provider

import (
	"context"
	"strings"
	"testing"

	"github.com/mattjoyce/streamchat/internal/config"
)

func TestNewChatModelRejectsUnknownProvider(t *testing.T) {
	_, err := NewChatModel(context.Background(), config.LLMConfig{Provider: "bard", Model: "x"}, "")
	if err == nil || !strings.Contains(err.Error(), "unsupported llm provider") {
		t.Fatalf("expected unsupported provider error, got %v", err)
	}
}

func TestFactoryReusesModelPerName(t *testing.T) {
	f := NewFactory(config.LLMConfig{
		Provider:  "ollama",
		Model:     "qwen3",
		BaseURL:   "http://127.0.0.1:1",
		MaxTokens: 4096,
	})
	ctx := context.Background()

	first, err := f.ChatModel(ctx, "")
	if err != nil {
		t.Fatalf("create default model: %v", err)
	}
	again, err := f.ChatModel(ctx, "qwen3")
	if err != nil {
		t.Fatalf("create named model: %v", err)
	}
	if first != again {
		t.Fatalf("expected the default model to be reused for its own name")
	}

	other, err := f.ChatModel(ctx, "deepseek-r1")
	if err != nil {
		t.Fatalf("create other model: %v", err)
	}
	if other == first {
		t.Fatalf("expected a distinct model for a different name")
	}
}
