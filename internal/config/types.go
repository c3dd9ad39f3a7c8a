package config

import "time"

// Config represents the complete streamchat configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Upstream UpstreamConfig `yaml:"upstream"`
	LLM      LLMConfig      `yaml:"llm"`
	Client   ClientConfig   `yaml:"client"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig defines SQLite storage for client preferences.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the proxy's HTTP server settings.
type APIConfig struct {
	Listen    string  `yaml:"listen"`
	StaticDir string  `yaml:"static_dir"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// Upstream modes.
const (
	UpstreamModeHTTP  = "http"
	UpstreamModeModel = "model"
)

// UpstreamConfig defines where questions are forwarded.
type UpstreamConfig struct {
	Mode    string        `yaml:"mode"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LLMConfig defines the chat model used in model mode.
type LLMConfig struct {
	Provider  string   `yaml:"provider"`
	Model     string   `yaml:"model"`
	Models    []string `yaml:"models"`
	APIKey    string   `yaml:"api_key"`
	BaseURL   string   `yaml:"base_url,omitempty"`
	MaxTokens int      `yaml:"max_tokens"`
}

// ClientConfig defines terminal client settings.
type ClientConfig struct {
	ServerURL     string        `yaml:"server_url"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	ThinkingOpen  string        `yaml:"thinking_open"`
	ThinkingClose string        `yaml:"thinking_close"`
}
