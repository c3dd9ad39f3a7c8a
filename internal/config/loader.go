package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns a validated configuration built from defaults and the
// CHAT_UI_PORT / FASTAPI_URL environment variables alone.
func Default() (*Config, error) {
	var cfg Config
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides honours the environment variables the proxy has always
// been deployed with.
func applyEnvOverrides(cfg *Config) {
	if port, ok := os.LookupEnv("CHAT_UI_PORT"); ok && port != "" {
		host := "127.0.0.1"
		if cfg.API.Listen != "" {
			if h, _, err := net.SplitHostPort(cfg.API.Listen); err == nil {
				host = h
			}
		}
		cfg.API.Listen = net.JoinHostPort(host, port)
	}
	if url, ok := os.LookupEnv("FASTAPI_URL"); ok && url != "" {
		cfg.Upstream.BaseURL = url
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "streamchat"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/streamchat.db"
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:3001"
	}
	if cfg.API.RateLimit == 0 {
		cfg.API.RateLimit = 5
	}
	if cfg.API.RateBurst == 0 {
		cfg.API.RateBurst = 10
	}
	if cfg.Upstream.Mode == "" {
		cfg.Upstream.Mode = UpstreamModeHTTP
	}
	if cfg.Upstream.BaseURL == "" && cfg.Upstream.Mode == UpstreamModeHTTP {
		cfg.Upstream.BaseURL = "http://localhost:8000"
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 120 * time.Second
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.Model == "" && len(cfg.LLM.Models) > 0 {
		cfg.LLM.Model = cfg.LLM.Models[0]
	}
	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = "http://" + cfg.API.Listen
	}
	if cfg.Client.TickInterval == 0 {
		cfg.Client.TickInterval = time.Second
	}
	if cfg.Client.ThinkingOpen == "" {
		cfg.Client.ThinkingOpen = "<think>"
	}
	if cfg.Client.ThinkingClose == "" {
		cfg.Client.ThinkingClose = "</think>"
	}
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must be positive")
	}
	if cfg.API.RateBurst < 0 {
		return fmt.Errorf("api.rate_burst must be positive")
	}
	if cfg.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if cfg.Client.TickInterval <= 0 {
		return fmt.Errorf("client.tick_interval must be positive")
	}

	switch cfg.Upstream.Mode {
	case UpstreamModeHTTP:
		if cfg.Upstream.BaseURL == "" {
			return fmt.Errorf("upstream.base_url is required in http mode")
		}
	case UpstreamModeModel:
		if cfg.LLM.Provider == "" {
			return fmt.Errorf("llm.provider is required in model mode")
		}
		if cfg.LLM.Model == "" {
			return fmt.Errorf("llm.model or llm.models is required in model mode")
		}
		if cfg.LLM.Provider != "ollama" && cfg.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required")
		}
		if envVarPattern.MatchString(cfg.LLM.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.LLM.APIKey)
			if len(matches) > 1 {
				return fmt.Errorf("llm.api_key: environment variable ${%s} is not set", matches[1])
			}
		}
		if cfg.LLM.MaxTokens <= 0 {
			return fmt.Errorf("llm.max_tokens must be positive")
		}
	default:
		return fmt.Errorf("upstream.mode must be one of: http, model (got %q)", cfg.Upstream.Mode)
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
