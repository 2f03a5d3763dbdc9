// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	FrontendURL string `env:"FRONTEND_URL"`
	DBPath      string `env:"DB_PATH" envDefault:"./data/skillsync.db"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	API      APIConfig
	Refresh  RefreshConfig
	Chat     ChatConfig
	SSE      SSEConfig
	ImageKit ImageKitConfig
}

// APIConfig describes the remote SkillSync REST API.
type APIConfig struct {
	BaseURL        string        `env:"SKILLSYNC_API_BASE_URL"`
	AIStreamPath   string        `env:"SKILLSYNC_AI_STREAM_PATH" envDefault:"/api/ai/freezy/stream/"`
	RequestTimeout time.Duration `env:"API_REQUEST_TIMEOUT" envDefault:"15s"`
	RateLimit      float64       `env:"API_RATE_LIMIT" envDefault:"10"`
	RateBurst      int           `env:"API_RATE_BURST" envDefault:"50"`
}

// RefreshConfig controls proactive access-token refresh.
type RefreshConfig struct {
	CheckInterval time.Duration `env:"REFRESH_CHECK_INTERVAL" envDefault:"1m"`
	Skew          time.Duration `env:"REFRESH_SKEW" envDefault:"2m"`
}

// ChatConfig controls the assistant panel.
type ChatConfig struct {
	RequestsPerWindow int           `env:"CHAT_RATE_LIMIT" envDefault:"10"`
	WindowDuration    time.Duration `env:"CHAT_RATE_WINDOW" envDefault:"1m"`
	HistoryLimit      int           `env:"CHAT_HISTORY_LIMIT" envDefault:"20"`
	HistoryRetention  time.Duration `env:"CHAT_HISTORY_RETENTION" envDefault:"168h"`
	MaxRequestBody    int64         `env:"CHAT_MAX_REQUEST_BODY" envDefault:"1048576"`
}

// SSEConfig controls event streaming to views.
type SSEConfig struct {
	KeepaliveInterval time.Duration `env:"SSE_KEEPALIVE_INTERVAL" envDefault:"10s"`
	RetryDelay        time.Duration `env:"SSE_RETRY_DELAY" envDefault:"5s"`
	ReplaySize        int           `env:"EVENT_REPLAY_SIZE" envDefault:"100"`
}

// ImageKitConfig holds the public upload parameters.
type ImageKitConfig struct {
	PublicKey string `env:"IMAGEKIT_PUBLIC_KEY"`
	UploadURL string `env:"IMAGEKIT_UPLOAD_URL" envDefault:"https://upload.imagekit.io/api/v1/files/upload"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("SKILLSYNC_API_BASE_URL cannot be empty")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("SKILLSYNC_API_BASE_URL must be an absolute URL")
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("API_REQUEST_TIMEOUT must be > 0")
	}
	if c.API.RateLimit <= 0 || c.API.RateBurst <= 0 {
		return fmt.Errorf("API_RATE_LIMIT and API_RATE_BURST must be > 0")
	}
	if c.Refresh.CheckInterval <= 0 {
		return fmt.Errorf("REFRESH_CHECK_INTERVAL must be > 0")
	}
	if c.Chat.RequestsPerWindow <= 0 || c.Chat.WindowDuration <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT and CHAT_RATE_WINDOW must be > 0")
	}
	if c.SSE.ReplaySize <= 0 {
		return fmt.Errorf("EVENT_REPLAY_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the local API.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}
