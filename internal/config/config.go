package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all engine configuration.
type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Session   SessionConfig
	Renderer  RendererConfig
	Logging   LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8400"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// TransportConfig holds protocol transport configuration.
type TransportConfig struct {
	EnableEncryption  bool          `envconfig:"TRANSPORT_ENCRYPTION" default:"false"`
	EnableCompression bool          `envconfig:"TRANSPORT_COMPRESSION" default:"false"`
	MaxMessageSize    int           `envconfig:"TRANSPORT_MAX_MESSAGE_SIZE" default:"1048576"`
	HeartbeatInterval time.Duration `envconfig:"TRANSPORT_HEARTBEAT_INTERVAL" default:"30s"`
	ReconnectAttempts int           `envconfig:"TRANSPORT_RECONNECT_ATTEMPTS" default:"3"`
	ReconnectDelay    time.Duration `envconfig:"TRANSPORT_RECONNECT_DELAY" default:"1s"`
}

// SessionConfig holds sandbox session configuration.
type SessionConfig struct {
	Timeout       time.Duration `envconfig:"SESSION_TIMEOUT" default:"10s"`
	MaxMemoryMB   int64         `envconfig:"SESSION_MAX_MEMORY_MB" default:"64"`
	EnableLogging bool          `envconfig:"SESSION_LOGGING" default:"true"`
	EnableMetrics bool          `envconfig:"SESSION_METRICS" default:"true"`
}

// RendererConfig holds rendering orchestrator configuration.
type RendererConfig struct {
	EnableFallback   bool          `envconfig:"RENDER_ENABLE_FALLBACK" default:"true"`
	StrictSecurity   bool          `envconfig:"RENDER_STRICT_SECURITY" default:"false"`
	MaxRenderTime    time.Duration `envconfig:"RENDER_MAX_RENDER_TIME" default:"5s"`
	EnableAnimations bool          `envconfig:"RENDER_ENABLE_ANIMATIONS" default:"true"`
	TargetFPS        int           `envconfig:"RENDER_TARGET_FPS" default:"60"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8400",
			Host: "0.0.0.0",
		},
		Transport: TransportConfig{
			MaxMessageSize:    1 << 20,
			HeartbeatInterval: 30 * time.Second,
			ReconnectAttempts: 3,
			ReconnectDelay:    time.Second,
		},
		Session: SessionConfig{
			Timeout:       10 * time.Second,
			MaxMemoryMB:   64,
			EnableLogging: true,
			EnableMetrics: true,
		},
		Renderer: RendererConfig{
			EnableFallback:   true,
			MaxRenderTime:    5 * time.Second,
			EnableAnimations: true,
			TargetFPS:        60,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}
