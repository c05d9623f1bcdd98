package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v6"
)

// RealtimeConfig holds configuration specific to the realtime gateway.
type RealtimeConfig struct {
	// WebSocketPath is the endpoint path for WebSocket connections.
	WebSocketPath string `env:"WEBSOCKET_PATH" envDefault:"/ws/v1/listen"`

	// ClientSendChannelBuffer is the buffer size for the per-connection
	// outbound queue. Prevents a slow client from blocking broadcasts.
	ClientSendChannelBuffer int `env:"CLIENT_SEND_CHANNEL_BUFFER" envDefault:"16"`

	// HeartbeatInterval is the ping cadence for open connections.
	HeartbeatInterval time.Duration `env:"WS_HEARTBEAT_INTERVAL" envDefault:"30s"`
}

// MediaConfig holds the object storage settings for attachment uploads.
type MediaConfig struct {
	Endpoint  string `env:"MEDIA_ENDPOINT" envDefault:"localhost:9000"`
	AccessKey string `env:"MEDIA_ACCESS_KEY" envDefault:""`
	SecretKey string `env:"MEDIA_SECRET_KEY" envDefault:""`
	Bucket    string `env:"MEDIA_BUCKET" envDefault:"habitora-media"`
	UseSSL    bool   `env:"MEDIA_USE_SSL" envDefault:"false"`

	// PublicBaseURL overrides the URL prefix returned for stored objects.
	// Empty means the endpoint itself is publicly reachable.
	PublicBaseURL string `env:"MEDIA_PUBLIC_BASE_URL" envDefault:""`
}

// Config holds all configuration for the marketplace module.
type Config struct {
	// JWT verification for the identity provider's access tokens.
	JWTSecretKey   string        `env:"JWT_SECRET_KEY,required"`
	JWTIssuer      string        `env:"JWT_ISSUER" envDefault:"habitora-identity"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`

	// IdentityCacheTTL bounds how stale a cached profile snapshot may get.
	IdentityCacheTTL time.Duration `env:"IDENTITY_CACHE_TTL" envDefault:"5m"`

	Media    MediaConfig
	Realtime RealtimeConfig
}

// LoadConfig loads configuration from environment variables and applies defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.New("failed to load marketplace configuration from environment: " + err.Error())
	}
	if err := env.Parse(&cfg.Media); err != nil {
		return nil, errors.New("failed to load media configuration from environment: " + err.Error())
	}
	if err := env.Parse(&cfg.Realtime); err != nil {
		return nil, errors.New("failed to load realtime configuration from environment: " + err.Error())
	}

	if cfg.JWTSecretKey == "" {
		return nil, errors.New("JWT_SECRET_KEY environment variable is not set")
	}
	if cfg.Realtime.WebSocketPath == "" {
		cfg.Realtime.WebSocketPath = "/ws/v1/listen"
	}
	if cfg.Realtime.ClientSendChannelBuffer <= 0 {
		cfg.Realtime.ClientSendChannelBuffer = 16
	}
	if cfg.IdentityCacheTTL <= 0 {
		cfg.IdentityCacheTTL = 5 * time.Minute
	}

	return cfg, nil
}

// DefaultConfig returns a Config with local development defaults.
func DefaultConfig() *Config {
	return &Config{
		JWTSecretKey:     "local-development-secret-do-not-use-in-production",
		JWTIssuer:        "habitora-identity",
		AccessTokenTTL:   15 * time.Minute,
		IdentityCacheTTL: 5 * time.Minute,
		Media: MediaConfig{
			Endpoint: "localhost:9000",
			Bucket:   "habitora-media",
		},
		Realtime: RealtimeConfig{
			WebSocketPath:           "/ws/v1/listen",
			ClientSendChannelBuffer: 16,
			HeartbeatInterval:       30 * time.Second,
		},
	}
}
