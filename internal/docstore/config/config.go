package config

import (
	"errors"

	"github.com/caarlos0/env/v6"
)

// Config holds all configuration for the document store module.
type Config struct {
	MongoDBURI   string `env:"MONGODB_URI"`
	DatabaseName string `env:"MONGODB_DATABASE" envDefault:"habitora"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// JournalMaxLen caps each collection's Redis change stream.
	JournalMaxLen int64 `env:"EVENT_JOURNAL_MAX_LEN" envDefault:"10000"`
}

// LoadConfig loads configuration from environment variables and applies defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.New("failed to load docstore configuration from environment: " + err.Error())
	}

	if cfg.MongoDBURI == "" {
		return nil, errors.New("MONGODB_URI environment variable is not set")
	}
	if cfg.JournalMaxLen <= 0 {
		cfg.JournalMaxLen = 10000
	}

	return cfg, nil
}

// DefaultConfig returns a Config with local development defaults.
func DefaultConfig() *Config {
	return &Config{
		MongoDBURI:    "mongodb://localhost:27017",
		DatabaseName:  "habitora",
		RedisAddr:     "localhost:6379",
		JournalMaxLen: 10000,
	}
}
