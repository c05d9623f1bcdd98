package database

import (
	"context"
	"fmt"
	"time"

	"habitora-core/internal/shared/logger"

	"github.com/caarlos0/env/v6"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DialConfig holds connection tuning for the backing stores.
type DialConfig struct {
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"30s"`

	// Connection pooling for MongoDB
	MaxPoolSize uint64 `env:"MONGODB_MAX_POOL_SIZE" envDefault:"100"`
	MinPoolSize uint64 `env:"MONGODB_MIN_POOL_SIZE" envDefault:"2"`
}

// LoadDialConfig loads connection tuning from environment variables.
func LoadDialConfig() (*DialConfig, error) {
	cfg := &DialConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load database dial configuration: %w", err)
	}
	return cfg, nil
}

// DefaultDialConfig returns connection tuning suitable for local development.
func DefaultDialConfig() *DialConfig {
	return &DialConfig{
		ConnectTimeout: 30 * time.Second,
		MaxPoolSize:    100,
		MinPoolSize:    2,
	}
}

// ConnectMongo dials MongoDB and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string, cfg *DialConfig, log logger.Logger) (*mongo.Client, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongodb URI cannot be empty")
	}
	if cfg == nil {
		cfg = DefaultDialConfig()
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize)

	client, err := mongo.Connect(dialCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(dialCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"max_pool_size": cfg.MaxPoolSize,
		"min_pool_size": cfg.MinPoolSize,
	}).Info("MongoDB connection established")

	return client, nil
}

// ConnectRedis dials Redis and verifies the connection with a ping.
func ConnectRedis(ctx context.Context, addr, password string, db int, cfg *DialConfig, log logger.Logger) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if cfg == nil {
		cfg = DefaultDialConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := client.Ping(dialCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"addr": addr,
		"db":   db,
	}).Info("Redis connection established")

	return client, nil
}
