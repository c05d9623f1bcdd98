package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"habitora-core/internal/marketplace/domain/client"
	"habitora-core/internal/marketplace/domain/model"
	"habitora-core/internal/shared/logger"
)

const identityCacheKeyPrefix = "identity:"

// CachedIdentityClient decorates an identity client with a Redis TTL cache.
// Profile lookups happen on every conversation resolve and workflow
// notification, so a short-lived snapshot keeps those hot paths off the
// document store. Cache failures fall through to the inner client.
type CachedIdentityClient struct {
	inner client.IdentityClient
	redis *redis.Client
	ttl   time.Duration
	log   logger.Logger
}

func NewCachedIdentityClient(inner client.IdentityClient, redisClient *redis.Client, ttl time.Duration, log logger.Logger) *CachedIdentityClient {
	return &CachedIdentityClient{
		inner: inner,
		redis: redisClient,
		ttl:   ttl,
		log:   log.WithComponent("identity_cache"),
	}
}

var _ client.IdentityClient = (*CachedIdentityClient)(nil)

// Lookup serves from the cache when possible, falling back to the inner
// client and storing the result.
func (c *CachedIdentityClient) Lookup(ctx context.Context, userID string) (*model.Identity, error) {
	key := identityCacheKeyPrefix + userID

	payload, err := c.redis.Get(ctx, key).Result()
	if err == nil {
		var cached model.Identity
		if err := json.Unmarshal([]byte(payload), &cached); err == nil {
			return &cached, nil
		}
		c.log.Warn("Discarding unparseable cache entry", zap.String("key", key))
	} else if err != redis.Nil {
		c.log.Debug("Identity cache read failed, falling through",
			zap.String("key", key),
			zap.Error(err))
	}

	identity, err := c.inner.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(identity); err == nil {
		if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.log.Debug("Identity cache write failed",
				zap.String("key", key),
				zap.Error(err))
		}
	}

	return identity, nil
}

// CurrentIdentity is never cached: it depends on the request context, not
// just the user ID.
func (c *CachedIdentityClient) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	return c.inner.CurrentIdentity(ctx)
}

// Invalidate drops the cached snapshot for a user, typically after a profile
// update lands in the users collection.
func (c *CachedIdentityClient) Invalidate(ctx context.Context, userID string) error {
	return c.redis.Del(ctx, identityCacheKeyPrefix+userID).Err()
}
