package identity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitora-core/internal/marketplace/adapter/identity"
	"habitora-core/internal/marketplace/domain/model"
	"habitora-core/internal/shared/errors"
	"habitora-core/internal/shared/logger"
)

// countingClient tracks how often the backing directory is actually hit.
type countingClient struct {
	mu      sync.Mutex
	lookups int
	profile *model.Identity
}

func (c *countingClient) Lookup(ctx context.Context, userID string) (*model.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	if c.profile == nil || c.profile.ID != userID {
		return nil, errors.NewNotFoundError("user")
	}
	copied := *c.profile
	return &copied, nil
}

func (c *countingClient) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	return nil, errors.NewAuthenticationError("no caller identity")
}

func (c *countingClient) lookupCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookups
}

func setupCacheFixture(t *testing.T, ttl time.Duration) (*identity.CachedIdentityClient, *countingClient, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	inner := &countingClient{profile: &model.Identity{
		ID:          "alice",
		DisplayName: "Alice",
		Email:       "alice@example.com",
		Role:        "requester",
	}}
	cached := identity.NewCachedIdentityClient(inner, redisClient, ttl, logger.NewLogger())
	return cached, inner, s
}

func TestCachedLookup_ServesSecondReadFromCache(t *testing.T) {
	cached, inner, _ := setupCacheFixture(t, 5*time.Minute)
	ctx := context.Background()

	first, err := cached.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", first.DisplayName)
	assert.Equal(t, 1, inner.lookupCount())

	second, err := cached.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.lookupCount(), "second read must not hit the directory")
}

func TestCachedLookup_ExpiresWithTTL(t *testing.T) {
	cached, inner, s := setupCacheFixture(t, time.Minute)
	ctx := context.Background()

	_, err := cached.Lookup(ctx, "alice")
	require.NoError(t, err)

	s.FastForward(2 * time.Minute)

	_, err = cached.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.lookupCount(), "expired entry must refetch")
}

func TestCachedLookup_ErrorsAreNotCached(t *testing.T) {
	cached, inner, _ := setupCacheFixture(t, time.Minute)
	ctx := context.Background()

	_, err := cached.Lookup(ctx, "nobody")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, err = cached.Lookup(ctx, "nobody")
	require.Error(t, err)
	assert.Equal(t, 2, inner.lookupCount())
}

func TestCachedLookup_FallsThroughWhenRedisDown(t *testing.T) {
	cached, inner, s := setupCacheFixture(t, time.Minute)
	ctx := context.Background()

	s.Close()

	got, err := cached.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, 1, inner.lookupCount())
}

func TestCachedLookup_InvalidateForcesRefetch(t *testing.T) {
	cached, inner, _ := setupCacheFixture(t, time.Hour)
	ctx := context.Background()

	_, err := cached.Lookup(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, cached.Invalidate(ctx, "alice"))

	_, err = cached.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.lookupCount())
}

func TestCachedCurrentIdentity_Delegates(t *testing.T) {
	cached, _, _ := setupCacheFixture(t, time.Minute)

	_, err := cached.CurrentIdentity(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsAuthentication(err))
}
