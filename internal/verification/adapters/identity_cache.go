package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
)

const identityKeyPrefix = "verify:identity:"

// IdentityResolver is the lookup the cache sits in front of.
type IdentityResolver interface {
	ResolveUserIdentity(ctx context.Context, userID id.UserID) (models.UserIdentity, error)
}

// CachedIdentityResolver keeps resolved identities in Redis for ttl. Redis
// errors degrade to a direct lookup; lookup errors are never cached.
type CachedIdentityResolver struct {
	next   IdentityResolver
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

type CacheOption func(*CachedIdentityResolver)

func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *CachedIdentityResolver) {
		c.logger = logger
	}
}

func NewCachedIdentityResolver(next IdentityResolver, client *redis.Client, ttl time.Duration, opts ...CacheOption) *CachedIdentityResolver {
	c := &CachedIdentityResolver{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *CachedIdentityResolver) ResolveUserIdentity(ctx context.Context, userID id.UserID) (models.UserIdentity, error) {
	key := identityKeyPrefix + userID.String()

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var identity models.UserIdentity
		if jsonErr := json.Unmarshal(raw, &identity); jsonErr == nil {
			return identity, nil
		}
		c.logger.WarnContext(ctx, "discarding malformed cached identity", "user_id", userID)
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "identity cache read failed", "user_id", userID, "error", err)
	}

	identity, err := c.next.ResolveUserIdentity(ctx, userID)
	if err != nil {
		return models.UserIdentity{}, err
	}

	payload, err := json.Marshal(identity)
	if err == nil {
		err = c.client.Set(ctx, key, payload, c.ttl).Err()
	}
	if err != nil {
		c.logger.WarnContext(ctx, "identity cache write failed", "user_id", userID, "error", err)
	}
	return identity, nil
}

// Invalidate drops a cached identity, e.g. after the accounts service reports a rename.
func (c *CachedIdentityResolver) Invalidate(ctx context.Context, userID id.UserID) error {
	return c.client.Del(ctx, identityKeyPrefix+userID.String()).Err()
}
