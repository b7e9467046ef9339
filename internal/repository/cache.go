package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"time-agent/internal/domain"
)

// redisAPI is the subset of the go-redis client used by CachedProfiles.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedProfiles fronts a profile directory with a Redis read-through cache.
// Cache failures are logged and fall through to the backing directory.
// Misses are not cached.
type CachedProfiles struct {
	rdb  redisAPI
	next ProfileLookup
	ttl  time.Duration
	log  *zap.Logger
}

// NewCachedProfiles wraps next with a cache held in rdb.
func NewCachedProfiles(rdb redisAPI, next ProfileLookup, ttl time.Duration, log *zap.Logger) (*CachedProfiles, error) {
	if rdb == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	if next == nil {
		return nil, errors.New("repository: backing directory must not be nil")
	}
	if ttl <= 0 {
		return nil, errors.New("repository: cache ttl must be positive")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedProfiles{rdb: rdb, next: next, ttl: ttl, log: log}, nil
}

// NewRedisClient parses redisURL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("repository: parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("repository: connect to redis: %w", err)
	}
	return client, nil
}

func profileCacheKey(handle string) string {
	return "profile:" + strings.ToLower(strings.TrimSpace(handle))
}

func (c *CachedProfiles) Lookup(ctx context.Context, handle string) (domain.UserProfile, bool, error) {
	key := profileCacheKey(handle)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p domain.UserProfile
		if jerr := json.Unmarshal(data, &p); jerr == nil && p.Timezone != "" {
			return p, true, nil
		}
		c.log.Warn("discarding corrupt cached profile", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("profile cache read failed", zap.String("key", key), zap.Error(err))
	}

	p, ok, err := c.next.Lookup(ctx, handle)
	if err != nil || !ok {
		return p, ok, err
	}

	if data, err := json.Marshal(p); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.Warn("profile cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return p, true, nil
}
