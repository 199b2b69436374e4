package empi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DevFaso/hms-sub003/pkg/common/logger"
	"github.com/DevFaso/hms-sub003/pkg/common/models"
	"github.com/DevFaso/hms-sub003/pkg/observability/metrics"
	"github.com/redis/go-redis/v9"
)

// ViewCache holds hot identity views for the read paths. Cache trouble
// is never more than a miss: the store stays authoritative.
type ViewCache interface {
	GetByNumber(ctx context.Context, number string) (models.IdentityView, bool)
	GetByAlias(ctx context.Context, aliasType, normalizedValue string) (models.IdentityView, bool)
	Put(ctx context.Context, view models.IdentityView)
	Drop(ctx context.Context, view models.IdentityView)
}

type RedisViewCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisViewCache(client *redis.Client, ttl time.Duration) *RedisViewCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisViewCache{client: client, ttl: ttl}
}

func numberKey(number string) string {
	return "empi:number:" + number
}

func aliasKey(aliasType, normalizedValue string) string {
	return fmt.Sprintf("empi:alias:%s:%s", aliasType, normalizedValue)
}

func (c *RedisViewCache) GetByNumber(ctx context.Context, number string) (models.IdentityView, bool) {
	return c.get(ctx, numberKey(number))
}

func (c *RedisViewCache) GetByAlias(ctx context.Context, aliasType, normalizedValue string) (models.IdentityView, bool) {
	return c.get(ctx, aliasKey(aliasType, normalizedValue))
}

func (c *RedisViewCache) get(ctx context.Context, key string) (models.IdentityView, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Log.WithError(err).WithField("key", key).Debug("cache read failed")
		}
		metrics.IncCacheMiss()
		return models.IdentityView{}, false
	}
	var view models.IdentityView
	if err := json.Unmarshal(raw, &view); err != nil {
		logger.Log.WithError(err).WithField("key", key).Debug("cache entry unreadable")
		metrics.IncCacheMiss()
		return models.IdentityView{}, false
	}
	metrics.IncCacheHit()
	return view, true
}

func (c *RedisViewCache) Put(ctx context.Context, view models.IdentityView) {
	raw, err := json.Marshal(view)
	if err != nil {
		return
	}
	for _, key := range c.keysFor(view) {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			logger.Log.WithError(err).WithField("key", key).Debug("cache write failed")
		}
	}
}

func (c *RedisViewCache) Drop(ctx context.Context, view models.IdentityView) {
	if err := c.client.Del(ctx, c.keysFor(view)...).Err(); err != nil {
		logger.Log.WithError(err).WithField("identity_id", view.ID).Debug("cache invalidation failed")
	}
}

func (c *RedisViewCache) keysFor(view models.IdentityView) []string {
	keys := []string{numberKey(view.EMPINumber)}
	for _, alias := range view.Aliases {
		keys = append(keys, aliasKey(NormalizeAlias(alias.Type), NormalizeAlias(alias.Value)))
	}
	return keys
}

// NoopViewCache is used when Redis is not configured.
type NoopViewCache struct{}

func (NoopViewCache) GetByNumber(context.Context, string) (models.IdentityView, bool) {
	return models.IdentityView{}, false
}

func (NoopViewCache) GetByAlias(context.Context, string, string) (models.IdentityView, bool) {
	return models.IdentityView{}, false
}

func (NoopViewCache) Put(context.Context, models.IdentityView)  {}
func (NoopViewCache) Drop(context.Context, models.IdentityView) {}
