// Package cache holds introspected external schemas so repeated mapping
// sessions do not hit the external system each time.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/models"
)

// DefaultSchemaTTL is used when no TTL is configured.
const DefaultSchemaTTL = 5 * time.Minute

const keyPrefix = "schemas"

// SchemaCache stores FetchSchemas results per connection and selector.
// Implementations are best effort: failures are logged and reported as misses.
type SchemaCache interface {
	Get(ctx context.Context, connectionID string, sel models.SchemaSelector) ([]models.SchemaElement, bool)
	Set(ctx context.Context, connectionID string, sel models.SchemaSelector, elements []models.SchemaElement)
	Invalidate(ctx context.Context, connectionID string) error
}

// SchemaKey returns the cache key for one selector of one connection.
func SchemaKey(connectionID string, sel models.SchemaSelector) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, connectionID, sel.Type, sel.ID)
}

// New returns a Redis-backed cache, or a no-op cache when client is nil.
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) SchemaCache {
	if client == nil {
		return NoopSchemaCache{}
	}
	return NewRedisSchemaCache(client, ttl, logger)
}

// RedisSchemaCache keeps JSON-encoded schema lists in Redis with a TTL.
type RedisSchemaCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ SchemaCache = (*RedisSchemaCache)(nil)

// NewRedisSchemaCache creates a cache on an existing client.
func NewRedisSchemaCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisSchemaCache {
	if ttl <= 0 {
		ttl = DefaultSchemaTTL
	}
	return &RedisSchemaCache{client: client, ttl: ttl, logger: logger.Named("schema-cache")}
}

func (c *RedisSchemaCache) Get(ctx context.Context, connectionID string, sel models.SchemaSelector) ([]models.SchemaElement, bool) {
	key := SchemaKey(connectionID, sel)
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("schema cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var elements []models.SchemaElement
	if err := json.Unmarshal(val, &elements); err != nil {
		c.logger.Warn("discarding corrupt schema cache entry", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, key).Err()
		return nil, false
	}
	return elements, true
}

func (c *RedisSchemaCache) Set(ctx context.Context, connectionID string, sel models.SchemaSelector, elements []models.SchemaElement) {
	if elements == nil {
		elements = []models.SchemaElement{}
	}
	data, err := json.Marshal(elements)
	if err != nil {
		return
	}
	key := SchemaKey(connectionID, sel)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("schema cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops every cached selector of a connection. SCAN is used
// instead of KEYS so a large keyspace does not block the server.
func (c *RedisSchemaCache) Invalidate(ctx context.Context, connectionID string) error {
	pattern := fmt.Sprintf("%s:%s:*", keyPrefix, connectionID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan schema cache for connection %s: %w", connectionID, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate schema cache for connection %s: %w", connectionID, err)
	}
	return nil
}

// NoopSchemaCache never stores anything.
type NoopSchemaCache struct{}

func (NoopSchemaCache) Get(context.Context, string, models.SchemaSelector) ([]models.SchemaElement, bool) {
	return nil, false
}
func (NoopSchemaCache) Set(context.Context, string, models.SchemaSelector, []models.SchemaElement) {}
func (NoopSchemaCache) Invalidate(context.Context, string) error { return nil }
