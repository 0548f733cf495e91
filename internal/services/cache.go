package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrCacheMiss is returned when a key is absent or expired
var ErrCacheMiss = errors.New("cache: key not found")

// CacheKeyPlan builds the key for a cached LLM plan
func CacheKeyPlan(model, prompt string) string {
	sum := sha1.Sum([]byte(prompt))
	return "signup:plan:" + model + ":" + hex.EncodeToString(sum[:])
}

// CacheService caches small strings in Redis with an in-memory fallback
// when Redis is not available.
type CacheService struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger

	local map[string]cacheItem
	mu    sync.RWMutex
}

type cacheItem struct {
	value     string
	expiresAt time.Time
}

// NewCacheService creates a new cache service
func NewCacheService(client *redis.Client, ttl time.Duration, logger *logrus.Logger) CacheServiceInterface {
	return &CacheService{
		client: client,
		ttl:    ttl,
		logger: logger,
		local:  make(map[string]cacheItem),
	}
}

// Get retrieves a value from cache
func (c *CacheService) Get(ctx context.Context, key string) (string, error) {
	if c.client != nil {
		val, err := c.client.Get(ctx, key).Result()
		if err == nil {
			c.logger.WithField("key", key).Debug("Cache hit (Redis)")
			return val, nil
		}
		if err != redis.Nil {
			c.logger.WithError(err).WithField("key", key).Warn("Redis get error, falling back to memory cache")
		}
	}

	c.mu.RLock()
	item, exists := c.local[key]
	c.mu.RUnlock()

	if !exists {
		return "", ErrCacheMiss
	}
	if time.Now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.local, key)
		c.mu.Unlock()
		return "", ErrCacheMiss
	}

	c.logger.WithField("key", key).Debug("Cache hit (memory)")
	return item.value, nil
}

// Set stores a value in cache with TTL
func (c *CacheService) Set(ctx context.Context, key string, value string) error {
	if c.client != nil {
		err := c.client.Set(ctx, key, value, c.ttl).Err()
		if err == nil {
			return nil
		}
		c.logger.WithError(err).WithField("key", key).Warn("Redis set error, falling back to memory cache")
	}

	c.mu.Lock()
	c.local[key] = cacheItem{value: value, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

// Delete removes a value from cache
func (c *CacheService) Delete(ctx context.Context, key string) error {
	if c.client != nil {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("Redis delete error")
		}
	}

	c.mu.Lock()
	delete(c.local, key)
	c.mu.Unlock()
	return nil
}

// Exists checks if a key exists in cache
func (c *CacheService) Exists(ctx context.Context, key string) (bool, error) {
	if c.client != nil {
		count, err := c.client.Exists(ctx, key).Result()
		if err == nil {
			return count > 0, nil
		}
		c.logger.WithError(err).WithField("key", key).Warn("Redis exists error, checking memory cache")
	}

	c.mu.RLock()
	item, exists := c.local[key]
	c.mu.RUnlock()

	if !exists {
		return false, nil
	}
	if time.Now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.local, key)
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Health returns cache service health status
func (c *CacheService) Health() map[string]interface{} {
	health := make(map[string]interface{})

	if c.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := c.client.Ping(ctx).Err(); err != nil {
			health["redis"] = map[string]interface{}{"status": "unhealthy", "error": err.Error()}
		} else {
			health["redis"] = map[string]interface{}{"status": "healthy"}
		}
	} else {
		health["redis"] = map[string]interface{}{"status": "disabled"}
	}

	c.mu.RLock()
	health["memory"] = map[string]interface{}{"status": "healthy", "size": len(c.local)}
	c.mu.RUnlock()

	return health
}

// StartCleanupRoutine periodically evicts expired memory entries until the
// context is cancelled.
func (c *CacheService) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.cleanupExpired()
			}
		}
	}()
}

func (c *CacheService) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, item := range c.local {
		if now.After(item.expiresAt) {
			delete(c.local, key)
		}
	}
}
