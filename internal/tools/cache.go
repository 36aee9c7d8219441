package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spigell/resume-crew/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultCacheTTL  = time.Hour
	defaultCacheSize = 500
	redisKeyPrefix   = "resume-crew:tool:"
)

// Cache stores tool results by key.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type CacheConfig struct {
	// Backend is one of memory, redis or none.
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Size    int           `mapstructure:"size"`
	Redis   *RedisConfig  `mapstructure:"redis"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password" json:"-"`
	DB       int    `mapstructure:"db"`
}

// NewCache builds the configured cache. A nil cache means caching is disabled.
func NewCache(ctx context.Context, cfg *CacheConfig) (Cache, error) {
	if cfg == nil {
		return NewMemoryCache(defaultCacheSize), nil
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryCache(cfg.Size), nil
	case "none", "off":
		return nil, nil
	case "redis":
		if cfg.Redis == nil || strings.TrimSpace(cfg.Redis.Address) == "" {
			return nil, errors.New("redis cache requires an address")
		}
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return NewRedisCache(client), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

type memoryEntry struct {
	value     string
	createdAt time.Time
	expiresAt time.Time
}

// MemoryCache is a process-local cache with per-entry expiry. When full it
// evicts the oldest entry.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	maxSize int
	now     func() time.Time
}

func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}
	return &MemoryCache{
		entries: make(map[string]*memoryEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := c.now()
	c.entries[key] = &memoryEntry{value: value, createdAt: now, expiresAt: now.Add(ttl)}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.createdAt.Before(oldest) {
			oldestKey = key
			oldest = entry.createdAt
		}
	}
	delete(c.entries, oldestKey)
}

// RedisCache keeps tool results in Redis so they survive restarts and are
// shared between instances.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err()
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachedTool serves repeated calls with identical arguments from a cache.
type CachedTool struct {
	Tool
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// Cached wraps t with cache. A nil cache returns t unchanged. Cache errors are
// logged and never fail the tool call.
func Cached(t Tool, cache Cache, ttl time.Duration, logger *zap.Logger) Tool {
	if cache == nil || t == nil {
		return t
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedTool{Tool: t, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedTool) Run(ctx context.Context, args map[string]string) (string, error) {
	key := CacheKey(c.Name(), args)

	value, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("tool cache lookup failed", zap.String("tool", c.Name()), zap.Error(err))
	}
	if ok {
		metrics.ToolCacheHits.WithLabelValues(c.Name()).Inc()
		c.logger.Debug("tool cache hit", zap.String("tool", c.Name()))
		return value, nil
	}

	value, err = c.Tool.Run(ctx, args)
	if err != nil {
		return "", err
	}

	if err := c.cache.Set(ctx, key, value, c.ttl); err != nil {
		c.logger.Warn("tool cache store failed", zap.String("tool", c.Name()), zap.Error(err))
	}
	return value, nil
}

// CacheKey derives a stable key from the tool name and its arguments.
func CacheKey(name string, args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(name))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(args[k]))
	}
	return name + ":" + hex.EncodeToString(h.Sum(nil))
}
