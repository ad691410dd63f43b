package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/policyflow/go-core/pkg/types"
)

// RedisConfig configures the distributed decision cache.
type RedisConfig struct {
	Host      string        `yaml:"host" json:"host"`
	Port      int           `yaml:"port" json:"port"`
	Password  string        `yaml:"password" json:"password"`
	DB        int           `yaml:"db" json:"db"`
	KeyPrefix string        `yaml:"keyPrefix" json:"keyPrefix"`
	TTL       time.Duration `yaml:"ttl" json:"ttl"`
	PoolSize  int           `yaml:"poolSize" json:"poolSize"`
}

// DefaultRedisConfig returns a config for a local Redis.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:      "localhost",
		Port:      6379,
		KeyPrefix: "authz:decision:",
		TTL:       5 * time.Minute,
		PoolSize:  10,
	}
}

func (c *RedisConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("redis cache: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("redis cache: invalid port %d", c.Port)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("redis cache: ttl must be positive")
	}
	return nil
}

// Redis is a DecisionCache backed by a shared Redis, letting a fleet of
// engine instances reuse each other's static decisions. Decisions are
// stored as JSON; every Redis failure degrades to a cache miss.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration

	hits   uint64
	misses uint64
}

// NewRedis connects and pings the server before returning.
func NewRedis(cfg *RedisConfig) (*Redis, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis cache: connect: %w", err)
	}

	return &Redis{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

// NewRedisWithClient wraps an existing client, mainly for tests.
func NewRedisWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (c *Redis) Get(key string) (*types.Decision, bool) {
	ctx, cancel := c.opContext()
	defer cancel()

	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	var d types.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	atomic.AddUint64(&c.hits, 1)
	return &d, true
}

func (c *Redis) Set(key string, d *types.Decision) {
	if !Cacheable(d) {
		return
	}

	data, err := json.Marshal(d)
	if err != nil {
		return
	}

	ctx, cancel := c.opContext()
	defer cancel()
	c.client.Set(ctx, c.prefix+key, data, c.ttl)
}

func (c *Redis) Delete(key string) {
	ctx, cancel := c.opContext()
	defer cancel()
	c.client.Del(ctx, c.prefix+key)
}

// Clear removes every decision under the cache's key prefix.
func (c *Redis) Clear() {
	ctx, cancel := c.opContext()
	defer cancel()

	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		c.client.Del(ctx, keys...)
	}
}

func (c *Redis) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	size := 0
	ctx, cancel := c.opContext()
	defer cancel()
	if n, err := c.client.DBSize(ctx).Result(); err == nil {
		size = int(n)
	}

	return Stats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate(hits, misses),
	}
}

func (c *Redis) Close() error {
	return c.client.Close()
}

func (c *Redis) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}
