package cache

import (
	"fmt"
	"time"
)

// Kind selects the cache backend.
type Kind string

const (
	KindNone  Kind = "none"
	KindLRU   Kind = "lru"
	KindRedis Kind = "redis"
)

// Config selects and sizes the decision cache.
type Config struct {
	Kind     Kind          `yaml:"kind" json:"kind"`
	Capacity int           `yaml:"capacity" json:"capacity"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
	Redis    *RedisConfig  `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// DefaultConfig is an in-process LRU sized for a single instance.
func DefaultConfig() Config {
	return Config{Kind: KindLRU, Capacity: 10000, TTL: 5 * time.Minute}
}

// New builds the configured cache backend.
func New(cfg Config) (DecisionCache, error) {
	switch cfg.Kind {
	case KindNone:
		return Noop{}, nil
	case KindLRU, "":
		capacity := cfg.Capacity
		if capacity <= 0 {
			capacity = 10000
		}
		ttl := cfg.TTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		return NewLRU(capacity, ttl), nil
	case KindRedis:
		return NewRedis(cfg.Redis)
	}
	return nil, fmt.Errorf("cache: unknown kind %q", cfg.Kind)
}
