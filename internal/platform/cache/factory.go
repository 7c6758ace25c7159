package cache

import (
	"fmt"
	"time"

	"github.com/quantrail/marketsizer/internal/platform/observability"
)

// Backend type names accepted by the factory.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
	TypeHybrid = "hybrid"
)

// Config selects and configures a cache backend. This is the only place
// that knows concrete backend types; everything else depends on Cache.
type Config struct {
	// Type is one of memory, redis, or hybrid.
	Type string `mapstructure:"type"`

	// PersistDir enables disk persistence for the in-process backend
	// (standalone or as the hybrid's local child).
	PersistDir string `mapstructure:"persist_dir"`

	// CleanupInterval for the in-process janitor. Zero means lazy expiry only.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// Remote store connection parameters, used by redis and hybrid.
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
	EnableFallback bool          `mapstructure:"enable_fallback"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`

	// ReadTimeout bounds the hybrid backend's remote read race.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// New builds the configured backend behind the uniform Cache interface.
// An unsupported type fails here, at construction, not at first use.
func New(cfg Config, logger *observability.Logger, metrics *observability.Metrics) (Cache, error) {
	switch cfg.Type {
	case TypeMemory:
		return NewMemoryCache(MemoryCacheConfig{
			PersistDir:      cfg.PersistDir,
			CleanupInterval: cfg.CleanupInterval,
			Logger:          logger,
		})

	case TypeRedis:
		return NewRedisCache(redisConfig(cfg, logger, metrics)), nil

	case TypeHybrid:
		remote := NewRedisCache(redisConfig(cfg, logger, metrics))

		local, err := NewMemoryCache(MemoryCacheConfig{
			PersistDir:      cfg.PersistDir,
			CleanupInterval: cfg.CleanupInterval,
			Logger:          logger,
		})
		if err != nil {
			remote.Close()
			return nil, err
		}

		return NewHybridCache(HybridCacheConfig{
			Remote:      remote,
			Local:       local,
			ReadTimeout: cfg.ReadTimeout,
			Logger:      logger,
			Metrics:     metrics,
		})

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, cfg.Type)
	}
}

func redisConfig(cfg Config, logger *observability.Logger, metrics *observability.Metrics) RedisCacheConfig {
	return RedisCacheConfig{
		Addr:           cfg.Addr,
		Password:       cfg.Password,
		DB:             cfg.DB,
		KeyPrefix:      cfg.KeyPrefix,
		EnableFallback: cfg.EnableFallback,
		DialTimeout:    cfg.DialTimeout,
		ReadTimeout:    cfg.CommandTimeout,
		WriteTimeout:   cfg.CommandTimeout,
		Logger:         logger,
		Metrics:        metrics,
	}
}
