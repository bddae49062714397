// Package rediscache implements the distributed cache tier on Redis.
//
// Every operation runs under retry with exponential backoff, each attempt
// inside the circuit breaker's protect scope. A disconnected client degrades
// every operation to a miss instead of failing, so the coordinator can keep
// serving from the in-process tier or compute.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/lookupcache/circuitbreaker"
	"github.com/BaSui01/lookupcache/codec"
	"github.com/BaSui01/lookupcache/stats"
)

const (
	// scanCount is the SCAN page size used by ClearPattern.
	scanCount = 100
	// deleteBatchSize bounds a single DEL request during pattern clears.
	deleteBatchSize = 100

	connectTimeout = 5 * time.Second
)

// Config configures the Redis tier client.
type Config struct {
	// Addr is the Redis host:port.
	Addr string `yaml:"addr" json:"addr"`

	// Password is optional.
	Password string `yaml:"password" json:"password"`

	// DB is the database number.
	DB int `yaml:"db" json:"db"`

	// KeyPrefix partitions the keyspace. Wire keys are
	// "<prefix>:<category>:<key>".
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// DefaultTTL applies when Set is called without a TTL.
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// MaxRetries bounds retries of application-level errors.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// RetryDelay is the base backoff; attempt n waits RetryDelay*2^n plus
	// jitter.
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`

	// Breaker configures the circuit breaker guarding this backend.
	Breaker circuitbreaker.Config `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// DefaultConfig returns client defaults.
func DefaultConfig() Config {
	return Config{
		Addr:       "localhost:6379",
		KeyPrefix:  "lookup",
		DefaultTTL: time.Hour,
		MaxRetries: 2,
		RetryDelay: 100 * time.Millisecond,
		Breaker:    circuitbreaker.DefaultConfig(),
	}
}

// Client is the L2 cache client.
type Client struct {
	rdb       *redis.Client
	config    Config
	codec     *codec.Codec
	breaker   *circuitbreaker.Breaker
	rec       *stats.Recorder
	logger    *zap.Logger
	connected atomic.Bool
}

// New creates a client. No connection is made until Connect.
func New(config Config, cdc *codec.Codec, rec *stats.Recorder, logger *zap.Logger) *Client {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "lookup"
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Hour
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 100 * time.Millisecond
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if cdc == nil {
		cdc = codec.New(codec.DefaultConfig(), rec)
	}
	if rec == nil {
		rec = stats.NewRecorder(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  connectTimeout,
		ReadTimeout:  connectTimeout,
		WriteTimeout: connectTimeout,
		// Retrying happens in withRetry under breaker protection; the
		// driver's internal retries would hide failures from the breaker.
		MaxRetries: -1,
	})

	return &Client{
		rdb:     rdb,
		config:  config,
		codec:   cdc,
		breaker: circuitbreaker.New("redis_cache", config.Breaker, logger),
		rec:     rec,
		logger:  logger.With(zap.String("component", "rediscache")),
	}
}

// Connect pings the server and marks the client connected.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.rec.RecordError("connection_error")
		c.logger.Error("failed to connect to redis", zap.Error(err))
		return fmt.Errorf("rediscache: connect: %w", err)
	}
	c.connected.Store(true)
	c.logger.Info("connected to redis",
		zap.String("addr", c.config.Addr),
		zap.Bool("password_protected", c.config.Password != ""),
	)
	return nil
}

// Close disconnects from Redis.
func (c *Client) Close() error {
	if !c.connected.Swap(false) {
		return c.rdb.Close()
	}
	c.logger.Info("disconnected from redis")
	return c.rdb.Close()
}

// Connected reports whether Connect succeeded and Close has not been called.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// BreakerStatus returns the circuit breaker snapshot.
func (c *Client) BreakerStatus() circuitbreaker.Status {
	return c.breaker.Status()
}

func (c *Client) cacheKey(key, category string) string {
	return c.config.KeyPrefix + ":" + category + ":" + key
}

// Get fetches and decodes a value. The bool reports presence. Backend
// failures degrade to a miss; only decode failures return an error, since a
// corrupt value must not silently become an empty result.
func (c *Client) Get(ctx context.Context, key, category string) (any, bool, error) {
	if !c.connected.Load() {
		c.logger.Debug("redis not connected, skipping get")
		return nil, false, nil
	}

	start := time.Now()
	defer func() { c.rec.RecordOperationTime("redis_get", time.Since(start)) }()

	fullKey := c.cacheKey(key, category)

	var data []byte
	var miss bool
	err := c.withRetry(ctx, "redis_get", func(ctx context.Context) error {
		b, err := c.rdb.Get(ctx, fullKey).Bytes()
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		c.rec.RecordError("redis_get_error")
		c.logger.Error("error getting from redis cache",
			zap.String("key", key), zap.String("category", category), zap.Error(err))
		return nil, false, nil
	}
	if miss {
		return nil, false, nil
	}

	value, err := c.codec.Decode(data)
	if err != nil {
		c.rec.RecordError("deserialization_error")
		c.logger.Error("failed to decode cached value",
			zap.String("key", key), zap.String("category", category), zap.Error(err))
		return nil, false, err
	}

	c.logger.Debug("redis cache hit", zap.String("key", key), zap.String("category", category))
	return value, true, nil
}

// Set encodes and stores a value with the given TTL, reporting success.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration, category string) bool {
	if !c.connected.Load() {
		c.logger.Debug("redis not connected, skipping set")
		return false
	}
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	start := time.Now()
	defer func() { c.rec.RecordOperationTime("redis_set", time.Since(start)) }()

	data, err := c.codec.Encode(value)
	if err != nil {
		c.rec.RecordError("serialization_error")
		c.logger.Error("failed to encode cache value",
			zap.String("key", key), zap.String("category", category), zap.Error(err))
		return false
	}

	fullKey := c.cacheKey(key, category)
	err = c.withRetry(ctx, "redis_set", func(ctx context.Context) error {
		return c.rdb.Set(ctx, fullKey, data, ttl).Err()
	})
	if err != nil {
		c.rec.RecordError("redis_set_error")
		c.logger.Error("error setting in redis cache",
			zap.String("key", key), zap.String("category", category), zap.Error(err))
		return false
	}

	c.logger.Debug("redis cache set",
		zap.String("key", key), zap.String("category", category), zap.Duration("ttl", ttl))
	return true
}

// Delete removes a key, reporting whether anything was deleted.
func (c *Client) Delete(ctx context.Context, key, category string) bool {
	if !c.connected.Load() {
		return false
	}

	fullKey := c.cacheKey(key, category)

	var deleted int64
	err := c.withRetry(ctx, "redis_delete", func(ctx context.Context) error {
		n, err := c.rdb.Del(ctx, fullKey).Result()
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		c.logger.Error("error deleting from redis cache",
			zap.String("key", key), zap.String("category", category), zap.Error(err))
		return false
	}
	return deleted > 0
}

// Exists reports whether a key is present.
func (c *Client) Exists(ctx context.Context, key, category string) bool {
	if !c.connected.Load() {
		return false
	}

	fullKey := c.cacheKey(key, category)

	var count int64
	err := c.withRetry(ctx, "redis_exists", func(ctx context.Context) error {
		n, err := c.rdb.Exists(ctx, fullKey).Result()
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		c.logger.Error("error checking existence in redis cache",
			zap.String("key", key), zap.String("category", category), zap.Error(err))
		return false
	}
	return count > 0
}

// ClearPattern deletes all keys matching the wildcard pattern within the
// category's namespace, in bounded batches, and returns the deleted count.
func (c *Client) ClearPattern(ctx context.Context, pattern, category string) int {
	if !c.connected.Load() {
		return 0
	}

	fullPattern := c.cacheKey(pattern, category)

	var keys []string
	err := c.withRetry(ctx, "redis_scan", func(ctx context.Context) error {
		keys = keys[:0]
		var cursor uint64
		for {
			page, next, err := c.rdb.Scan(ctx, cursor, fullPattern, scanCount).Result()
			if err != nil {
				return err
			}
			keys = append(keys, page...)
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
	if err != nil {
		c.logger.Error("error scanning pattern in redis cache",
			zap.String("pattern", pattern), zap.String("category", category), zap.Error(err))
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	total := 0
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		var deleted int64
		err := c.withRetry(ctx, "redis_delete", func(ctx context.Context) error {
			n, err := c.rdb.Del(ctx, batch...).Result()
			if err != nil {
				return err
			}
			deleted = n
			return nil
		})
		if err != nil {
			c.logger.Error("error deleting pattern batch from redis cache",
				zap.String("pattern", pattern), zap.String("category", category), zap.Error(err))
			continue
		}
		total += int(deleted)
	}

	c.logger.Info("cleared cache pattern",
		zap.String("pattern", pattern), zap.String("category", category), zap.Int("deleted", total))
	return total
}

// Health describes the tier's health for the coordinator's report.
type Health struct {
	Status         string                `json:"status"`
	Connected      bool                  `json:"connected"`
	LatencyMillis  float64               `json:"latency_ms,omitempty"`
	CircuitBreaker circuitbreaker.Status `json:"circuit_breaker"`
	Error          string                `json:"error,omitempty"`
}

// HealthCheck pings Redis and reports status plus breaker state.
func (c *Client) HealthCheck(ctx context.Context) Health {
	if !c.connected.Load() {
		return Health{
			Status:         "unhealthy",
			Connected:      false,
			CircuitBreaker: c.breaker.Status(),
			Error:          "not connected",
		}
	}

	start := time.Now()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return Health{
			Status:         "unhealthy",
			Connected:      true,
			CircuitBreaker: c.breaker.Status(),
			Error:          err.Error(),
		}
	}

	return Health{
		Status:         "healthy",
		Connected:      true,
		LatencyMillis:  float64(time.Since(start).Microseconds()) / 1000.0,
		CircuitBreaker: c.breaker.Status(),
	}
}
