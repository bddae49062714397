package lookupcache

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/lookupcache/circuitbreaker"
	"github.com/BaSui01/lookupcache/codec"
	"github.com/BaSui01/lookupcache/rediscache"
)

// Well-known cache categories. Categories are open-ended strings; anything
// unrecognized falls back to the default TTL.
const (
	CategoryBusinessLookup = "business_lookup"
	CategoryKnowledgeBase  = "knowledge_base"
	CategoryDefault        = "default"
)

// Config holds all cache settings. It is constructed once and never mutated
// after a MultiLevelCache is created from it.
type Config struct {
	// L1 (in-process) tier.
	L1MaxSize int           `yaml:"l1_max_size" json:"l1_max_size"`
	L1TTL     time.Duration `yaml:"l1_ttl" json:"l1_ttl"`

	// L2 (Redis) tier.
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"redis_password"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix" json:"key_prefix"`

	// Per-category TTLs.
	BusinessLookupTTL time.Duration `yaml:"business_lookup_ttl" json:"business_lookup_ttl"`
	KnowledgeBaseTTL  time.Duration `yaml:"knowledge_base_ttl" json:"knowledge_base_ttl"`
	DefaultTTL        time.Duration `yaml:"default_ttl" json:"default_ttl"`
	L2DefaultTTL      time.Duration `yaml:"l2_default_ttl" json:"l2_default_ttl"`

	// Serialization.
	CompressionEnabled   bool `yaml:"compression_enabled" json:"compression_enabled"`
	CompressionThreshold int  `yaml:"compression_threshold" json:"compression_threshold"`

	// Retry and circuit breaker.
	MaxRetries              int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay              time.Duration `yaml:"retry_delay" json:"retry_delay"`
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `yaml:"circuit_breaker_timeout" json:"circuit_breaker_timeout"`

	// Cache warming.
	WarmingEnabled     bool `yaml:"warming_enabled" json:"warming_enabled"`
	WarmingConcurrency int  `yaml:"warming_concurrency" json:"warming_concurrency"`

	// Background compute/write-back workers.
	ComputeWorkers   int `yaml:"compute_workers" json:"compute_workers"`
	ComputeQueueSize int `yaml:"compute_queue_size" json:"compute_queue_size"`

	// MetricsInterval is the period of the gauge update loop.
	MetricsInterval time.Duration `yaml:"metrics_interval" json:"metrics_interval"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		L1MaxSize:               500,
		L1TTL:                   5 * time.Minute,
		RedisAddr:               "localhost:6379",
		KeyPrefix:               "lookup",
		BusinessLookupTTL:       30 * time.Minute,
		KnowledgeBaseTTL:        time.Hour,
		DefaultTTL:              5 * time.Minute,
		L2DefaultTTL:            time.Hour,
		CompressionEnabled:      true,
		CompressionThreshold:    1024,
		MaxRetries:              2,
		RetryDelay:              100 * time.Millisecond,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
		WarmingEnabled:          true,
		WarmingConcurrency:      4,
		ComputeWorkers:          4,
		ComputeQueueSize:        64,
		MetricsInterval:         30 * time.Second,
	}
}

// FromEnv builds a Config from environment variables, starting from the
// defaults. TTL and delay variables are numbers of seconds.
func FromEnv() Config {
	cfg := DefaultConfig()

	if host := os.Getenv("REDIS_HOST"); host != "" {
		port := envInt("REDIS_PORT", 6379)
		cfg.RedisAddr = fmt.Sprintf("%s:%d", host, port)
	}
	cfg.RedisPassword = envString("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.KeyPrefix = envString("CACHE_KEY_PREFIX", cfg.KeyPrefix)

	cfg.L1MaxSize = envInt("CACHE_L1_SIZE", cfg.L1MaxSize)
	cfg.L1TTL = envSeconds("CACHE_L1_TTL", cfg.L1TTL)
	cfg.BusinessLookupTTL = envSeconds("CACHE_BUSINESS_TTL", cfg.BusinessLookupTTL)
	cfg.KnowledgeBaseTTL = envSeconds("CACHE_KNOWLEDGE_TTL", cfg.KnowledgeBaseTTL)
	cfg.L2DefaultTTL = envSeconds("CACHE_L2_TTL", cfg.L2DefaultTTL)

	cfg.CompressionEnabled = envBool("CACHE_COMPRESSION", cfg.CompressionEnabled)
	cfg.CompressionThreshold = envInt("CACHE_COMPRESSION_THRESHOLD", cfg.CompressionThreshold)

	cfg.MaxRetries = envInt("CACHE_MAX_RETRIES", cfg.MaxRetries)
	cfg.RetryDelay = envFloatSeconds("CACHE_RETRY_DELAY", cfg.RetryDelay)
	cfg.CircuitBreakerThreshold = envInt("CACHE_CB_THRESHOLD", cfg.CircuitBreakerThreshold)
	cfg.CircuitBreakerTimeout = envSeconds("CACHE_CB_TIMEOUT", cfg.CircuitBreakerTimeout)

	cfg.WarmingEnabled = envBool("CACHE_WARMING", cfg.WarmingEnabled)
	cfg.WarmingConcurrency = envInt("CACHE_WARMING_CONCURRENCY", cfg.WarmingConcurrency)

	return cfg
}

// fileConfig is the YAML schema. Durations are numbers of seconds; booleans
// are pointers so an absent key keeps its default.
type fileConfig struct {
	L1MaxSize            int    `yaml:"l1_max_size"`
	L1TTLSeconds         int    `yaml:"l1_ttl_seconds"`
	RedisAddr            string `yaml:"redis_addr"`
	RedisPassword        string `yaml:"redis_password"`
	RedisDB              int    `yaml:"redis_db"`
	KeyPrefix            string `yaml:"key_prefix"`
	BusinessTTLSeconds   int    `yaml:"business_lookup_ttl_seconds"`
	KnowledgeTTLSeconds  int    `yaml:"knowledge_base_ttl_seconds"`
	DefaultTTLSeconds    int    `yaml:"default_ttl_seconds"`
	L2DefaultTTLSeconds  int    `yaml:"l2_default_ttl_seconds"`
	CompressionEnabled   *bool  `yaml:"compression_enabled"`
	CompressionThreshold int    `yaml:"compression_threshold"`
	MaxRetries           *int   `yaml:"max_retries"`
	RetryDelayMillis     int    `yaml:"retry_delay_ms"`
	BreakerThreshold     int    `yaml:"circuit_breaker_threshold"`
	BreakerTimeoutSecs   int    `yaml:"circuit_breaker_timeout_seconds"`
	WarmingEnabled       *bool  `yaml:"warming_enabled"`
	WarmingConcurrency   int    `yaml:"warming_concurrency"`
}

// LoadFile reads a YAML config file over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("lookupcache: read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("lookupcache: parse config: %w", err)
	}

	if fc.L1MaxSize > 0 {
		cfg.L1MaxSize = fc.L1MaxSize
	}
	if fc.L1TTLSeconds > 0 {
		cfg.L1TTL = time.Duration(fc.L1TTLSeconds) * time.Second
	}
	if fc.RedisAddr != "" {
		cfg.RedisAddr = fc.RedisAddr
	}
	if fc.RedisPassword != "" {
		cfg.RedisPassword = fc.RedisPassword
	}
	if fc.RedisDB != 0 {
		cfg.RedisDB = fc.RedisDB
	}
	if fc.KeyPrefix != "" {
		cfg.KeyPrefix = fc.KeyPrefix
	}
	if fc.BusinessTTLSeconds > 0 {
		cfg.BusinessLookupTTL = time.Duration(fc.BusinessTTLSeconds) * time.Second
	}
	if fc.KnowledgeTTLSeconds > 0 {
		cfg.KnowledgeBaseTTL = time.Duration(fc.KnowledgeTTLSeconds) * time.Second
	}
	if fc.DefaultTTLSeconds > 0 {
		cfg.DefaultTTL = time.Duration(fc.DefaultTTLSeconds) * time.Second
	}
	if fc.L2DefaultTTLSeconds > 0 {
		cfg.L2DefaultTTL = time.Duration(fc.L2DefaultTTLSeconds) * time.Second
	}
	if fc.CompressionEnabled != nil {
		cfg.CompressionEnabled = *fc.CompressionEnabled
	}
	if fc.CompressionThreshold > 0 {
		cfg.CompressionThreshold = fc.CompressionThreshold
	}
	if fc.MaxRetries != nil && *fc.MaxRetries >= 0 {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.RetryDelayMillis > 0 {
		cfg.RetryDelay = time.Duration(fc.RetryDelayMillis) * time.Millisecond
	}
	if fc.BreakerThreshold > 0 {
		cfg.CircuitBreakerThreshold = fc.BreakerThreshold
	}
	if fc.BreakerTimeoutSecs > 0 {
		cfg.CircuitBreakerTimeout = time.Duration(fc.BreakerTimeoutSecs) * time.Second
	}
	if fc.WarmingEnabled != nil {
		cfg.WarmingEnabled = *fc.WarmingEnabled
	}
	if fc.WarmingConcurrency > 0 {
		cfg.WarmingConcurrency = fc.WarmingConcurrency
	}

	return cfg, nil
}

// withDefaults corrects zero numeric values so a partially filled Config
// still produces a working cache.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.L1MaxSize <= 0 {
		c.L1MaxSize = def.L1MaxSize
	}
	if c.L1TTL <= 0 {
		c.L1TTL = def.L1TTL
	}
	if c.RedisAddr == "" {
		c.RedisAddr = def.RedisAddr
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = def.KeyPrefix
	}
	if c.BusinessLookupTTL <= 0 {
		c.BusinessLookupTTL = def.BusinessLookupTTL
	}
	if c.KnowledgeBaseTTL <= 0 {
		c.KnowledgeBaseTTL = def.KnowledgeBaseTTL
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = def.DefaultTTL
	}
	if c.L2DefaultTTL <= 0 {
		c.L2DefaultTTL = def.L2DefaultTTL
	}
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = def.CompressionThreshold
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.CircuitBreakerThreshold <= 0 {
		c.CircuitBreakerThreshold = def.CircuitBreakerThreshold
	}
	if c.CircuitBreakerTimeout <= 0 {
		c.CircuitBreakerTimeout = def.CircuitBreakerTimeout
	}
	if c.WarmingConcurrency <= 0 {
		c.WarmingConcurrency = def.WarmingConcurrency
	}
	if c.ComputeWorkers <= 0 {
		c.ComputeWorkers = def.ComputeWorkers
	}
	if c.ComputeQueueSize <= 0 {
		c.ComputeQueueSize = def.ComputeQueueSize
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = def.MetricsInterval
	}
	return c
}

// redisConfig projects the cache config onto the L2 client's config.
func (c Config) redisConfig() rediscache.Config {
	return rediscache.Config{
		Addr:       c.RedisAddr,
		Password:   c.RedisPassword,
		DB:         c.RedisDB,
		KeyPrefix:  c.KeyPrefix,
		DefaultTTL: c.L2DefaultTTL,
		MaxRetries: c.MaxRetries,
		RetryDelay: c.RetryDelay,
		Breaker: circuitbreaker.Config{
			Threshold: c.CircuitBreakerThreshold,
			Timeout:   c.CircuitBreakerTimeout,
		},
	}
}

func (c Config) codecConfig() codec.Config {
	return codec.Config{
		CompressionEnabled:   c.CompressionEnabled,
		CompressionThreshold: c.CompressionThreshold,
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func envFloatSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return time.Duration(f * float64(time.Second))
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}
