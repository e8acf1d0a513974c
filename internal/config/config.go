package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Cache drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverValkey = "valkey"
)

// Config holds the oppfinder service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Registry  RegistryConfig  `yaml:"registry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Indexing  IndexingConfig  `yaml:"indexing"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// RegistryConfig holds upstream registry settings.
type RegistryConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"` // server default when callers send none
	TimeoutSec        int     `yaml:"timeout_sec"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	CacheTTLSec       int     `yaml:"cache_ttl_sec"`
}

// RateLimitConfig holds inbound per-client limits.
type RateLimitConfig struct {
	WindowSec   int `yaml:"window_sec"`
	MaxRequests int `yaml:"max_requests"`
}

// CacheConfig selects the KV store behind the caches.
type CacheConfig struct {
	Driver           string   `yaml:"driver"` // memory (default), redis, valkey
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	SweepIntervalSec int      `yaml:"sweep_interval_sec"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	EmbeddingTTLSec  int      `yaml:"embedding_ttl_sec"` // L2 lifetime of cached vectors
	CommandTimeoutMs int      `yaml:"command_timeout_ms"`
}

// EmbeddingConfig holds embedding settings.
type EmbeddingConfig struct {
	Providers       map[string]ProviderConfig `yaml:"providers"`
	DefaultProvider string                    `yaml:"default_provider"`
	TimeoutSec      int                       `yaml:"timeout_sec"`
	CacheCapacity   int                       `yaml:"cache_capacity"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// ProviderConfig holds embedding provider settings.
type ProviderConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	// Instruction is prepended to every text, for models trained with task prefixes.
	Instruction string       `yaml:"instruction"`
	Budget      BudgetConfig `yaml:"budget"`
}

// RankingConfig holds semantic reranking settings.
type RankingConfig struct {
	TopN           int `yaml:"top_n"`
	PoolSize       int `yaml:"pool_size"`
	CallTimeoutSec int `yaml:"call_timeout_sec"`
}

// IndexingConfig controls the in-process vector index.
type IndexingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	PoolSize int    `yaml:"pool_size"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML after ${VAR} expansion, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.Registry.BaseURL == "" {
		c.Registry.BaseURL = "https://api.sam.gov/opportunities/v2/search"
	}
	if c.Registry.TimeoutSec <= 0 {
		c.Registry.TimeoutSec = 30
	}
	if c.Registry.RequestsPerSecond <= 0 {
		c.Registry.RequestsPerSecond = 2
	}
	if c.Registry.Burst <= 0 {
		c.Registry.Burst = 4
	}
	if c.Registry.CacheTTLSec <= 0 {
		c.Registry.CacheTTLSec = 1800
	}

	if c.RateLimit.WindowSec <= 0 {
		c.RateLimit.WindowSec = 60
	}
	if c.RateLimit.MaxRequests <= 0 {
		c.RateLimit.MaxRequests = 100
	}

	if c.Cache.Driver == "" {
		c.Cache.Driver = DriverMemory
	}
	if c.Cache.SweepIntervalSec <= 0 {
		c.Cache.SweepIntervalSec = 300
	}
	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}
	if c.Cache.EmbeddingTTLSec <= 0 {
		c.Cache.EmbeddingTTLSec = 7 * 24 * 3600
	}
	if c.Cache.CommandTimeoutMs <= 0 {
		c.Cache.CommandTimeoutMs = 500
	}

	if c.Embedding.DefaultProvider == "" {
		c.Embedding.DefaultProvider = "openai"
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 15
	}
	if c.Embedding.CacheCapacity <= 0 {
		c.Embedding.CacheCapacity = 10000
	}

	if c.Ranking.TopN <= 0 {
		c.Ranking.TopN = 25
	}
	if c.Ranking.PoolSize <= 0 {
		c.Ranking.PoolSize = 100
	}
	if c.Ranking.CallTimeoutSec <= 0 {
		c.Ranking.CallTimeoutSec = 10
	}

	if c.Indexing.Provider == "" {
		c.Indexing.Provider = c.Embedding.DefaultProvider
	}
	if c.Indexing.PoolSize <= 0 {
		c.Indexing.PoolSize = 2
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		fail("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Cache.Driver {
	case DriverMemory:
	case DriverRedis, DriverValkey:
		if len(c.Cache.Addrs) == 0 {
			fail("cache.addrs is required for driver %q", c.Cache.Driver)
		}
	default:
		fail("cache.driver must be memory, redis or valkey, got %q", c.Cache.Driver)
	}

	for name, p := range c.Embedding.Providers {
		switch p.Budget.Action {
		case "", "warn", "reject":
		default:
			fail("embedding.providers.%s.budget.action must be \"warn\" or \"reject\", got %q", name, p.Budget.Action)
		}
	}
	if len(c.Embedding.Providers) > 0 {
		if _, ok := c.Embedding.Providers[c.Embedding.DefaultProvider]; !ok {
			fail("embedding.default_provider %q is not configured", c.Embedding.DefaultProvider)
		}
	}
	if c.Indexing.Enabled {
		if _, ok := c.Embedding.Providers[c.Indexing.Provider]; !ok {
			fail("indexing.provider %q is not configured", c.Indexing.Provider)
		}
	}
	return errors.Join(errs...)
}

// Seconds converts a configured second count to a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ConfigDirEnv names a directory searched before ./config.
const ConfigDirEnv = "OPPFINDER_CONFIG_DIR"

// findConfigPath locates <env>.yaml in $OPPFINDER_CONFIG_DIR, ./config or the
// repository's config directory, in that order.
func findConfigPath(env string) string {
	filename := env + ".yaml"

	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		if path := filepath.Join(dir, filename); fileExists(path) {
			return path
		}
	}

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
