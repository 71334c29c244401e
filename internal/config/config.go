// Package config loads and validates the macrorun configuration file.
// The file is complete rather than sparse: every enabled provider must
// carry its full tuning so a deploy never runs on invisible defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the root of macrorun.yaml.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Logging   LoggingConfig             `yaml:"logging"`
	Gateway   GatewayConfig             `yaml:"gateway"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Chains    map[string][]string       `yaml:"fallback_chains"`
	Store     StoreConfig               `yaml:"store"`

	// CatalogPath names an optional YAML file of extra indicator
	// descriptors registered on top of the built-in catalog. Empty
	// means builtins only.
	CatalogPath string `yaml:"catalog_path"`
}

// ServerConfig tunes the HTTP API server.
type ServerConfig struct {
	Addr               string `yaml:"addr"`
	ReadTimeoutSecs    int    `yaml:"read_timeout_secs"`
	WriteTimeoutSecs   int    `yaml:"write_timeout_secs"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
	ShutdownGraceSecs  int    `yaml:"shutdown_grace_secs"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"` // console writer instead of JSON
}

// GatewayConfig tunes the data gateway.
type GatewayConfig struct {
	MaxRetries      int     `yaml:"max_retries"`
	DefaultTTLSecs  int     `yaml:"default_ttl_secs"`
	CalcTTLSecs     int     `yaml:"calc_ttl_secs"`
	CacheEntries    int     `yaml:"cache_entries"`
	FallbackPenalty float64 `yaml:"fallback_penalty"`
	ChunkDelayMS    int     `yaml:"chunk_delay_ms"`
	MaxChunkSize    int     `yaml:"max_chunk_size"`
}

// ProviderConfig is one upstream provider's tuning.
type ProviderConfig struct {
	Enabled        bool     `yaml:"enabled"`
	BaseURL        string   `yaml:"base_url"`
	APIKey         string   `yaml:"api_key"`
	WSURL          string   `yaml:"ws_url"`
	Products       []string `yaml:"products"`
	TickMaxAgeSecs int      `yaml:"tick_max_age_secs"`

	Confidence  float64 `yaml:"confidence"`
	WindowLimit int     `yaml:"window_limit"` // requests per window
	WindowSecs  int     `yaml:"window_secs"`
	DailyBudget int64   `yaml:"daily_budget"` // 0 = unlimited

	Circuit   CircuitConfig `yaml:"circuit"`
	BackoffMS BackoffConfig `yaml:"backoff_ms"`
}

// CircuitConfig is one provider's circuit breaker tuning.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	CooldownSecs     int `yaml:"cooldown_secs"`
}

// BackoffConfig is exponential retry backoff in milliseconds.
type BackoffConfig struct {
	Base   int  `yaml:"base"`
	Max    int  `yaml:"max"`
	Jitter bool `yaml:"jitter"`
}

// StoreConfig selects and tunes the last-known-good store.
type StoreConfig struct {
	Backend  string         `yaml:"backend"`
	TTLHours int            `yaml:"ttl_hours"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig is the Redis store connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig is the Postgres store connection.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// Load reads a complete config file, applies environment overrides,
// and validates. An empty path yields the built-in defaults.
func Load(path string) (Config, error) {
	if path == "" {
		c := Default()
		c.applyEnv()
		if err := c.Validate(); err != nil {
			return Config{}, fmt.Errorf("invalid default config: %w", err)
		}
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	c.applyEnv()
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// applyEnv overlays secrets and deploy-specific settings from the
// environment so keys never need to live in the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("MACRORUN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("MACRORUN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MACRORUN_CATALOG"); v != "" {
		c.CatalogPath = v
	}
	if v := os.Getenv("FRED_API_KEY"); v != "" {
		c.setProviderKey("fred", v)
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		c.setProviderKey("coingecko", v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Store.Postgres.DSN = v
	}
}

func (c *Config) setProviderKey(name, key string) {
	p, ok := c.Providers[name]
	if !ok {
		return
	}
	p.APIKey = key
	c.Providers[name] = p
}

// Validate ensures the configuration is complete and consistent.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr cannot be empty")
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	if c.Gateway.MaxRetries <= 0 {
		return fmt.Errorf("gateway max_retries must be positive, got %d", c.Gateway.MaxRetries)
	}
	if c.Gateway.CacheEntries <= 0 {
		return fmt.Errorf("gateway cache_entries must be positive, got %d", c.Gateway.CacheEntries)
	}
	if c.Gateway.FallbackPenalty <= 0 || c.Gateway.FallbackPenalty > 1 {
		return fmt.Errorf("gateway fallback_penalty must be in (0, 1], got %f", c.Gateway.FallbackPenalty)
	}

	for name, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		if err := p.Validate(name); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
	}

	for category, chain := range c.Chains {
		if len(chain) == 0 {
			return fmt.Errorf("fallback chain for %s is empty", category)
		}
		for _, name := range chain {
			p, ok := c.Providers[name]
			if !ok {
				return fmt.Errorf("fallback chain for %s names unknown provider %q", category, name)
			}
			if !p.Enabled {
				return fmt.Errorf("fallback chain for %s names disabled provider %q", category, name)
			}
		}
	}

	switch c.Store.Backend {
	case BackendMemory, "":
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("redis store requires an addr")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("postgres store requires a dsn")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	return nil
}

// Validate ensures one enabled provider's configuration is usable.
func (p *ProviderConfig) Validate(name string) error {
	switch name {
	case "synthetic":
		// Needs no upstream at all.
	case "coinbase_ws":
		if p.WSURL == "" {
			return fmt.Errorf("ws_url cannot be empty")
		}
		if len(p.Products) == 0 {
			return fmt.Errorf("products cannot be empty")
		}
	default:
		if p.BaseURL == "" {
			return fmt.Errorf("base_url cannot be empty")
		}
	}

	if p.WindowLimit <= 0 {
		return fmt.Errorf("window_limit must be positive, got %d", p.WindowLimit)
	}
	if p.WindowSecs <= 0 {
		return fmt.Errorf("window_secs must be positive, got %d", p.WindowSecs)
	}
	if p.DailyBudget < 0 {
		return fmt.Errorf("daily_budget cannot be negative, got %d", p.DailyBudget)
	}
	if p.Confidence <= 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence must be in (0, 1], got %f", p.Confidence)
	}
	if p.Circuit.FailureThreshold <= 0 {
		return fmt.Errorf("circuit failure_threshold must be positive, got %d", p.Circuit.FailureThreshold)
	}
	if p.Circuit.CooldownSecs <= 0 {
		return fmt.Errorf("circuit cooldown_secs must be positive, got %d", p.Circuit.CooldownSecs)
	}
	if p.BackoffMS.Base <= 0 {
		return fmt.Errorf("backoff_ms base must be positive, got %d", p.BackoffMS.Base)
	}
	if p.BackoffMS.Max <= p.BackoffMS.Base {
		return fmt.Errorf("backoff_ms max (%d) must be > base (%d)", p.BackoffMS.Max, p.BackoffMS.Base)
	}
	return nil
}

// GetReadTimeout returns the HTTP read timeout.
func (s ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSecs) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout.
func (s ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSecs) * time.Second
}

// GetRequestTimeout returns the per-request handler deadline.
func (s ServerConfig) GetRequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSecs) * time.Second
}

// GetShutdownGrace returns how long shutdown waits for in-flight work.
func (s ServerConfig) GetShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceSecs) * time.Second
}

// GetDefaultTTL returns the quote cache TTL.
func (g GatewayConfig) GetDefaultTTL() time.Duration {
	return time.Duration(g.DefaultTTLSecs) * time.Second
}

// GetCalcTTL returns the derived value cache TTL.
func (g GatewayConfig) GetCalcTTL() time.Duration {
	return time.Duration(g.CalcTTLSecs) * time.Second
}

// GetChunkDelay returns the pause between batch chunks.
func (g GatewayConfig) GetChunkDelay() time.Duration {
	return time.Duration(g.ChunkDelayMS) * time.Millisecond
}

// GetWindow returns the provider's rate-limit window.
func (p ProviderConfig) GetWindow() time.Duration {
	return time.Duration(p.WindowSecs) * time.Second
}

// GetCooldown returns the breaker cooldown.
func (c CircuitConfig) GetCooldown() time.Duration {
	return time.Duration(c.CooldownSecs) * time.Second
}

// GetBase returns the base backoff delay.
func (b BackoffConfig) GetBase() time.Duration {
	return time.Duration(b.Base) * time.Millisecond
}

// GetMax returns the backoff ceiling.
func (b BackoffConfig) GetMax() time.Duration {
	return time.Duration(b.Max) * time.Millisecond
}

// GetTickMaxAge returns the streaming tick staleness threshold.
func (p ProviderConfig) GetTickMaxAge() time.Duration {
	return time.Duration(p.TickMaxAgeSecs) * time.Second
}

// GetStoreTTL returns how long last-known-good values persist.
func (s StoreConfig) GetStoreTTL() time.Duration {
	return time.Duration(s.TTLHours) * time.Hour
}

// EnabledProviders returns the names of enabled providers.
func (c *Config) EnabledProviders() []string {
	out := make([]string, 0, len(c.Providers))
	for name, p := range c.Providers {
		if p.Enabled {
			out = append(out, name)
		}
	}
	return out
}

// Default returns the complete built-in configuration: free-tier rate
// limits, public endpoints, and the in-memory store.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:               ":8080",
			ReadTimeoutSecs:    15,
			WriteTimeoutSecs:   30,
			RequestTimeoutSecs: 30,
			ShutdownGraceSecs:  10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Gateway: GatewayConfig{
			MaxRetries:      3,
			DefaultTTLSecs:  60,
			CalcTTLSecs:     60,
			CacheEntries:    10000,
			FallbackPenalty: 0.8,
			ChunkDelayMS:    150,
			MaxChunkSize:    8,
		},
		Providers: map[string]ProviderConfig{
			"fred": {
				Enabled:     true,
				BaseURL:     "https://api.stlouisfed.org/fred",
				Confidence:  0.98,
				WindowLimit: 100,
				WindowSecs:  60,
				Circuit:     CircuitConfig{FailureThreshold: 5, CooldownSecs: 60},
				BackoffMS:   BackoffConfig{Base: 250, Max: 5000, Jitter: true},
			},
			"fiscaldata": {
				Enabled:     true,
				BaseURL:     "https://api.fiscaldata.treasury.gov/services/api/fiscal_service",
				Confidence:  0.97,
				WindowLimit: 60,
				WindowSecs:  60,
				Circuit:     CircuitConfig{FailureThreshold: 5, CooldownSecs: 60},
				BackoffMS:   BackoffConfig{Base: 250, Max: 5000, Jitter: true},
			},
			"yahoo": {
				Enabled:     true,
				BaseURL:     "https://query1.finance.yahoo.com",
				Confidence:  0.90,
				WindowLimit: 30,
				WindowSecs:  60,
				DailyBudget: 2000,
				Circuit:     CircuitConfig{FailureThreshold: 5, CooldownSecs: 120},
				BackoffMS:   BackoffConfig{Base: 500, Max: 8000, Jitter: true},
			},
			"coingecko": {
				Enabled:     true,
				BaseURL:     "https://api.coingecko.com/api/v3",
				Confidence:  0.90,
				WindowLimit: 10,
				WindowSecs:  60,
				DailyBudget: 10000,
				Circuit:     CircuitConfig{FailureThreshold: 5, CooldownSecs: 120},
				BackoffMS:   BackoffConfig{Base: 500, Max: 10000, Jitter: true},
			},
			"coinbase_ws": {
				Enabled:        true,
				WSURL:          "wss://ws-feed.exchange.coinbase.com",
				Products:       []string{"BTC-USD", "ETH-USD", "SOL-USD"},
				TickMaxAgeSecs: 90,
				Confidence:     0.95,
				WindowLimit:    600,
				WindowSecs:     60,
				Circuit:        CircuitConfig{FailureThreshold: 5, CooldownSecs: 30},
				BackoffMS:      BackoffConfig{Base: 100, Max: 2000, Jitter: true},
			},
			"synthetic": {
				Enabled:     true,
				Confidence:  0.50,
				WindowLimit: 10000,
				WindowSecs:  60,
				Circuit:     CircuitConfig{FailureThreshold: 10, CooldownSecs: 10},
				BackoffMS:   BackoffConfig{Base: 10, Max: 100},
			},
		},
		Chains: map[string][]string{
			"liquidity":  {"fred", "synthetic"},
			"fiscal":     {"fiscaldata", "fred", "synthetic"},
			"rates":      {"fred", "synthetic"},
			"credit":     {"fred", "synthetic"},
			"equity":     {"yahoo", "synthetic"},
			"crypto":     {"coinbase_ws", "coingecko", "yahoo", "synthetic"},
			"volatility": {"yahoo", "synthetic"},
			"fx":         {"yahoo", "synthetic"},
			"commodity":  {"yahoo", "synthetic"},
		},
		Store: StoreConfig{
			Backend:  BackendMemory,
			TTLHours: 168,
		},
	}
}
