package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completeYAML = `
server:
  addr: ":9090"
  read_timeout_secs: 10
  write_timeout_secs: 20
  request_timeout_secs: 25
  shutdown_grace_secs: 5
logging:
  level: debug
  pretty: true
gateway:
  max_retries: 2
  default_ttl_secs: 30
  calc_ttl_secs: 45
  cache_entries: 500
  fallback_penalty: 0.7
  chunk_delay_ms: 100
  max_chunk_size: 4
providers:
  fred:
    enabled: true
    base_url: https://api.stlouisfed.org/fred
    api_key: file-key
    confidence: 0.98
    window_limit: 50
    window_secs: 60
    daily_budget: 1000
    circuit:
      failure_threshold: 3
      cooldown_secs: 30
    backoff_ms:
      base: 100
      max: 2000
      jitter: true
fallback_chains:
  liquidity: [fred]
store:
  backend: memory
  ttl_hours: 24
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "macrorun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigValidates(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, BackendMemory, c.Store.Backend)
	assert.Contains(t, c.Providers, "fred")
	assert.Contains(t, c.Providers, "synthetic")

	for category, chain := range c.Chains {
		assert.NotEmpty(t, chain, "category %s", category)
		assert.Equal(t, "synthetic", chain[len(chain)-1],
			"every default chain ends at the synthetic floor")
	}
}

func TestLoadCompleteFile(t *testing.T) {
	t.Setenv("FRED_API_KEY", "")
	t.Setenv("MACRORUN_ADDR", "")

	c, err := Load(writeConfig(t, completeYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", c.Server.Addr)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.True(t, c.Logging.Pretty)
	assert.Equal(t, 2, c.Gateway.MaxRetries)
	assert.Equal(t, 30*time.Second, c.Gateway.GetDefaultTTL())
	assert.Equal(t, 100*time.Millisecond, c.Gateway.GetChunkDelay())

	fred := c.Providers["fred"]
	assert.Equal(t, "file-key", fred.APIKey)
	assert.Equal(t, int64(1000), fred.DailyBudget)
	assert.Equal(t, time.Minute, fred.GetWindow())
	assert.Equal(t, 30*time.Second, fred.Circuit.GetCooldown())
	assert.Equal(t, 100*time.Millisecond, fred.BackoffMS.GetBase())
	assert.Equal(t, 2*time.Second, fred.BackoffMS.GetMax())

	assert.Equal(t, []string{"fred"}, c.Chains["liquidity"])
	assert.Equal(t, 24*time.Hour, c.Store.GetStoreTTL())
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	t.Setenv("FRED_API_KEY", "")
	t.Setenv("MACRORUN_ADDR", "")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, c.Server.Addr)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FRED_API_KEY", "env-key")
	t.Setenv("MACRORUN_ADDR", ":7070")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("MACRORUN_CATALOG", "/etc/macrorun/extra.yaml")

	c, err := Load(writeConfig(t, completeYAML))
	require.NoError(t, err)

	assert.Equal(t, ":7070", c.Server.Addr)
	assert.Equal(t, "env-key", c.Providers["fred"].APIKey, "environment beats the file for secrets")
	assert.Equal(t, "redis.internal:6379", c.Store.Redis.Addr)
	assert.Equal(t, "/etc/macrorun/extra.yaml", c.CatalogPath)
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "empty addr",
			mutate: func(c *Config) { c.Server.Addr = "" },
			want:   "addr",
		},
		{
			name:   "unknown log level",
			mutate: func(c *Config) { c.Logging.Level = "loud" },
			want:   "log level",
		},
		{
			name:   "bad fallback penalty",
			mutate: func(c *Config) { c.Gateway.FallbackPenalty = 1.5 },
			want:   "fallback_penalty",
		},
		{
			name:   "zero retries",
			mutate: func(c *Config) { c.Gateway.MaxRetries = 0 },
			want:   "max_retries",
		},
		{
			name: "chain names unknown provider",
			mutate: func(c *Config) {
				c.Chains["rates"] = []string{"bloomberg"}
			},
			want: "unknown provider",
		},
		{
			name: "chain names disabled provider",
			mutate: func(c *Config) {
				p := c.Providers["yahoo"]
				p.Enabled = false
				c.Providers["yahoo"] = p
				c.Chains = map[string][]string{"equity": {"yahoo"}}
			},
			want: "disabled provider",
		},
		{
			name: "enabled provider without base url",
			mutate: func(c *Config) {
				p := c.Providers["fred"]
				p.BaseURL = ""
				c.Providers["fred"] = p
			},
			want: "base_url",
		},
		{
			name: "websocket provider without products",
			mutate: func(c *Config) {
				p := c.Providers["coinbase_ws"]
				p.Products = nil
				c.Providers["coinbase_ws"] = p
			},
			want: "products",
		},
		{
			name: "zero window limit",
			mutate: func(c *Config) {
				p := c.Providers["fred"]
				p.WindowLimit = 0
				c.Providers["fred"] = p
			},
			want: "window_limit",
		},
		{
			name: "backoff max not above base",
			mutate: func(c *Config) {
				p := c.Providers["fred"]
				p.BackoffMS = BackoffConfig{Base: 500, Max: 500}
				c.Providers["fred"] = p
			},
			want: "backoff_ms",
		},
		{
			name:   "unknown store backend",
			mutate: func(c *Config) { c.Store.Backend = "dynamo" },
			want:   "store backend",
		},
		{
			name: "redis backend without addr",
			mutate: func(c *Config) {
				c.Store.Backend = BackendRedis
				c.Store.Redis.Addr = ""
			},
			want: "redis",
		},
		{
			name: "postgres backend without dsn",
			mutate: func(c *Config) {
				c.Store.Backend = BackendPostgres
			},
			want: "postgres",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDisabledProvidersSkipValidation(t *testing.T) {
	c := Default()
	c.Providers["broken"] = ProviderConfig{Enabled: false}
	assert.NoError(t, c.Validate())
}

func TestEnabledProviders(t *testing.T) {
	c := Default()
	p := c.Providers["yahoo"]
	p.Enabled = false
	c.Providers["yahoo"] = p
	delete(c.Chains, "equity")
	delete(c.Chains, "volatility")
	delete(c.Chains, "fx")
	delete(c.Chains, "commodity")
	c.Chains["crypto"] = []string{"coinbase_ws", "coingecko", "synthetic"}

	enabled := c.EnabledProviders()
	assert.NotContains(t, enabled, "yahoo")
	assert.Contains(t, enabled, "fred")
}
