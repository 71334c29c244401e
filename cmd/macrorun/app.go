package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/sawpanic/macrorun/internal/cache"
	"github.com/sawpanic/macrorun/internal/calc"
	"github.com/sawpanic/macrorun/internal/config"
	"github.com/sawpanic/macrorun/internal/gateway"
	"github.com/sawpanic/macrorun/internal/indicator"
	"github.com/sawpanic/macrorun/internal/provider"
	"github.com/sawpanic/macrorun/internal/store"
)

// app is the wired service graph. Construction is explicit dependency
// injection from a loaded config; nothing reaches for globals.
type app struct {
	cfg      config.Config
	logger   zerolog.Logger
	registry *indicator.Registry
	cache    *cache.TTLCache
	store    store.Store
	gateway  *gateway.Gateway
	engine   *calc.Engine
	promReg  *prometheus.Registry
	runners  []provider.Runnable
	closers  []func() error
}

// appOptions are command-line adjustments layered on top of the file
// config.
type appOptions struct {
	offline  bool   // synthetic data only, no network adapters
	logLevel string // overrides logging.level when set
}

func newApp(ctx context.Context, configPath string, opts appOptions) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		if _, err := zerolog.ParseLevel(opts.logLevel); err != nil {
			return nil, fmt.Errorf("unknown log level %q", opts.logLevel)
		}
		cfg.Logging.Level = opts.logLevel
	}
	if opts.offline {
		cfg = offlineConfig(cfg)
	}

	logger := buildLogger(cfg.Logging)

	registry := indicator.NewRegistry()
	if err := indicator.RegisterCatalog(registry); err != nil {
		return nil, fmt.Errorf("registering catalog: %w", err)
	}
	if cfg.CatalogPath != "" {
		if err := indicator.RegisterFile(registry, cfg.CatalogPath); err != nil {
			return nil, fmt.Errorf("registering extra catalog: %w", err)
		}
		logger.Info().Str("path", cfg.CatalogPath).Msg("loaded extra indicator catalog")
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		cache:    cache.NewTTLCache(cfg.Gateway.CacheEntries),
		promReg:  prometheus.NewRegistry(),
	}
	a.closers = append(a.closers, func() error { a.cache.Stop(); return nil })

	if err := a.buildStore(ctx); err != nil {
		a.closeAll()
		return nil, err
	}

	adapters, err := a.buildAdapters()
	if err != nil {
		a.closeAll()
		return nil, err
	}

	metrics := gateway.NewMetrics(a.promReg)

	gw, err := gateway.New(gateway.Deps{
		Registry: registry,
		Adapters: adapters,
		Chains:   chainMap(cfg.Chains),
		Cache:    a.cache,
		Breakers: gateway.NewBreakerSet(gateway.DefaultBreakerConfig(), breakerOverrides(cfg)),
		Limiters: gateway.NewLimiterSet(gateway.DefaultWindowConfig(), windowOverrides(cfg)),
		Budget:   gateway.NewBudget(budgetLimits(cfg)),
		Store:    a.store,
		Metrics:  metrics,
		Logger:   logger,
		Config:   gatewayConfig(cfg),
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("building gateway: %w", err)
	}
	a.gateway = gw

	engine, err := calc.New(calc.Deps{
		Registry: registry,
		Fetcher:  gw,
		Cache:    a.cache,
		Metrics:  metrics,
		Logger:   logger,
		CalcTTL:  cfg.Gateway.GetCalcTTL(),
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("building calc engine: %w", err)
	}
	a.engine = engine

	return a, nil
}

// start launches adapters that own background work, such as the
// Coinbase websocket feed.
func (a *app) start(ctx context.Context) error {
	for _, r := range a.runners {
		if err := r.Start(ctx); err != nil {
			return fmt.Errorf("starting runner: %w", err)
		}
	}
	return nil
}

// stop shuts the app down in reverse construction order.
func (a *app) stop(ctx context.Context) {
	for _, r := range a.runners {
		if err := r.Stop(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("runner stop failed")
		}
	}
	a.closeAll()
}

func (a *app) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

func (a *app) buildStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.BackendMemory, "":
		a.store = store.NewMemoryStore()

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Store.Redis.Addr,
			Password: a.cfg.Store.Redis.Password,
			DB:       a.cfg.Store.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("connecting to redis: %w", err)
		}
		a.store = store.NewRedisStore(client, a.cfg.Store.GetStoreTTL())
		a.closers = append(a.closers, client.Close)
		a.logger.Info().Str("addr", a.cfg.Store.Redis.Addr).Msg("using redis last-known-good store")

	case config.BackendPostgres:
		pg, err := store.OpenPostgres(ctx, a.cfg.Store.Postgres.DSN)
		if err != nil {
			return err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return err
		}
		a.store = pg
		a.closers = append(a.closers, pg.Close)
		a.logger.Info().Msg("using postgres last-known-good store")

	default:
		return fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
	return nil
}

func (a *app) buildAdapters() (map[string]provider.Adapter, error) {
	client := provider.NewHTTPClient(10*time.Second, 20, 40)

	adapters := make(map[string]provider.Adapter)
	for _, name := range a.cfg.EnabledProviders() {
		pc := a.cfg.Providers[name]
		adapter, err := provider.Build(name, provider.Settings{
			BaseURL:    pc.BaseURL,
			APIKey:     pc.APIKey,
			WSURL:      pc.WSURL,
			Products:   pc.Products,
			TickMaxAge: pc.GetTickMaxAge(),
		}, client, a.logger)
		if err != nil {
			return nil, fmt.Errorf("building provider %s: %w", name, err)
		}
		adapters[name] = adapter

		if r, ok := adapter.(provider.Runnable); ok {
			a.runners = append(a.runners, r)
		}
	}
	return adapters, nil
}

// offlineConfig rewrites the config so only the synthetic provider is
// built and every fallback chain points at it. Development and demos
// then need no API keys or network access.
func offlineConfig(cfg config.Config) config.Config {
	if cfg.Providers == nil {
		cfg.Providers = map[string]config.ProviderConfig{}
	}
	for name, pc := range cfg.Providers {
		pc.Enabled = false
		cfg.Providers[name] = pc
	}
	cfg.Providers[provider.IDSynthetic] = config.Default().Providers[provider.IDSynthetic]

	chains := make(map[string][]string, len(cfg.Chains))
	for category := range cfg.Chains {
		chains[category] = []string{provider.IDSynthetic}
	}
	cfg.Chains = chains
	return cfg
}

func chainMap(chains map[string][]string) map[indicator.Category][]string {
	out := make(map[indicator.Category][]string, len(chains))
	for category, chain := range chains {
		out[indicator.Category(category)] = chain
	}
	return out
}

func breakerOverrides(cfg config.Config) map[string]gateway.BreakerConfig {
	out := make(map[string]gateway.BreakerConfig)
	for _, name := range cfg.EnabledProviders() {
		pc := cfg.Providers[name]
		out[name] = gateway.BreakerConfig{
			FailureThreshold: pc.Circuit.FailureThreshold,
			Cooldown:         pc.Circuit.GetCooldown(),
		}
	}
	return out
}

func windowOverrides(cfg config.Config) map[string]gateway.WindowConfig {
	out := make(map[string]gateway.WindowConfig)
	for _, name := range cfg.EnabledProviders() {
		pc := cfg.Providers[name]
		out[name] = gateway.WindowConfig{
			Limit:  pc.WindowLimit,
			Window: pc.GetWindow(),
		}
	}
	return out
}

func budgetLimits(cfg config.Config) map[string]int64 {
	out := make(map[string]int64)
	for _, name := range cfg.EnabledProviders() {
		if pc := cfg.Providers[name]; pc.DailyBudget > 0 {
			out[name] = pc.DailyBudget
		}
	}
	return out
}

func gatewayConfig(cfg config.Config) gateway.Config {
	backoffs := make(map[string]gateway.Backoff)
	confidence := make(map[string]float64)
	for _, name := range cfg.EnabledProviders() {
		pc := cfg.Providers[name]
		backoffs[name] = gateway.Backoff{
			Base:   pc.BackoffMS.GetBase(),
			Max:    pc.BackoffMS.GetMax(),
			Jitter: pc.BackoffMS.Jitter,
		}
		if pc.Confidence > 0 {
			confidence[name] = pc.Confidence
		}
	}

	return gateway.Config{
		MaxRetries:        cfg.Gateway.MaxRetries,
		DefaultTTL:        cfg.Gateway.GetDefaultTTL(),
		FallbackPenalty:   cfg.Gateway.FallbackPenalty,
		Backoff:           gateway.DefaultBackoff(),
		BackoffByProvider: backoffs,
		Confidence:        confidence,
		ChunkDelay:        cfg.Gateway.GetChunkDelay(),
		MaxChunkSize:      cfg.Gateway.MaxChunkSize,
	}
}

// buildLogger honors the configured level and renders console output
// when configured for it or attached to a terminal.
func buildLogger(lc config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil || lc.Level == "" {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if lc.Pretty || term.IsTerminal(int(os.Stderr.Fd())) {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
