package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "macrorun"
	version = "v0.4.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Resilient market indicator acquisition and calculation service",
		Version: version,
		Long: `MacroRun pulls macro and market indicators from tiered upstream providers
behind per-provider circuit breakers, sliding-window rate limits, and daily
budgets, falls back across provider chains and persisted last-known-good
values, and derives calculated indicators (net liquidity, spreads, ratios)
on top of the raw series.

Run 'macrorun serve' for the HTTP API, or use the fetch/resolve/list/health
subcommands for one-shot automation.`,
	}

	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level (trace|debug|info|warn|error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long:  "Serves /health, /metrics, and the /v1 indicator API until interrupted",
		RunE:  runServe,
	}

	serveCmd.Flags().String("config", "", "Path to YAML config file (empty = built-in defaults)")
	serveCmd.Flags().String("addr", "", "Listen address override, e.g. :9090")
	serveCmd.Flags().Bool("offline", false, "Serve synthetic data only, without network providers")

	fetchCmd := &cobra.Command{
		Use:   "fetch [id...]",
		Short: "Fetch raw indicators through the provider gateway",
		Long:  "Fetches one or more provider-backed indicators with the full fallback chain, printing each result",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFetch,
	}

	fetchCmd.Flags().String("config", "", "Path to YAML config file (empty = built-in defaults)")
	fetchCmd.Flags().Bool("json", false, "Output values as JSON")
	fetchCmd.Flags().Bool("refresh", false, "Bypass cache and fetch fresh")
	fetchCmd.Flags().String("provider", "", "Pin a single provider instead of walking the chain")
	fetchCmd.Flags().Bool("offline", false, "Use synthetic data only, without network providers")
	fetchCmd.Flags().Duration("timeout", 30*time.Second, "Overall fetch timeout")

	resolveCmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve an indicator, computing dependencies as needed",
		Long:  "Resolves a raw or calculated indicator through the calculation engine, fetching its dependency tree",
		Args:  cobra.ExactArgs(1),
		RunE:  runResolve,
	}

	resolveCmd.Flags().String("config", "", "Path to YAML config file (empty = built-in defaults)")
	resolveCmd.Flags().Bool("json", false, "Output value as JSON")
	resolveCmd.Flags().Bool("refresh", false, "Recompute the full dependency tree, bypassing caches")
	resolveCmd.Flags().Bool("offline", false, "Use synthetic data only, without network providers")
	resolveCmd.Flags().Duration("timeout", 30*time.Second, "Overall resolve timeout")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the indicator catalog",
		Long:  "Lists registered indicators with category, kind, transform, and dependencies",
		RunE:  runList,
	}

	listCmd.Flags().String("config", "", "Path to YAML config file (empty = built-in defaults)")
	listCmd.Flags().String("category", "", "Filter by category (liquidity|fiscal|rates|credit|equity|crypto|volatility|fx|commodity)")
	listCmd.Flags().String("kind", "", "Filter by kind (raw|calculated)")
	listCmd.Flags().Bool("json", false, "Output catalog as JSON")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Probe provider health and gateway protection state",
		Long:  "Probes every configured provider and prints breaker, rate-limit, and budget state; exits non-zero when unhealthy",
		RunE:  runHealth,
	}

	healthCmd.Flags().String("config", "", "Path to YAML config file (empty = built-in defaults)")
	healthCmd.Flags().Bool("json", false, "Output health as JSON")
	healthCmd.Flags().Duration("timeout", 15*time.Second, "Probe timeout")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(healthCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
