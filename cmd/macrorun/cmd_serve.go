package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/sawpanic/macrorun/internal/interfaces/http"
)

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	addrOverride, _ := cmd.Flags().GetString("addr")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath, appOptionsFromFlags(cmd.Flags()))
	if err != nil {
		return err
	}

	if err := a.start(ctx); err != nil {
		a.stop(context.Background())
		return err
	}

	serverConfig := httpapi.DefaultServerConfig()
	serverConfig.Addr = a.cfg.Server.Addr
	if addrOverride != "" {
		serverConfig.Addr = addrOverride
	}
	serverConfig.ReadTimeout = a.cfg.Server.GetReadTimeout()
	serverConfig.WriteTimeout = a.cfg.Server.GetWriteTimeout()
	serverConfig.RequestTimeout = a.cfg.Server.GetRequestTimeout()

	srv := httpapi.NewServer(serverConfig, a.gateway, a.engine, a.promReg, a.logger, version)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	a.logger.Info().
		Str("addr", serverConfig.Addr).
		Str("version", version).
		Int("providers", len(a.gateway.ProviderIDs())).
		Msg("macrorun serving")

	statusTicker := time.NewTicker(time.Minute)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("shutdown signal received")

			grace := a.cfg.Server.GetShutdownGrace()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn().Err(err).Msg("http shutdown incomplete")
			}
			a.stop(shutdownCtx)
			a.logger.Info().Msg("macrorun stopped")
			return nil

		case err := <-serveErr:
			a.stop(context.Background())
			return err

		case <-statusTicker.C:
			h := a.gateway.HealthStatus()
			a.logger.Info().
				Str("status", h.Status).
				Float64("error_rate", h.ErrorRate).
				Float64("avg_latency_ms", h.AvgLatencyMs).
				Int("open_breakers", h.OpenBreakers).
				Int("cache_entries", h.Cache.Entries).
				Msg("periodic health")
		}
	}
}
