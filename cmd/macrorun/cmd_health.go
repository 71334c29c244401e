package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/macrorun/internal/gateway"
	"github.com/sawpanic/macrorun/internal/provider"
)

func runHealth(cmd *cobra.Command, args []string) error {
	configPath, asJSON, timeout := commonFlags(cmd.Flags())

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a, err := newApp(ctx, configPath, appOptionsFromFlags(cmd.Flags()))
	if err != nil {
		return err
	}
	defer a.stop(context.Background())

	upstream := a.gateway.ProbeProviders(ctx)
	status := a.gateway.HealthStatus()

	if asJSON {
		return printJSON(struct {
			Status    gateway.HealthStatus       `json:"status"`
			Upstreams map[string]provider.Health `json:"upstreams"`
		}{status, upstream})
	}

	fmt.Printf("Overall: %s  (error rate %.2f, avg latency %.1fms, %d open breakers)\n\n",
		status.Status, status.ErrorRate, status.AvgLatencyMs, status.OpenBreakers)

	fmt.Printf("%-13s %-9s %-10s %-12s %-12s %s\n",
		"PROVIDER", "UPSTREAM", "BREAKER", "WINDOW", "BUDGET", "DETAIL")
	for _, id := range a.gateway.ProviderIDs() {
		ph := status.Providers[id]

		up, detail := "down", ""
		if h, ok := upstream[id]; ok {
			if h.Available {
				up = "up"
			}
			detail = h.Detail
		}

		window := fmt.Sprintf("%d/%d", ph.RateLimit.InWindow, ph.RateLimit.Limit)
		budget := "unlimited"
		if ph.Budget != nil {
			budget = fmt.Sprintf("%d/%d", ph.Budget.Used, ph.Budget.Limit)
		}

		fmt.Printf("%-13s %-9s %-10s %-12s %-12s %s\n",
			id, up, ph.Breaker.State, window, budget, detail)
	}

	fmt.Printf("\nCache: %d entries, %.0f%% hit ratio\n",
		status.Cache.Entries, status.Cache.HitRatio*100)

	if status.Status == gateway.StatusUnhealthy {
		return fmt.Errorf("system unhealthy")
	}
	return nil
}
