package gateway

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/macrorun/internal/cache"
	"github.com/sawpanic/macrorun/internal/provider"
)

// Health status levels, worst first.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ProviderHealth is the per-provider slice of the health report.
type ProviderHealth struct {
	Provider  string          `json:"provider"`
	Breaker   BreakerSnapshot `json:"breaker"`
	RateLimit WindowSnapshot  `json:"rate_limit"`
	Budget    *BudgetSnapshot `json:"budget,omitempty"`
}

// HealthStatus is the gateway's self-assessment: breaker and limiter
// state, cache behavior, and rolling error rate.
type HealthStatus struct {
	Status       string                    `json:"status"`
	Timestamp    time.Time                 `json:"timestamp"`
	StartedAt    time.Time                 `json:"started_at"`
	ErrorRate    float64                   `json:"error_rate"`
	AvgLatencyMs float64                   `json:"avg_latency_ms"`
	OpenBreakers int                       `json:"open_breakers"`
	Cache        cache.Stats               `json:"cache"`
	Providers    map[string]ProviderHealth `json:"providers"`
}

// HealthStatus reports current gateway health. Status degrades when
// any breaker is open or errors exceed 10% of attempts, and goes
// unhealthy when every configured provider's breaker is open or the
// error rate passes 50%.
func (g *Gateway) HealthStatus() HealthStatus {
	budgets := g.budget.Snapshots()
	providers := make(map[string]ProviderHealth, len(g.adapters))
	openCount := 0

	for id := range g.adapters {
		breaker := g.breakers.Get(id).Snapshot()
		if breaker.State == BreakerOpen.String() {
			openCount++
		}
		ph := ProviderHealth{
			Provider:  id,
			Breaker:   breaker,
			RateLimit: g.limiters.Get(id).Snapshot(),
		}
		if b, ok := budgets[id]; ok {
			budget := b
			ph.Budget = &budget
		}
		providers[id] = ph
	}

	errorRate := g.metrics.ErrorRate()

	status := StatusHealthy
	switch {
	case openCount == len(g.adapters) || errorRate > 0.5:
		status = StatusUnhealthy
	case openCount > 0 || errorRate > 0.1:
		status = StatusDegraded
	}

	return HealthStatus{
		Status:       status,
		Timestamp:    g.now().UTC(),
		StartedAt:    g.startedAt.UTC(),
		ErrorRate:    errorRate,
		AvgLatencyMs: g.metrics.AvgLatencyMs(),
		OpenBreakers: openCount,
		Cache:        g.cache.Stats(),
		Providers:    providers,
	}
}

// ProviderIDs lists configured providers in stable order.
func (g *Gateway) ProviderIDs() []string {
	ids := make([]string, 0, len(g.adapters))
	for id := range g.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ProbeProviders runs every adapter's health check concurrently.
// Checks share the caller's deadline; a slow provider reports as
// unavailable rather than stalling the probe.
func (g *Gateway) ProbeProviders(ctx context.Context) map[string]provider.Health {
	var mu sync.Mutex
	out := make(map[string]provider.Health, len(g.adapters))

	var wg sync.WaitGroup
	for id, adapter := range g.adapters {
		wg.Add(1)
		go func(id string, adapter provider.Adapter) {
			defer wg.Done()
			h := adapter.HealthCheck(ctx)
			mu.Lock()
			out[id] = h
			mu.Unlock()
		}(id, adapter)
	}
	wg.Wait()
	return out
}
