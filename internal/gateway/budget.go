package gateway

import (
	"sync"
	"time"
)

// Budget enforces per-provider daily request ceilings on top of the
// short sliding windows. Free API tiers meter by the day; burning the
// whole allowance before lunch takes the provider out for hours, so a
// budget denial is handled exactly like a rate-limit denial.
type Budget struct {
	mu     sync.Mutex
	limits map[string]int64 // 0 or absent means unlimited
	used   map[string]int64
	day    time.Time
	now    func() time.Time
}

// BudgetSnapshot is the health view of one provider's daily budget.
type BudgetSnapshot struct {
	Provider  string `json:"provider"`
	Limit     int64  `json:"limit"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"` // -1 when unlimited
}

// NewBudget creates a tracker with per-provider daily limits.
func NewBudget(limits map[string]int64) *Budget {
	b := &Budget{
		limits: make(map[string]int64, len(limits)),
		used:   make(map[string]int64),
		now:    time.Now,
	}
	for provider, limit := range limits {
		b.limits[provider] = limit
	}
	b.day = utcDay(b.now())
	return b
}

// Allow reports whether the provider still has daily budget.
func (b *Budget) Allow(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollLocked()
	limit := b.limits[provider]
	if limit <= 0 {
		return true
	}
	return b.used[provider] < limit
}

// Record consumes one unit of the provider's daily budget.
func (b *Budget) Record(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollLocked()
	b.used[provider]++
}

// Remaining returns the units left today, or -1 for unlimited.
func (b *Budget) Remaining(provider string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollLocked()
	limit := b.limits[provider]
	if limit <= 0 {
		return -1
	}
	remaining := limit - b.used[provider]
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Snapshots returns the budget view for every limited provider plus
// any provider that has spent units today.
func (b *Budget) Snapshots() map[string]BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollLocked()
	providers := make(map[string]struct{}, len(b.limits)+len(b.used))
	for p := range b.limits {
		providers[p] = struct{}{}
	}
	for p := range b.used {
		providers[p] = struct{}{}
	}

	out := make(map[string]BudgetSnapshot, len(providers))
	for p := range providers {
		limit := b.limits[p]
		snap := BudgetSnapshot{Provider: p, Limit: limit, Used: b.used[p], Remaining: -1}
		if limit > 0 {
			snap.Remaining = limit - snap.Used
			if snap.Remaining < 0 {
				snap.Remaining = 0
			}
		}
		out[p] = snap
	}
	return out
}

// rollLocked resets counters when the UTC day changes.
func (b *Budget) rollLocked() {
	today := utcDay(b.now())
	if !today.Equal(b.day) {
		b.day = today
		b.used = make(map[string]int64)
	}
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
