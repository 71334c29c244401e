package indicator

import (
	"time"
)

// Category groups indicators that share a provider fallback chain.
type Category string

const (
	CategoryLiquidity  Category = "liquidity"
	CategoryFiscal     Category = "fiscal"
	CategoryRates      Category = "rates"
	CategoryCredit     Category = "credit"
	CategoryEquity     Category = "equity"
	CategoryCrypto     Category = "crypto"
	CategoryVolatility Category = "volatility"
	CategoryFX         Category = "fx"
	CategoryCommodity  Category = "commodity"
)

// Kind distinguishes indicators fetched from a provider from those
// derived by a transform over other indicators.
type Kind string

const (
	KindRaw        Kind = "raw"
	KindCalculated Kind = "calculated"
)

// Source describes how a Value was produced.
type Source string

const (
	SourceProvider   Source = "raw_provider"
	SourceCalculated Source = "calculated"
	SourceCache      Source = "cache"
	SourceFallback   Source = "fallback"
)

// Value is the canonical unit of data interchange. Every layer of the
// system produces and consumes this shape, whether the number came from
// a provider, the cache, a persisted fallback, or a calculation.
type Value struct {
	Symbol        string                 `json:"symbol"`
	Current       float64                `json:"current"`
	Previous      float64                `json:"previous"`
	Change        float64                `json:"change"`
	ChangePercent float64                `json:"change_percent"`
	Timestamp     time.Time              `json:"timestamp"`
	Confidence    float64                `json:"confidence"`
	Source        Source                 `json:"source"`
	Provider      string                 `json:"provider"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewValue builds a Value with the change fields derived from
// current/previous. ChangePercent is zero when previous is zero so the
// zero-baseline case never emits NaN or Inf.
func NewValue(symbol string, current, previous float64, ts time.Time) Value {
	change, pct := Change(current, previous)
	return Value{
		Symbol:        symbol,
		Current:       current,
		Previous:      previous,
		Change:        change,
		ChangePercent: pct,
		Timestamp:     ts,
	}
}

// Change returns the absolute and percent change for a current/previous
// pair. Percent change against a zero baseline is defined as zero.
func Change(current, previous float64) (change, percent float64) {
	change = current - previous
	if previous != 0 {
		percent = change / previous * 100
	}
	return change, percent
}

// Age reports how old the value is relative to now.
func (v Value) Age(now time.Time) time.Duration {
	return now.Sub(v.Timestamp)
}

// WithMeta returns a copy of the value with one metadata entry added.
// The original metadata map is never mutated so cached values stay
// immutable once published.
func (v Value) WithMeta(key string, val interface{}) Value {
	meta := make(map[string]interface{}, len(v.Metadata)+1)
	for k, mv := range v.Metadata {
		meta[k] = mv
	}
	meta[key] = val
	v.Metadata = meta
	return v
}

// Descriptor is the registration record for one indicator. Raw
// indicators carry provider routing hints; calculated indicators carry
// a dependency list and the name of a registered transform.
type Descriptor struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Unit     string   `json:"unit" yaml:"unit"`
	Category Category `json:"category" yaml:"category"`
	Kind     Kind     `json:"kind" yaml:"kind"`

	// Symbols maps a provider id to the symbol that provider uses for
	// this series. Providers not listed fall back to the indicator ID.
	Symbols map[string]string `json:"symbols,omitempty" yaml:"symbols,omitempty"`

	// Scales maps a provider id to a multiplier that converts the
	// provider's native magnitude into this descriptor's unit, e.g.
	// 0.001 for a series published in millions against a unit of
	// billions. Unlisted providers are taken at scale 1.
	Scales map[string]float64 `json:"scales,omitempty" yaml:"scales,omitempty"`

	// PinProvider restricts fetches to a single provider, bypassing the
	// category fallback chain.
	PinProvider string `json:"pin_provider,omitempty" yaml:"pin_provider,omitempty"`

	// TTL overrides the provider-level cache TTL for this indicator.
	TTL time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`

	// Dependencies and Transform apply to calculated indicators only.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Transform    string   `json:"transform,omitempty" yaml:"transform,omitempty"`
}

// SymbolFor resolves the native symbol to request from a provider.
func (d Descriptor) SymbolFor(provider string) string {
	if s, ok := d.Symbols[provider]; ok && s != "" {
		return s
	}
	return d.ID
}

// ScaleFor resolves the unit multiplier for a provider's values.
func (d Descriptor) ScaleFor(provider string) float64 {
	if s, ok := d.Scales[provider]; ok && s != 0 {
		return s
	}
	return 1
}

// IsCalculated reports whether this descriptor is transform-derived.
func (d Descriptor) IsCalculated() bool {
	return d.Kind == KindCalculated
}
