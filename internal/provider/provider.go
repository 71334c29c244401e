package provider

import (
	"context"
	"time"
)

// Known adapter ids. The gateway routes fallback chains over these
// names; config and indicator descriptors reference them as strings.
const (
	IDFRED       = "fred"
	IDFiscalData = "fiscaldata"
	IDYahoo      = "yahoo"
	IDCoinGecko  = "coingecko"
	IDCoinbaseWS = "coinbase_ws"
	IDSynthetic  = "synthetic"
)

// RawQuote is the normalized payload every adapter emits, whatever the
// upstream wire format looks like. Interpretation into indicator values
// happens in the gateway.
type RawQuote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	PreviousClose float64 `json:"previous_close"`
	TimestampMs   int64   `json:"timestamp_ms"`
}

// Time converts the quote timestamp to time.Time.
func (q RawQuote) Time() time.Time {
	return time.UnixMilli(q.TimestampMs).UTC()
}

// Health is an adapter's self-reported availability.
type Health struct {
	Available         bool   `json:"available"`
	RequestsRemaining int    `json:"requests_remaining"` // -1 when the upstream does not say
	Detail            string `json:"detail,omitempty"`
}

// Adapter is the single boundary every upstream data source implements.
// Adapters translate one provider's wire format into RawQuote and
// surface failures as *Error so the gateway can classify them. They do
// not cache, retry, or rate limit; that is the gateway's job.
type Adapter interface {
	ID() string
	FetchOne(ctx context.Context, symbol string) (RawQuote, error)
	HealthCheck(ctx context.Context) Health
}

// BatchAdapter is implemented by adapters whose upstream supports
// multi-symbol requests in a single call.
type BatchAdapter interface {
	Adapter
	FetchBatch(ctx context.Context, symbols []string) (map[string]RawQuote, error)
}

// Runnable is implemented by adapters that own background work, such as
// a streaming connection. The application starts them after wiring and
// stops them on shutdown.
type Runnable interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
