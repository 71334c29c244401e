package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const coinGeckoDefaultBaseURL = "https://api.coingecko.com/api/v3"

// CoinGeckoAdapter reads crypto spot prices from the CoinGecko simple
// price endpoint. Symbols are CoinGecko coin ids such as "bitcoin".
// The endpoint is natively multi-coin, so this adapter implements
// BatchAdapter and FetchOne rides on the batch path.
type CoinGeckoAdapter struct {
	baseURL string
	apiKey  string
	http    *HTTPClient
	now     func() time.Time
}

type coinGeckoQuote struct {
	USD          float64 `json:"usd"`
	USD24hChange float64 `json:"usd_24h_change"`
	LastUpdated  int64   `json:"last_updated_at"`
}

func NewCoinGeckoAdapter(baseURL, apiKey string, client *HTTPClient) *CoinGeckoAdapter {
	if baseURL == "" {
		baseURL = coinGeckoDefaultBaseURL
	}
	return &CoinGeckoAdapter{baseURL: baseURL, apiKey: apiKey, http: client, now: time.Now}
}

func (a *CoinGeckoAdapter) ID() string { return IDCoinGecko }

func (a *CoinGeckoAdapter) FetchOne(ctx context.Context, symbol string) (RawQuote, error) {
	quotes, err := a.FetchBatch(ctx, []string{symbol})
	if err != nil {
		return RawQuote{}, err
	}
	q, ok := quotes[symbol]
	if !ok {
		return RawQuote{}, NewError(IDCoinGecko, ErrCodeBadSymbol,
			fmt.Sprintf("unknown coin id %q", symbol), false)
	}
	return q, nil
}

// FetchBatch fetches any number of coin ids in one request. Unknown ids
// are simply absent from the result map.
func (a *CoinGeckoAdapter) FetchBatch(ctx context.Context, symbols []string) (map[string]RawQuote, error) {
	if len(symbols) == 0 {
		return map[string]RawQuote{}, nil
	}

	q := url.Values{}
	q.Set("ids", strings.Join(symbols, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")
	q.Set("include_last_updated_at", "true")
	if a.apiKey != "" {
		q.Set("x_cg_demo_api_key", a.apiKey)
	}

	var resp map[string]coinGeckoQuote
	reqURL := fmt.Sprintf("%s/simple/price?%s", a.baseURL, q.Encode())
	if err := a.http.GetJSON(ctx, IDCoinGecko, reqURL, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]RawQuote, len(resp))
	for id, cq := range resp {
		if cq.USD == 0 {
			continue
		}

		// CoinGecko reports a 24h percent change rather than a previous
		// close; back the baseline out of it.
		previous := cq.USD
		if denom := 1 + cq.USD24hChange/100; denom > 0 {
			previous = cq.USD / denom
		}

		tsMs := cq.LastUpdated * 1000
		if tsMs == 0 {
			tsMs = a.now().UnixMilli()
		}

		out[id] = RawQuote{
			Symbol:        id,
			Price:         cq.USD,
			PreviousClose: previous,
			TimestampMs:   tsMs,
		}
	}
	return out, nil
}

// HealthCheck calls the ping endpoint.
func (a *CoinGeckoAdapter) HealthCheck(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var resp struct {
		GeckoSays string `json:"gecko_says"`
	}
	if err := a.http.GetJSON(ctx, IDCoinGecko, a.baseURL+"/ping", &resp); err != nil {
		return Health{Available: false, RequestsRemaining: -1, Detail: err.Error()}
	}
	return Health{Available: true, RequestsRemaining: -1}
}
