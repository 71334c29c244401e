package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

const yahooDefaultBaseURL = "https://query1.finance.yahoo.com"

// YahooAdapter reads quotes from the Yahoo Finance v8 chart endpoint.
// It covers the widest symbol surface of all adapters, from equity
// indexes to futures and FX, which makes it the workhorse fallback.
type YahooAdapter struct {
	baseURL string
	http    *HTTPClient
	now     func() time.Time
}

type yahooChartMeta struct {
	Symbol             string  `json:"symbol"`
	RegularMarketPrice float64 `json:"regularMarketPrice"`
	PreviousClose      float64 `json:"previousClose"`
	ChartPreviousClose float64 `json:"chartPreviousClose"`
	RegularMarketTime  int64   `json:"regularMarketTime"`
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta yahooChartMeta `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func NewYahooAdapter(baseURL string, client *HTTPClient) *YahooAdapter {
	if baseURL == "" {
		baseURL = yahooDefaultBaseURL
	}
	return &YahooAdapter{baseURL: baseURL, http: client, now: time.Now}
}

func (a *YahooAdapter) ID() string { return IDYahoo }

func (a *YahooAdapter) FetchOne(ctx context.Context, symbol string) (RawQuote, error) {
	reqURL := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=2d", a.baseURL, url.PathEscape(symbol))

	var resp yahooChartResponse
	if err := a.http.GetJSON(ctx, IDYahoo, reqURL, &resp); err != nil {
		return RawQuote{}, err
	}

	if resp.Chart.Error != nil {
		return RawQuote{}, NewError(IDYahoo, ErrCodeBadSymbol,
			fmt.Sprintf("%s: %s", symbol, resp.Chart.Error.Description), false)
	}
	if len(resp.Chart.Result) == 0 {
		return RawQuote{}, NewError(IDYahoo, ErrCodeNoData,
			fmt.Sprintf("empty chart result for %s", symbol), false)
	}

	meta := resp.Chart.Result[0].Meta
	if meta.RegularMarketPrice == 0 {
		return RawQuote{}, NewError(IDYahoo, ErrCodeNoData,
			fmt.Sprintf("no market price for %s", symbol), false)
	}

	previous := meta.PreviousClose
	if previous == 0 {
		previous = meta.ChartPreviousClose
	}

	tsMs := meta.RegularMarketTime * 1000
	if tsMs == 0 {
		tsMs = a.now().UnixMilli()
	}

	return RawQuote{
		Symbol:        symbol,
		Price:         meta.RegularMarketPrice,
		PreviousClose: previous,
		TimestampMs:   tsMs,
	}, nil
}

// HealthCheck probes the S&P 500 chart.
func (a *YahooAdapter) HealthCheck(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := a.FetchOne(ctx, "^GSPC"); err != nil {
		return Health{Available: false, RequestsRemaining: -1, Detail: err.Error()}
	}
	return Health{Available: true, RequestsRemaining: -1}
}
