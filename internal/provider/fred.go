package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const fredDefaultBaseURL = "https://api.stlouisfed.org/fred"

// FREDAdapter fetches series observations from the St. Louis Fed FRED
// API. Series values arrive newest-first; missing observations are
// published as "." and skipped.
type FREDAdapter struct {
	baseURL string
	apiKey  string
	http    *HTTPClient
}

type fredObservation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

type fredObservationsResponse struct {
	Observations []fredObservation `json:"observations"`
}

// NewFREDAdapter builds the FRED adapter. apiKey is required for real
// requests; an empty key fails fast at fetch time.
func NewFREDAdapter(baseURL, apiKey string, client *HTTPClient) *FREDAdapter {
	if baseURL == "" {
		baseURL = fredDefaultBaseURL
	}
	return &FREDAdapter{baseURL: baseURL, apiKey: apiKey, http: client}
}

func (a *FREDAdapter) ID() string { return IDFRED }

// FetchOne returns the two most recent published observations of a
// series as current and previous.
func (a *FREDAdapter) FetchOne(ctx context.Context, symbol string) (RawQuote, error) {
	if a.apiKey == "" {
		return RawQuote{}, NewError(IDFRED, ErrCodeAuth, "api key not configured", false)
	}

	// Ask for a few extra rows so "." placeholders do not leave us
	// short of two real observations.
	q := url.Values{}
	q.Set("series_id", symbol)
	q.Set("api_key", a.apiKey)
	q.Set("file_type", "json")
	q.Set("sort_order", "desc")
	q.Set("limit", "8")

	var resp fredObservationsResponse
	reqURL := fmt.Sprintf("%s/series/observations?%s", a.baseURL, q.Encode())
	if err := a.http.GetJSON(ctx, IDFRED, reqURL, &resp); err != nil {
		return RawQuote{}, err
	}

	type obs struct {
		value float64
		date  time.Time
	}
	var parsed []obs
	for _, o := range resp.Observations {
		if o.Value == "." || o.Value == "" {
			continue
		}
		v, err := strconv.ParseFloat(o.Value, 64)
		if err != nil {
			return RawQuote{}, WrapError(IDFRED, ErrCodeBadPayload,
				fmt.Sprintf("unparseable observation %q for %s", o.Value, symbol), false, err)
		}
		d, err := time.Parse("2006-01-02", o.Date)
		if err != nil {
			return RawQuote{}, WrapError(IDFRED, ErrCodeBadPayload,
				fmt.Sprintf("unparseable observation date %q for %s", o.Date, symbol), false, err)
		}
		parsed = append(parsed, obs{value: v, date: d})
		if len(parsed) == 2 {
			break
		}
	}

	if len(parsed) == 0 {
		return RawQuote{}, NewError(IDFRED, ErrCodeNoData,
			fmt.Sprintf("no published observations for %s", symbol), false)
	}

	quote := RawQuote{
		Symbol:      symbol,
		Price:       parsed[0].value,
		TimestampMs: parsed[0].date.UnixMilli(),
	}
	if len(parsed) > 1 {
		quote.PreviousClose = parsed[1].value
	} else {
		quote.PreviousClose = parsed[0].value
	}
	return quote, nil
}

// HealthCheck probes a cheap, always-published series.
func (a *FREDAdapter) HealthCheck(ctx context.Context) Health {
	if a.apiKey == "" {
		return Health{Available: false, RequestsRemaining: -1, Detail: "api key not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := a.FetchOne(ctx, "DGS10"); err != nil {
		return Health{Available: false, RequestsRemaining: -1, Detail: err.Error()}
	}
	return Health{Available: true, RequestsRemaining: -1}
}
