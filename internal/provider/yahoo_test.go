package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYahooFetchOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/^GSPC", r.URL.Path)
		w.Write([]byte(`{
			"chart": {
				"result": [{
					"meta": {
						"symbol": "^GSPC",
						"regularMarketPrice": 5304.72,
						"previousClose": 5297.10,
						"chartPreviousClose": 5266.95,
						"regularMarketTime": 1717100000
					}
				}],
				"error": null
			}
		}`))
	}))
	defer srv.Close()

	a := NewYahooAdapter(srv.URL, newTestHTTPClient())
	quote, err := a.FetchOne(context.Background(), "^GSPC")
	require.NoError(t, err)

	assert.Equal(t, 5304.72, quote.Price)
	assert.Equal(t, 5297.10, quote.PreviousClose)
	assert.Equal(t, int64(1717100000000), quote.TimestampMs)
}

func TestYahooPrefersChartPreviousCloseWhenMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"chart": {
				"result": [{"meta": {"symbol": "GC=F", "regularMarketPrice": 2350.5, "chartPreviousClose": 2340.0}}],
				"error": null
			}
		}`))
	}))
	defer srv.Close()

	a := NewYahooAdapter(srv.URL, newTestHTTPClient())
	quote, err := a.FetchOne(context.Background(), "GC=F")
	require.NoError(t, err)
	assert.Equal(t, 2340.0, quote.PreviousClose)
	assert.Greater(t, quote.TimestampMs, int64(0), "missing market time falls back to now")
}

func TestYahooSymbolNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"chart": {
				"result": null,
				"error": {"code": "Not Found", "description": "No data found, symbol may be delisted"}
			}
		}`))
	}))
	defer srv.Close()

	a := NewYahooAdapter(srv.URL, newTestHTTPClient())
	_, err := a.FetchOne(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Equal(t, ErrCodeBadSymbol, CodeOf(err))
	assert.False(t, IsTransient(err))
}

func TestYahooEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart": {"result": [], "error": null}}`))
	}))
	defer srv.Close()

	a := NewYahooAdapter(srv.URL, newTestHTTPClient())
	_, err := a.FetchOne(context.Background(), "^VIX")
	require.Error(t, err)
	assert.Equal(t, ErrCodeNoData, CodeOf(err))
}
