package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fredFixture = `{
	"observations": [
		{"date": "2025-05-28", "value": "6600123.0"},
		{"date": "2025-05-21", "value": "."},
		{"date": "2025-05-14", "value": "6612456.0"},
		{"date": "2025-05-07", "value": "6620001.0"}
	]
}`

func TestFREDFetchOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/series/observations", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "WALCL", q.Get("series_id"))
		assert.Equal(t, "test-key", q.Get("api_key"))
		assert.Equal(t, "desc", q.Get("sort_order"))
		w.Write([]byte(fredFixture))
	}))
	defer srv.Close()

	a := NewFREDAdapter(srv.URL, "test-key", newTestHTTPClient())
	quote, err := a.FetchOne(context.Background(), "WALCL")
	require.NoError(t, err)

	assert.Equal(t, "WALCL", quote.Symbol)
	assert.Equal(t, 6600123.0, quote.Price)
	assert.Equal(t, 6612456.0, quote.PreviousClose, "the dotted placeholder row must be skipped")

	wantTS := time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, wantTS, quote.Time())
}

func TestFREDFetchOneSingleObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"observations": [{"date": "2025-05-28", "value": "4.25"}]}`))
	}))
	defer srv.Close()

	a := NewFREDAdapter(srv.URL, "k", newTestHTTPClient())
	quote, err := a.FetchOne(context.Background(), "DGS10")
	require.NoError(t, err)
	assert.Equal(t, quote.Price, quote.PreviousClose, "single observation means a flat previous")
}

func TestFREDFetchOneNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"observations": [{"date": "2025-05-28", "value": "."}]}`))
	}))
	defer srv.Close()

	a := NewFREDAdapter(srv.URL, "k", newTestHTTPClient())
	_, err := a.FetchOne(context.Background(), "GONE")
	require.Error(t, err)
	assert.Equal(t, ErrCodeNoData, CodeOf(err))
}

func TestFREDFetchOneWithoutKeyFailsFast(t *testing.T) {
	a := NewFREDAdapter("http://unused.invalid", "", newTestHTTPClient())
	_, err := a.FetchOne(context.Background(), "WALCL")
	require.Error(t, err)
	assert.Equal(t, ErrCodeAuth, CodeOf(err))
	assert.False(t, IsTransient(err))
}

func TestFREDRateLimitPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewFREDAdapter(srv.URL, "k", newTestHTTPClient())
	_, err := a.FetchOne(context.Background(), "WALCL")
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
}
