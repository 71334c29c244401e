package provider

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Settings carries the per-adapter construction knobs. Fields that do
// not apply to a given adapter are ignored.
type Settings struct {
	BaseURL    string
	APIKey     string
	WSURL      string
	Products   []string
	TickMaxAge time.Duration
}

// knownIDs is the static registration table. Adding a provider means
// adding its constructor here; there is no dynamic discovery.
var knownIDs = []string{
	IDFRED,
	IDFiscalData,
	IDYahoo,
	IDCoinGecko,
	IDCoinbaseWS,
	IDSynthetic,
}

// Known returns the provider ids this build can construct, sorted.
func Known() []string {
	out := make([]string, len(knownIDs))
	copy(out, knownIDs)
	sort.Strings(out)
	return out
}

// IsKnown reports whether an id has a constructor.
func IsKnown(id string) bool {
	for _, k := range knownIDs {
		if k == id {
			return true
		}
	}
	return false
}

// Build constructs a single adapter by id.
func Build(id string, s Settings, client *HTTPClient, logger zerolog.Logger) (Adapter, error) {
	switch id {
	case IDFRED:
		return NewFREDAdapter(s.BaseURL, s.APIKey, client), nil
	case IDFiscalData:
		return NewFiscalDataAdapter(s.BaseURL, client), nil
	case IDYahoo:
		return NewYahooAdapter(s.BaseURL, client), nil
	case IDCoinGecko:
		return NewCoinGeckoAdapter(s.BaseURL, s.APIKey, client), nil
	case IDCoinbaseWS:
		return NewCoinbaseWSAdapter(s.WSURL, s.Products, s.TickMaxAge, logger), nil
	case IDSynthetic:
		return NewSyntheticAdapter(), nil
	default:
		return nil, fmt.Errorf("unknown provider id %q", id)
	}
}
