package indicator

import "time"

// Provider names used by the built-in catalog. These match the adapter
// ids wired in internal/provider.
const (
	ProviderFRED       = "fred"
	ProviderFiscalData = "fiscaldata"
	ProviderYahoo      = "yahoo"
	ProviderCoinGecko  = "coingecko"
	ProviderCoinbaseWS = "coinbase_ws"
	ProviderSynthetic  = "synthetic"
)

// Transform names the built-in catalog relies on. The calc engine
// registers implementations for all of these at startup.
const (
	TransformDifference = "difference"
	TransformSum        = "sum"
	TransformSpread     = "spread"
	TransformRatio      = "ratio"
	TransformMean       = "mean"
	TransformMin        = "min"
	TransformMax        = "max"
	TransformDelta      = "delta"
)

// Catalog returns the built-in macro indicator set: Fed balance sheet
// plumbing, Treasury cash, rates, credit spreads, risk assets, and the
// derived series traders actually watch. Deployments can register more
// on top or load their own via config.
func Catalog() []Descriptor {
	return []Descriptor{
		// Fed / liquidity plumbing. FRED series update on a weekly or
		// daily cadence, so generous TTLs are fine.
		{
			ID: "WALCL", Name: "Fed Balance Sheet (Total Assets)", Unit: "USD_BILLIONS",
			Category: CategoryLiquidity, Kind: KindRaw, TTL: 15 * time.Minute,
			Symbols: map[string]string{ProviderFRED: "WALCL"},
			// FRED publishes WALCL in millions of dollars.
			Scales: map[string]float64{ProviderFRED: 0.001},
		},
		{
			ID: "RRP", Name: "Overnight Reverse Repo Balance", Unit: "USD_BILLIONS",
			Category: CategoryLiquidity, Kind: KindRaw, TTL: 15 * time.Minute,
			Symbols: map[string]string{ProviderFRED: "RRPONTSYD"},
		},
		{
			ID: "BANK_RESERVES", Name: "Reserve Balances with Federal Reserve Banks", Unit: "USD_BILLIONS",
			Category: CategoryLiquidity, Kind: KindRaw, TTL: 15 * time.Minute,
			Symbols: map[string]string{ProviderFRED: "WRESBAL"},
		},

		// Treasury cash. FiscalData is authoritative; FRED carries the
		// same series under WTREGEN as a fallback.
		{
			ID: "TGA", Name: "Treasury General Account Balance", Unit: "USD_BILLIONS",
			Category: CategoryFiscal, Kind: KindRaw, TTL: 15 * time.Minute,
			Symbols: map[string]string{
				ProviderFiscalData: "Treasury General Account (TGA) Closing Balance",
				ProviderFRED:       "WTREGEN",
			},
			// FiscalData reports the balance in millions of dollars.
			Scales: map[string]float64{ProviderFiscalData: 0.001},
		},

		// Rates complex.
		{
			ID: "DGS10", Name: "10-Year Treasury Yield", Unit: "PERCENT",
			Category: CategoryRates, Kind: KindRaw, TTL: 15 * time.Minute,
			Symbols: map[string]string{ProviderFRED: "DGS10", ProviderYahoo: "^TNX"},
		},
		{
			ID: "DGS2", Name: "2-Year Treasury Yield", Unit: "PERCENT",
			Category: CategoryRates, Kind: KindRaw, TTL: 15 * time.Minute,
			Symbols: map[string]string{ProviderFRED: "DGS2"},
		},
		{
			ID: "DGS3MO", Name: "3-Month Treasury Yield", Unit: "PERCENT",
			Category: CategoryRates, Kind: KindRaw, TTL: 15 * time.Minute,
			Symbols: map[string]string{ProviderFRED: "DGS3MO", ProviderYahoo: "^IRX"},
		},
		{
			ID: "T10YIE", Name: "10-Year Breakeven Inflation", Unit: "PERCENT",
			Category: CategoryRates, Kind: KindRaw, TTL: 15 * time.Minute,
			Symbols: map[string]string{ProviderFRED: "T10YIE"},
		},
		{
			ID: "SOFR", Name: "Secured Overnight Financing Rate", Unit: "PERCENT",
			Category: CategoryRates, Kind: KindRaw, TTL: 15 * time.Minute,
			PinProvider: ProviderFRED,
			Symbols:     map[string]string{ProviderFRED: "SOFR"},
		},

		// Credit spreads.
		{
			ID: "HY_OAS", Name: "High Yield Option-Adjusted Spread", Unit: "PERCENT",
			Category: CategoryCredit, Kind: KindRaw, TTL: 15 * time.Minute,
			Symbols: map[string]string{ProviderFRED: "BAMLH0A0HYM2"},
		},
		{
			ID: "IG_OAS", Name: "Investment Grade Option-Adjusted Spread", Unit: "PERCENT",
			Category: CategoryCredit, Kind: KindRaw, TTL: 15 * time.Minute,
			Symbols: map[string]string{ProviderFRED: "BAMLC0A0CM"},
		},

		// Risk assets and volatility, quote-frequency TTLs.
		{
			ID: "SPX", Name: "S&P 500 Index", Unit: "INDEX",
			Category: CategoryEquity, Kind: KindRaw, TTL: time.Minute,
			Symbols: map[string]string{ProviderYahoo: "^GSPC"},
		},
		{
			ID: "NDX", Name: "Nasdaq 100 Index", Unit: "INDEX",
			Category: CategoryEquity, Kind: KindRaw, TTL: time.Minute,
			Symbols: map[string]string{ProviderYahoo: "^NDX"},
		},
		{
			ID: "VIX", Name: "CBOE Volatility Index", Unit: "INDEX",
			Category: CategoryVolatility, Kind: KindRaw, TTL: time.Minute,
			Symbols: map[string]string{ProviderYahoo: "^VIX", ProviderFRED: "VIXCLS"},
		},
		{
			ID: "MOVE", Name: "ICE BofA MOVE Index", Unit: "INDEX",
			Category: CategoryVolatility, Kind: KindRaw, TTL: time.Minute,
			Symbols: map[string]string{ProviderYahoo: "^MOVE"},
		},
		{
			ID: "DXY", Name: "US Dollar Index", Unit: "INDEX",
			Category: CategoryFX, Kind: KindRaw, TTL: time.Minute,
			Symbols: map[string]string{ProviderYahoo: "DX-Y.NYB"},
		},
		{
			ID: "GOLD", Name: "Gold Futures", Unit: "USD",
			Category: CategoryCommodity, Kind: KindRaw, TTL: time.Minute,
			Symbols: map[string]string{ProviderYahoo: "GC=F"},
		},
		{
			ID: "WTI_OIL", Name: "WTI Crude Futures", Unit: "USD",
			Category: CategoryCommodity, Kind: KindRaw, TTL: time.Minute,
			Symbols: map[string]string{ProviderYahoo: "CL=F"},
		},

		// Crypto. The websocket feed serves these out of its tick table
		// when warm; CoinGecko and Yahoo back it up.
		{
			ID: "BTC", Name: "Bitcoin / USD", Unit: "USD",
			Category: CategoryCrypto, Kind: KindRaw, TTL: 15 * time.Second,
			Symbols: map[string]string{
				ProviderCoinbaseWS: "BTC-USD",
				ProviderCoinGecko:  "bitcoin",
				ProviderYahoo:      "BTC-USD",
			},
		},
		{
			ID: "ETH", Name: "Ethereum / USD", Unit: "USD",
			Category: CategoryCrypto, Kind: KindRaw, TTL: 15 * time.Second,
			Symbols: map[string]string{
				ProviderCoinbaseWS: "ETH-USD",
				ProviderCoinGecko:  "ethereum",
				ProviderYahoo:      "ETH-USD",
			},
		},

		// Derived series.
		{
			ID: "NET_LIQ", Name: "Net Fed Liquidity", Unit: "USD_BILLIONS",
			Category: CategoryLiquidity, Kind: KindCalculated, TTL: 15 * time.Minute,
			Dependencies: []string{"WALCL", "TGA", "RRP"},
			Transform:    TransformDifference,
		},
		{
			ID: "NET_LIQ_DELTA", Name: "Net Fed Liquidity Change", Unit: "USD_BILLIONS",
			Category: CategoryLiquidity, Kind: KindCalculated, TTL: 15 * time.Minute,
			Dependencies: []string{"NET_LIQ"},
			Transform:    TransformDelta,
		},
		{
			ID: "YIELD_SPREAD_10Y2Y", Name: "10Y-2Y Treasury Spread", Unit: "PERCENT",
			Category: CategoryRates, Kind: KindCalculated, TTL: 15 * time.Minute,
			Dependencies: []string{"DGS10", "DGS2"},
			Transform:    TransformSpread,
		},
		{
			ID: "YIELD_SPREAD_10Y3M", Name: "10Y-3M Treasury Spread", Unit: "PERCENT",
			Category: CategoryRates, Kind: KindCalculated, TTL: 15 * time.Minute,
			Dependencies: []string{"DGS10", "DGS3MO"},
			Transform:    TransformSpread,
		},
		{
			ID: "REAL_YIELD_10Y", Name: "10-Year Real Yield", Unit: "PERCENT",
			Category: CategoryRates, Kind: KindCalculated, TTL: 15 * time.Minute,
			Dependencies: []string{"DGS10", "T10YIE"},
			Transform:    TransformSpread,
		},
		{
			ID: "CREDIT_STRESS", Name: "HY/IG Spread Ratio", Unit: "RATIO",
			Category: CategoryCredit, Kind: KindCalculated, TTL: 15 * time.Minute,
			Dependencies: []string{"HY_OAS", "IG_OAS"},
			Transform:    TransformRatio,
		},
		{
			ID: "SPX_VIX_RATIO", Name: "S&P 500 to VIX Ratio", Unit: "RATIO",
			Category: CategoryEquity, Kind: KindCalculated, TTL: time.Minute,
			Dependencies: []string{"SPX", "VIX"},
			Transform:    TransformRatio,
		},
		{
			ID: "BTC_ETH_RATIO", Name: "BTC to ETH Ratio", Unit: "RATIO",
			Category: CategoryCrypto, Kind: KindCalculated, TTL: 15 * time.Second,
			Dependencies: []string{"BTC", "ETH"},
			Transform:    TransformRatio,
		},
	}
}

// RegisterCatalog loads the built-in catalog into a registry.
func RegisterCatalog(r *Registry) error {
	for _, d := range Catalog() {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}
