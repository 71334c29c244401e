package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const fiscalDataDefaultBaseURL = "https://api.fiscaldata.treasury.gov/services/api/fiscal_service"

// FiscalDataAdapter reads the Daily Treasury Statement operating cash
// balance from the Treasury FiscalData API. The symbol is the
// account_type row name, e.g. "Treasury General Account (TGA) Closing
// Balance". No API key is required.
type FiscalDataAdapter struct {
	baseURL string
	http    *HTTPClient
}

type fiscalDataRow struct {
	RecordDate    string `json:"record_date"`
	AccountType   string `json:"account_type"`
	OpenTodayBal  string `json:"open_today_bal"`
	CloseTodayBal string `json:"close_today_bal"`
}

type fiscalDataResponse struct {
	Data []fiscalDataRow `json:"data"`
}

func NewFiscalDataAdapter(baseURL string, client *HTTPClient) *FiscalDataAdapter {
	if baseURL == "" {
		baseURL = fiscalDataDefaultBaseURL
	}
	return &FiscalDataAdapter{baseURL: baseURL, http: client}
}

func (a *FiscalDataAdapter) ID() string { return IDFiscalData }

// FetchOne returns the latest closing balance as current and the prior
// business day's close as previous.
func (a *FiscalDataAdapter) FetchOne(ctx context.Context, symbol string) (RawQuote, error) {
	q := url.Values{}
	q.Set("fields", "record_date,account_type,open_today_bal,close_today_bal")
	q.Set("filter", fmt.Sprintf("account_type:eq:%s", symbol))
	q.Set("sort", "-record_date")
	q.Set("page[size]", "2")

	var resp fiscalDataResponse
	reqURL := fmt.Sprintf("%s/v1/accounting/dts/operating_cash_balance?%s", a.baseURL, q.Encode())
	if err := a.http.GetJSON(ctx, IDFiscalData, reqURL, &resp); err != nil {
		return RawQuote{}, err
	}

	if len(resp.Data) == 0 {
		return RawQuote{}, NewError(IDFiscalData, ErrCodeNoData,
			fmt.Sprintf("no rows for account type %q", symbol), false)
	}

	latest := resp.Data[0]
	current, err := parseFiscalBalance(latest.CloseTodayBal)
	if err != nil {
		return RawQuote{}, WrapError(IDFiscalData, ErrCodeBadPayload,
			fmt.Sprintf("unparseable close balance %q", latest.CloseTodayBal), false, err)
	}

	recordDate, err := time.Parse("2006-01-02", latest.RecordDate)
	if err != nil {
		return RawQuote{}, WrapError(IDFiscalData, ErrCodeBadPayload,
			fmt.Sprintf("unparseable record date %q", latest.RecordDate), false, err)
	}

	// Previous close comes from the prior row when present, otherwise
	// from today's opening balance, which the DTS defines as yesterday's
	// close.
	previous := current
	if len(resp.Data) > 1 {
		if v, err := parseFiscalBalance(resp.Data[1].CloseTodayBal); err == nil {
			previous = v
		}
	} else if v, err := parseFiscalBalance(latest.OpenTodayBal); err == nil {
		previous = v
	}

	return RawQuote{
		Symbol:        symbol,
		Price:         current,
		PreviousClose: previous,
		TimestampMs:   recordDate.UnixMilli(),
	}, nil
}

// HealthCheck fetches the TGA row with a tight deadline.
func (a *FiscalDataAdapter) HealthCheck(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := a.FetchOne(ctx, "Treasury General Account (TGA) Closing Balance")
	if err != nil {
		return Health{Available: false, RequestsRemaining: -1, Detail: err.Error()}
	}
	return Health{Available: true, RequestsRemaining: -1}
}

func parseFiscalBalance(s string) (float64, error) {
	if s == "" || s == "null" {
		return 0, fmt.Errorf("empty balance")
	}
	return strconv.ParseFloat(s, 64)
}
