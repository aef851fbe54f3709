// Package marketdata fetches coin rankings and market cap history.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/cryptoindex/internal/domain"
	"github.com/vadiminshakov/cryptoindex/pkg/retrier"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultCMCBaseURL   = "https://pro-api.coinmarketcap.com"
	cmcListingsPath     = "/v1/cryptocurrency/listings/latest"
	cmcListingsLimit    = 1000
	cmcAPIKeyHeader     = "X-CMC_PRO_API_KEY"
	cmcRequestInterval  = 2 * time.Second
	cmcRequestTimeout   = 30 * time.Second
	cmcMaxErrorBodySize = 1024
)

// Provider ranks coins by market cap.
type Provider interface {
	Listings(ctx context.Context) ([]domain.CoinMarketRecord, error)
}

// CoinMarketCap listings client.
type CoinMarketCap struct {
	l        *zap.Logger
	http     *http.Client
	baseURL  string
	apiKey   string
	currency string
	limiter  *rate.Limiter
	retrier  *retrier.Retrier
}

// CMCOption configures the CoinMarketCap client.
type CMCOption func(*CoinMarketCap)

// WithBaseURL points the client at another host.
func WithBaseURL(u string) CMCOption {
	return func(c *CoinMarketCap) {
		c.baseURL = u
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(h *http.Client) CMCOption {
	return func(c *CoinMarketCap) {
		c.http = h
	}
}

// WithRetrier sets the retry policy for listing requests.
func WithRetrier(r *retrier.Retrier) CMCOption {
	return func(c *CoinMarketCap) {
		c.retrier = r
	}
}

// WithRateLimit sets the minimum spacing between requests.
func WithRateLimit(every time.Duration) CMCOption {
	return func(c *CoinMarketCap) {
		c.limiter = rate.NewLimiter(rate.Every(every), 1)
	}
}

// NewCoinMarketCap creates a listings client quoting market caps in currency.
func NewCoinMarketCap(l *zap.Logger, apiKey, currency string, opts ...CMCOption) *CoinMarketCap {
	if l == nil {
		l = zap.NewNop()
	}
	c := &CoinMarketCap{
		l:        l,
		http:     &http.Client{Timeout: cmcRequestTimeout},
		baseURL:  defaultCMCBaseURL,
		apiKey:   apiKey,
		currency: currency,
		limiter:  rate.NewLimiter(rate.Every(cmcRequestInterval), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retrier == nil {
		c.retrier = retrier.New(retrier.WithMaxRetries(3), retrier.WithRetryIf(isRetryable))
	}
	return c
}

type cmcQuote struct {
	MarketCap        decimal.NullDecimal `json:"market_cap"`
	PercentChange7d  *float64            `json:"percent_change_7d"`
	PercentChange30d *float64            `json:"percent_change_30d"`
}

type cmcListing struct {
	Symbol string              `json:"symbol"`
	Tags   []string            `json:"tags"`
	Quote  map[string]cmcQuote `json:"quote"`
}

type cmcStatus struct {
	ErrorCode    int     `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
}

type cmcListingsResponse struct {
	Status cmcStatus    `json:"status"`
	Data   []cmcListing `json:"data"`
}

// statusError non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("coinmarketcap returned %d: %s", e.code, e.body)
}

// isRetryable rejects client errors other than rate limiting.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= http.StatusInternalServerError
	}
	return true
}

// Listings returns coins ranked by market cap, largest first.
func (c *CoinMarketCap) Listings(ctx context.Context) ([]domain.CoinMarketRecord, error) {
	if c.apiKey == "" {
		return nil, errors.Wrap(domain.ErrConfiguration, "COINMARKETCAP_API_KEY is not set")
	}

	resp, err := retrier.DoWithData(c.retrier, ctx, c.fetch)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch coinmarketcap listings")
	}

	records := make([]domain.CoinMarketRecord, 0, len(resp.Data))
	for _, listing := range resp.Data {
		quote, ok := listing.Quote[c.currency]
		if !ok {
			c.l.Debug("listing has no quote in purchasing currency", zap.String("symbol", listing.Symbol), zap.String("currency", c.currency))
			records = append(records, domain.NewCoinMarketRecord(listing.Symbol, "", decimal.Zero, 0, 0, listing.Tags...))
			continue
		}

		marketCap := decimal.Zero
		if quote.MarketCap.Valid {
			marketCap = quote.MarketCap.Decimal
		}

		records = append(records, domain.NewCoinMarketRecord(
			listing.Symbol,
			c.currency,
			marketCap,
			valueOr(quote.PercentChange7d),
			valueOr(quote.PercentChange30d),
			listing.Tags...,
		))
	}

	c.l.Info("fetched coinmarketcap listings", zap.Int("count", len(records)), zap.String("currency", c.currency))

	return records, nil
}

func (c *CoinMarketCap) fetch(ctx context.Context) (*cmcListingsResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(cmcListingsLimit))
	query.Set("sort", "market_cap")
	query.Set("convert", c.currency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+cmcListingsPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build coinmarketcap request")
	}
	req.Header.Set(cmcAPIKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, cmcMaxErrorBodySize))
		return nil, &statusError{code: res.StatusCode, body: string(body)}
	}

	var payload cmcListingsResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "decode coinmarketcap listings")
	}
	if payload.Status.ErrorCode != 0 {
		msg := ""
		if payload.Status.ErrorMessage != nil {
			msg = *payload.Status.ErrorMessage
		}
		return nil, errors.Errorf("coinmarketcap error %d: %s", payload.Status.ErrorCode, msg)
	}

	return &payload, nil
}

func valueOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
