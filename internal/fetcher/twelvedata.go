package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultTwelveDataURL = "https://api.twelvedata.com/price"
	maxErrorMessage      = 200
)

// ExternalAPIError reports a non-success answer from the quote endpoint.
type ExternalAPIError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *ExternalAPIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("quote api error (%d) for %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("quote api error (%d) for %s", e.StatusCode, e.URL)
}

// TwelveDataOptions parameterise the TwelveData price fetcher.
type TwelveDataOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// TwelveData fetches spot prices from the TwelveData /price endpoint.
type TwelveData struct {
	opts    TwelveDataOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewTwelveData constructs a price fetcher.
func NewTwelveData(opts TwelveDataOptions, logger zerolog.Logger) *TwelveData {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultTwelveDataURL
	}

	return &TwelveData{
		opts:    opts,
		logger:  logger.With().Str("component", "quote_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchPrice retrieves the latest price for symbol, e.g. "XAU/USD".
func (t *TwelveData) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if strings.TrimSpace(symbol) == "" {
		return decimal.Decimal{}, errors.New("symbol required")
	}
	if t.opts.APIKey == "" {
		return decimal.Decimal{}, errors.New("quote api key not configured")
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("apikey", t.opts.APIKey)
	endpoint := t.baseURL + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(t.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "bullionpipe/1.0")
	}

	t.logger.Debug().Str("symbol", symbol).Msg("requesting price")

	resp, err := t.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("request %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, &ExternalAPIError{
			StatusCode: resp.StatusCode,
			URL:        t.redact(symbol),
			Message:    errorMessage(payload),
		}
	}

	var res priceResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode price response: %w", err)
	}

	// TwelveData reports plan/symbol errors with HTTP 200 and an error envelope.
	if strings.EqualFold(res.Status, "error") {
		code := res.Code
		if code == 0 {
			code = resp.StatusCode
		}
		return decimal.Decimal{}, &ExternalAPIError{StatusCode: code, URL: t.redact(symbol), Message: res.Message}
	}

	if res.Price == "" {
		return decimal.Decimal{}, fmt.Errorf("price missing in response for %s", symbol)
	}

	price, err := decimal.NewFromString(res.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price: %w", err)
	}

	return price, nil
}

// redact rebuilds the request URL without the api key for errors and logs.
func (t *TwelveData) redact(symbol string) string {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("apikey", "REDACTED")
	return t.baseURL + "?" + query.Encode()
}

type priceResponse struct {
	Price   string `json:"price"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func errorMessage(payload []byte) string {
	var res priceResponse
	if err := json.Unmarshal(payload, &res); err == nil && res.Message != "" {
		return res.Message
	}
	msg := strings.TrimSpace(string(payload))
	if len(msg) <= maxErrorMessage {
		return msg
	}
	// 按 rune 边界截断，避免切开多字节字符
	cut := maxErrorMessage
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

var _ PriceFetcher = (*TwelveData)(nil)
