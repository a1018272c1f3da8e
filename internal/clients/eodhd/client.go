// Package eodhd provides a client for the EODHD API
package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "N/A" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

const (
	Name             = "eodhd"
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
)

// Client implements interfaces.SeriesProvider and interfaces.SymbolSearcher
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	now        func() time.Time
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit in requests per second. Zero disables pacing.
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithClock sets the time source used to turn a range ("10y") into a from date
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new EODHD client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the provider key
func (c *Client) Name() string { return Name }

// get performs a rate-limited GET request. found is false on 404.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("EODHD API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, &common.ProviderError{
			Provider:    Name,
			StatusCode:  resp.StatusCode,
			Message:     string(body),
			Endpoint:    path,
			RateLimited: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusPaymentRequired,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}

// eodBarResponse represents the API response for EOD data
type eodBarResponse struct {
	Date          string      `json:"date"`
	Close         flexFloat64 `json:"close"`
	AdjustedClose flexFloat64 `json:"adjusted_close"`
}

// FetchSeries retrieves daily end-of-day bars in ascending order and rebases the
// adjusted close (close when no adjusted value is reported).
func (c *Client) FetchSeries(ctx context.Context, ticker string, params models.SeriesParams) (*models.PriceSeries, error) {
	urlParams := url.Values{}
	urlParams.Set("period", "d")
	urlParams.Set("order", "a")
	if from, ok := rangeStart(c.now(), params.Range); ok {
		urlParams.Set("from", from.Format("2006-01-02"))
	}

	path := fmt.Sprintf("/eod/%s", url.PathEscape(ticker))

	var bars []eodBarResponse
	found, err := c.get(ctx, path, urlParams, &bars)
	if err != nil {
		return nil, err
	}
	series := &models.PriceSeries{Symbol: ticker, Source: Name, Points: []float64{}}
	if !found {
		return series, nil
	}

	closes := make([]float64, 0, len(bars))
	for _, bar := range bars {
		v := float64(bar.AdjustedClose)
		if v == 0 {
			v = float64(bar.Close)
		}
		if v > 0 {
			closes = append(closes, v)
		}
	}
	series.Points = models.Rebase(closes)
	return series, nil
}

// searchResult matches a single item of the EODHD search response.
type searchResult struct {
	Code     string `json:"Code"`
	Exchange string `json:"Exchange"`
	Name     string `json:"Name"`
	Type     string `json:"Type"`
	Country  string `json:"Country"`
	Currency string `json:"Currency"`
}

// Search looks up listings by ticker, name or ISIN. Symbols are returned as CODE.EXCHANGE.
func (c *Client) Search(ctx context.Context, query string) ([]models.SymbolMatch, error) {
	var results []searchResult
	found, err := c.get(ctx, "/search/"+url.PathEscape(query), nil, &results)
	if err != nil || !found {
		return nil, err
	}

	matches := make([]models.SymbolMatch, 0, len(results))
	for _, r := range results {
		if r.Code == "" {
			continue
		}
		symbol := r.Code
		if r.Exchange != "" {
			symbol = r.Code + "." + r.Exchange
		}
		matches = append(matches, models.SymbolMatch{
			Symbol:   symbol,
			Name:     r.Name,
			Region:   r.Country,
			Currency: r.Currency,
			Exchange: r.Exchange,
		})
	}
	return matches, nil
}

// rangeStart converts a chart range such as "10y", "6mo", "30d" or "2w" into a start date.
// "max" and unparsable ranges mean no lower bound.
func rangeStart(now time.Time, r string) (time.Time, bool) {
	r = strings.ToLower(strings.TrimSpace(r))
	if r == "" || r == "max" {
		return time.Time{}, false
	}
	units := []struct {
		suffix string
		apply  func(n int) time.Time
	}{
		{"mo", func(n int) time.Time { return now.AddDate(0, -n, 0) }},
		{"y", func(n int) time.Time { return now.AddDate(-n, 0, 0) }},
		{"w", func(n int) time.Time { return now.AddDate(0, 0, -7*n) }},
		{"d", func(n int) time.Time { return now.AddDate(0, 0, -n) }},
	}
	for _, u := range units {
		if !strings.HasSuffix(r, u.suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(r, u.suffix))
		if err != nil || n <= 0 {
			return time.Time{}, false
		}
		return u.apply(n), true
	}
	return time.Time{}, false
}
