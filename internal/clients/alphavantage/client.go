// Package alphavantage provides a client for the Alpha Vantage query API
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
)

const (
	Name             = "alphavantage"
	DefaultBaseURL   = "https://www.alphavantage.co"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 0.08 // five calls per minute on the free tier
)

// Client implements interfaces.SeriesProvider and interfaces.SymbolSearcher
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
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
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new Alpha Vantage client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		logger:     common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider key
func (c *Client) Name() string { return Name }

type dailyBar struct {
	Close    string `json:"4. close"`
	AdjClose string `json:"5. adjusted close"`
}

type dailyResponse struct {
	Note         string              `json:"Note"`
	Information  string              `json:"Information"`
	ErrorMessage string              `json:"Error Message"`
	Series       map[string]dailyBar `json:"Time Series (Daily)"`
}

// FetchSeries calls TIME_SERIES_DAILY_ADJUSTED. An "Error Message" body (unknown
// symbol) is "no data"; a "Note" or "Information" body is a quota refusal.
func (c *Client) FetchSeries(ctx context.Context, symbol string, params models.SeriesParams) (*models.PriceSeries, error) {
	outputSize := params.OutputSize
	if outputSize == "" {
		outputSize = "compact"
	}
	q := url.Values{}
	q.Set("function", "TIME_SERIES_DAILY_ADJUSTED")
	q.Set("symbol", symbol)
	q.Set("outputsize", outputSize)

	var resp dailyResponse
	if err := c.query(ctx, q, &resp); err != nil {
		return nil, err
	}
	if err := quotaError(resp.Note, resp.Information); err != nil {
		return nil, err
	}

	dates := make([]string, 0, len(resp.Series))
	for d := range resp.Series {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	closes := make([]float64, 0, len(dates))
	for _, d := range dates {
		bar := resp.Series[d]
		raw := bar.AdjClose
		if raw == "" {
			raw = bar.Close
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			closes = append(closes, v)
		}
	}

	if resp.ErrorMessage != "" {
		c.logger.Debug().Str("symbol", symbol).Str("message", resp.ErrorMessage).Msg("Alpha Vantage has no data")
	}
	return &models.PriceSeries{Symbol: symbol, Source: Name, Points: models.Rebase(closes)}, nil
}

type searchResponse struct {
	Note        string              `json:"Note"`
	Information string              `json:"Information"`
	BestMatches []map[string]string `json:"bestMatches"`
}

// Search calls SYMBOL_SEARCH for keywords.
func (c *Client) Search(ctx context.Context, keywords string) ([]models.SymbolMatch, error) {
	q := url.Values{}
	q.Set("function", "SYMBOL_SEARCH")
	q.Set("keywords", keywords)

	var resp searchResponse
	if err := c.query(ctx, q, &resp); err != nil {
		return nil, err
	}
	if err := quotaError(resp.Note, resp.Information); err != nil {
		return nil, err
	}

	matches := make([]models.SymbolMatch, 0, len(resp.BestMatches))
	for _, m := range resp.BestMatches {
		if m["1. symbol"] == "" {
			continue
		}
		matches = append(matches, models.SymbolMatch{
			Symbol:   m["1. symbol"],
			Name:     m["2. name"],
			Region:   m["4. region"],
			Currency: m["8. currency"],
		})
	}
	return matches, nil
}

func quotaError(note, information string) error {
	msg := note
	if msg == "" {
		msg = information
	}
	if msg == "" {
		return nil
	}
	return &common.ProviderError{
		Provider:    Name,
		StatusCode:  http.StatusOK,
		Message:     msg,
		Endpoint:    "/query",
		RateLimited: true,
	}
}

// query performs a rate-limited GET on /query
func (c *Client) query(ctx context.Context, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/query?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("function", params.Get("function")).Msg("Alpha Vantage API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &common.ProviderError{
			Provider:    Name,
			StatusCode:  resp.StatusCode,
			Message:     string(body),
			Endpoint:    "/query",
			RateLimited: resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
