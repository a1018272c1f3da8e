// Package stooq provides a client for Stooq daily CSV quotes. Folio uses it for
// index symbols (the ^ prefix), which the other providers do not serve reliably.
package stooq

import (
	"bytes"
	"context"
	"encoding/csv"
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

const (
	Name             = "stooq"
	DefaultBaseURL   = "https://stooq.com"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 1 // requests per second

	closeColumn = 4
)

// Client implements interfaces.SeriesProvider for Stooq
type Client struct {
	baseURL    string
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

// NewClient creates a new Stooq client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
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

// FetchSeries downloads the daily CSV for symbol and rebases the close column.
func (c *Client) FetchSeries(ctx context.Context, symbol string, params models.SeriesParams) (*models.PriceSeries, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	interval := params.Interval
	if interval == "" || interval == "1d" {
		interval = "d"
	}
	q := url.Values{}
	q.Set("s", strings.ToLower(symbol))
	q.Set("i", interval)
	path := "/q/d/l/"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("symbol", symbol).Msg("Stooq CSV request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &common.ProviderError{
			Provider:    Name,
			StatusCode:  resp.StatusCode,
			Message:     truncate(string(body)),
			Endpoint:    path,
			RateLimited: resp.StatusCode == http.StatusTooManyRequests,
		}
	}
	if bytes.Contains(bytes.ToLower(body), []byte("exceeded the daily hits limit")) {
		return nil, &common.ProviderError{
			Provider: Name, StatusCode: resp.StatusCode, Message: truncate(string(body)),
			Endpoint: path, RateLimited: true,
		}
	}

	closes := parseCloses(body)
	return &models.PriceSeries{Symbol: symbol, Source: Name, Points: models.Rebase(closes)}, nil
}

// parseCloses reads the close column of every data row, skipping the header and any
// row whose close is not a number ("No data" bodies yield nothing).
func parseCloses(body []byte) []float64 {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	var closes []float64
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if first {
			first = false
			continue
		}
		if len(rec) <= closeColumn {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[closeColumn]), 64)
		if err != nil {
			continue
		}
		closes = append(closes, v)
	}
	return closes
}

func truncate(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
