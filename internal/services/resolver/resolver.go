// Package resolver turns logical symbols into price series by walking a chain of
// alternative identifiers across several unreliable providers.
package resolver

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bobmcallan/folio/internal/cache"
	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/metrics"
	"github.com/bobmcallan/folio/internal/models"
)

// Cache namespaces.
const (
	NamespaceSeries = "series"
	NamespaceSearch = "search"
	// NamespaceFailed memoizes exhausted chains apart from the last good series,
	// which the ledger keeps pricing from.
	NamespaceFailed = "failed"
)

// SourceMixed tries every registered equity provider per candidate.
const SourceMixed = "mixed"

// mixedOrder is the provider preference of the mixed source.
var mixedOrder = []string{"yahoo", "eodhd", "alphavantage"}

const indexProvider = "stooq"

var suffixPattern = regexp.MustCompile(`\.[A-Z]{1,4}$`)

type providerEntry struct {
	provider interfaces.SeriesProvider
	cache    *cache.Cache
	ttl      time.Duration
	params   models.SeriesParams
	breaker  *gobreaker.CircuitBreaker
}

type searcherEntry struct {
	searcher interfaces.SymbolSearcher
	cache    *cache.Cache
	ttl      time.Duration
}

// Service implements interfaces.SeriesResolver
type Service struct {
	config     *common.Config
	logger     *common.Logger
	clock      common.Clock
	policy     BackoffPolicy
	resolved   *cache.Cache
	failureTTL time.Duration
	regionRe   *regexp.Regexp
	currencyRe *regexp.Regexp

	providers map[string]*providerEntry
	searchers map[string]*searcherEntry
}

var _ interfaces.SeriesResolver = (*Service)(nil)

// NewService creates a resolver. resolved caches final answers by logical symbol and
// is what the ledger prices from.
func NewService(config *common.Config, resolved *cache.Cache, clock common.Clock, logger *common.Logger) *Service {
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Service{
		config:     config,
		logger:     logger,
		clock:      clock,
		policy:     NewBackoffPolicy(&config.Resolver),
		resolved:   resolved,
		failureTTL: config.Resolver.GetFailureTTL(),
		regionRe:   compileOrNil(config.Market.SearchRegion, logger),
		currencyRe: compileOrNil(config.Market.SearchCurrency, logger),
		providers:  make(map[string]*providerEntry),
		searchers:  make(map[string]*searcherEntry),
	}
}

// SetBackoffPolicy replaces the policy derived from configuration.
func (s *Service) SetBackoffPolicy(p BackoffPolicy) {
	s.policy = p
}

// RegisterProvider adds a series provider with its own cache. TTL and request
// parameters come from the provider's configuration section.
func (s *Service) RegisterProvider(p interfaces.SeriesProvider, c *cache.Cache) {
	pc := s.providerConfig(p.Name())
	s.providers[p.Name()] = &providerEntry{
		provider: p,
		cache:    c,
		ttl:      pc.GetTTL(),
		params: models.SeriesParams{
			Range:      pc.Range,
			Interval:   pc.Interval,
			OutputSize: pc.OutputSize,
		},
		breaker: newProviderBreaker(p.Name(), s.config.Resolver.BreakerTrips, s.config.Resolver.GetBreakerCooloff(), s.logger),
	}
}

// RegisterSearcher adds a symbol search backend with its own cache.
func (s *Service) RegisterSearcher(ss interfaces.SymbolSearcher, c *cache.Cache) {
	pc := s.providerConfig(ss.Name())
	s.searchers[ss.Name()] = &searcherEntry{searcher: ss, cache: c, ttl: pc.GetTTL()}
}

// attempt tracks the shared budget of one resolution.
type attempt struct {
	logical    string
	used       int
	rateLimits int
	tried      map[string]bool
}

func (a *attempt) exhausted(max int) bool { return a.used >= max }

// Resolve returns the series for symbol. It never fails for lack of data: an
// exhausted chain yields an empty series tagged with the requested symbol, and that
// failure is memoized. The only error is context cancellation.
func (s *Service) Resolve(ctx context.Context, symbol string) (*models.PriceSeries, error) {
	logical := normalize(symbol)
	if logical == "" {
		return &models.PriceSeries{Points: []float64{}}, nil
	}

	if cached, ok := s.cachedResolution(ctx, logical); ok {
		metrics.ResolutionsTotal.WithLabelValues("cached").Inc()
		return cached, nil
	}

	start := logical
	if pinned, ok := s.override(logical); ok {
		s.logger.Debug().Str("symbol", logical).Str("override", pinned).Msg("Using pinned symbol")
		start = pinned
	}

	a := &attempt{logical: logical, tried: make(map[string]bool)}
	series, err := s.walk(ctx, start, a)
	if err != nil {
		return nil, err
	}

	if series.Empty() {
		failed := &models.PriceSeries{Symbol: logical, Requested: logical, Points: []float64{}, FetchedAt: s.clock.Now().UTC()}
		s.resolved.Put(ctx, NamespaceFailed, logical, failed)
		metrics.ResolutionsTotal.WithLabelValues("failed").Inc()
		s.logger.Warn().Str("symbol", logical).Int("attempts", a.used).Msg("No series found for symbol")
		return failed, nil
	}

	series.Requested = logical
	series.FetchedAt = s.clock.Now().UTC()
	s.resolved.Put(ctx, NamespaceSeries, logical, series)
	s.resolved.Invalidate(ctx, NamespaceFailed, logical)
	if series.Symbol != logical {
		s.resolved.Put(ctx, NamespaceSeries, series.Symbol, series)
		s.logger.Info().Str("symbol", logical).Str("used", series.Symbol).Str("source", series.Source).
			Msg("Symbol resolved through fallback")
	}
	metrics.ResolutionsTotal.WithLabelValues("resolved").Inc()
	return series, nil
}

// walk runs the candidate chain starting from sym.
func (s *Service) walk(ctx context.Context, sym string, a *attempt) (*models.PriceSeries, error) {
	if strings.HasPrefix(sym, "^") {
		entry, ok := s.providers[indexProvider]
		if !ok {
			s.logger.Warn().Str("symbol", sym).Msg("No index provider registered")
			return &models.PriceSeries{}, nil
		}
		return s.tryCandidate(ctx, sym, []*providerEntry{entry}, a)
	}

	chain := s.equityProviders()
	if len(chain) == 0 {
		s.logger.Warn().Str("source", s.config.Market.Source).Msg("No provider registered for source")
		return &models.PriceSeries{}, nil
	}

	bare := stripSuffix(sym)
	candidates := []string{sym, bare}
	for _, suffix := range s.config.Market.ExchangeSuffixes {
		candidates = append(candidates, bare+strings.ToUpper(suffix))
	}

	for _, cand := range candidates {
		series, err := s.tryCandidate(ctx, cand, chain, a)
		if err != nil || !series.Empty() {
			return series, err
		}
		if a.exhausted(s.policy.MaxAttempts) {
			return series, nil
		}
	}

	for _, name := range s.searchOrder() {
		pick, err := s.search(ctx, s.searchers[name], bare, a)
		if err != nil {
			return nil, err
		}
		if pick == "" {
			continue
		}
		series, err := s.tryCandidate(ctx, pick, chain, a)
		if err != nil || !series.Empty() {
			return series, err
		}
		if a.exhausted(s.policy.MaxAttempts) {
			return series, nil
		}
	}

	if prefix := s.config.Market.AliasPrefix; prefix != "" {
		return s.tryCandidate(ctx, prefix+":"+bare, chain, a)
	}
	return &models.PriceSeries{}, nil
}

// tryCandidate asks each provider in chain for cand until one returns data.
func (s *Service) tryCandidate(ctx context.Context, cand string, chain []*providerEntry, a *attempt) (*models.PriceSeries, error) {
	if a.tried[cand] {
		return &models.PriceSeries{}, nil
	}
	a.tried[cand] = true

	for _, entry := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.provider.Name()
		key := seriesKey(cand, entry.params)

		var cached models.PriceSeries
		if entry.cache.Get(ctx, NamespaceSeries, key, entry.ttl, &cached) {
			metrics.ProviderRequestsTotal.WithLabelValues(name, "cached").Inc()
			if !cached.Empty() {
				return &cached, nil
			}
			continue
		}

		if a.exhausted(s.policy.MaxAttempts) {
			return &models.PriceSeries{}, nil
		}

		if entry.breaker.State() == gobreaker.StateOpen {
			metrics.ProviderRequestsTotal.WithLabelValues(name, "breaker_open").Inc()
			continue
		}

		a.used++
		series, err := s.fetch(ctx, entry, cand)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.ProviderRequestsTotal.WithLabelValues(name, "breaker_open").Inc()
			continue
		case common.IsRateLimited(err):
			metrics.ProviderRequestsTotal.WithLabelValues(name, "rate_limited").Inc()
			if err := s.backoff(ctx, a, name, cand); err != nil {
				return nil, err
			}
			continue
		default:
			metrics.ProviderRequestsTotal.WithLabelValues(name, "error").Inc()
			s.logger.Warn().Err(err).Str("provider", name).Str("candidate", cand).Msg("Provider call failed")
			continue
		}

		entry.cache.Put(ctx, NamespaceSeries, key, series)
		if series.Empty() {
			metrics.ProviderRequestsTotal.WithLabelValues(name, "empty").Inc()
			s.logger.Debug().Str("provider", name).Str("candidate", cand).Msg("Provider returned no data")
			continue
		}
		metrics.ProviderRequestsTotal.WithLabelValues(name, "data").Inc()
		return series, nil
	}
	return &models.PriceSeries{}, nil
}

func (s *Service) fetch(ctx context.Context, entry *providerEntry, cand string) (*models.PriceSeries, error) {
	out, err := entry.breaker.Execute(func() (interface{}, error) {
		return entry.provider.FetchSeries(ctx, cand, entry.params)
	})
	if err != nil {
		return nil, err
	}
	series, _ := out.(*models.PriceSeries)
	if series == nil {
		series = &models.PriceSeries{}
	}
	if series.Points == nil {
		series.Points = []float64{}
	}
	series.Symbol = cand
	if series.Source == "" {
		series.Source = entry.provider.Name()
	}
	return series, nil
}

// search returns the best listing for query from one search backend, or "" when
// nothing usable was found. Results, including empty ones, are cached.
func (s *Service) search(ctx context.Context, entry *searcherEntry, query string, a *attempt) (string, error) {
	name := entry.searcher.Name()
	var matches []models.SymbolMatch
	if !entry.cache.Get(ctx, NamespaceSearch, query, entry.ttl, &matches) {
		if a.exhausted(s.policy.MaxAttempts) {
			return "", nil
		}
		a.used++
		found, err := entry.searcher.Search(ctx, query)
		switch {
		case err == nil:
			matches = found
			entry.cache.Put(ctx, NamespaceSearch, query, matches)
		case ctx.Err() != nil:
			return "", ctx.Err()
		case common.IsRateLimited(err):
			metrics.ProviderRequestsTotal.WithLabelValues(name, "rate_limited").Inc()
			if err := s.backoff(ctx, a, name, query); err != nil {
				return "", err
			}
			return "", nil
		default:
			metrics.ProviderRequestsTotal.WithLabelValues(name, "error").Inc()
			s.logger.Warn().Err(err).Str("provider", name).Str("query", query).Msg("Symbol search failed")
			return "", nil
		}
		// keep the next call under the search quota
		if err := s.clock.Sleep(ctx, s.policy.BaseDelay); err != nil {
			return "", err
		}
	}
	pick := s.pickMatch(matches)
	if pick != "" {
		s.logger.Debug().Str("query", query).Str("pick", pick).Str("provider", name).Msg("Search candidate selected")
	}
	return pick, nil
}

// pickMatch prefers the first listing whose region or currency matches the
// configured heuristics, falling back to the first listing.
func (s *Service) pickMatch(matches []models.SymbolMatch) string {
	for _, m := range matches {
		if (s.regionRe != nil && s.regionRe.MatchString(m.Region)) ||
			(s.currencyRe != nil && s.currencyRe.MatchString(m.Currency)) {
			return m.Symbol
		}
	}
	if len(matches) > 0 {
		return matches[0].Symbol
	}
	return ""
}

func (s *Service) backoff(ctx context.Context, a *attempt, provider, cand string) error {
	d := s.policy.Delay(a.rateLimits)
	a.rateLimits++
	s.logger.Warn().Str("provider", provider).Str("candidate", cand).Dur("delay", d).
		Msg("Rate limited, backing off")
	metrics.RateLimitSleepSeconds.Add(d.Seconds())
	return s.clock.Sleep(ctx, d)
}

// cachedResolution returns a fresh answer for logical. Memoized failures use the
// failure TTL when one is configured.
func (s *Service) cachedResolution(ctx context.Context, logical string) (*models.PriceSeries, bool) {
	ttl := s.resolvedTTL(logical)

	var series models.PriceSeries
	if s.resolved.Get(ctx, NamespaceSeries, logical, ttl, &series) && !series.Empty() {
		return &series, true
	}

	failureTTL := ttl
	if s.failureTTL > 0 {
		failureTTL = s.failureTTL
	}
	var failed models.PriceSeries
	if !s.resolved.Get(ctx, NamespaceFailed, logical, failureTTL, &failed) {
		return nil, false
	}
	if failed.Points == nil {
		failed.Points = []float64{}
	}
	return &failed, true
}

func (s *Service) resolvedTTL(logical string) time.Duration {
	if strings.HasPrefix(logical, "^") {
		return s.config.Providers.Stooq.GetTTL()
	}
	chain := s.equityProviders()
	if len(chain) == 0 {
		return s.config.Providers.Yahoo.GetTTL()
	}
	return chain[0].ttl
}

func (s *Service) override(logical string) (string, bool) {
	for k, v := range s.config.Market.Overrides {
		if normalize(k) == logical && strings.TrimSpace(v) != "" {
			return normalize(v), true
		}
	}
	return "", false
}

// equityProviders returns the providers used for non-index symbols, in order.
func (s *Service) equityProviders() []*providerEntry {
	source := strings.ToLower(s.config.Market.Source)
	if source == "" || source == SourceMixed {
		var chain []*providerEntry
		for _, name := range mixedOrder {
			if e, ok := s.providers[name]; ok {
				chain = append(chain, e)
			}
		}
		return chain
	}
	if e, ok := s.providers[source]; ok {
		return []*providerEntry{e}
	}
	return nil
}

// searchOrder lists the search backends usable with the configured source.
func (s *Service) searchOrder() []string {
	source := strings.ToLower(s.config.Market.Source)
	var names []string
	for _, name := range mixedOrder {
		if _, ok := s.searchers[name]; !ok {
			continue
		}
		if source != "" && source != SourceMixed && source != name {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (s *Service) providerConfig(name string) *common.ProviderConfig {
	switch name {
	case "yahoo":
		return &s.config.Providers.Yahoo
	case "eodhd":
		return &s.config.Providers.EODHD
	case "alphavantage":
		return &s.config.Providers.AlphaVantage
	case "stooq":
		return &s.config.Providers.Stooq
	default:
		return &common.ProviderConfig{}
	}
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func stripSuffix(symbol string) string {
	return suffixPattern.ReplaceAllString(symbol, "")
}

func seriesKey(symbol string, p models.SeriesParams) string {
	key := symbol
	for _, part := range []string{p.Range, p.Interval, p.OutputSize} {
		if part != "" {
			key += "_" + part
		}
	}
	return key
}

func compileOrNil(expr string, logger *common.Logger) *regexp.Regexp {
	if expr == "" {
		return nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		logger.Warn().Err(err).Str("pattern", expr).Msg("Ignoring invalid search heuristic")
		return nil
	}
	return re
}
