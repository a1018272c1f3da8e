package resolver

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/folio/internal/cache"
	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/storage/filekv"
)

// --- fakes ---

type fakeResult struct {
	points []float64
	err    error
}

type fakeProvider struct {
	name      string
	responses map[string]fakeResult
	fallback  *fakeResult
	calls     []string
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, responses: map[string]fakeResult{}}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) FetchSeries(_ context.Context, symbol string, _ models.SeriesParams) (*models.PriceSeries, error) {
	f.calls = append(f.calls, symbol)
	r, ok := f.responses[symbol]
	if !ok && f.fallback != nil {
		r, ok = *f.fallback, true
	}
	if !ok {
		return &models.PriceSeries{Symbol: symbol, Points: []float64{}}, nil
	}
	if r.err != nil {
		return nil, r.err
	}
	return &models.PriceSeries{Symbol: symbol, Source: f.name, Points: r.points}, nil
}

type fakeSearcher struct {
	name    string
	matches []models.SymbolMatch
	err     error
	calls   []string
}

func (f *fakeSearcher) Name() string { return f.name }

func (f *fakeSearcher) Search(_ context.Context, query string) ([]models.SymbolMatch, error) {
	f.calls = append(f.calls, query)
	return f.matches, f.err
}

var errRateLimited = &common.ProviderError{Provider: "fake", StatusCode: 429, RateLimited: true}

// --- harness ---

type harness struct {
	t        *testing.T
	cfg      *common.Config
	clock    *common.ManualClock
	root     string
	resolved *cache.Cache
	svc      *Service
}

func newHarness(t *testing.T, mutate func(cfg *common.Config)) *harness {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Resolver.Jitter = 0
	if mutate != nil {
		mutate(cfg)
	}
	h := &harness{
		t:     t,
		cfg:   cfg,
		clock: common.NewManualClock(time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC)),
		root:  t.TempDir(),
	}
	h.resolved = h.cache("resolved")
	h.svc = NewService(cfg, h.resolved, h.clock, common.NewSilentLogger())
	return h
}

func (h *harness) cache(dir string) *cache.Cache {
	kv, err := filekv.NewStore(common.NewSilentLogger(), filepath.Join(h.root, dir))
	require.NoError(h.t, err)
	return cache.New(kv, h.clock, common.NewSilentLogger())
}

func (h *harness) addProvider(p *fakeProvider) {
	h.svc.RegisterProvider(p, h.cache(p.name))
}

func (h *harness) addSearcher(s *fakeSearcher) {
	h.svc.RegisterSearcher(s, h.cache(s.name+"-search"))
}

// --- tests ---

func TestResolveReturnsFirstNonEmptyCandidate(t *testing.T) {
	h := newHarness(t, func(cfg *common.Config) { cfg.Market.Source = "yahoo" })
	yahoo := newFakeProvider("yahoo")
	yahoo.responses["STM.MI"] = fakeResult{points: []float64{100, 104}}
	h.addProvider(yahoo)

	series, err := h.svc.Resolve(context.Background(), "stm.pa")
	require.NoError(t, err)
	assert.Equal(t, "STM.MI", series.Symbol)
	assert.Equal(t, "STM.PA", series.Requested)
	assert.Equal(t, []float64{100, 104}, series.Points)
	assert.Equal(t, []string{"STM.PA", "STM", "STM.MI"}, yahoo.calls)

	// persisted under both the logical and the resolved identifier
	prices := NewPriceSource(h.resolved)
	for _, key := range []string{"STM.PA", "STM.MI"} {
		cached, ok := prices.Series(context.Background(), key)
		require.True(t, ok, key)
		assert.Equal(t, "STM.MI", cached.Symbol)
	}

	// a second resolution is served from cache
	again, err := h.svc.Resolve(context.Background(), "STM.PA")
	require.NoError(t, err)
	assert.Equal(t, "STM.MI", again.Symbol)
	assert.Len(t, yahoo.calls, 3)
}

func TestResolveMemoizesFailure(t *testing.T) {
	h := newHarness(t, func(cfg *common.Config) { cfg.Market.Source = "yahoo" })
	yahoo := newFakeProvider("yahoo")
	h.addProvider(yahoo)

	series, err := h.svc.Resolve(context.Background(), "XX.PA")
	require.NoError(t, err)
	assert.True(t, series.Empty())
	assert.Equal(t, "XX.PA", series.Symbol)
	assert.Equal(t, []string{"XX.PA", "XX", "XX.MI", "EPA:XX"}, yahoo.calls)

	_, err = h.svc.Resolve(context.Background(), "XX.PA")
	require.NoError(t, err)
	assert.Len(t, yahoo.calls, 4, "memoized failure must not hit the provider")

	// once every TTL has elapsed the chain runs again
	h.clock.Advance(8 * 24 * time.Hour)
	_, err = h.svc.Resolve(context.Background(), "XX.PA")
	require.NoError(t, err)
	assert.Len(t, yahoo.calls, 8)
}

func TestResolveUsesOverrideFirst(t *testing.T) {
	h := newHarness(t, func(cfg *common.Config) {
		cfg.Market.Source = "yahoo"
		cfg.Market.Overrides = map[string]string{"stm.pa": "STMPF"}
	})
	yahoo := newFakeProvider("yahoo")
	yahoo.responses["STMPF"] = fakeResult{points: []float64{100, 99}}
	h.addProvider(yahoo)

	series, err := h.svc.Resolve(context.Background(), "STM.PA")
	require.NoError(t, err)
	assert.Equal(t, "STMPF", series.Symbol)
	assert.Equal(t, "STM.PA", series.Requested)
	assert.Equal(t, []string{"STMPF"}, yahoo.calls)
}

func TestResolveRoutesIndexToIndexSource(t *testing.T) {
	h := newHarness(t, nil)
	yahoo := newFakeProvider("yahoo")
	stooq := newFakeProvider("stooq")
	stooq.responses["^CAC"] = fakeResult{points: []float64{100, 101}}
	h.addProvider(yahoo)
	h.addProvider(stooq)

	series, err := h.svc.Resolve(context.Background(), "^CAC")
	require.NoError(t, err)
	assert.Equal(t, "stooq", series.Source)
	assert.Empty(t, yahoo.calls)
	assert.Equal(t, []string{"^CAC"}, stooq.calls)
}

func TestResolveIndexWithoutDataDoesNotFallBack(t *testing.T) {
	h := newHarness(t, nil)
	yahoo := newFakeProvider("yahoo")
	stooq := newFakeProvider("stooq")
	h.addProvider(yahoo)
	h.addProvider(stooq)

	series, err := h.svc.Resolve(context.Background(), "^FOO")
	require.NoError(t, err)
	assert.True(t, series.Empty())
	assert.Empty(t, yahoo.calls)
	assert.Equal(t, []string{"^FOO"}, stooq.calls)
}

func TestResolveSearchPrefersRegionalListing(t *testing.T) {
	h := newHarness(t, func(cfg *common.Config) { cfg.Market.Source = "alphavantage" })
	av := newFakeProvider("alphavantage")
	av.responses["STM.PAR"] = fakeResult{points: []float64{100, 120}}
	h.addProvider(av)
	search := &fakeSearcher{name: "alphavantage", matches: []models.SymbolMatch{
		{Symbol: "STM", Region: "United States", Currency: "USD"},
		{Symbol: "STM.PAR", Region: "Paris", Currency: "EUR"},
	}}
	h.addSearcher(search)

	series, err := h.svc.Resolve(context.Background(), "STM.PA")
	require.NoError(t, err)
	assert.Equal(t, "STM.PAR", series.Symbol)
	assert.Equal(t, []string{"STM"}, search.calls)
	assert.Equal(t, []string{"STM.PA", "STM", "STM.MI", "STM.PAR"}, av.calls)
	// the search is followed by the quota delay
	assert.Equal(t, []time.Duration{15 * time.Second}, h.clock.Sleeps())
}

func TestPickMatchFallsBackToFirst(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, "AAA", h.svc.pickMatch([]models.SymbolMatch{{Symbol: "AAA", Region: "Japan"}, {Symbol: "BBB"}}))
	assert.Equal(t, "CCC", h.svc.pickMatch([]models.SymbolMatch{{Symbol: "AAA"}, {Symbol: "CCC", Currency: "EUR"}}))
	assert.Equal(t, "", h.svc.pickMatch(nil))
}

func TestResolveBacksOffOnRateLimit(t *testing.T) {
	h := newHarness(t, func(cfg *common.Config) {
		cfg.Market.Source = "yahoo"
		cfg.Resolver.Multiplier = 2
	})
	yahoo := newFakeProvider("yahoo")
	yahoo.responses["MC.PA"] = fakeResult{err: errRateLimited}
	yahoo.responses["MC"] = fakeResult{err: errRateLimited}
	yahoo.responses["MC.MI"] = fakeResult{points: []float64{100, 90}}
	h.addProvider(yahoo)

	series, err := h.svc.Resolve(context.Background(), "MC.PA")
	require.NoError(t, err)
	assert.Equal(t, "MC.MI", series.Symbol)
	assert.Equal(t, []time.Duration{15 * time.Second, 30 * time.Second}, h.clock.Sleeps())
}

func TestResolveRespectsAttemptBudget(t *testing.T) {
	h := newHarness(t, func(cfg *common.Config) {
		cfg.Market.Source = "yahoo"
		cfg.Resolver.MaxAttempts = 2
	})
	yahoo := newFakeProvider("yahoo")
	yahoo.responses["AB.MI"] = fakeResult{points: []float64{100}}
	h.addProvider(yahoo)

	series, err := h.svc.Resolve(context.Background(), "AB.PA")
	require.NoError(t, err)
	assert.True(t, series.Empty())
	assert.Equal(t, []string{"AB.PA", "AB"}, yahoo.calls)
}

func TestResolveHardErrorMovesToNextCandidate(t *testing.T) {
	h := newHarness(t, func(cfg *common.Config) { cfg.Market.Source = "yahoo" })
	yahoo := newFakeProvider("yahoo")
	yahoo.responses["OR.PA"] = fakeResult{err: errors.New("connection reset")}
	yahoo.responses["OR"] = fakeResult{points: []float64{100, 105}}
	h.addProvider(yahoo)

	series, err := h.svc.Resolve(context.Background(), "OR.PA")
	require.NoError(t, err)
	assert.Equal(t, "OR", series.Symbol)
	assert.Empty(t, h.clock.Sleeps())
}

func TestResolveMixedTriesProvidersInOrder(t *testing.T) {
	h := newHarness(t, nil)
	yahoo := newFakeProvider("yahoo")
	eodhd := newFakeProvider("eodhd")
	eodhd.responses["AI.PA"] = fakeResult{points: []float64{100, 102}}
	h.addProvider(eodhd)
	h.addProvider(yahoo)

	series, err := h.svc.Resolve(context.Background(), "AI.PA")
	require.NoError(t, err)
	assert.Equal(t, "eodhd", series.Source)
	assert.Equal(t, []string{"AI.PA"}, yahoo.calls)
	assert.Equal(t, []string{"AI.PA"}, eodhd.calls)
}

func TestOpenBreakerSkipsProvider(t *testing.T) {
	h := newHarness(t, func(cfg *common.Config) { cfg.Resolver.BreakerTrips = 2 })
	yahoo := newFakeProvider("yahoo")
	yahoo.fallback = &fakeResult{err: errors.New("503")}
	eodhd := newFakeProvider("eodhd")
	eodhd.responses["SU.MI"] = fakeResult{points: []float64{100, 101}}
	h.addProvider(yahoo)
	h.addProvider(eodhd)

	series, err := h.svc.Resolve(context.Background(), "SU.PA")
	require.NoError(t, err)
	assert.Equal(t, "SU.MI", series.Symbol)
	assert.Equal(t, []string{"SU.PA", "SU"}, yahoo.calls)
	assert.Equal(t, []string{"SU.PA", "SU", "SU.MI"}, eodhd.calls)
}

func TestResolveHonoursCancellation(t *testing.T) {
	h := newHarness(t, func(cfg *common.Config) { cfg.Market.Source = "yahoo" })
	h.addProvider(newFakeProvider("yahoo"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.svc.Resolve(ctx, "MC.PA")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLatestPrice(t *testing.T) {
	h := newHarness(t, func(cfg *common.Config) { cfg.Market.Source = "yahoo" })
	yahoo := newFakeProvider("yahoo")
	yahoo.responses["MC.PA"] = fakeResult{points: []float64{100, 93.5}}
	h.addProvider(yahoo)

	_, err := h.svc.Resolve(context.Background(), "MC.PA")
	require.NoError(t, err)

	prices := NewPriceSource(h.resolved)
	price, ok := prices.LatestPrice(context.Background(), "mc.pa")
	require.True(t, ok)
	assert.Equal(t, 93.5, price)

	_, ok = prices.LatestPrice(context.Background(), "UNKNOWN")
	assert.False(t, ok)
}

func TestFailedRefreshKeepsLastGoodPrice(t *testing.T) {
	h := newHarness(t, func(cfg *common.Config) {
		cfg.Market.Source = "yahoo"
		cfg.Resolver.BreakerTrips = 100
	})
	yahoo := newFakeProvider("yahoo")
	yahoo.responses["MC.PA"] = fakeResult{points: []float64{100, 93.5}}
	h.addProvider(yahoo)
	ctx := context.Background()
	prices := NewPriceSource(h.resolved)

	_, err := h.svc.Resolve(ctx, "MC.PA")
	require.NoError(t, err)

	// every cached answer has expired and the provider only rate limits
	h.clock.Advance(15 * 24 * time.Hour)
	delete(yahoo.responses, "MC.PA")
	yahoo.fallback = &fakeResult{err: errRateLimited}

	series, err := h.svc.Resolve(ctx, "MC.PA")
	require.NoError(t, err)
	assert.True(t, series.Empty())

	price, ok := prices.LatestPrice(ctx, "MC.PA")
	require.True(t, ok)
	assert.Equal(t, 93.5, price)

	// the failure is still memoized
	calls := len(yahoo.calls)
	series, err = h.svc.Resolve(ctx, "MC.PA")
	require.NoError(t, err)
	assert.True(t, series.Empty())
	assert.Len(t, yahoo.calls, calls)

	// a later success replaces the memo
	h.clock.Advance(15 * 24 * time.Hour)
	yahoo.fallback = nil
	yahoo.responses["MC.PA"] = fakeResult{points: []float64{100, 95}}
	series, err = h.svc.Resolve(ctx, "MC.PA")
	require.NoError(t, err)
	assert.False(t, series.Empty())

	price, ok = prices.LatestPrice(ctx, "MC.PA")
	require.True(t, ok)
	assert.Equal(t, 95.0, price)
}

func TestBackoffPolicyDelay(t *testing.T) {
	p := BackoffPolicy{BaseDelay: 10 * time.Second, MaxDelay: 25 * time.Second, Multiplier: 2}
	assert.Equal(t, 10*time.Second, p.Delay(0))
	assert.Equal(t, 20*time.Second, p.Delay(1))
	assert.Equal(t, 25*time.Second, p.Delay(2))

	p.Jitter = 0.5
	p.rand = func() float64 { return 1 }
	assert.Equal(t, 15*time.Second, p.Delay(0))
}

func TestNewBackoffPolicyDefaults(t *testing.T) {
	p := NewBackoffPolicy(&common.ResolverConfig{MinDelay: "1s", MaxDelay: "bad"})
	assert.Equal(t, 8, p.MaxAttempts)
	assert.Equal(t, 1.0, p.Multiplier)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 2*time.Minute, p.MaxDelay)
}
