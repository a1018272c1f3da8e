package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/folio/internal/cache"
	"github.com/bobmcallan/folio/internal/clients/alphavantage"
	"github.com/bobmcallan/folio/internal/clients/eodhd"
	"github.com/bobmcallan/folio/internal/clients/stooq"
	"github.com/bobmcallan/folio/internal/clients/yahoo"
	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/allocation"
	"github.com/bobmcallan/folio/internal/services/analytics"
	"github.com/bobmcallan/folio/internal/services/artifacts"
	"github.com/bobmcallan/folio/internal/services/cycle"
	"github.com/bobmcallan/folio/internal/services/ledger"
	"github.com/bobmcallan/folio/internal/services/resolver"
	"github.com/bobmcallan/folio/internal/services/risk"
	"github.com/bobmcallan/folio/internal/storage"
	"github.com/bobmcallan/folio/internal/storage/filekv"
)

// LockFile is the run lock, relative to the data directory.
const LockFile = ".run.lock"

// ResolvedCacheDir holds final resolutions by logical symbol, relative to the data directory.
var ResolvedCacheDir = filepath.Join("_cache", "resolved")

// App holds all initialized stores, clients and services.
// It is the shared core behind every cmd/folio subcommand.
type App struct {
	Config      *common.Config
	ConfigPath  string
	Logger      *common.Logger
	Clock       common.Clock
	Data        *filekv.Store
	LedgerStore interfaces.LedgerStore
	Resolver    *resolver.Service
	Prices      *resolver.PriceSource
	Ledger      *ledger.Service
	Artifacts   *artifacts.Store
	Cycle       *cycle.Service
	StartupTime time.Time

	cacheStores []*filekv.Store

	mu        sync.Mutex
	scheduler *cron.Cron
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// ResolveConfigPath picks the configuration file: the given path, FOLIO_CONFIG,
// folio.toml next to the binary, then config/folio.toml.
func ResolveConfigPath(configPath string) string {
	if configPath == "" {
		configPath = os.Getenv("FOLIO_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(getBinaryDir(), "folio.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = filepath.Join("config", "folio.toml") // development layout
		}
	}
	return configPath
}

// NewApp loads and validates the configuration, then wires every component.
// configPath may be empty, in which case ResolveConfigPath decides.
func NewApp(configPath string) (*App, error) {
	configPath = ResolveConfigPath(configPath)
	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := common.NewLoggerFromConfig(config.Logging)
	return NewAppWithConfig(config, configPath, nil, logger)
}

// NewAppWithConfig wires the application around an already loaded configuration.
// A nil clock means the system clock.
func NewAppWithConfig(config *common.Config, configPath string, clock common.Clock, logger *common.Logger) (*App, error) {
	startupStart := time.Now()
	if clock == nil {
		clock = common.SystemClock{}
	}

	a := &App{
		Config:      config,
		ConfigPath:  configPath,
		Logger:      logger,
		Clock:       clock,
		StartupTime: startupStart,
	}

	data, err := filekv.NewStore(logger, config.DataPath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize data directory: %w", err)
	}
	a.Data = data
	a.Artifacts = artifacts.NewStore(data, logger)

	if _, err := checkSchemaVersion(context.Background(), data, config, logger); err != nil {
		return nil, err
	}

	resolvedKV, err := a.openCacheStore(ResolvedCacheDir)
	if err != nil {
		return nil, err
	}
	resolved := cache.New(resolvedKV, clock, logger)
	a.Resolver = resolver.NewService(config, resolved, clock, logger)
	if err := a.registerProviders(); err != nil {
		a.Close()
		return nil, err
	}
	a.Prices = resolver.NewPriceSource(resolved)

	ledgerStore, err := storage.NewLedgerStore(logger, config)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize ledger storage: %w", err)
	}
	a.LedgerStore = ledgerStore
	a.Ledger = ledger.NewService(ledgerStore, a.Prices, config.Market.Benchmark, logger)

	a.Cycle = cycle.NewService(config, configPath, cycle.Deps{
		Resolver:  a.Resolver,
		Analyzer:  analytics.NewService(a.Resolver, config.Scoring, clock, logger),
		Engine:    allocation.NewEngine(config, logger),
		Risk:      risk.NewEvaluator(config.Constraints, logger),
		Ledger:    a.Ledger,
		Artifacts: a.Artifacts,
		Clock:     clock,
	}, logger)

	logger.Info().
		Str("data", config.DataPath()).
		Str("source", config.Market.Source).
		Str("ledger", config.Ledger.Backend).
		Int("sectors", len(config.Sectors)).
		Dur("elapsed", time.Since(startupStart)).
		Msg("Application initialized")

	return a, nil
}

// registerProviders builds a client and its cache for every enabled provider.
// Providers needing a key are skipped with a warning when none is configured.
func (a *App) registerProviders() error {
	p := a.Config.Providers
	logger := a.Logger

	if p.Yahoo.Enabled {
		c, err := a.providerCache(&p.Yahoo)
		if err != nil {
			return err
		}
		a.Resolver.RegisterProvider(yahoo.NewClient(
			yahoo.WithBaseURL(p.Yahoo.BaseURL),
			yahoo.WithLogger(logger),
			yahoo.WithRateLimit(p.Yahoo.RateLimit),
			yahoo.WithTimeout(p.Yahoo.GetTimeout()),
		), c)
	}

	if p.Stooq.Enabled {
		c, err := a.providerCache(&p.Stooq)
		if err != nil {
			return err
		}
		a.Resolver.RegisterProvider(stooq.NewClient(
			stooq.WithBaseURL(p.Stooq.BaseURL),
			stooq.WithLogger(logger),
			stooq.WithRateLimit(p.Stooq.RateLimit),
			stooq.WithTimeout(p.Stooq.GetTimeout()),
		), c)
	}

	if p.EODHD.Enabled {
		if p.EODHD.APIKey == "" {
			logger.Warn().Msg("EODHD API key not configured - provider disabled")
		} else {
			c, err := a.providerCache(&p.EODHD)
			if err != nil {
				return err
			}
			client := eodhd.NewClient(p.EODHD.APIKey,
				eodhd.WithBaseURL(p.EODHD.BaseURL),
				eodhd.WithLogger(logger),
				eodhd.WithRateLimit(p.EODHD.RateLimit),
				eodhd.WithTimeout(p.EODHD.GetTimeout()),
				eodhd.WithClock(a.Clock.Now),
			)
			a.Resolver.RegisterProvider(client, c)
			a.Resolver.RegisterSearcher(client, c)
		}
	}

	if p.AlphaVantage.Enabled {
		if p.AlphaVantage.APIKey == "" {
			logger.Warn().Msg("Alpha Vantage API key not configured - provider disabled")
		} else {
			c, err := a.providerCache(&p.AlphaVantage)
			if err != nil {
				return err
			}
			client := alphavantage.NewClient(p.AlphaVantage.APIKey,
				alphavantage.WithBaseURL(p.AlphaVantage.BaseURL),
				alphavantage.WithLogger(logger),
				alphavantage.WithRateLimit(p.AlphaVantage.RateLimit),
				alphavantage.WithTimeout(p.AlphaVantage.GetTimeout()),
			)
			a.Resolver.RegisterProvider(client, c)
			a.Resolver.RegisterSearcher(client, c)
		}
	}
	return nil
}

func (a *App) providerCache(pc *common.ProviderConfig) (*cache.Cache, error) {
	kv, err := a.openCacheStore(pc.CacheDir)
	if err != nil {
		return nil, err
	}
	return cache.New(kv, a.Clock, a.Logger), nil
}

// openCacheStore opens a file KV store under dir, relative to the data directory
// unless absolute.
func (a *App) openCacheStore(dir string) (*filekv.Store, error) {
	if !filepath.IsAbs(dir) {
		dir = a.Config.DataPath(dir)
	}
	kv, err := filekv.NewStore(a.Logger, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", dir, err)
	}
	a.cacheStores = append(a.cacheStores, kv)
	return kv, nil
}

// WithRunLock runs fn while holding the run lock. Every operation that writes the
// ledger or the published artifacts goes through it.
func (a *App) WithRunLock(fn func() error) error {
	lock, err := common.AcquireRunLock(a.Config.DataPath(LockFile), a.Config.Ledger.GetLockStaleAfter(), a.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to release run lock")
		}
	}()
	return fn()
}

// RunCycle runs one full cycle under the run lock.
func (a *App) RunCycle(ctx context.Context, opts cycle.Options) (*models.WeeklySummary, error) {
	var summary *models.WeeklySummary
	err := a.WithRunLock(func() error {
		var err error
		summary, err = a.Cycle.Run(ctx, opts)
		return err
	})
	return summary, err
}

// Close stops the scheduler and closes storage.
func (a *App) Close() {
	a.StopScheduler()
	if a.LedgerStore != nil {
		if err := a.LedgerStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close ledger storage")
		}
	}
	for _, kv := range a.cacheStores {
		kv.Close()
	}
	if a.Data != nil {
		a.Data.Close()
	}
}
