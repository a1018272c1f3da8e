// Package common provides shared utilities for Folio
package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Folio
type Config struct {
	Environment string           `toml:"environment"`
	Sectors     []SectorConfig   `toml:"sectors"`
	Constraints ConstraintConfig `toml:"constraints"`
	Scoring     ScoringConfig    `toml:"scoring"`
	Sentiment   SentimentConfig  `toml:"sentiment"`
	Market      MarketConfig     `toml:"market"`
	Providers   ProvidersConfig  `toml:"providers"`
	Resolver    ResolverConfig   `toml:"resolver"`
	Ledger      LedgerConfig     `toml:"ledger"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LoggingConfig    `toml:"logging"`
	Schedule    ScheduleConfig   `toml:"schedule"`
	Metrics     MetricsConfig    `toml:"metrics"`
}

// SectorConfig is one entry of the investable universe.
type SectorConfig struct {
	Name    string   `toml:"name"`
	Symbols []string `toml:"symbols"`
}

// ConstraintConfig holds the concentration caps applied by the allocation engine.
type ConstraintConfig struct {
	MaxLine   float64 `toml:"max_line"`
	MaxSector float64 `toml:"max_sector"`
	MinLines  int     `toml:"min_lines"`
}

// ScoringConfig selects and parameterizes the scoring formula.
type ScoringConfig struct {
	Formula string  `toml:"formula"` // "ratio" or "linear"
	W5      float64 `toml:"w5"`
	W20     float64 `toml:"w20"`
	Lambda  float64 `toml:"lambda"`
	Eps     float64 `toml:"eps"`
	TopN    int     `toml:"top_n"`
}

// SentimentConfig maps a qualitative sentiment label to a relative score adjustment.
type SentimentConfig struct {
	Positive float64 `toml:"positive"`
	Neutral  float64 `toml:"neutral"`
	Negative float64 `toml:"negative"`
}

// Multiplier returns the score multiplier for a sentiment label. Unknown labels are neutral.
func (c SentimentConfig) Multiplier(sentiment string) float64 {
	switch strings.ToLower(strings.TrimSpace(sentiment)) {
	case "positive":
		return 1 + c.Positive
	case "negative":
		return 1 + c.Negative
	default:
		return 1 + c.Neutral
	}
}

// MarketConfig holds symbol resolution settings.
type MarketConfig struct {
	Source           string            `toml:"source"` // "mixed" or a single provider name
	Benchmark        string            `toml:"benchmark"`
	DefaultSuffix    string            `toml:"default_suffix"`
	ExchangeSuffixes []string          `toml:"exchange_suffixes"`
	AliasPrefix      string            `toml:"alias_prefix"`
	SearchRegion     string            `toml:"search_region"`   // regexp matched against the search match region
	SearchCurrency   string            `toml:"search_currency"` // regexp matched against the search match currency
	Overrides        map[string]string `toml:"overrides"`
}

// ProvidersConfig holds per-provider settings.
type ProvidersConfig struct {
	Yahoo        ProviderConfig `toml:"yahoo"`
	EODHD        ProviderConfig `toml:"eodhd"`
	AlphaVantage ProviderConfig `toml:"alphavantage"`
	Stooq        ProviderConfig `toml:"stooq"`
}

// ProviderConfig holds the settings shared by every price provider.
type ProviderConfig struct {
	Enabled    bool    `toml:"enabled"`
	BaseURL    string  `toml:"base_url"`
	APIKey     string  `toml:"api_key"`
	Range      string  `toml:"range"`
	Interval   string  `toml:"interval"`
	OutputSize string  `toml:"output_size"`
	RateLimit  float64 `toml:"rate_limit"` // requests per second
	Timeout    string  `toml:"timeout"`
	CacheDir   string  `toml:"cache_dir"`
	TTLDays    float64 `toml:"ttl_days"`
}

// GetTimeout parses and returns the timeout duration
func (c *ProviderConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetTTL returns the cache TTL, defaulting to 7 days.
func (c *ProviderConfig) GetTTL() time.Duration {
	if c.TTLDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.TTLDays * float64(24*time.Hour))
}

// ResolverConfig holds candidate chain budget and backoff settings.
type ResolverConfig struct {
	MaxAttempts    int     `toml:"max_attempts"`
	MinDelay       string  `toml:"min_delay"`
	MaxDelay       string  `toml:"max_delay"`
	Multiplier     float64 `toml:"multiplier"`
	Jitter         float64 `toml:"jitter"`
	FailureTTL     string  `toml:"failure_ttl"`
	BreakerTrips   int     `toml:"breaker_trips"`
	BreakerCooloff string  `toml:"breaker_cooloff"`
}

// GetMinDelay returns the rate-limit backoff base delay.
func (c *ResolverConfig) GetMinDelay() time.Duration {
	d, err := time.ParseDuration(c.MinDelay)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// GetMaxDelay returns the backoff ceiling.
func (c *ResolverConfig) GetMaxDelay() time.Duration {
	d, err := time.ParseDuration(c.MaxDelay)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// GetFailureTTL returns how long an exhausted lookup is memoized. Zero means the provider TTL.
func (c *ResolverConfig) GetFailureTTL() time.Duration {
	d, err := time.ParseDuration(c.FailureTTL)
	if err != nil {
		return 0
	}
	return d
}

// GetBreakerCooloff returns how long an open provider breaker stays open.
func (c *ResolverConfig) GetBreakerCooloff() time.Duration {
	d, err := time.ParseDuration(c.BreakerCooloff)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// LedgerConfig holds virtual ledger settings.
type LedgerConfig struct {
	Backend        string  `toml:"backend"` // "file" or "sqlite"
	Path           string  `toml:"path"`
	InitialCash    float64 `toml:"initial_cash"`
	LockStaleAfter string  `toml:"lock_stale_after"`
}

// GetLockStaleAfter returns the age after which a run lock is considered abandoned.
func (c *LedgerConfig) GetLockStaleAfter() time.Duration {
	d, err := time.ParseDuration(c.LockStaleAfter)
	if err != nil {
		return 6 * time.Hour
	}
	return d
}

// StorageConfig holds the data directory for artifacts, caches and history.
type StorageConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Format   string   `toml:"format"`
	Outputs  []string `toml:"outputs"`
	FilePath string   `toml:"file_path"`
}

// ScheduleConfig holds the cron expression driving unattended cycles.
type ScheduleConfig struct {
	Cron     string `toml:"cron"`
	Timezone string `toml:"timezone"` // IANA name, empty means UTC
}

// MetricsConfig holds the prometheus textfile export path. Empty disables export.
type MetricsConfig struct {
	TextfilePath string `toml:"textfile_path"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Constraints: ConstraintConfig{
			MaxLine:   0.10,
			MaxSector: 0.35,
			MinLines:  4,
		},
		Scoring: ScoringConfig{
			Formula: "ratio",
			W5:      0.6,
			W20:     0.4,
			Lambda:  0.5,
			Eps:     1e-4,
			TopN:    3,
		},
		Sentiment: SentimentConfig{
			Positive: 0.10,
			Neutral:  0,
			Negative: -0.10,
		},
		Market: MarketConfig{
			Source:           "mixed",
			Benchmark:        "^CAC",
			DefaultSuffix:    ".PA",
			ExchangeSuffixes: []string{".MI"},
			AliasPrefix:      "EPA",
			SearchRegion:     "(?i)france|paris",
			SearchCurrency:   "(?i)eur",
			Overrides:        map[string]string{},
		},
		Providers: ProvidersConfig{
			Yahoo: ProviderConfig{
				Enabled:   true,
				BaseURL:   "https://query1.finance.yahoo.com",
				Range:     "10y",
				Interval:  "1d",
				RateLimit: 2,
				Timeout:   "30s",
				CacheDir:  "_cache/yahoo",
				TTLDays:   7,
			},
			EODHD: ProviderConfig{
				Enabled:   true,
				BaseURL:   "https://eodhd.com/api",
				RateLimit: 10,
				Timeout:   "30s",
				CacheDir:  "_cache/eodhd",
				TTLDays:   7,
			},
			AlphaVantage: ProviderConfig{
				Enabled:    true,
				BaseURL:    "https://www.alphavantage.co",
				OutputSize: "compact",
				RateLimit:  0.08, // five calls per minute on the free tier
				Timeout:    "30s",
				CacheDir:   "_cache/alphavantage",
				TTLDays:    7,
			},
			Stooq: ProviderConfig{
				Enabled:   true,
				BaseURL:   "https://stooq.com",
				Interval:  "d",
				RateLimit: 1,
				Timeout:   "30s",
				CacheDir:  "_cache/stooq",
				TTLDays:   1,
			},
		},
		Resolver: ResolverConfig{
			MaxAttempts:    8,
			MinDelay:       "15s",
			MaxDelay:       "2m",
			Multiplier:     1,
			Jitter:         0.1,
			BreakerTrips:   5,
			BreakerCooloff: "5m",
		},
		Ledger: LedgerConfig{
			Backend:        "file",
			Path:           "ledger",
			InitialCash:    10000,
			LockStaleAfter: "6h",
		},
		Storage: StorageConfig{
			Path: "data",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "console",
			Outputs:  []string{"console"},
			FilePath: "./logs/folio.log",
		},
		Schedule: ScheduleConfig{
			Cron:     "0 6 * * 1",
			Timezone: "Europe/Paris",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// A missing .env is normal outside development; existing env vars win.
	_ = godotenv.Load()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FOLIO_ENV"); env != "" {
		config.Environment = env
	}

	if level := os.Getenv("FOLIO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("FOLIO_DATA_PATH"); path != "" {
		config.Storage.Path = path
	}

	if src := os.Getenv("FOLIO_MARKET_SOURCE"); src != "" {
		config.Market.Source = strings.ToLower(src)
	}

	if v := os.Getenv("FOLIO_LEDGER_BACKEND"); v != "" {
		config.Ledger.Backend = strings.ToLower(v)
	}

	if v := os.Getenv("FOLIO_INITIAL_CASH"); v != "" {
		if cash, err := strconv.ParseFloat(v, 64); err == nil {
			config.Ledger.InitialCash = cash
		}
	}

	if v := os.Getenv("FOLIO_METRICS_TEXTFILE"); v != "" {
		config.Metrics.TextfilePath = v
	}

	// Provider API keys
	for _, name := range []string{"EODHD_API_KEY", "FOLIO_EODHD_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			config.Providers.EODHD.APIKey = v
			break
		}
	}
	for _, name := range []string{"ALPHAVANTAGE_API_KEY", "ALPHA_VANTAGE_KEY", "FOLIO_ALPHAVANTAGE_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			config.Providers.AlphaVantage.APIKey = v
			break
		}
	}
}

// Validate checks the settings a cycle cannot run without. The returned error wraps
// ErrConfigInvalid and lists every problem found.
func (c *Config) Validate() error {
	var problems []string

	if len(c.Sectors) == 0 {
		problems = append(problems, "no sectors configured")
	}
	seen := make(map[string]bool, len(c.Sectors))
	for i, s := range c.Sectors {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			problems = append(problems, fmt.Sprintf("sector #%d has no name", i+1))
			continue
		}
		if seen[name] {
			problems = append(problems, fmt.Sprintf("sector %q declared twice", name))
		}
		seen[name] = true
		if len(s.Symbols) == 0 {
			problems = append(problems, fmt.Sprintf("sector %q has no symbols", name))
		}
	}

	if c.Constraints.MaxLine <= 0 || c.Constraints.MaxLine > 1 {
		problems = append(problems, fmt.Sprintf("constraints.max_line %v outside (0,1]", c.Constraints.MaxLine))
	}
	if c.Constraints.MaxSector <= 0 || c.Constraints.MaxSector > 1 {
		problems = append(problems, fmt.Sprintf("constraints.max_sector %v outside (0,1]", c.Constraints.MaxSector))
	}

	switch c.Scoring.Formula {
	case "ratio", "linear":
	default:
		problems = append(problems, fmt.Sprintf("scoring.formula %q must be ratio or linear", c.Scoring.Formula))
	}

	switch c.Ledger.Backend {
	case "file", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("ledger.backend %q must be file or sqlite", c.Ledger.Backend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// IsConfigInvalid reports whether err is a configuration failure.
func IsConfigInvalid(err error) bool {
	return errors.Is(err, ErrConfigInvalid)
}

// Universe returns every configured symbol in sector order, deduplicated.
func (c *Config) Universe() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range c.Sectors {
		for _, sym := range s.Symbols {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" || seen[sym] {
				continue
			}
			seen[sym] = true
			out = append(out, sym)
		}
	}
	return out
}

// DataPath joins elem onto the storage root.
func (c *Config) DataPath(elem ...string) string {
	return filepath.Join(append([]string{c.Storage.Path}, elem...)...)
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
