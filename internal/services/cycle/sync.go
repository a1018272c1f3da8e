package cycle

import (
	"context"
	"strings"

	"github.com/bobmcallan/folio/internal/metrics"
)

// SyncReport lists the symbols refreshed by Sync and those left without data.
type SyncReport struct {
	Updated []string `json:"updated"`
	Failed  []string `json:"failed"`
}

// SyncSymbols returns what Sync refreshes: the published target, the configured
// universe, the symbols of persisted sector analytics and the benchmark. Target
// symbols are kept as published since the ledger prices them under that name.
func (s *Service) SyncSymbols(ctx context.Context) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(symbol string) {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" || seen[symbol] {
			return
		}
		seen[symbol] = true
		out = append(out, symbol)
	}

	if target, ok := s.artifacts.Target(); ok {
		for _, l := range target {
			add(l.Symbol)
		}
	}
	for _, symbol := range s.config.Universe() {
		add(s.qualify(symbol))
	}
	if names, err := s.artifacts.SectorNames(ctx); err == nil {
		for _, name := range names {
			if analytics, ok := s.artifacts.Sector(ctx, name); ok {
				for _, m := range analytics.Symbols {
					add(s.qualify(m.Symbol))
				}
			}
		}
	} else {
		s.logger.Warn().Err(err).Msg("Failed to list sector analytics")
	}
	add(s.config.Market.Benchmark)
	return out
}

// Sync resolves every symbol of SyncSymbols so the ledger finds a cached price
// for each of them.
func (s *Service) Sync(ctx context.Context) (*SyncReport, error) {
	report := &SyncReport{Updated: []string{}, Failed: []string{}}
	for _, symbol := range s.SyncSymbols(ctx) {
		series, err := s.resolver.Resolve(ctx, symbol)
		if err != nil {
			return report, err
		}
		if series.Empty() {
			s.logger.Warn().Str("symbol", symbol).Msg("No data after sync")
			report.Failed = append(report.Failed, symbol)
			continue
		}
		s.logger.Info().Str("symbol", symbol).Str("used", series.Symbol).Int("points", len(series.Points)).Msg("Symbol synced")
		report.Updated = append(report.Updated, symbol)
	}

	s.logger.Info().Int("updated", len(report.Updated)).Int("failed", len(report.Failed)).Msg("Sync complete")
	if err := metrics.WriteTextfile(s.config.Metrics.TextfilePath); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write metrics textfile")
	}
	return report, nil
}

// qualify upper-cases symbol and appends the default exchange suffix to bare
// tickers. Index markers are left alone.
func (s *Service) qualify(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || strings.HasPrefix(symbol, "^") || strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + s.config.Market.DefaultSuffix
}
