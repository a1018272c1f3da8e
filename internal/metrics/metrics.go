// Package metrics holds the prometheus collectors of a folio cycle. A batch job has
// no scrape endpoint, so the registry is exported to a node_exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Provider metrics
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_provider_requests_total",
			Help: "Upstream provider calls by outcome",
		},
		[]string{"provider", "outcome"}, // data, empty, rate_limited, error, breaker_open, cached
	)

	RateLimitSleepSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "folio_rate_limit_sleep_seconds_total",
			Help: "Time spent backing off after rate-limit signals",
		},
	)

	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_resolutions_total",
			Help: "Symbol resolutions by outcome",
		},
		[]string{"outcome"}, // cached, resolved, failed
	)

	// Cycle metrics
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "folio_cycle_duration_seconds",
			Help:    "Wall time of a full cycle",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	CycleLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "folio_cycle_last_success_timestamp_seconds",
			Help: "Unix time of the last successful cycle",
		},
	)

	TargetLines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "folio_target_lines",
			Help: "Number of lines in the latest target",
		},
	)

	RiskConcentration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "folio_risk_concentration",
			Help: "Sum of squared target weights",
		},
	)

	RiskStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "folio_risk_status",
			Help: "1 for the current risk status, 0 otherwise",
		},
		[]string{"status"},
	)

	// Ledger metrics
	LedgerNAV = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "folio_ledger_nav",
			Help: "Net asset value after the latest rebalance",
		},
	)

	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_trades_total",
			Help: "Synthesized trades by reason",
		},
		[]string{"reason"},
	)

	SkippedSymbolsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "folio_ledger_skipped_symbols_total",
			Help: "Symbols excluded from a rebalance for lack of a price",
		},
	)
)

// SetRiskStatus flags status as the current one.
func SetRiskStatus(status string) {
	for _, s := range []string{"GREEN", "YELLOW", "RED"} {
		v := 0.0
		if s == status {
			v = 1
		}
		RiskStatus.WithLabelValues(s).Set(v)
	}
}

// WriteTextfile exports the default registry to path for the node_exporter textfile collector.
func WriteTextfile(path string) error {
	return WriteTextfileFrom(prometheus.DefaultGatherer, path)
}

// WriteTextfileFrom exports g to path.
func WriteTextfileFrom(g prometheus.Gatherer, path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
