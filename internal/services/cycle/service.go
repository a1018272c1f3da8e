// Package cycle orchestrates the periodic portfolio construction run
package cycle

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/metrics"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/analytics"
	"github.com/bobmcallan/folio/internal/services/artifacts"
	"github.com/bobmcallan/folio/internal/services/risk"
)

// SectorAnalyzer computes the analytics and picks of one sector.
type SectorAnalyzer interface {
	AnalyzeSector(ctx context.Context, sector common.SectorConfig) (*models.SectorAnalytics, error)
}

var _ SectorAnalyzer = (*analytics.Service)(nil)

// Options tune a single run.
type Options struct {
	// SkipLedger publishes the target without trading the ledger
	SkipLedger bool
}

// Service runs the weekly cycle: sector analytics, allocation, risk, ledger
// rebalance, then the summary, history and audit artifacts.
type Service struct {
	config     *common.Config
	configPath string
	resolver   interfaces.SeriesResolver
	analyzer   SectorAnalyzer
	engine     interfaces.AllocationEngine
	risk       interfaces.RiskEvaluator
	ledger     interfaces.LedgerService
	artifacts  *artifacts.Store
	clock      common.Clock
	logger     *common.Logger
	getenv     func(string) string
}

// Deps groups the collaborators of the cycle.
type Deps struct {
	Resolver  interfaces.SeriesResolver
	Analyzer  SectorAnalyzer
	Engine    interfaces.AllocationEngine
	Risk      interfaces.RiskEvaluator
	Ledger    interfaces.LedgerService
	Artifacts *artifacts.Store
	Clock     common.Clock
}

// NewService creates the cycle runner. configPath is hashed into the audit blob.
func NewService(config *common.Config, configPath string, deps Deps, logger *common.Logger) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Service{
		config:     config,
		configPath: configPath,
		resolver:   deps.Resolver,
		analyzer:   deps.Analyzer,
		engine:     deps.Engine,
		risk:       deps.Risk,
		ledger:     deps.Ledger,
		artifacts:  deps.Artifacts,
		clock:      clock,
		logger:     logger,
		getenv:     os.Getenv,
	}
}

// Run executes one cycle. Only context cancellation, artifact write failures and
// ledger failures abort it; missing data degrades the result instead.
func (s *Service) Run(ctx context.Context, opts Options) (*models.WeeklySummary, error) {
	start := s.clock.Now()
	runID := uuid.New().String()
	asOf := start.UTC()
	date := common.DateString(asOf)
	logger := s.logger.With().Str("run_id", runID).Logger()

	logger.Info().Str("as_of", date).Int("sectors", len(s.config.Sectors)).Msg("Starting cycle")

	summary := &models.WeeklySummary{
		RunID:   runID,
		AsOf:    asOf,
		Sectors: make([]models.SectorSummary, 0, len(s.config.Sectors)),
	}

	inputs := make([]models.SectorAllocation, 0, len(s.config.Sectors))
	for _, sector := range s.config.Sectors {
		result, err := s.analyzer.AnalyzeSector(ctx, sector)
		if err != nil {
			return nil, fmt.Errorf("sector %s: %w", sector.Name, err)
		}
		if err := s.artifacts.WriteSector(ctx, result); err != nil {
			return nil, err
		}
		if err := s.artifacts.AppendRecommendation(models.Recommendation{
			Timestamp: s.clock.Now().UTC(),
			Sector:    sector.Name,
			Analytics: result,
			Picks:     result.Picks,
		}); err != nil {
			logger.Warn().Err(err).Str("sector", sector.Name).Msg("Failed to append recommendation")
		}

		aggregates := result.Aggregates
		inputs = append(inputs, models.SectorAllocation{
			Sector:     sector.Name,
			Picks:      result.Picks,
			Sentiment:  s.artifacts.Sentiment(sector.Name),
			Aggregates: &aggregates,
		})
		summary.Sectors = append(summary.Sectors, models.SectorSummary{
			Sector: sector.Name,
			Top:    topLabels(result.Picks),
		})
	}

	allocation := s.engine.Allocate(inputs)
	summary.Target = allocation.Target
	if err := s.artifacts.WriteTarget(allocation.Target); err != nil {
		return nil, err
	}

	summary.Risk = s.risk.Evaluate(allocation.Target)
	if err := s.artifacts.WriteRisk(summary.Risk); err != nil {
		return nil, err
	}
	summary.Checks = risk.Check(allocation.Target, s.config.Constraints)
	if err := s.artifacts.WriteChecks(summary.Checks); err != nil {
		return nil, err
	}
	for _, issue := range summary.Checks.Issues {
		logger.Warn().Str("code", issue.Code).Str("severity", string(issue.Severity)).Msg(issue.Message)
	}

	if !opts.SkipLedger {
		// the benchmark is priced from the cache like every other symbol
		if _, err := s.resolver.Resolve(ctx, s.config.Market.Benchmark); err != nil {
			return nil, err
		}
		if _, err := s.ledger.Init(ctx, s.config.Ledger.InitialCash, date); err != nil {
			return nil, err
		}
		rebalance, err := s.ledger.Rebalance(ctx, allocation.Target, date)
		if err != nil {
			return nil, err
		}
		summary.Trades = rebalance.Trades
		summary.Nav = rebalance.Nav
	}

	if err := s.artifacts.WriteSummary(summary); err != nil {
		return nil, err
	}
	if err := s.artifacts.SnapshotHistory(date); err != nil {
		logger.Warn().Err(err).Msg("Failed to snapshot history")
	}
	if _, err := s.WriteAudit(ctx, runID, date, summary); err != nil {
		logger.Warn().Err(err).Msg("Failed to write audit")
	}

	s.recordMetrics(start, summary)
	logger.Info().Int("lines", len(summary.Target)).Str("risk", string(summary.Risk.Status)).
		Int("trades", len(summary.Trades)).Dur("elapsed", s.clock.Now().Sub(start)).Msg("Cycle complete")
	return summary, nil
}

func (s *Service) recordMetrics(start time.Time, summary *models.WeeklySummary) {
	end := s.clock.Now()
	metrics.CycleDuration.Observe(end.Sub(start).Seconds())
	metrics.CycleLastSuccess.Set(float64(end.Unix()))
	metrics.TargetLines.Set(float64(len(summary.Target)))
	metrics.RiskConcentration.Set(summary.Risk.Concentration)
	metrics.SetRiskStatus(string(summary.Risk.Status))
	if err := metrics.WriteTextfile(s.config.Metrics.TextfilePath); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write metrics textfile")
	}
}

// topLabels renders picks as "SYMBOL (score x.xx)".
func topLabels(picks []models.SectorPick) []string {
	out := make([]string, 0, len(picks))
	for _, p := range picks {
		out = append(out, fmt.Sprintf("%s (score %.2f)", p.Symbol, p.Score))
	}
	return out
}

// Risk evaluates the published target again, for the risk subcommand.
func (s *Service) Risk() (*models.RiskAssessment, *models.ChecksResult, error) {
	target, ok := s.artifacts.Target()
	if !ok {
		return nil, nil, fmt.Errorf("no published target: %w", common.ErrNotFound)
	}
	return s.risk.Evaluate(target), risk.Check(target, s.config.Constraints), nil
}

// Rebalance trades the ledger towards the published target.
func (s *Service) Rebalance(ctx context.Context) (*models.RebalanceResult, error) {
	target, ok := s.artifacts.Target()
	if !ok {
		return nil, fmt.Errorf("no published target: %w", common.ErrNotFound)
	}
	date := common.DateString(s.clock.Now().UTC())
	if _, err := s.ledger.Init(ctx, s.config.Ledger.InitialCash, date); err != nil {
		return nil, err
	}
	return s.ledger.Rebalance(ctx, target, date)
}

func ciValue(getenv func(string) string, key string) string {
	return strings.TrimSpace(getenv(key))
}
