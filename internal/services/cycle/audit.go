package cycle

import (
	"context"
	"math"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/artifacts"
)

// WriteAudit hashes what the cycle consumed and produced and writes the audit blob.
// CI provenance comes from the GITHUB_SHA, GITHUB_REF and GITHUB_RUN_ID variables.
func (s *Service) WriteAudit(ctx context.Context, runID, date string, summary *models.WeeklySummary) (*models.AuditBlob, error) {
	sectorFiles, err := s.artifacts.SectorFiles(ctx)
	if err != nil {
		return nil, err
	}
	sentimentFiles, err := s.artifacts.SentimentFiles()
	if err != nil {
		return nil, err
	}

	blob := &models.AuditBlob{
		AsOf:  date,
		RunID: runID,
		Git: models.AuditGit{
			SHA:   ciValue(s.getenv, "GITHUB_SHA"),
			Ref:   ciValue(s.getenv, "GITHUB_REF"),
			RunID: ciValue(s.getenv, "GITHUB_RUN_ID"),
		},
		Inputs: models.AuditInputs{
			Sectors:   s.artifacts.Digests(sectorFiles),
			Sentiment: s.artifacts.Digests(sentimentFiles),
		},
		Outputs: models.AuditOutputs{
			Target: s.artifacts.Digest(s.artifacts.Path(artifacts.TargetFile)),
			Risk:   s.artifacts.Digest(s.artifacts.Path(artifacts.RiskFile)),
		},
	}
	if s.configPath != "" {
		digest := s.artifacts.Digest(s.configPath)
		digest.File = s.configPath
		blob.Inputs.Config = &digest
	}
	if summary != nil {
		sum := decimal.Zero
		for _, l := range summary.Target {
			if math.IsNaN(l.Weight) || math.IsInf(l.Weight, 0) {
				continue
			}
			sum = sum.Add(decimal.NewFromFloat(l.Weight))
		}
		blob.Outputs.SumWeight = sum.Round(6).InexactFloat64()
		if summary.Risk != nil {
			blob.Outputs.RiskStatus = summary.Risk.Status
		}
	}

	path, err := s.artifacts.WriteAudit(blob)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("file", path).Int("sectors", len(sectorFiles)).Msg("Audit written")
	return blob, nil
}
