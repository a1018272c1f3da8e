// Package artifacts reads and writes the cycle's published files under the data
// directory. Every artifact may be absent; readers report that instead of failing.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/storage/filekv"
)

// Layout of the data directory, relative to its root.
const (
	NamespaceSectors = "sectors"

	TargetFile  = "portfolio.target.json"
	RiskFile    = "portfolio.risk.json"
	ChecksFile  = "portfolio.checks.json"
	SummaryFile = "weekly-summary.json"
	RecosFile   = "recos.jsonl"
	LatestAudit = "latest"
)

var (
	SentimentDir        = filepath.Join("research", "analysis")
	AuditDir            = "audit"
	HistoryWeeklyDir    = filepath.Join("history", "weekly")
	HistorySentimentDir = filepath.Join("history", "sentiment")
)

// Store gives typed access to the artifacts. Sector analytics live in the KV
// store; fixed-name files are written atomically next to it.
type Store struct {
	kv     interfaces.KVStore
	root   string
	logger *common.Logger
}

// NewStore roots the artifacts at the KV store's data path.
func NewStore(kv interfaces.KVStore, logger *common.Logger) *Store {
	return &Store{kv: kv, root: kv.DataPath(), logger: logger}
}

// Path resolves a path relative to the data directory.
func (s *Store) Path(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

// Rel returns path relative to the data directory, for audit records.
func (s *Store) Rel(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// --- sector analytics ---

// WriteSector persists the analytics of one sector.
func (s *Store) WriteSector(ctx context.Context, analytics *models.SectorAnalytics) error {
	data, err := json.MarshalIndent(analytics, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sector %s: %w", analytics.Sector, err)
	}
	return s.kv.Put(ctx, NamespaceSectors, analytics.Sector, data)
}

// Sector reads the analytics of one sector. A record that fails to decode is quarantined.
func (s *Store) Sector(ctx context.Context, sector string) (*models.SectorAnalytics, bool) {
	data, err := s.kv.Get(ctx, NamespaceSectors, sector)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			s.logger.Warn().Err(err).Str("sector", sector).Msg("Failed to read sector analytics")
		}
		return nil, false
	}
	var analytics models.SectorAnalytics
	if err := json.Unmarshal(data, &analytics); err != nil {
		if qerr := s.kv.Quarantine(ctx, NamespaceSectors, sector, err.Error()); qerr != nil {
			s.logger.Warn().Err(qerr).Str("sector", sector).Msg("Failed to quarantine sector analytics")
		}
		return nil, false
	}
	return &analytics, true
}

// SectorNames lists the sectors with persisted analytics.
func (s *Store) SectorNames(ctx context.Context) ([]string, error) {
	return s.kv.List(ctx, NamespaceSectors)
}

// SectorFiles returns the sector artifact paths in sorted order.
func (s *Store) SectorFiles(ctx context.Context) ([]string, error) {
	names, err := s.SectorNames(ctx)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(names))
	for _, name := range names {
		files = append(files, s.Path(NamespaceSectors, filekv.FileName(name)))
	}
	return files, nil
}

// --- portfolio outputs ---

// WriteTarget publishes the target lines as a JSON array.
func (s *Store) WriteTarget(target []models.TargetLine) error {
	if target == nil {
		target = []models.TargetLine{}
	}
	return filekv.WriteJSONAtomic(s.Path(TargetFile), target)
}

// Target reads the published target.
func (s *Store) Target() ([]models.TargetLine, bool) {
	var target []models.TargetLine
	if !s.readJSON(TargetFile, &target) {
		return nil, false
	}
	return target, true
}

// WriteRisk publishes the risk assessment.
func (s *Store) WriteRisk(risk *models.RiskAssessment) error {
	return filekv.WriteJSONAtomic(s.Path(RiskFile), risk)
}

// Risk reads the published risk assessment.
func (s *Store) Risk() (*models.RiskAssessment, bool) {
	var risk models.RiskAssessment
	if !s.readJSON(RiskFile, &risk) {
		return nil, false
	}
	return &risk, true
}

// WriteChecks publishes the target validation result.
func (s *Store) WriteChecks(checks *models.ChecksResult) error {
	return filekv.WriteJSONAtomic(s.Path(ChecksFile), checks)
}

// WriteSummary publishes the weekly summary.
func (s *Store) WriteSummary(summary *models.WeeklySummary) error {
	return filekv.WriteJSONAtomic(s.Path(SummaryFile), summary)
}

// Summary reads the last weekly summary.
func (s *Store) Summary() (*models.WeeklySummary, bool) {
	var summary models.WeeklySummary
	if !s.readJSON(SummaryFile, &summary) {
		return nil, false
	}
	return &summary, true
}

// AppendRecommendation appends one JSON line to the recommendation log.
func (s *Store) AppendRecommendation(rec models.Recommendation) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendation: %w", err)
	}
	path := s.Path(RecosFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return nil
}

// --- sentiment input ---

// Sentiment returns the sentiment label the external extractor recorded for
// sector, or "neutral" when none is available.
func (s *Store) Sentiment(sector string) string {
	var input models.SectorSentiment
	if !s.readJSON(filepath.Join(SentimentDir, filekv.FileName(sector)), &input) {
		return "neutral"
	}
	switch label := strings.ToLower(strings.TrimSpace(input.Sentiment)); label {
	case "positive", "negative", "neutral":
		return label
	default:
		s.logger.Warn().Str("sector", sector).Str("sentiment", input.Sentiment).Msg("Unknown sentiment label, using neutral")
		return "neutral"
	}
}

// SentimentFiles returns the sentiment input paths in sorted order.
func (s *Store) SentimentFiles() ([]string, error) {
	return jsonFiles(s.Path(SentimentDir))
}

// --- history and audit ---

// SnapshotHistory copies the weekly summary to history/weekly/<date>.json and the
// sentiment inputs to history/sentiment/<date>/.
func (s *Store) SnapshotHistory(date string) error {
	summary, err := os.ReadFile(s.Path(SummaryFile))
	switch {
	case err == nil:
		if err := filekv.WriteFileAtomic(s.Path(HistoryWeeklyDir, date+".json"), summary); err != nil {
			return err
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to read weekly summary: %w", err)
	}

	files, err := s.SentimentFiles()
	if err != nil {
		return err
	}
	for _, src := range files {
		data, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", src, err)
		}
		dst := s.Path(HistorySentimentDir, date, filepath.Base(src))
		if err := filekv.WriteFileAtomic(dst, data); err != nil {
			return err
		}
	}
	s.logger.Debug().Str("date", date).Int("sentiment_files", len(files)).Msg("History snapshot written")
	return nil
}

// WriteAudit writes the audit blob under audit/<asOf>.json and audit/latest.json.
func (s *Store) WriteAudit(blob *models.AuditBlob) (string, error) {
	path := s.Path(AuditDir, blob.AsOf+".json")
	if err := filekv.WriteJSONAtomic(path, blob); err != nil {
		return "", err
	}
	if err := filekv.WriteJSONAtomic(s.Path(AuditDir, LatestAudit+".json"), blob); err != nil {
		return "", err
	}
	return path, nil
}

// Digest hashes the file at path. A missing file yields an empty hash.
func (s *Store) Digest(path string) models.FileDigest {
	digest := models.FileDigest{File: s.Rel(path)}
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("file", path).Msg("Failed to open file for hashing")
		}
		return digest
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		s.logger.Warn().Err(err).Str("file", path).Msg("Failed to hash file")
		return digest
	}
	digest.SHA256 = hex.EncodeToString(h.Sum(nil))
	return digest
}

// Digests hashes every path in order.
func (s *Store) Digests(paths []string) []models.FileDigest {
	out := make([]models.FileDigest, 0, len(paths))
	for _, p := range paths {
		out = append(out, s.Digest(p))
	}
	return out
}

func (s *Store) readJSON(rel string, dest interface{}) bool {
	err := filekv.ReadJSON(s.Path(rel), dest)
	if err == nil {
		return true
	}
	if !errors.Is(err, common.ErrNotFound) {
		s.logger.Warn().Err(err).Str("file", rel).Msg("Artifact unreadable, treated as absent")
	}
	return false
}

func jsonFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}
