package artifacts

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/storage/filekv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kv, err := filekv.NewStore(common.NewSilentLogger(), filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	return NewStore(kv, common.NewSilentLogger())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestSectorRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chg := 1.5
	in := &models.SectorAnalytics{
		Sector:     "tech",
		AsOf:       time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC),
		Symbols:    []models.SymbolMetrics{{Symbol: "CAP.PA", OK: true, Chg5d: &chg}},
		Aggregates: models.SectorAggregates{AvgChg5d: &chg},
		Picks:      []models.SectorPick{{Symbol: "CAP.PA", Score: 2}},
	}
	require.NoError(t, s.WriteSector(ctx, in))
	assert.FileExists(t, s.Path("sectors", "tech.json"))

	out, ok := s.Sector(ctx, "tech")
	require.True(t, ok)
	assert.Equal(t, "tech", out.Sector)
	assert.True(t, in.AsOf.Equal(out.AsOf))
	require.NotNil(t, out.Aggregates.AvgChg5d)
	assert.Equal(t, 1.5, *out.Aggregates.AvgChg5d)

	names, err := s.SectorNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tech"}, names)

	_, ok = s.Sector(ctx, "energy")
	assert.False(t, ok)
}

func TestSectorCorruptIsQuarantined(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	writeFile(t, s.Path("sectors", "tech.json"), "{not json")
	_, ok := s.Sector(ctx, "tech")
	assert.False(t, ok)
	assert.NoFileExists(t, s.Path("sectors", "tech.json"))

	quarantined, err := filepath.Glob(s.Path("_quarantine", "sectors", "tech.*.json"))
	require.NoError(t, err)
	assert.Len(t, quarantined, 1)
}

func TestTargetAndRisk(t *testing.T) {
	s := newTestStore(t)

	_, ok := s.Target()
	assert.False(t, ok)
	_, ok = s.Risk()
	assert.False(t, ok)

	require.NoError(t, s.WriteTarget(nil))
	target, ok := s.Target()
	require.True(t, ok)
	assert.Empty(t, target)

	lines := []models.TargetLine{{Symbol: "CAP.PA", Sector: "tech", Weight: 1, Rationale: "r"}}
	require.NoError(t, s.WriteTarget(lines))
	target, ok = s.Target()
	require.True(t, ok)
	assert.Equal(t, lines, target)

	// the target file is a plain JSON array using "reason"
	raw, err := os.ReadFile(s.Path(TargetFile))
	require.NoError(t, err)
	var generic []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, "r", generic[0]["reason"])

	require.NoError(t, s.WriteRisk(&models.RiskAssessment{Status: models.RiskGreen, Lines: 1}))
	risk, ok := s.Risk()
	require.True(t, ok)
	assert.Equal(t, models.RiskGreen, risk.Status)

	writeFile(t, s.Path(RiskFile), "garbage")
	_, ok = s.Risk()
	assert.False(t, ok)
}

func TestAppendRecommendation(t *testing.T) {
	s := newTestStore(t)
	ts := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendRecommendation(models.Recommendation{Timestamp: ts, Sector: "tech", Picks: []models.SectorPick{{Symbol: "A"}}}))
	require.NoError(t, s.AppendRecommendation(models.Recommendation{Timestamp: ts, Sector: "energy"}))

	f, err := os.Open(s.Path(RecosFile))
	require.NoError(t, err)
	defer f.Close()

	var sectors []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec models.Recommendation
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		sectors = append(sectors, rec.Sector)
	}
	assert.Equal(t, []string{"tech", "energy"}, sectors)
}

func TestSentiment(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, "neutral", s.Sentiment("tech"))

	writeFile(t, s.Path("research", "analysis", "tech.json"), `{"sector":"tech","sentiment":"Positive"}`)
	writeFile(t, s.Path("research", "analysis", "energy.json"), `{"sector":"energy","sentiment":"bullish"}`)
	writeFile(t, s.Path("research", "analysis", "banks.json"), `{"sector":"banks","sentiment":"negative"}`)

	assert.Equal(t, "positive", s.Sentiment("tech"))
	assert.Equal(t, "neutral", s.Sentiment("energy"))
	assert.Equal(t, "negative", s.Sentiment("banks"))

	files, err := s.SentimentFiles()
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "banks.json", filepath.Base(files[0]))
}

func TestSnapshotHistory(t *testing.T) {
	s := newTestStore(t)

	// nothing to copy yet
	require.NoError(t, s.SnapshotHistory("2026-03-02"))
	assert.NoFileExists(t, s.Path("history", "weekly", "2026-03-02.json"))

	require.NoError(t, s.WriteSummary(&models.WeeklySummary{RunID: "run-1"}))
	writeFile(t, s.Path("research", "analysis", "tech.json"), `{"sector":"tech","sentiment":"positive"}`)

	require.NoError(t, s.SnapshotHistory("2026-03-02"))
	assert.FileExists(t, s.Path("history", "weekly", "2026-03-02.json"))
	assert.FileExists(t, s.Path("history", "sentiment", "2026-03-02", "tech.json"))

	summary, ok := s.Summary()
	require.True(t, ok)
	assert.Equal(t, "run-1", summary.RunID)
}

func TestAuditAndDigest(t *testing.T) {
	s := newTestStore(t)

	missing := s.Digest(s.Path(TargetFile))
	assert.Equal(t, TargetFile, missing.File)
	assert.Empty(t, missing.SHA256)

	writeFile(t, s.Path("hello.txt"), "hello")
	digest := s.Digest(s.Path("hello.txt"))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", digest.SHA256)

	path, err := s.WriteAudit(&models.AuditBlob{AsOf: "2026-03-02", RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, s.Path("audit", "2026-03-02.json"), path)

	var latest models.AuditBlob
	require.NoError(t, filekv.ReadJSON(s.Path("audit", "latest.json"), &latest))
	assert.Equal(t, "run-1", latest.RunID)
}
