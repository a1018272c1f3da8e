package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/artifacts"
	"github.com/bobmcallan/folio/internal/services/cycle"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()

	config := `
[storage]
path = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"

[logging]
level = "error"
outputs = ["console"]

[providers.yahoo]
enabled = false

[providers.stooq]
enabled = false

[providers.eodhd]
enabled = false

[providers.alphavantage]
enabled = false
` + body
	configPath := filepath.Join(dir, "folio.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0644))
	return configPath
}

const oneSector = `
[[sectors]]
name = "tech"
symbols = ["CAP.PA", "STM.PA"]
`

func TestNewApp_InitializesAllServices(t *testing.T) {
	a, err := NewApp(writeTestConfig(t, oneSector))
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Config)
	assert.NotNil(t, a.Logger)
	assert.NotNil(t, a.Data)
	assert.NotNil(t, a.LedgerStore)
	assert.NotNil(t, a.Resolver)
	assert.NotNil(t, a.Prices)
	assert.NotNil(t, a.Ledger)
	assert.NotNil(t, a.Artifacts)
	assert.NotNil(t, a.Cycle)
	assert.False(t, a.StartupTime.IsZero())
	assert.Equal(t, "tech", a.Config.Sectors[0].Name)
}

func TestNewApp_InvalidConfig(t *testing.T) {
	_, err := NewApp(writeTestConfig(t, ""))
	require.Error(t, err)
	assert.True(t, common.IsConfigInvalid(err))
}

func TestResolveConfigPath(t *testing.T) {
	assert.Equal(t, "explicit.toml", ResolveConfigPath("explicit.toml"))

	t.Setenv("FOLIO_CONFIG", "/etc/folio/folio.toml")
	assert.Equal(t, "/etc/folio/folio.toml", ResolveConfigPath(""))
}

// marketServer serves a rising yahoo chart for every symbol and a stooq CSV for indices.
func marketServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v8/finance/chart/"):
			symbol := strings.TrimPrefix(r.URL.Path, "/v8/finance/chart/")
			step := float64(len(symbol)%4 + 1)
			closes := make([]string, 30)
			for i := range closes {
				closes[i] = fmt.Sprintf("%.2f", 50+step*float64(i))
			}
			fmt.Fprintf(w, `{"chart":{"result":[{"indicators":{"quote":[{"close":[%s]}]}}],"error":null}}`,
				strings.Join(closes, ","))
		case r.URL.Path == "/q/d/l/":
			var b strings.Builder
			b.WriteString("Date,Open,High,Low,Close,Volume\n")
			for i := 0; i < 30; i++ {
				fmt.Fprintf(&b, "2026-01-%02d,0,0,0,%d,0\n", i+1, 7000+10*i)
			}
			w.Write([]byte(b.String()))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newWiredApp(t *testing.T) *App {
	t.Helper()
	srv := marketServer(t)

	config := common.NewDefaultConfig()
	config.Storage.Path = filepath.Join(t.TempDir(), "data")
	config.Schedule.Timezone = "UTC"
	config.Sectors = []common.SectorConfig{
		{Name: "tech", Symbols: []string{"CAP.PA", "STM.PA", "DSY.PA"}},
		{Name: "energy", Symbols: []string{"TTE.PA", "ENGI.PA"}},
	}
	config.Providers.Yahoo.BaseURL = srv.URL
	config.Providers.Yahoo.RateLimit = 0
	config.Providers.Stooq.BaseURL = srv.URL
	config.Providers.Stooq.RateLimit = 0
	config.Providers.EODHD.Enabled = false
	config.Providers.AlphaVantage.Enabled = false
	require.NoError(t, config.Validate())

	clock := common.NewManualClock(time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC))
	a, err := NewAppWithConfig(config, "", clock, common.NewSilentLogger())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestRunCycle_EndToEnd(t *testing.T) {
	a := newWiredApp(t)
	ctx := context.Background()

	summary, err := a.RunCycle(ctx, cycle.Options{})
	require.NoError(t, err)

	require.NotEmpty(t, summary.Target)
	assert.InDelta(t, 1.0, models.SumWeights(summary.Target), 1e-6)
	require.NotEmpty(t, summary.Trades)
	require.NotNil(t, summary.Nav)
	assert.InDelta(t, 10000, summary.Nav.NAV, 1e-6)
	assert.Greater(t, summary.Nav.Benchmark, 100.0)

	assert.FileExists(t, a.Artifacts.Path(artifacts.TargetFile))
	assert.NoFileExists(t, a.Config.DataPath(LockFile))

	// the ledger prices come from the resolved cache, not the network
	px, ok := a.Prices.LatestPrice(ctx, "CAP.PA")
	require.True(t, ok)
	assert.Greater(t, px, 100.0)

	state, err := a.Ledger.State(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, state.Positions)
}

func TestRunCycle_LockHeld(t *testing.T) {
	a := newWiredApp(t)

	lock, err := common.AcquireRunLock(a.Config.DataPath(LockFile), time.Hour, a.Logger)
	require.NoError(t, err)
	defer lock.Release()

	_, err = a.RunCycle(context.Background(), cycle.Options{})
	assert.ErrorIs(t, err, common.ErrLocked)
}

func TestCheckSchemaVersion(t *testing.T) {
	a := newWiredApp(t)
	ctx := context.Background()

	// the app already initialized the schema; a new payload version purges the caches
	stale := filepath.Join(a.Config.DataPath(a.Config.Providers.Yahoo.CacheDir), "series", "old.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("{}"), 0644))

	purged, err := checkSchemaVersion(ctx, a.Data, a.Config, a.Logger)
	require.NoError(t, err)
	assert.False(t, purged)
	assert.FileExists(t, stale)

	require.NoError(t, a.Data.Put(ctx, namespaceMeta, schemaVersionKey, []byte("0")))
	purged, err = checkSchemaVersion(ctx, a.Data, a.Config, a.Logger)
	require.NoError(t, err)
	assert.True(t, purged)
	assert.NoFileExists(t, stale)

	stored, err := a.Data.Get(ctx, namespaceMeta, schemaVersionKey)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, string(stored))
}

func TestScheduler_StartStop(t *testing.T) {
	a := newWiredApp(t)
	a.Config.Schedule.Cron = "@every 1h"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.StartScheduler(ctx))
	assert.False(t, a.NextRun().IsZero())
	assert.Error(t, a.StartScheduler(ctx))

	a.StopScheduler()
	assert.True(t, a.NextRun().IsZero())
}

func TestScheduler_InvalidExpression(t *testing.T) {
	a := newWiredApp(t)

	a.Config.Schedule.Cron = "every monday"
	err := a.StartScheduler(context.Background())
	assert.ErrorIs(t, err, common.ErrConfigInvalid)

	a.Config.Schedule.Cron = "0 6 * * 1"
	a.Config.Schedule.Timezone = "Mars/Olympus"
	err = a.StartScheduler(context.Background())
	assert.ErrorIs(t, err, common.ErrConfigInvalid)
}
