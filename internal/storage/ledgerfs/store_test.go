package ledgerfs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(common.NewSilentLogger(), filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	return s
}

func TestEmptyLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exists, err := s.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	positions, err := s.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	last, err := s.LastNav(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestPositionsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePositions(ctx, models.Positions{"MC.PA": 6, "OR.PA": 8.123456789}))
	exists, err := s.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := s.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Positions{"MC.PA": 6, "OR.PA": 8.123456789}, got)
}

func TestNavAppendWritesHeaderOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendNav(ctx, models.NavRecord{Date: "2024-01-01", NAV: 10000, Cash: 10000, Benchmark: 100}))
	require.NoError(t, s.AppendNav(ctx, models.NavRecord{Date: "2024-01-08", NAV: 10050.5, Cash: 1.0 / 3, Value: 10050.5 - 1.0/3, Benchmark: 101.2}))

	raw, err := os.ReadFile(filepath.Join(s.Dir(), NavFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "date,nav,cash,value,benchmark", lines[0])
	assert.Equal(t, "2024-01-01,10000,10000,0,100", lines[1])

	history, err := s.NavHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// full precision survives the CSV round trip
	assert.Equal(t, 1.0/3, history[1].Cash)

	last, err := s.LastNav(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-08", last.Date)
}

func TestTradesAppendAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendTrades(ctx, nil))
	require.NoError(t, s.AppendTrades(ctx, []models.TradeRecord{
		{Date: "2024-01-08", Symbol: "A", DeltaQty: 6, Price: 100, Value: 600, Reason: models.ReasonRebalance},
		{Date: "2024-01-08", Symbol: "B", DeltaQty: -2.5, Price: 50, Value: -125, Reason: models.ReasonLiquidate},
	}))

	raw, err := os.ReadFile(filepath.Join(s.Dir(), TradesFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "date,symbol,qty,price,value,reason\n"))

	trades, err := s.Trades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, -2.5, trades[1].DeltaQty)
	assert.Equal(t, models.ReasonLiquidate, trades[1].Reason)
}

func TestMalformedRowsAreSkipped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := "date,nav,cash,value,benchmark\n" +
		"2024-01-01,10000,10000,0,100\n" +
		"2024-01-08,oops,1,2,3\n" +
		"2024-01-15,1,2\n" +
		"2024-01-22,10100,100,10000,102\n"
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), NavFile), []byte(content), 0644))

	history, err := s.NavHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2024-01-22", history[1].Date)
}

func TestTruncatedLastNavRowIsInconsistent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendNav(ctx, models.NavRecord{Date: "2024-01-01", NAV: 10000, Cash: 10000, Benchmark: 100}))
	f, err := os.OpenFile(filepath.Join(s.Dir(), NavFile), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("2024-01-08,10000,12.5")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	last, err := s.LastNav(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrLedgerInconsistent)
	assert.Nil(t, last)

	// the readable history stays available to consumers
	history, err := s.NavHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "2024-01-01", history[0].Date)
}

func TestUnparseableLastNavRowIsInconsistent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := "date,nav,cash,value,benchmark\n" +
		"2024-01-01,10000,10000,0,100\n" +
		"2024-01-08,10100,oops,10000,102\n"
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), NavFile), []byte(content), 0644))

	_, err := s.LastNav(ctx)
	assert.ErrorIs(t, err, common.ErrLedgerInconsistent)
}

func TestMalformedMiddleRowDoesNotBlockLastNav(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := "date,nav,cash,value,benchmark\n" +
		"2024-01-01,10000,10000,0,100\n" +
		"2024-01-08,1,2\n" +
		"2024-01-15,10100,100,10000,102\n"
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), NavFile), []byte(content), 0644))

	last, err := s.LastNav(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "2024-01-15", last.Date)
	assert.Equal(t, 100.0, last.Cash)
}
