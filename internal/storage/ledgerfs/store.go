// Package ledgerfs stores the virtual ledger as plain files: a positions.json
// record plus append-only nav.csv and trades.csv logs.
package ledgerfs

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/storage/filekv"
)

const (
	PositionsFile = "positions.json"
	NavFile       = "nav.csv"
	TradesFile    = "trades.csv"
)

var (
	navHeader   = []string{"date", "nav", "cash", "value", "benchmark"}
	tradeHeader = []string{"date", "symbol", "qty", "price", "value", "reason"}
)

// Store is a file-backed LedgerStore.
type Store struct {
	dir    string
	logger *common.Logger
}

// NewStore creates the ledger directory.
func NewStore(logger *common.Logger, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the ledger directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Exists(_ context.Context) (bool, error) {
	for _, name := range []string{PositionsFile, NavFile} {
		_, err := os.Stat(filepath.Join(s.dir, name))
		if err == nil {
			return true, nil
		}
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("failed to stat %s: %w", name, err)
		}
	}
	return false, nil
}

func (s *Store) LoadPositions(_ context.Context) (models.Positions, error) {
	positions := models.Positions{}
	err := filekv.ReadJSON(filepath.Join(s.dir, PositionsFile), &positions)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return models.Positions{}, nil
		}
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	return positions, nil
}

func (s *Store) SavePositions(_ context.Context, positions models.Positions) error {
	if positions == nil {
		positions = models.Positions{}
	}
	if err := filekv.WriteJSONAtomic(filepath.Join(s.dir, PositionsFile), positions); err != nil {
		return fmt.Errorf("failed to save positions: %w", err)
	}
	return nil
}

func (s *Store) AppendTrades(_ context.Context, trades []models.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, []string{
			t.Date, t.Symbol, formatNumber(t.DeltaQty), formatNumber(t.Price), formatNumber(t.Value), t.Reason,
		})
	}
	return appendRows(filepath.Join(s.dir, TradesFile), tradeHeader, rows)
}

func (s *Store) Trades(_ context.Context) ([]models.TradeRecord, error) {
	rows, _, err := s.readRows(TradesFile, len(tradeHeader))
	if err != nil {
		return nil, err
	}
	trades := make([]models.TradeRecord, 0, len(rows))
	for _, r := range rows {
		nums, err := parseNumbers(r[2], r[3], r[4])
		if err != nil {
			s.logger.Warn().Err(err).Strs("row", r).Msg("Malformed trade row skipped")
			continue
		}
		trades = append(trades, models.TradeRecord{
			Date: r[0], Symbol: r[1], DeltaQty: nums[0], Price: nums[1], Value: nums[2], Reason: r[5],
		})
	}
	return trades, nil
}

func (s *Store) AppendNav(_ context.Context, row models.NavRecord) error {
	return appendRows(filepath.Join(s.dir, NavFile), navHeader, [][]string{{
		row.Date, formatNumber(row.NAV), formatNumber(row.Cash), formatNumber(row.Value), formatNumber(row.Benchmark),
	}})
}

// NavHistory returns the parseable NAV rows. Malformed rows are logged and skipped.
func (s *Store) NavHistory(_ context.Context) ([]models.NavRecord, error) {
	history, tailErr, err := s.navRecords()
	if err != nil {
		return nil, err
	}
	if tailErr != nil {
		s.logger.Warn().Err(tailErr).Str("file", NavFile).Msg("Last NAV row is malformed")
	}
	return history, nil
}

// LastNav returns the final NAV row. The ledger's cash comes from it, so a malformed
// final row is an error rather than a silent fallback to the row before it.
func (s *Store) LastNav(_ context.Context) (*models.NavRecord, error) {
	history, tailErr, err := s.navRecords()
	if err != nil {
		return nil, err
	}
	if tailErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrLedgerInconsistent, NavFile, tailErr)
	}
	if len(history) == 0 {
		return nil, nil
	}
	last := history[len(history)-1]
	return &last, nil
}

// navRecords parses nav.csv. tailErr describes the last line when it could not be read.
func (s *Store) navRecords() (history []models.NavRecord, tailErr error, err error) {
	rows, tailErr, err := s.readRows(NavFile, len(navHeader))
	if err != nil {
		return nil, nil, err
	}
	history = make([]models.NavRecord, 0, len(rows))
	for i, r := range rows {
		nums, perr := parseNumbers(r[1], r[2], r[3], r[4])
		if perr != nil {
			if i == len(rows)-1 && tailErr == nil {
				tailErr = fmt.Errorf("row %v: %w", r, perr)
			} else {
				s.logger.Warn().Err(perr).Strs("row", r).Msg("Malformed NAV row skipped")
			}
			continue
		}
		history = append(history, models.NavRecord{
			Date: r[0], NAV: nums[0], Cash: nums[1], Value: nums[2], Benchmark: nums[3],
		})
	}
	return history, tailErr, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// readRows returns the data rows of a CSV log. Rows with the wrong column count are
// logged and dropped so one bad line does not poison the history. tailErr is set when
// the last line of the file is one of them.
func (s *Store) readRows(name string, width int) (rows [][]string, tailErr error, err error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	first := true
	for {
		rec, rerr := r.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			s.logger.Warn().Err(rerr).Str("file", name).Msg("Unreadable CSV line skipped")
			tailErr = rerr
			continue
		}
		if first {
			first = false
			if len(rec) > 0 && rec[0] == "date" {
				continue
			}
		}
		if len(rec) != width {
			s.logger.Warn().Str("file", name).Strs("row", rec).Int("expected_columns", width).
				Msg("Malformed CSV row skipped")
			tailErr = fmt.Errorf("row %v has %d columns, want %d", rec, len(rec), width)
			continue
		}
		tailErr = nil
		rows = append(rows, rec)
	}
	return rows, tailErr, nil
}

func appendRows(path string, header []string, rows [][]string) error {
	info, err := os.Stat(path)
	needHeader := os.IsNotExist(err) || (err == nil && info.Size() == 0)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if needHeader {
		if err := w.Write(header); err != nil {
			f.Close()
			return fmt.Errorf("failed to write header to %s: %w", path, err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return f.Close()
}

// formatNumber writes the shortest decimal that parses back to the same float64.
func formatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return decimal.NewFromFloat(v).String()
}

func parseNumbers(fields ...string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		d, err := decimal.NewFromString(f)
		if err != nil {
			return nil, fmt.Errorf("bad number %q: %w", f, err)
		}
		out[i] = d.InexactFloat64()
	}
	return out, nil
}
