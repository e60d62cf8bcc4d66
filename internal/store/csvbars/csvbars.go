// Package csvbars reads bar series from CSV files and exports trade logs.
//
// Bar files carry a header row naming at least time, open, high, low, close
// and volume, in any order. Times are RFC 3339 strings or unix milliseconds.
package csvbars

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"scalper/internal/model"
)

var barColumns = []string{"time", "open", "high", "low", "close", "volume"}

// Load reads the bar file at path.
func Load(path string) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses bars from r. Rows are returned in file order; ordering is
// checked later by model.ValidateSeries.
func Read(r io.Reader) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("csvbars: read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := make([]int, len(barColumns))
	for i, name := range barColumns {
		j, ok := col[name]
		if !ok {
			return nil, fmt.Errorf("csvbars: missing column %q", name)
		}
		idx[i] = j
	}

	var bars []model.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvbars: line %d: %w", line, err)
		}
		b, err := parseBar(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("csvbars: line %d: %w", line, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseBar(rec []string, idx []int) (model.Bar, error) {
	var b model.Bar
	ts, err := parseTime(rec[idx[0]])
	if err != nil {
		return b, err
	}
	b.Time = ts
	for i, dst := range []*float64{&b.Open, &b.High, &b.Low, &b.Close, &b.Volume} {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx[i+1]]), 64)
		if err != nil {
			return b, fmt.Errorf("%s: %w", barColumns[i+1], err)
		}
		*dst = v
	}
	return b, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q: want RFC 3339 or unix milliseconds", s)
	}
	return t.UTC(), nil
}

// WriteBars writes bars in the format Read accepts.
func WriteBars(w io.Writer, bars []model.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(barColumns); err != nil {
		return err
	}
	for _, b := range bars {
		if err := cw.Write([]string{
			b.Time.UTC().Format(time.RFC3339),
			formatF(b.Open), formatF(b.High), formatF(b.Low), formatF(b.Close), formatF(b.Volume),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTrades exports a trade log.
func WriteTrades(w io.Writer, trades []model.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"side", "entry_time", "entry_price", "exit_time", "exit_price",
		"exit_reason", "qty", "pnl", "fees", "bar_index",
	}); err != nil {
		return err
	}
	for _, t := range trades {
		if err := cw.Write([]string{
			string(t.Side),
			t.EntryTime.UTC().Format(time.RFC3339), formatF(t.EntryPrice),
			t.ExitTime.UTC().Format(time.RFC3339), formatF(t.ExitPrice),
			string(t.ExitReason), formatF(t.Quantity), formatF(t.PnL), formatF(t.Fees),
			strconv.Itoa(t.BarIndex),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveTrades writes the trade log to path.
func SaveTrades(path string, trades []model.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTrades(f, trades); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
