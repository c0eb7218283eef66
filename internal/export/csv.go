// Package export renders cycle history in tabular formats shared by the
// HTTP download and the cold-storage archive.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// CycleHeader is the column layout of WriteCycles.
var CycleHeader = []string{
	"id", "pair", "as_of", "median_mid", "spread_max_bps", "provisional_median",
	"accepted", "dropped", "failed", "messages",
}

// listSep joins multi-valued columns. Source ids never contain it.
const listSep = "|"

// WriteCycles writes a header row followed by one row per record. Absent
// numbers are written as empty cells.
func WriteCycles(w io.Writer, records []domain.CycleRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CycleHeader); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.ID,
			r.Pair,
			r.AsOf.UTC().Format(time.RFC3339Nano),
			optional(r.MedianMid),
			optional(r.SpreadMaxBps),
			optional(r.ProvisionalMedian),
			strings.Join(r.Accepted, listSep),
			strings.Join(r.Dropped, listSep),
			strings.Join(r.Failed, listSep),
			strings.Join(r.Messages, listSep),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: write cycle %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}

// ReadCycles parses output of WriteCycles.
func ReadCycles(r io.Reader) ([]domain.CycleRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(CycleHeader)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("export: read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	out := make([]domain.CycleRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		asOf, err := time.Parse(time.RFC3339Nano, row[2])
		if err != nil {
			return nil, fmt.Errorf("export: row %d as_of: %w", i+1, err)
		}
		rec := domain.CycleRecord{
			ID:       row[0],
			Pair:     row[1],
			AsOf:     asOf,
			Accepted: split(row[6]),
			Dropped:  split(row[7]),
			Failed:   split(row[8]),
			Messages: split(row[9]),
		}
		for j, dst := range []**float64{&rec.MedianMid, &rec.SpreadMaxBps, &rec.ProvisionalMedian} {
			if *dst, err = parseOptional(row[3+j]); err != nil {
				return nil, fmt.Errorf("export: row %d %s: %w", i+1, CycleHeader[3+j], err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func optional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseOptional(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func split(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, listSep)
}
