package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrTimeFieldMissing reports that the configured timestamp field name was
// absent, as a key, from every record seen. That is caller misconfiguration
// (the wrong field name for this network), distinct from records whose
// timestamp values merely failed to parse.
var ErrTimeFieldMissing = errors.New("time field missing from every record")

// observationTimeLayouts are tried in order; all except RFC 3339 are
// interpreted as UTC.
var observationTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseObservationTime parses a raw timestamp value, reporting whether any
// accepted layout matched. Results are normalized to UTC.
func ParseObservationTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range observationTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func sanitizeColumn(name string) string {
	return strings.ReplaceAll(name, "/", "|")
}

// Row is one canonical observation row: a moment plus its measurement values.
// NaN values mean the raw field held nothing numeric.
type Row struct {
	At     time.Time
	Values map[string]float64
}

// Table is the canonical per-station table: rows unique and ascending by
// timestamp, columns the sorted union of row value names. Tables are derived,
// never edited in place; all methods treat the receiver as immutable.
type Table struct {
	rows    []Row
	index   map[int64]int
	columns []string
}

// NewTable builds a table from rows, deduplicating by timestamp with the
// later occurrence winning, then sorting ascending. Row times are normalized
// to UTC.
func NewTable(rows []Row) Table {
	byTime := make(map[int64]Row, len(rows))
	for _, r := range rows {
		r.At = r.At.UTC()
		byTime[r.At.UnixNano()] = r
	}

	keys := make([]int64, 0, len(byTime))
	for k := range byTime {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	t := Table{
		rows:  make([]Row, 0, len(keys)),
		index: make(map[int64]int, len(keys)),
	}
	colSet := make(map[string]struct{})
	for i, k := range keys {
		row := byTime[k]
		t.rows = append(t.rows, row)
		t.index[k] = i
		for c := range row.Values {
			colSet[c] = struct{}{}
		}
	}
	t.columns = make([]string, 0, len(colSet))
	for c := range colSet {
		t.columns = append(t.columns, c)
	}
	sort.Strings(t.columns)
	return t
}

// BuildStats summarizes one station's raw-to-intermediate fold for run
// diagnostics.
type BuildStats struct {
	RowsKept       int
	RowsDropped    int // discarded for a missing or unparseable timestamp
	EmptyBatches   int
	MissingBatches int
}

// BuildTable folds one station's ordered raw batches into a canonical table.
// Missing and empty batches are counted and skipped. Per record, the
// timeField value becomes the row timestamp and every other field is coerced
// with ToFloat under a sanitized column name; rows without a parseable
// timestamp are dropped. If timeField was absent as a key from every record,
// BuildTable fails with ErrTimeFieldMissing.
func BuildTable(batches []RawBatch, timeField string) (Table, BuildStats, error) {
	var (
		stats     BuildStats
		rows      []Row
		sawRecord bool
		sawField  bool
	)

	for _, b := range batches {
		if b.Missing {
			stats.MissingBatches++
			continue
		}
		if len(b.Records) == 0 {
			stats.EmptyBatches++
			continue
		}
		for _, rec := range b.Records {
			sawRecord = true
			raw, ok := rec[timeField]
			if ok {
				sawField = true
			}
			at, parsed := ParseObservationTime(raw)
			if !ok || !parsed {
				stats.RowsDropped++
				continue
			}

			values := make(map[string]float64, len(rec)-1)
			for name, v := range rec {
				if name == timeField {
					continue
				}
				values[sanitizeColumn(name)] = ToFloat(v)
			}
			rows = append(rows, Row{At: at, Values: values})
		}
	}

	if sawRecord && !sawField {
		return Table{}, stats, fmt.Errorf("%w: %q", ErrTimeFieldMissing, timeField)
	}

	t := NewTable(rows)
	stats.RowsKept = t.Len()
	return t, stats, nil
}

// Merge returns a derived table holding the rows of t and newer, with newer's
// row winning whenever both contain the same timestamp. Old rows are
// concatenated before new rows, so dedup order does the right thing.
func (t Table) Merge(newer Table) Table {
	combined := make([]Row, 0, len(t.rows)+len(newer.rows))
	combined = append(combined, t.rows...)
	combined = append(combined, newer.rows...)
	return NewTable(combined)
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.rows) }

// Empty reports whether the table has no rows.
func (t Table) Empty() bool { return len(t.rows) == 0 }

// Rows returns the ascending rows. Callers must not modify the slice.
func (t Table) Rows() []Row { return t.rows }

// Columns returns the sorted column names. Callers must not modify the slice.
func (t Table) Columns() []string { return t.columns }

// Times returns the ascending timestamps as a fresh slice.
func (t Table) Times() []time.Time {
	times := make([]time.Time, len(t.rows))
	for i, r := range t.rows {
		times[i] = r.At
	}
	return times
}

// Value returns the cell at (at, column), reporting whether the row exists
// and carries that column. A stored NaN is returned as NaN with ok true.
func (t Table) Value(at time.Time, column string) (float64, bool) {
	i, ok := t.index[at.UTC().UnixNano()]
	if !ok {
		return 0, false
	}
	v, ok := t.rows[i].Values[column]
	return v, ok
}
