// Package store persists intermediate pipeline state as CSV files under one
// data directory: a table per station plus a single station catalog.
//
// The store supports a single writer. Successive runs combine state through
// the pipeline's merge step; concurrent writers to the same directory are
// not supported.
package store

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/couchcryptid/obsgrid/internal/domain"
)

const (
	stationsFile = "stations.csv"
	timeLayout   = "2006-01-02 15:04:05"
)

// Station catalog column defaults, matching the DMC feed's field names.
const (
	defaultIDColumn  = "codigoNacional"
	defaultLatColumn = "latitud"
	defaultLonColumn = "longitud"
)

// Store reads and writes per-station intermediate tables and the station
// catalog under dataDir.
type Store struct {
	dataDir   string
	timeField string
	idColumn  string
	latColumn string
	lonColumn string
	logger    *slog.Logger
}

// Option adjusts store behavior.
type Option func(*Store)

// WithStationColumns overrides the station catalog's id, latitude, and
// longitude column names.
func WithStationColumns(id, lat, lon string) Option {
	return func(s *Store) {
		s.idColumn, s.latColumn, s.lonColumn = id, lat, lon
	}
}

// NewStore creates a store rooted at dataDir. timeField names the timestamp
// column written to and expected from per-station tables.
func NewStore(dataDir, timeField string, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		dataDir:   dataDir,
		timeField: timeField,
		idColumn:  defaultIDColumn,
		latColumn: defaultLatColumn,
		lonColumn: defaultLonColumn,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save writes one station's table, replacing any previous file atomically.
// NaN cells persist as empty so the files stay readable by spreadsheet tools.
func (s *Store) Save(stationID string, t domain.Table) error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	columns := t.Columns()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := append([]string{s.timeField}, columns...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(header))
	for _, row := range t.Rows() {
		record[0] = row.At.UTC().Format(timeLayout)
		for i, col := range columns {
			v, ok := row.Values[col]
			if !ok {
				v = math.NaN()
			}
			record[i+1] = formatCell(v)
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush table %s: %w", stationID, err)
	}

	if err := writeFileAtomic(s.tablePath(stationID), buf.Bytes()); err != nil {
		return fmt.Errorf("save table %s: %w", stationID, err)
	}

	s.logger.Debug("table saved", slog.String("station", stationID), slog.Int("rows", t.Len()))
	return nil
}

// Load reads one station's previously saved table. A missing file is the
// normal first-run condition and reports found=false with no error.
func (s *Store) Load(stationID string) (domain.Table, bool, error) {
	path := s.tablePath(stationID)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.Table{}, false, nil
	}
	if err != nil {
		return domain.Table{}, false, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return domain.NewTable(nil), true, nil
	}
	if err != nil {
		return domain.Table{}, false, fmt.Errorf("read header %s: %w", path, err)
	}

	timeIdx := -1
	for i, name := range header {
		if name == s.timeField {
			timeIdx = i
			break
		}
	}
	if timeIdx < 0 {
		return domain.Table{}, false, fmt.Errorf("table %s: %w: %q", path, domain.ErrTimeFieldMissing, s.timeField)
	}

	var rows []domain.Row
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Table{}, false, fmt.Errorf("read table %s: %w", path, err)
		}

		at, ok := domain.ParseObservationTime(record[timeIdx])
		if !ok {
			return domain.Table{}, false, fmt.Errorf("table %s: bad timestamp %q", path, record[timeIdx])
		}
		values := make(map[string]float64, len(record)-1)
		for i, cell := range record {
			if i == timeIdx {
				continue
			}
			values[header[i]] = parseCell(cell)
		}
		rows = append(rows, domain.Row{At: at, Values: values})
	}

	return domain.NewTable(rows), true, nil
}

// SaveStations writes the station catalog: the id, latitude, and longitude
// columns followed by the sorted union of extra attribute columns.
func (s *Store) SaveStations(records []domain.StationRecord) error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	attrSet := make(map[string]struct{})
	for _, rec := range records {
		for name := range rec.Attrs {
			attrSet[name] = struct{}{}
		}
	}
	attrs := make([]string, 0, len(attrSet))
	for name := range attrSet {
		attrs = append(attrs, name)
	}
	sort.Strings(attrs)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := append([]string{s.idColumn, s.latColumn, s.lonColumn}, attrs...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(header))
	for _, rec := range records {
		record[0] = rec.ID
		record[1] = strconv.FormatFloat(rec.Latitude, 'g', -1, 64)
		record[2] = strconv.FormatFloat(rec.Longitude, 'g', -1, 64)
		for i, name := range attrs {
			record[i+3] = rec.Attrs[name]
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write station %s: %w", rec.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush stations: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(s.dataDir, stationsFile), buf.Bytes()); err != nil {
		return fmt.Errorf("save stations: %w", err)
	}

	s.logger.Debug("station catalog saved", slog.Int("stations", len(records)))
	return nil
}

// LoadStations reads the station catalog back. A missing file reports
// found=false with no error.
func (s *Store) LoadStations() ([]domain.StationRecord, bool, error) {
	path := filepath.Join(s.dataDir, stationsFile)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open stations: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read stations header: %w", err)
	}

	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[name] = i
	}
	for _, required := range []string{s.idColumn, s.latColumn, s.lonColumn} {
		if _, ok := colIdx[required]; !ok {
			return nil, false, fmt.Errorf("stations file %s has no %q column", path, required)
		}
	}

	var records []domain.StationRecord
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("read stations: %w", err)
		}

		rec := domain.StationRecord{
			ID:        record[colIdx[s.idColumn]],
			Latitude:  parseCell(record[colIdx[s.latColumn]]),
			Longitude: parseCell(record[colIdx[s.lonColumn]]),
			Attrs:     make(map[string]string),
		}
		for i, name := range header {
			if name == s.idColumn || name == s.latColumn || name == s.lonColumn {
				continue
			}
			if record[i] != "" {
				rec.Attrs[name] = record[i]
			}
		}
		records = append(records, rec)
	}

	return records, true, nil
}

func (s *Store) tablePath(stationID string) string {
	return filepath.Join(s.dataDir, fileName(stationID)+".csv")
}

// fileName derives a safe file stem from a station id.
func fileName(stationID string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, stationID)
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseCell(cell string) float64 {
	if cell == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return domain.ToFloat(cell)
	}
	return v
}

// writeFileAtomic writes data to path via a .tmp intermediate file so readers
// never observe a half-written table.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
