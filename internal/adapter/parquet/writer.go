// Package parquet exports a gridded dataset in sparse long format: one row
// per (station, time, variable) cell that holds a value, with station
// coordinates denormalized onto every row so the file stands alone in
// analysis tools.
package parquet

import (
	"fmt"
	"math"
	"os"

	pq "github.com/parquet-go/parquet-go"

	"github.com/couchcryptid/obsgrid/internal/domain"
)

// Row is one long-format cell. Time is unix seconds UTC.
type Row struct {
	Station   string  `parquet:"station"`
	Time      int64   `parquet:"time"`
	Variable  string  `parquet:"variable"`
	Value     float64 `parquet:"value"`
	Latitude  float64 `parquet:"latitude"`
	Longitude float64 `parquet:"longitude"`
}

// Rows flattens g time-major, then station, then variable. NaN cells are
// skipped; the long format carries only observed values.
func Rows(g domain.Grid) []Row {
	var rows []Row
	for ti, at := range g.Times {
		for si, station := range g.Stations {
			for _, name := range g.Variables {
				v := g.Values[name][ti][si]
				if math.IsNaN(v) {
					continue
				}
				rows = append(rows, Row{
					Station:   station,
					Time:      at.Unix(),
					Variable:  name,
					Value:     v,
					Latitude:  g.Latitude[si],
					Longitude: g.Longitude[si],
				})
			}
		}
	}
	return rows
}

// Encoder writes grids as long-format parquet files.
type Encoder struct{}

// NewEncoder creates a parquet encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode writes g to path, atomically via a .tmp intermediate file. The run
// id is ignored: long-format rows carry no file-level metadata.
func (e *Encoder) Encode(path string, g domain.Grid, _ string) error {
	if err := writeRows(path, Rows(g)); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	return nil
}

func writeRows(path string, rows []Row) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := pq.NewGenericWriter[Row](f)
	if _, err := w.Write(rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
