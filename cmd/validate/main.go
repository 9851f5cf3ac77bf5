// Command validate performs end-to-end integrity checks across a pipeline
// run's artifacts: the station catalog, the intermediate per-station tables,
// and the gridded output files. It verifies identifier uniqueness, time-axis
// ordering, value parseability, and cross-artifact consistency.
//
// Usage:
//
//	go run ./cmd/validate -data-dir data -nc observations.nc
//	go run ./cmd/validate -data-dir data -parquet observations.parquet
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	pq "github.com/parquet-go/parquet-go"

	"github.com/couchcryptid/obsgrid/internal/adapter/netcdf"
	"github.com/couchcryptid/obsgrid/internal/adapter/parquet"
	"github.com/couchcryptid/obsgrid/internal/domain"
	"github.com/couchcryptid/obsgrid/internal/store"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataDir := flag.String("data-dir", "", "directory holding stations.csv and per-station tables")
	ncPath := flag.String("nc", "", "gridded NetCDF output to check (optional)")
	parquetPath := flag.String("parquet", "", "gridded parquet output to check (optional)")
	timeField := flag.String("time-field", "momento", "time column name used when the tables were written")
	flag.Parse()

	if *dataDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*dataDir, *ncPath, *parquetPath, *timeField); code != 0 {
		os.Exit(code)
	}
}

func run(dataDir, ncPath, parquetPath, timeField string) int {
	fmt.Println("=== Observation Data Integrity Validation ===")
	fmt.Println()

	catalog, found, err := store.NewStore(dataDir, timeField, discardLogger()).LoadStations()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load station catalog: %v\n", err)
		return 1
	}
	if !found {
		fmt.Fprintf(os.Stderr, "FATAL: no stations.csv under %s (run with -save-intermediate first)\n", dataDir)
		return 1
	}

	phases := []*phase{
		validateCatalog(catalog),
		validateTables(dataDir, timeField, catalog),
	}

	var nc *netcdf.File
	if ncPath != "" {
		nc, err = netcdf.ReadFile(ncPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: read %s: %v\n", ncPath, err)
			return 1
		}
		phases = append(phases, validateGridFile(nc, catalog), validateCoordinates(nc, catalog))
	}
	if parquetPath != "" {
		rows, err := pq.ReadFile[parquet.Row](parquetPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: read %s: %v\n", parquetPath, err)
			return 1
		}
		phases = append(phases, validateLongRows(rows, catalog))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-46s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Station Catalog ──
// Every station needs a unique id and finite in-range coordinates.

func validateCatalog(catalog []domain.StationRecord) *phase {
	p := &phase{name: "Phase 1: Station Catalog"}
	fmt.Printf("catalog: %d stations\n", len(catalog))

	seen := make(map[string]bool, len(catalog))
	for _, rec := range catalog {
		if rec.ID == "" {
			p.errorf("station with empty id (lat %v, lon %v)", rec.Latitude, rec.Longitude)
			continue
		}
		if seen[rec.ID] {
			p.errorf("duplicate station id %s", rec.ID)
		}
		seen[rec.ID] = true

		if math.IsNaN(rec.Latitude) || rec.Latitude < -90 || rec.Latitude > 90 {
			p.errorf("station %s: latitude %v out of range", rec.ID, rec.Latitude)
		}
		if math.IsNaN(rec.Longitude) || rec.Longitude < -180 || rec.Longitude > 180 {
			p.errorf("station %s: longitude %v out of range", rec.ID, rec.Longitude)
		}
	}
	return p
}

// ── Phase 2: Intermediate Tables ──
// Each per-station CSV must belong to a cataloged station, carry the right
// time column, and hold unique ascending timestamps with parseable cells.

func validateTables(dataDir, timeField string, catalog []domain.StationRecord) *phase {
	p := &phase{name: "Phase 2: Intermediate Tables"}

	expected := make(map[string]string, len(catalog))
	for _, rec := range catalog {
		expected[tableFileName(rec.ID)] = rec.ID
	}

	paths, err := filepath.Glob(filepath.Join(dataDir, "*.csv"))
	if err != nil {
		p.errorf("glob %s: %v", dataDir, err)
		return p
	}

	tables := 0
	for _, path := range paths {
		base := filepath.Base(path)
		if base == "stations.csv" {
			continue
		}
		id, ok := expected[base]
		if !ok {
			p.errorf("%s: no cataloged station matches this table", base)
			continue
		}
		tables++
		checkTableFile(p, path, id, timeField)
	}
	fmt.Printf("tables: %d station files\n", tables)
	return p
}

func checkTableFile(p *phase, path, stationID, timeField string) {
	f, err := os.Open(path)
	if err != nil {
		p.errorf("%s: %v", filepath.Base(path), err)
		return
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		p.errorf("%s: %v", filepath.Base(path), err)
		return
	}
	if len(rows) == 0 {
		p.errorf("%s: empty file", filepath.Base(path))
		return
	}

	header := rows[0]
	if len(header) == 0 || header[0] != timeField {
		got := ""
		if len(header) > 0 {
			got = header[0]
		}
		p.errorf("station %s: first column is %q, want %q", stationID, got, timeField)
		return
	}

	var prev string
	for i, row := range rows[1:] {
		line := i + 2
		if len(row) != len(header) {
			p.errorf("station %s line %d: %d cells, header has %d", stationID, line, len(row), len(header))
			continue
		}
		if _, ok := domain.ParseObservationTime(row[0]); !ok {
			p.errorf("station %s line %d: unparseable timestamp %q", stationID, line, row[0])
			continue
		}
		// The canonical layout sorts lexicographically.
		if prev != "" && row[0] <= prev {
			p.errorf("station %s line %d: timestamp %q not after %q", stationID, line, row[0], prev)
		}
		prev = row[0]

		for j, cell := range row[1:] {
			if cell == "" {
				continue // missing value
			}
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				p.errorf("station %s line %d: column %s holds non-numeric %q", stationID, line, header[j+1], cell)
			}
		}
	}
}

// ── Phase 3: Gridded Output ──
// The NetCDF file must carry the coordinate variables, a strictly ascending
// record time axis, and per-variable slabs shaped time x station.

func validateGridFile(f *netcdf.File, catalog []domain.StationRecord) *phase {
	p := &phase{name: "Phase 3: Gridded Output (NetCDF)"}

	timeDim, ok := f.Dim("time")
	if !ok || timeDim.Size != 0 {
		p.errorf("time dimension missing or not the record dimension")
	}
	stationDim, ok := f.Dim("station")
	if !ok {
		p.errorf("station dimension missing")
		return p
	}
	fmt.Printf("output: %d time steps x %d stations\n", f.NumRecs, stationDim.Size)

	timeVar := f.Vars["time"]
	if timeVar == nil {
		p.errorf("time variable missing")
	} else {
		if len(timeVar.Doubles) != f.NumRecs {
			p.errorf("time axis has %d values, file has %d records", len(timeVar.Doubles), f.NumRecs)
		}
		for i := 1; i < len(timeVar.Doubles); i++ {
			if timeVar.Doubles[i] <= timeVar.Doubles[i-1] {
				p.errorf("time axis not strictly ascending at index %d", i)
				break
			}
		}
	}

	stationVar := f.Vars["station"]
	if stationVar == nil {
		p.errorf("station variable missing")
		return p
	}
	if len(stationVar.Chars) != stationDim.Size {
		p.errorf("station variable has %d ids, dimension says %d", len(stationVar.Chars), stationDim.Size)
	}

	known := make(map[string]bool, len(catalog))
	for _, rec := range catalog {
		known[rec.ID] = true
	}
	for _, id := range stationVar.Chars {
		if !known[id] {
			p.errorf("output station %s not in catalog", id)
		}
	}

	for name, v := range f.Vars {
		switch name {
		case "time", "station", "latitude", "longitude":
			continue
		}
		if !v.Record {
			continue // per-station attribute
		}
		if want := f.NumRecs * stationDim.Size; len(v.Doubles) != want {
			p.errorf("variable %s: %d values, want %d (time x station)", name, len(v.Doubles), want)
		}
	}
	return p
}

// ── Phase 4: Coordinate Alignment ──
// Output coordinates must match the catalog per station.

func validateCoordinates(f *netcdf.File, catalog []domain.StationRecord) *phase {
	p := &phase{name: "Phase 4: Coordinate Alignment"}

	byID := make(map[string]domain.StationRecord, len(catalog))
	for _, rec := range catalog {
		byID[rec.ID] = rec
	}

	stationVar, latVar, lonVar := f.Vars["station"], f.Vars["latitude"], f.Vars["longitude"]
	if stationVar == nil || latVar == nil || lonVar == nil {
		p.errorf("station, latitude, or longitude variable missing")
		return p
	}
	if len(latVar.Doubles) != len(stationVar.Chars) || len(lonVar.Doubles) != len(stationVar.Chars) {
		p.errorf("coordinate lengths (%d lat, %d lon) do not match %d stations",
			len(latVar.Doubles), len(lonVar.Doubles), len(stationVar.Chars))
		return p
	}

	for i, id := range stationVar.Chars {
		rec, ok := byID[id]
		if !ok {
			continue // already reported in phase 3
		}
		if math.Abs(latVar.Doubles[i]-rec.Latitude) > 1e-6 {
			p.errorf("station %s: output latitude %v, catalog %v", id, latVar.Doubles[i], rec.Latitude)
		}
		if math.Abs(lonVar.Doubles[i]-rec.Longitude) > 1e-6 {
			p.errorf("station %s: output longitude %v, catalog %v", id, lonVar.Doubles[i], rec.Longitude)
		}
	}
	return p
}

// ── Phase 5: Long-Format Output ──
// Parquet rows must reference cataloged stations, carry no NaN values, and
// stay time-major ordered.

func validateLongRows(rows []parquet.Row, catalog []domain.StationRecord) *phase {
	p := &phase{name: "Phase 5: Long-Format Output (parquet)"}
	fmt.Printf("output: %d long-format rows\n", len(rows))

	known := make(map[string]domain.StationRecord, len(catalog))
	for _, rec := range catalog {
		known[rec.ID] = rec
	}

	var prevTime int64
	for i, row := range rows {
		rec, ok := known[row.Station]
		if !ok {
			p.errorf("row %d: station %s not in catalog", i, row.Station)
			continue
		}
		if math.IsNaN(row.Value) {
			p.errorf("row %d: NaN value for %s/%s (missing cells must be omitted)", i, row.Station, row.Variable)
		}
		if row.Time < prevTime {
			p.errorf("row %d: time going backwards", i)
		}
		prevTime = row.Time

		if math.Abs(row.Latitude-rec.Latitude) > 1e-6 || math.Abs(row.Longitude-rec.Longitude) > 1e-6 {
			p.errorf("row %d: coordinates do not match catalog for station %s", i, row.Station)
		}
	}
	return p
}

func tableFileName(stationID string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return r.Replace(stationID) + ".csv"
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
