// Command genmock generates DMC-shaped API fixtures: a station catalog and
// per-(station, month) observation payloads matching the getEstacionesRedEma
// and getDatosRecientesEma response bodies. A file server pointed at the
// output directory stands in for the DMC API during local development: map
// getDatosRecientesEma/{id}/{year}/{month} to datos_{id}_{year}_{month}.json
// and getEstacionesRedEma to stations.json.
//
// Usage:
//
//	go run ./cmd/genmock -out testdata/dmc \
//	  -stations 3 -months 2021-04,2021-05 -days 2 -interval 1h
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/obsgrid/internal/domain"
)

// knownStations seeds the catalog with real network ids and coordinates so
// fixtures look like live responses. Requests beyond this list wrap around
// with a numeric suffix.
var knownStations = []struct {
	id   int
	name string
	lat  float64
	lon  float64
}{
	{330020, "Quinta Normal, Santiago", -33.4450, -70.6828},
	{330021, "Pudahuel, Santiago", -33.3833, -70.7833},
	{340031, "General Freire, Curicó Ad.", -34.9664, -71.2164},
	{360011, "Carriel Sur, Concepción Ap.", -36.7725, -73.0542},
	{380013, "Maquehue, Temuco Ad.", -38.7667, -72.6371},
	{410005, "El Tepual, Puerto Montt Ap.", -41.4389, -73.0939},
	{520006, "Pdte. Carlos Ibáñez, Punta Arenas", -53.0026, -70.8472},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.String("out", "", "output directory for fixture files")
	stationCount := flag.Int("stations", 3, "number of stations to generate")
	monthsFlag := flag.String("months", "2021-04", "comma-separated observation months (2006-01)")
	days := flag.Int("days", 2, "days of observations per month")
	interval := flag.Duration("interval", time.Hour, "spacing between observations")
	seed := flag.Int64("seed", 1, "generator seed; same seed, same fixtures")
	flag.Parse()

	if *outDir == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	periods, err := parseMonths(*monthsFlag)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(*seed))
	stations := makeStations(*stationCount)

	if err := writeJSON(filepath.Join(*outDir, "stations.json"), map[string]any{
		"datosEstacion": stations,
	}); err != nil {
		return fmt.Errorf("writing station catalog: %w", err)
	}
	log.Printf("wrote station catalog: %d stations", len(stations))

	total := 0
	for _, st := range stations {
		id := fmt.Sprint(st["codigoNacional"])
		for _, p := range periods {
			records := makeRecords(id, st["latitud"].(string), p, *days, *interval, rng)
			name := fmt.Sprintf("datos_%s_%d_%d.json", id, p.Year, int(p.Month))
			payload := map[string]any{
				"datosEstaciones": map[string]any{"datos": records},
			}
			if err := writeJSON(filepath.Join(*outDir, name), payload); err != nil {
				return fmt.Errorf("writing %s: %w", name, err)
			}
			total += len(records)
		}
	}

	log.Printf("wrote %d observation records across %d stations x %d months", total, len(stations), len(periods))
	return nil
}

// makeStations mirrors the live catalog's loose typing: the national code is
// a JSON number while coordinates arrive as strings.
func makeStations(n int) []map[string]any {
	stations := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		base := knownStations[i%len(knownStations)]
		id := base.id + 100000*(i/len(knownStations))
		name := base.name
		if i >= len(knownStations) {
			name = fmt.Sprintf("%s %d", base.name, i/len(knownStations)+1)
		}
		stations = append(stations, map[string]any{
			"codigoNacional": id,
			"nombreEstacion": name,
			"latitud":        fmt.Sprintf("%.4f", base.lat),
			"longitud":       fmt.Sprintf("%.4f", base.lon),
			"altura":         50 + 10*i,
		})
	}
	return stations
}

// makeRecords emits one month's observations: a smooth daily temperature
// curve with jitter, humidity as the string-typed valor variant, and the
// occasional unmeasurable reading ("S/N") or absent group so downstream
// coercion paths get exercised.
func makeRecords(id, lat string, p domain.Period, days int, interval time.Duration, rng *rand.Rand) []map[string]any {
	start := time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, days)

	latitude := domain.ToFloat(lat)
	baseTemp := 20 + latitude/2 // colder toward the far south

	var records []map[string]any
	for i, at := 0, start; at.Before(end); i, at = i+1, at.Add(interval) {
		hour := float64(at.Hour()) + float64(at.Minute())/60
		temp := baseTemp + 6*math.Sin(2*math.Pi*(hour-9)/24) + rng.Float64()
		hum := 65 - 20*math.Sin(2*math.Pi*(hour-9)/24) + 5*rng.Float64()

		rec := map[string]any{
			"momento":  at.Format("2006-01-02 15:04:05"),
			"estacion": map[string]any{"codigoNacional": id},
			"temperatura": map[string]any{
				"valor":  math.Round(temp*10) / 10,
				"unidad": "°C",
			},
			"humedadRelativa": map[string]any{
				"valor":  fmt.Sprintf("%.1f", hum),
				"unidad": "%",
			},
			"vientoPromedio": map[string]any{
				"velocidad": math.Round(rng.Float64()*120) / 10,
				"direccion": rng.Intn(360),
			},
		}

		if i%13 == 12 {
			rec["temperatura"] = map[string]any{"valor": "S/N", "unidad": "°C"}
		}
		if i%17 == 16 {
			delete(rec, "humedadRelativa")
		}
		records = append(records, rec)
	}
	return records
}

func parseMonths(s string) ([]domain.Period, error) {
	var periods []domain.Period
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := time.Parse("2006-01", part)
		if err != nil {
			return nil, fmt.Errorf("bad month %q (want 2006-01)", part)
		}
		periods = append(periods, domain.Period{Year: t.Year(), Month: t.Month()})
	}
	if len(periods) == 0 {
		return nil, fmt.Errorf("no months given")
	}
	return periods, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}
