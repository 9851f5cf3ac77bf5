package domain

import (
	"math"
	"sort"
	"time"
)

// Grid is the terminal cross-station product: a dense (variable, time,
// station) block. Times is the sorted union of all contributing timestamps,
// Stations the ordered ids matched against the registry, Variables the sorted
// union of all column names. Each Values entry is exactly
// len(Times) x len(Stations) with NaN marking cells a station never observed.
// Latitude, Longitude, and Attrs are aligned one-to-one with Stations.
type Grid struct {
	Times     []time.Time
	Stations  []string
	Variables []string
	Values    map[string][][]float64
	Latitude  []float64
	Longitude []float64
	Attrs     map[string][]string
}

// BuildGrid unions per-station tables into one grid. Empty tables contribute
// nothing and are skipped; ids with no registry record are skipped and
// returned in dropped so the caller can report them. The shape guarantee
// holds for every input, including zero retained stations or timestamps.
func BuildGrid(tables map[string]Table, reg *StationRegistry, extraAttrs []string) (Grid, []string) {
	ids := make([]string, 0, len(tables))
	for id := range tables {
		ids = append(ids, id)
	}
	SortStationIDs(ids)

	var dropped []string
	stations := make([]string, 0, len(ids))
	records := make([]StationRecord, 0, len(ids))
	for _, id := range ids {
		if tables[id].Empty() {
			continue
		}
		rec, ok := reg.Get(id)
		if !ok {
			dropped = append(dropped, id)
			continue
		}
		stations = append(stations, id)
		records = append(records, rec)
	}

	timeSet := make(map[int64]time.Time)
	varSet := make(map[string]struct{})
	for _, id := range stations {
		t := tables[id]
		for _, row := range t.Rows() {
			timeSet[row.At.UnixNano()] = row.At
		}
		for _, c := range t.Columns() {
			varSet[c] = struct{}{}
		}
	}

	times := make([]time.Time, 0, len(timeSet))
	for _, at := range timeSet {
		times = append(times, at)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	variables := make([]string, 0, len(varSet))
	for v := range varSet {
		variables = append(variables, v)
	}
	sort.Strings(variables)

	g := Grid{
		Times:     times,
		Stations:  stations,
		Variables: variables,
		Values:    make(map[string][][]float64, len(variables)),
		Latitude:  make([]float64, len(stations)),
		Longitude: make([]float64, len(stations)),
		Attrs:     make(map[string][]string, len(extraAttrs)),
	}

	timePos := make(map[int64]int, len(times))
	for i, at := range times {
		timePos[at.UnixNano()] = i
	}

	for _, v := range variables {
		m := make([][]float64, len(times))
		for ti := range m {
			row := make([]float64, len(stations))
			for si := range row {
				row[si] = math.NaN()
			}
			m[ti] = row
		}
		g.Values[v] = m
	}

	for si, id := range stations {
		for _, row := range tables[id].Rows() {
			ti := timePos[row.At.UnixNano()]
			for name, val := range row.Values {
				g.Values[name][ti][si] = val
			}
		}
	}

	for si, rec := range records {
		g.Latitude[si] = rec.Latitude
		g.Longitude[si] = rec.Longitude
	}
	for _, attr := range extraAttrs {
		vals := make([]string, len(stations))
		for si, rec := range records {
			vals[si] = rec.Attrs[attr]
		}
		g.Attrs[attr] = vals
	}

	return g, dropped
}
