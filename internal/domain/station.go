package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// StationRecord describes one observation site. ID is the opaque join key
// used everywhere downstream; Attrs carries whatever extra scalar attributes
// the network reported (name, region, elevation).
type StationRecord struct {
	ID        string            `json:"id"`
	Latitude  float64           `json:"latitude"`
	Longitude float64           `json:"longitude"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// StationRegistry is the join key authority: every stage that needs "all
// known stations" asks the registry, never infers the set from observed data.
type StationRegistry struct {
	byID map[string]StationRecord
	ids  []string
}

// NewStationRegistry builds a registry from network station records. A record
// with an empty id, a duplicate id, or a non-finite coordinate is rejected
// with an error naming the offending station and field.
func NewStationRegistry(records []StationRecord) (*StationRegistry, error) {
	byID := make(map[string]StationRecord, len(records))
	ids := make([]string, 0, len(records))

	for _, rec := range records {
		if rec.ID == "" {
			return nil, fmt.Errorf("station registry: record with empty id")
		}
		if _, dup := byID[rec.ID]; dup {
			return nil, fmt.Errorf("station registry: duplicate station id %q", rec.ID)
		}
		if !isFinite(rec.Latitude) {
			return nil, fmt.Errorf("station registry: station %q: latitude is not a finite number", rec.ID)
		}
		if !isFinite(rec.Longitude) {
			return nil, fmt.Errorf("station registry: station %q: longitude is not a finite number", rec.ID)
		}
		byID[rec.ID] = rec
		ids = append(ids, rec.ID)
	}

	SortStationIDs(ids)
	return &StationRegistry{byID: byID, ids: ids}, nil
}

// Get returns the record for id, reporting whether it exists.
func (r *StationRegistry) Get(id string) (StationRecord, bool) {
	rec, ok := r.byID[id]
	return rec, ok
}

// IDs returns the ordered station ids. Callers must not modify the slice.
func (r *StationRegistry) IDs() []string { return r.ids }

// Len returns the number of registered stations.
func (r *StationRegistry) Len() int { return len(r.ids) }

// SortStationIDs orders ids ascending: ids that parse as integers compare
// numerically and precede non-numeric ids, so "9" sorts before "10" and both
// before "A1". DMC ids are all numeric; the fallback keeps other networks
// deterministic.
func SortStationIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		ni, errI := strconv.Atoi(ids[i])
		nj, errJ := strconv.Atoi(ids[j])
		switch {
		case errI == nil && errJ == nil:
			if ni != nj {
				return ni < nj
			}
			return ids[i] < ids[j]
		case errI == nil:
			return true
		case errJ == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
