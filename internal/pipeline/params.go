package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/obsgrid/internal/domain"
)

// Params selects what one run fetches and what it produces. Start and End
// bound the fetch window and, after resampling, the output time axis,
// inclusive on both sides. TimeField names the observation-moment field in
// raw records and is required.
type Params struct {
	Start      time.Time
	End        time.Time
	Resolution domain.Resolution
	TimeField  string

	// ExtraAttrs lists station attributes carried into the output beyond
	// the identifying coordinates, e.g. the human-readable station name.
	ExtraAttrs []string

	// Merge folds previously stored per-station tables under the freshly
	// fetched ones before gridding.
	Merge bool

	// SaveIntermediate persists the station catalog and the per-station
	// tables so later runs can merge against them.
	SaveIntermediate bool

	// OutputPath is where the gridded dataset is encoded. Empty skips
	// encoding, which is useful for ingest-only runs.
	OutputPath string
}

func (p Params) validate() error {
	if p.TimeField == "" {
		return errors.New("params: time field is required")
	}
	if p.Start.IsZero() || p.End.IsZero() {
		return errors.New("params: start and end are required")
	}
	if p.End.Before(p.Start) {
		return fmt.Errorf("params: end %s is before start %s",
			p.End.Format(time.RFC3339), p.Start.Format(time.RFC3339))
	}
	return nil
}

// Summary reports what one run did. It is returned even when the run fails,
// populated up to the stage that failed.
type Summary struct {
	RunID    string `json:"run_id"`
	Stations int    `json:"stations"`
	Targets  int    `json:"targets"`

	PayloadsMissing int `json:"payloads_missing"`
	PayloadsEmpty   int `json:"payloads_empty"`
	RowsKept        int `json:"rows_kept"`
	RowsDropped     int `json:"rows_dropped"`
	RowsPublished   int `json:"rows_published"`

	StationsGridded int      `json:"stations_gridded"`
	StationsDropped []string `json:"stations_dropped,omitempty"`
	TimeSteps       int      `json:"time_steps"`
	Variables       int      `json:"variables"`

	OutputPath string        `json:"output_path,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}
