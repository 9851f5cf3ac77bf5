package domain

import (
	"fmt"
	"time"
)

// ObservationRecord is one raw observation as received from a network, after
// boundary normalization: a flat mapping from field name to scalar string
// value. One field holds the observation moment; the rest are measurements.
type ObservationRecord map[string]string

// RawBatch is the raw payload for one station and one fetched period.
// Missing marks a payload that could not be decoded; an empty Records slice
// means the network returned no data. The two are distinct terminal states
// and both are valid.
type RawBatch struct {
	StationID string
	Period    Period
	Records   []ObservationRecord
	Missing   bool
}

// Period identifies one fetchable span of observations: a calendar month.
type Period struct {
	Year  int
	Month time.Month
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// PeriodsBetween enumerates the calendar months covering [start, end],
// inclusive on both sides. An end before start yields no periods.
func PeriodsBetween(start, end time.Time) []Period {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return nil
	}
	start, end = start.UTC(), end.UTC()

	var periods []Period
	y, m := start.Year(), start.Month()
	for {
		periods = append(periods, Period{Year: y, Month: m})
		if y == end.Year() && m == end.Month() {
			return periods
		}
		m++
		if m > time.December {
			m = time.January
			y++
		}
	}
}
