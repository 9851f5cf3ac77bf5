package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Resolution names a resampling granularity for the gridded dataset.
type Resolution string

const (
	ResolutionNative Resolution = "native"
	ResolutionHour   Resolution = "hour"
	ResolutionDay    Resolution = "day"
	ResolutionMonth  Resolution = "month"
	ResolutionYear   Resolution = "year"
)

// ParseResolution maps a user-supplied resolution name to a Resolution.
// Full names, "-ly" forms, and single letters are accepted, case-insensitive
// (hour/hourly/h, day/daily/d, month/monthly/m, year/yearly/y, native/n).
// Anything else is a configuration error naming the value, never a silent
// default.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "native", "n":
		return ResolutionNative, nil
	case "hour", "hourly", "h":
		return ResolutionHour, nil
	case "day", "daily", "d":
		return ResolutionDay, nil
	case "month", "monthly", "m":
		return ResolutionMonth, nil
	case "year", "yearly", "y":
		return ResolutionYear, nil
	default:
		return "", fmt.Errorf("unrecognized resolution %q (want hour, day, month, year, or native)", s)
	}
}

// Resample returns a derived grid aggregated to res: the time axis is grouped
// into fixed windows by truncation and each variable is averaged per station
// within a window, ignoring NaN. A window with no observed values stays NaN,
// never zero. ResolutionNative is the identity and returns the receiver
// unchanged.
func (g Grid) Resample(res Resolution) Grid {
	if res == ResolutionNative {
		return g
	}

	buckets := make([]time.Time, 0, len(g.Times))
	pos := make(map[int64]int, len(g.Times))
	for _, at := range g.Times {
		b := truncateTime(at, res)
		k := b.UnixNano()
		if _, ok := pos[k]; !ok {
			pos[k] = len(buckets)
			buckets = append(buckets, b)
		}
	}

	out := Grid{
		Times:     buckets,
		Stations:  g.Stations,
		Variables: g.Variables,
		Values:    make(map[string][][]float64, len(g.Variables)),
		Latitude:  g.Latitude,
		Longitude: g.Longitude,
		Attrs:     g.Attrs,
	}

	for _, v := range g.Variables {
		sums := make([][]float64, len(buckets))
		counts := make([][]int, len(buckets))
		for bi := range sums {
			sums[bi] = make([]float64, len(g.Stations))
			counts[bi] = make([]int, len(g.Stations))
		}

		src := g.Values[v]
		for ti, at := range g.Times {
			bi := pos[truncateTime(at, res).UnixNano()]
			for si, val := range src[ti] {
				if math.IsNaN(val) {
					continue
				}
				sums[bi][si] += val
				counts[bi][si]++
			}
		}

		m := make([][]float64, len(buckets))
		for bi := range m {
			row := make([]float64, len(g.Stations))
			for si := range row {
				if counts[bi][si] == 0 {
					row[si] = math.NaN()
				} else {
					row[si] = sums[bi][si] / float64(counts[bi][si])
				}
			}
			m[bi] = row
		}
		out.Values[v] = m
	}

	return out
}

// Window returns a derived grid whose time axis is truncated to the inclusive
// [start, end] range. A zero start or end leaves that side unbounded. Applied
// after resampling, so bounds filter window starts, not raw timestamps.
func (g Grid) Window(start, end time.Time) Grid {
	keep := make([]int, 0, len(g.Times))
	for i, at := range g.Times {
		if !start.IsZero() && at.Before(start) {
			continue
		}
		if !end.IsZero() && at.After(end) {
			continue
		}
		keep = append(keep, i)
	}
	if len(keep) == len(g.Times) {
		return g
	}

	out := Grid{
		Times:     make([]time.Time, len(keep)),
		Stations:  g.Stations,
		Variables: g.Variables,
		Values:    make(map[string][][]float64, len(g.Variables)),
		Latitude:  g.Latitude,
		Longitude: g.Longitude,
		Attrs:     g.Attrs,
	}
	for j, i := range keep {
		out.Times[j] = g.Times[i]
	}
	for _, v := range g.Variables {
		src := g.Values[v]
		m := make([][]float64, len(keep))
		for j, i := range keep {
			m[j] = src[i]
		}
		out.Values[v] = m
	}
	return out
}

func truncateTime(t time.Time, res Resolution) time.Time {
	t = t.UTC()
	switch res {
	case ResolutionHour:
		return t.Truncate(time.Hour)
	case ResolutionDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case ResolutionMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case ResolutionYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}
