package domain

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in       string
		expected Resolution
		wantErr  bool
	}{
		{"hour", ResolutionHour, false},
		{"hourly", ResolutionHour, false},
		{"H", ResolutionHour, false},
		{"day", ResolutionDay, false},
		{"D", ResolutionDay, false},
		{"month", ResolutionMonth, false},
		{"m", ResolutionMonth, false},
		{"year", ResolutionYear, false},
		{"Y", ResolutionYear, false},
		{"native", ResolutionNative, false},
		{"N", ResolutionNative, false},
		{" daily ", ResolutionDay, false},
		{"fortnight", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseResolution(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "resolution")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func testGrid(t *testing.T, rowsA, rowsB []Row) Grid {
	t.Helper()
	reg := testRegistry(t,
		StationRecord{ID: "A", Latitude: -33.0, Longitude: -70.0},
		StationRecord{ID: "B", Latitude: -36.0, Longitude: -73.0},
	)
	grid, dropped := BuildGrid(map[string]Table{
		"A": NewTable(rowsA),
		"B": NewTable(rowsB),
	}, reg, nil)
	require.Empty(t, dropped)
	return grid
}

func TestResample(t *testing.T) {
	at := func(h, min int) time.Time { return time.Date(2024, 1, 1, h, min, 0, 0, time.UTC) }
	row := func(h, min int, temp float64) Row {
		return Row{At: at(h, min), Values: map[string]float64{"temp": temp}}
	}

	t.Run("native is the identity", func(t *testing.T) {
		grid := testGrid(t,
			[]Row{row(0, 0, 10), row(0, 30, 12)},
			[]Row{row(0, 0, 8)},
		)

		got := grid.Resample(ResolutionNative)
		if diff := cmp.Diff(grid, got, cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("native resample changed the grid (-want +got):\n%s", diff)
		}
	})

	t.Run("hourly averages within the hour", func(t *testing.T) {
		grid := testGrid(t,
			[]Row{row(0, 0, 10), row(0, 30, 12), row(1, 0, 20)},
			[]Row{row(0, 15, 8)},
		)

		got := grid.Resample(ResolutionHour)
		require.Equal(t, []time.Time{at(0, 0), at(1, 0)}, got.Times)

		temp := got.Values["temp"]
		assert.Equal(t, 11.0, temp[0][0])
		assert.Equal(t, 8.0, temp[0][1])
		assert.Equal(t, 20.0, temp[1][0])
		assert.True(t, math.IsNaN(temp[1][1]))
	})

	t.Run("window with no values stays NaN", func(t *testing.T) {
		grid := testGrid(t,
			[]Row{row(0, 0, 10)},
			[]Row{{At: at(0, 0), Values: map[string]float64{"temp": math.NaN()}}},
		)

		got := grid.Resample(ResolutionHour)
		temp := got.Values["temp"]
		assert.Equal(t, 10.0, temp[0][0])
		assert.True(t, math.IsNaN(temp[0][1]))
	})

	t.Run("daily buckets cross hours", func(t *testing.T) {
		grid := testGrid(t,
			[]Row{row(0, 0, 10), row(23, 59, 30)},
			[]Row{row(12, 0, 8)},
		)

		got := grid.Resample(ResolutionDay)
		require.Len(t, got.Times, 1)
		assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), got.Times[0])
		assert.Equal(t, 20.0, got.Values["temp"][0][0])
		assert.Equal(t, 8.0, got.Values["temp"][0][1])
	})

	t.Run("monthly and yearly truncate to period start", func(t *testing.T) {
		grid := testGrid(t,
			[]Row{
				{At: time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC), Values: map[string]float64{"temp": 10}},
				{At: time.Date(2024, 2, 2, 6, 0, 0, 0, time.UTC), Values: map[string]float64{"temp": 20}},
			},
			nil,
		)

		monthly := grid.Resample(ResolutionMonth)
		require.Equal(t, []time.Time{
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		}, monthly.Times)

		yearly := grid.Resample(ResolutionYear)
		require.Equal(t, []time.Time{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}, yearly.Times)
		assert.Equal(t, 15.0, yearly.Values["temp"][0][0])
	})

	t.Run("resampled grid keeps coordinates and shape", func(t *testing.T) {
		grid := testGrid(t,
			[]Row{row(0, 0, 10), row(5, 0, 12)},
			[]Row{row(2, 30, 8)},
		)

		got := grid.Resample(ResolutionDay)
		assert.Equal(t, grid.Latitude, got.Latitude)
		assert.Equal(t, grid.Longitude, got.Longitude)
		assert.Equal(t, grid.Stations, got.Stations)
		assertGridShape(t, got)
	})
}

func TestWindow(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2024, 1, 1, h, 0, 0, 0, time.UTC) }
	row := func(h int, temp float64) Row {
		return Row{At: at(h), Values: map[string]float64{"temp": temp}}
	}

	grid := testGrid(t,
		[]Row{row(0, 1), row(1, 2), row(2, 3), row(3, 4)},
		[]Row{row(1, 5)},
	)

	t.Run("inclusive bounds", func(t *testing.T) {
		got := grid.Window(at(1), at(2))
		assert.Equal(t, []time.Time{at(1), at(2)}, got.Times)
		assert.Equal(t, 2.0, got.Values["temp"][0][0])
		assert.Equal(t, 5.0, got.Values["temp"][0][1])
		assertGridShape(t, got)
	})

	t.Run("never returns timestamps outside the range", func(t *testing.T) {
		got := grid.Window(at(1), at(2))
		for _, ts := range got.Times {
			assert.False(t, ts.Before(at(1)))
			assert.False(t, ts.After(at(2)))
		}
	})

	t.Run("zero start leaves the left side open", func(t *testing.T) {
		got := grid.Window(time.Time{}, at(1))
		assert.Equal(t, []time.Time{at(0), at(1)}, got.Times)
	})

	t.Run("zero end leaves the right side open", func(t *testing.T) {
		got := grid.Window(at(2), time.Time{})
		assert.Equal(t, []time.Time{at(2), at(3)}, got.Times)
	})

	t.Run("range covering everything returns the grid unchanged", func(t *testing.T) {
		got := grid.Window(at(0), at(3))
		if diff := cmp.Diff(grid, got, cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("window changed a fully covered grid (-want +got):\n%s", diff)
		}
	})

	t.Run("disjoint range empties the axis but keeps shape", func(t *testing.T) {
		got := grid.Window(at(10), at(12))
		assert.Empty(t, got.Times)
		assert.Equal(t, grid.Stations, got.Stations)
		assertGridShape(t, got)
	})
}
