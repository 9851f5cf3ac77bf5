package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T, records ...StationRecord) *StationRegistry {
	t.Helper()
	reg, err := NewStationRegistry(records)
	require.NoError(t, err)
	return reg
}

func TestBuildGrid(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2024, 1, 1, h, 0, 0, 0, time.UTC) }

	t.Run("two stations with a gap", func(t *testing.T) {
		tables := map[string]Table{
			"A": NewTable([]Row{
				{At: at(0), Values: map[string]float64{"temp": 10.0}},
				{At: at(1), Values: map[string]float64{"temp": 12.0}},
			}),
			"B": NewTable([]Row{
				{At: at(0), Values: map[string]float64{"temp": 8.0}},
			}),
		}
		reg := testRegistry(t,
			StationRecord{ID: "A", Latitude: -33.0, Longitude: -70.0},
			StationRecord{ID: "B", Latitude: -36.0, Longitude: -73.0},
		)

		grid, dropped := BuildGrid(tables, reg, nil)
		assert.Empty(t, dropped)

		assert.Equal(t, []time.Time{at(0), at(1)}, grid.Times)
		assert.Equal(t, []string{"A", "B"}, grid.Stations)
		assert.Equal(t, []string{"temp"}, grid.Variables)

		temp := grid.Values["temp"]
		require.Len(t, temp, 2)
		assert.Equal(t, []float64{10.0, 8.0}, temp[0])
		assert.Equal(t, 12.0, temp[1][0])
		assert.True(t, math.IsNaN(temp[1][1]))

		assert.Equal(t, []float64{-33.0, -36.0}, grid.Latitude)
		assert.Equal(t, []float64{-70.0, -73.0}, grid.Longitude)
	})

	t.Run("unknown station is dropped with diagnostic", func(t *testing.T) {
		tables := map[string]Table{
			"A": NewTable([]Row{{At: at(0), Values: map[string]float64{"temp": 10}}}),
			"Z": NewTable([]Row{{At: at(0), Values: map[string]float64{"temp": 99}}}),
		}
		reg := testRegistry(t, StationRecord{ID: "A", Latitude: 1, Longitude: 1})

		grid, dropped := BuildGrid(tables, reg, nil)
		assert.Equal(t, []string{"Z"}, dropped)
		assert.Equal(t, []string{"A"}, grid.Stations)
	})

	t.Run("empty tables are excluded", func(t *testing.T) {
		tables := map[string]Table{
			"A": NewTable([]Row{{At: at(0), Values: map[string]float64{"temp": 10}}}),
			"B": NewTable(nil),
		}
		reg := testRegistry(t,
			StationRecord{ID: "A", Latitude: 1, Longitude: 1},
			StationRecord{ID: "B", Latitude: 2, Longitude: 2},
		)

		grid, dropped := BuildGrid(tables, reg, nil)
		assert.Empty(t, dropped)
		assert.Equal(t, []string{"A"}, grid.Stations)
	})

	t.Run("variable union fills NaN where a station lacks the column", func(t *testing.T) {
		tables := map[string]Table{
			"A": NewTable([]Row{{At: at(0), Values: map[string]float64{"temp": 10}}}),
			"B": NewTable([]Row{{At: at(0), Values: map[string]float64{"presion": 1013}}}),
		}
		reg := testRegistry(t,
			StationRecord{ID: "A", Latitude: 1, Longitude: 1},
			StationRecord{ID: "B", Latitude: 2, Longitude: 2},
		)

		grid, _ := BuildGrid(tables, reg, nil)
		assert.Equal(t, []string{"presion", "temp"}, grid.Variables)

		assert.True(t, math.IsNaN(grid.Values["presion"][0][0]))
		assert.Equal(t, 1013.0, grid.Values["presion"][0][1])
		assert.Equal(t, 10.0, grid.Values["temp"][0][0])
		assert.True(t, math.IsNaN(grid.Values["temp"][0][1]))
	})

	t.Run("station axis ordering is numeric aware", func(t *testing.T) {
		tables := map[string]Table{
			"10": NewTable([]Row{{At: at(0), Values: map[string]float64{"temp": 1}}}),
			"9":  NewTable([]Row{{At: at(0), Values: map[string]float64{"temp": 2}}}),
		}
		reg := testRegistry(t,
			StationRecord{ID: "9", Latitude: 1, Longitude: 1},
			StationRecord{ID: "10", Latitude: 2, Longitude: 2},
		)

		grid, _ := BuildGrid(tables, reg, nil)
		assert.Equal(t, []string{"9", "10"}, grid.Stations)
	})

	t.Run("requested extra attributes align with stations", func(t *testing.T) {
		tables := map[string]Table{
			"A": NewTable([]Row{{At: at(0), Values: map[string]float64{"temp": 1}}}),
			"B": NewTable([]Row{{At: at(0), Values: map[string]float64{"temp": 2}}}),
		}
		reg := testRegistry(t,
			StationRecord{ID: "A", Latitude: 1, Longitude: 1, Attrs: map[string]string{"nombreEstacion": "Quinta Normal"}},
			StationRecord{ID: "B", Latitude: 2, Longitude: 2},
		)

		grid, _ := BuildGrid(tables, reg, []string{"nombreEstacion"})
		assert.Equal(t, []string{"Quinta Normal", ""}, grid.Attrs["nombreEstacion"])
	})

	t.Run("degenerate zero stations", func(t *testing.T) {
		reg := testRegistry(t)
		grid, dropped := BuildGrid(map[string]Table{}, reg, nil)

		assert.Empty(t, dropped)
		assert.Empty(t, grid.Times)
		assert.Empty(t, grid.Stations)
		assert.Empty(t, grid.Variables)
		assert.Empty(t, grid.Values)
		assertGridShape(t, grid)
	})

	t.Run("shape invariant holds across combinations", func(t *testing.T) {
		tables := map[string]Table{
			"A": NewTable([]Row{
				{At: at(0), Values: map[string]float64{"temp": 1, "presion": 2}},
				{At: at(3), Values: map[string]float64{"viento": 3}},
			}),
			"B": NewTable([]Row{
				{At: at(1), Values: map[string]float64{"temp": 4}},
			}),
			"C": NewTable(nil),
		}
		reg := testRegistry(t,
			StationRecord{ID: "A", Latitude: 1, Longitude: 1},
			StationRecord{ID: "B", Latitude: 2, Longitude: 2},
			StationRecord{ID: "C", Latitude: 3, Longitude: 3},
		)

		grid, _ := BuildGrid(tables, reg, nil)
		assert.Len(t, grid.Times, 3)
		assert.Len(t, grid.Stations, 2)
		assertGridShape(t, grid)
	})
}

// assertGridShape checks the dense shape guarantee: every variable array is
// exactly len(Times) rows of len(Stations) values.
func assertGridShape(t *testing.T, g Grid) {
	t.Helper()
	require.Len(t, g.Values, len(g.Variables))
	for _, v := range g.Variables {
		rows := g.Values[v]
		require.Len(t, rows, len(g.Times), "variable %s", v)
		for ti := range rows {
			require.Len(t, rows[ti], len(g.Stations), "variable %s time %d", v, ti)
		}
	}
	require.Len(t, g.Latitude, len(g.Stations))
	require.Len(t, g.Longitude, len(g.Stations))
	for attr, vals := range g.Attrs {
		require.Len(t, vals, len(g.Stations), "attr %s", attr)
	}
}
