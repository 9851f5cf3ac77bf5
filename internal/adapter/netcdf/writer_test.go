package netcdf

import (
	"math"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/obsgrid/internal/domain"
)

func testGrid(t *testing.T) domain.Grid {
	t.Helper()

	reg, err := domain.NewStationRegistry([]domain.StationRecord{
		{ID: "101", Latitude: -33.4, Longitude: -70.7, Attrs: map[string]string{"nombreEstacion": "Quinta Normal"}},
		{ID: "102", Latitude: -18.4, Longitude: -70.3, Attrs: map[string]string{"nombreEstacion": "Ñuble"}},
	})
	require.NoError(t, err)

	t0 := time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2021, 4, 1, 1, 0, 0, 0, time.UTC)
	tables := map[string]domain.Table{
		"101": domain.NewTable([]domain.Row{
			{At: t0, Values: map[string]float64{"temp": 10}},
			{At: t1, Values: map[string]float64{"temp": 12}},
		}),
		"102": domain.NewTable([]domain.Row{
			{At: t0, Values: map[string]float64{"temp": 8}},
		}),
	}

	g, dropped := domain.BuildGrid(tables, reg, []string{"nombreEstacion"})
	require.Empty(t, dropped)
	return g
}

func TestEncoder_RoundTrip(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2021, 5, 1, 12, 0, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	g := testGrid(t)
	path := filepath.Join(t.TempDir(), "out.nc")

	enc := NewEncoder(Meta{
		Title:      "gridded station observations",
		Network:    "dmc",
		Resolution: "native",
	})
	require.NoError(t, enc.Encode(path, g, "run-123"))

	f, err := ReadFile(path)
	require.NoError(t, err)

	timeDim, ok := f.Dim("time")
	require.True(t, ok)
	assert.Equal(t, 0, timeDim.Size, "time should be the unlimited dimension")
	stationDim, ok := f.Dim("station")
	require.True(t, ok)
	assert.Equal(t, 2, stationDim.Size)
	assert.Equal(t, 2, f.NumRecs)

	assert.Equal(t, "dmc", f.Attrs["network"])
	assert.Equal(t, "native", f.Attrs["resolution"])
	assert.Equal(t, "run-123", f.Attrs["run_id"])
	assert.Equal(t, "2021-05-01T12:00:00Z", f.Attrs["created"])

	timeVar := f.Vars["time"]
	require.NotNil(t, timeVar)
	assert.True(t, timeVar.Record)
	assert.Equal(t, timeUnits, timeVar.Attrs["units"])
	assert.Equal(t, "standard", timeVar.Attrs["calendar"])
	require.Len(t, timeVar.Doubles, 2)
	assert.Equal(t, float64(time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC).Unix()), timeVar.Doubles[0])
	assert.Equal(t, float64(time.Date(2021, 4, 1, 1, 0, 0, 0, time.UTC).Unix()), timeVar.Doubles[1])

	station := f.Vars["station"]
	require.NotNil(t, station)
	assert.Equal(t, []string{"101", "102"}, station.Chars)

	lat := f.Vars["latitude"]
	require.NotNil(t, lat)
	require.Len(t, lat.Doubles, 2)
	assert.InDelta(t, -33.4, lat.Doubles[0], 1e-9)
	assert.InDelta(t, -18.4, lat.Doubles[1], 1e-9)

	names := f.Vars["nombreEstacion"]
	require.NotNil(t, names)
	assert.Equal(t, []string{"Quinta Normal", "Ñuble"}, names.Chars)

	temp := f.Vars["temp"]
	require.NotNil(t, temp)
	assert.True(t, temp.Record)
	fill, ok := temp.Attrs["_FillValue"].([]float64)
	require.True(t, ok)
	require.Len(t, fill, 1)
	assert.True(t, math.IsNaN(fill[0]))

	// Flattened record-major: (t0,101), (t0,102), (t1,101), (t1,102).
	require.Len(t, temp.Doubles, 4)
	assert.Equal(t, 10.0, temp.Doubles[0])
	assert.Equal(t, 8.0, temp.Doubles[1])
	assert.Equal(t, 12.0, temp.Doubles[2])
	assert.True(t, math.IsNaN(temp.Doubles[3]), "station 102 has no value at t1")
}

func TestEncoder_NoStations(t *testing.T) {
	enc := NewEncoder(Meta{})
	err := enc.Encode(filepath.Join(t.TempDir(), "out.nc"), domain.Grid{}, "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stations")
}

func TestEncoder_VariableNameCollision(t *testing.T) {
	g := domain.Grid{
		Times:     []time.Time{time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)},
		Stations:  []string{"101"},
		Variables: []string{"latitude"},
		Values:    map[string][][]float64{"latitude": {{1.0}}},
		Latitude:  []float64{-33.4},
		Longitude: []float64{-70.7},
	}

	enc := NewEncoder(Meta{})
	err := enc.Encode(filepath.Join(t.TempDir(), "out.nc"), g, "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collides")
}

func TestEncoder_OffsetOverflow(t *testing.T) {
	const stations = 400_000
	const variables = 700

	g := domain.Grid{
		Stations:  make([]string, stations),
		Latitude:  make([]float64, stations),
		Longitude: make([]float64, stations),
		Values:    make(map[string][][]float64, variables),
	}
	for i := range g.Stations {
		g.Stations[i] = strconv.Itoa(100000 + i)
	}
	for i := 0; i < variables; i++ {
		name := "v" + strconv.Itoa(i)
		g.Variables = append(g.Variables, name)
		g.Values[name] = [][]float64{}
	}

	enc := NewEncoder(Meta{})
	err := enc.Encode(filepath.Join(t.TempDir(), "big.nc"), g, "run-1")
	require.ErrorIs(t, err, ErrTooLarge)
}
