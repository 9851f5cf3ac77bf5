package store

import (
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/obsgrid/internal/domain"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	return NewStore(dir, "momento", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func at(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, ok := domain.ParseObservationTime(s)
	require.True(t, ok, "bad test timestamp %q", s)
	return parsed
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)

	table := domain.NewTable([]domain.Row{
		{At: at(t, "2021-04-01 00:00:00"), Values: map[string]float64{"temp": 10, "hum": 80}},
		{At: at(t, "2021-04-01 01:00:00"), Values: map[string]float64{"temp": math.NaN()}},
	})
	require.NoError(t, s.Save("330020", table))

	loaded, found, err := s.Load("330020")
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, []string{"hum", "temp"}, loaded.Columns())
	assert.Equal(t, 2, loaded.Len())

	v, ok := loaded.Value(at(t, "2021-04-01 00:00:00"), "temp")
	require.True(t, ok)
	assert.Equal(t, 10.0, v)

	// Both the explicit NaN and the absent column come back as NaN.
	v, ok = loaded.Value(at(t, "2021-04-01 01:00:00"), "temp")
	require.True(t, ok)
	assert.True(t, math.IsNaN(v))
	v, ok = loaded.Value(at(t, "2021-04-01 01:00:00"), "hum")
	require.True(t, ok)
	assert.True(t, math.IsNaN(v))
}

func TestStore_SaveWritesCanonicalCSV(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)

	table := domain.NewTable([]domain.Row{
		{At: at(t, "2021-04-01 00:00:00"), Values: map[string]float64{"temp": 12.5, "hum": math.NaN()}},
	})
	require.NoError(t, s.Save("330020", table))

	data, err := os.ReadFile(filepath.Join(dir, "330020.csv"))
	require.NoError(t, err)
	assert.Equal(t, "momento,hum,temp\n2021-04-01 00:00:00,,12.5\n", string(data))

	_, err = os.Stat(filepath.Join(dir, "330020.csv.tmp"))
	assert.True(t, os.IsNotExist(err), "temp file should not survive a save")
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	_, found, err := s.Load("999999")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_LoadWrongTimeColumn(t *testing.T) {
	dir := t.TempDir()

	table := domain.NewTable([]domain.Row{
		{At: at(t, "2021-04-01 00:00:00"), Values: map[string]float64{"temp": 1}},
	})
	require.NoError(t, newTestStore(t, dir).Save("330020", table))

	other := NewStore(dir, "fecha", slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, _, err := other.Load("330020")
	require.ErrorIs(t, err, domain.ErrTimeFieldMissing)
	assert.Contains(t, err.Error(), "fecha")
}

func TestStore_SanitizesStationFileName(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)

	table := domain.NewTable([]domain.Row{
		{At: at(t, "2021-04-01 00:00:00"), Values: map[string]float64{"temp": 1}},
	})
	require.NoError(t, s.Save("a/b", table))

	_, err := os.Stat(filepath.Join(dir, "a_b.csv"))
	require.NoError(t, err)

	_, found, err := s.Load("a/b")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStore_StationCatalogRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)

	records := []domain.StationRecord{
		{ID: "330020", Latitude: -33.445, Longitude: -70.6828, Attrs: map[string]string{"nombreEstacion": "Quinta Normal"}},
		{ID: "180005", Latitude: -18.3557, Longitude: -70.3392, Attrs: map[string]string{"altura": "50"}},
	}
	require.NoError(t, s.SaveStations(records))

	data, err := os.ReadFile(filepath.Join(dir, "stations.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		"codigoNacional,latitud,longitud,altura,nombreEstacion\n"+
			"330020,-33.445,-70.6828,,Quinta Normal\n"+
			"180005,-18.3557,-70.3392,50,\n",
		string(data))

	loaded, found, err := s.LoadStations()
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, loaded, 2)

	assert.Equal(t, "330020", loaded[0].ID)
	assert.InDelta(t, -33.445, loaded[0].Latitude, 1e-9)
	assert.Equal(t, map[string]string{"nombreEstacion": "Quinta Normal"}, loaded[0].Attrs)
	assert.Equal(t, map[string]string{"altura": "50"}, loaded[1].Attrs)
}

func TestStore_LoadStationsMissingFile(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	_, found, err := s.LoadStations()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_CustomStationColumns(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "momento", slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithStationColumns("id", "lat", "lon"))

	require.NoError(t, s.SaveStations([]domain.StationRecord{
		{ID: "x1", Latitude: 1.5, Longitude: 2.5},
	}))

	data, err := os.ReadFile(filepath.Join(dir, "stations.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id,lat,lon\nx1,1.5,2.5\n", string(data))

	loaded, found, err := s.LoadStations()
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, loaded, 1)
	assert.Equal(t, "x1", loaded[0].ID)
}
