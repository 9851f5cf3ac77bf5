package dmc

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/obsgrid/internal/domain"
)

const (
	testUser  = "test-user"
	testToken = "test-token"
)

func newTestClient(baseURL string) *Client {
	return NewClient(baseURL, testUser, testToken, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_ListStations_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getEstacionesRedEma", r.URL.Path)
		assert.Equal(t, testUser, r.URL.Query().Get("usuario"))
		assert.Equal(t, testToken, r.URL.Query().Get("token"))

		w.Header().Set("Content-Type", "application/json")
		_, err := w.Write([]byte(`{
			"datosEstacion": [
				{"codigoNacional": 330020, "latitud": "-33.4450", "longitud": "-70.6828", "nombreEstacion": "Quinta Normal", "regionNombre": "Metropolitana"},
				{"codigoNacional": "180005", "latitud": -18.3557, "longitud": -70.3392, "nombreEstacion": "Chacalluta", "altura": 50}
			]
		}`))
		require.NoError(t, err)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	stations, err := c.ListStations(context.Background())
	require.NoError(t, err)
	require.Len(t, stations, 2)

	first := stations[0]
	assert.Equal(t, "330020", first.ID)
	assert.InDelta(t, -33.4450, first.Latitude, 1e-9)
	assert.InDelta(t, -70.6828, first.Longitude, 1e-9)
	assert.Equal(t, "Quinta Normal", first.Attrs["nombreEstacion"])
	assert.Equal(t, "Metropolitana", first.Attrs["regionNombre"])
	assert.NotContains(t, first.Attrs, "codigoNacional")
	assert.NotContains(t, first.Attrs, "latitud")

	second := stations[1]
	assert.Equal(t, "180005", second.ID)
	assert.InDelta(t, -18.3557, second.Latitude, 1e-9)
	assert.Equal(t, "50", second.Attrs["altura"])
}

func TestClient_ListStations_MissingLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte(`{"datosEstacion": [{"codigoNacional": 330020, "longitud": -70.6828}]}`))
		require.NoError(t, err)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.ListStations(context.Background())
	require.ErrorIs(t, err, ErrLocationMissing)
	assert.Contains(t, err.Error(), "330020")
	assert.Contains(t, err.Error(), "latitud")
}

func TestClient_ListStations_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such service", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.ListStations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestClient_Targets_StationMajorOrder(t *testing.T) {
	c := newTestClient("http://dmc.test")

	periods := []domain.Period{
		{Year: 2021, Month: time.April},
		{Year: 2021, Month: time.May},
	}
	targets := c.Targets([]string{"330020", "180005"}, periods)
	require.Len(t, targets, 4)

	assert.Equal(t, "330020", targets[0].StationID)
	assert.Equal(t, "330020", targets[1].StationID)
	assert.Equal(t, "180005", targets[2].StationID)
	assert.Equal(t, domain.Period{Year: 2021, Month: time.April}, targets[0].Period)
	assert.Equal(t, domain.Period{Year: 2021, Month: time.May}, targets[1].Period)

	assert.Equal(t,
		"http://dmc.test/getDatosRecientesEma/330020/2021/4?token=test-token&usuario=test-user",
		targets[0].URL)
}

func TestClient_Decode_FlattensNestedGroups(t *testing.T) {
	c := newTestClient("http://dmc.test")

	payload := []byte(`{
		"datosEstaciones": {
			"datos": [
				{
					"momento": "2021-04-01 00:00:00",
					"temperatura": {"valor": 12.3, "unidad": "°C"},
					"humedadRelativa": 80,
					"estacion": {"codigoNacional": 330020}
				},
				{"momento": "2021-04-01 01:00:00", "temperatura": {"valor": 11.9}}
			]
		}
	}`)

	records, err := c.Decode(payload)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "2021-04-01 00:00:00", records[0]["momento"])
	assert.Equal(t, "12.3", records[0]["temperatura/valor"])
	assert.Equal(t, "°C", records[0]["temperatura/unidad"])
	assert.Equal(t, "80", records[0]["humedadRelativa"])
	assert.Equal(t, "330020", records[0]["estacion/codigoNacional"])
	assert.Equal(t, "11.9", records[1]["temperatura/valor"])
}

func TestClient_Decode_EmptyData(t *testing.T) {
	c := newTestClient("http://dmc.test")

	records, err := c.Decode([]byte(`{"datosEstaciones": {"datos": []}}`))
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = c.Decode([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestClient_Decode_Unparseable(t *testing.T) {
	c := newTestClient("http://dmc.test")

	_, err := c.Decode([]byte(`<html>service unavailable</html>`))
	require.Error(t, err)
}
