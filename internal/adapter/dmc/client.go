package dmc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/obsgrid/internal/domain"
	"github.com/couchcryptid/obsgrid/internal/fetch"
)

// DefaultBaseURL points at the public DMC climatology REST services.
const DefaultBaseURL = "https://climatologia.meteochile.gob.cl/application/servicios"

// ErrLocationMissing reports a station entry without usable coordinates.
// A single bad entry fails the whole station list call.
var ErrLocationMissing = errors.New("station location field missing")

// Field names used by the red EMA feed.
const (
	fieldStationID = "codigoNacional"
	fieldLatitude  = "latitud"
	fieldLongitude = "longitud"
)

// Client implements the pipeline's network capability for the Dirección
// Meteorológica de Chile (DMC) automatic station network, "red EMA".
type Client struct {
	user       string
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a DMC API client. An empty baseURL selects the public
// endpoint; credentials ride along as query parameters on every call.
func NewClient(baseURL, user, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		user:  user,
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Name identifies the network in logs, metrics, and stored file names.
func (c *Client) Name() string { return "dmc" }

// ListStations fetches the full red EMA station catalog.
func (c *Client) ListStations(ctx context.Context) ([]domain.StationRecord, error) {
	u := fmt.Sprintf("%s/getEstacionesRedEma?%s", c.baseURL, c.credentials().Encode())

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("station list: %w", err)
	}

	var payload stationListResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode station list: %w", err)
	}

	records := make([]domain.StationRecord, 0, len(payload.Stations))
	for _, raw := range payload.Stations {
		rec, err := stationFromRaw(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	c.logger.Debug("station list fetched", slog.Int("stations", len(records)))
	return records, nil
}

// Targets enumerates the station-major (station, period) fetch product. The
// fetcher issues these in order and its result order matches.
func (c *Client) Targets(stationIDs []string, periods []domain.Period) []fetch.Target {
	targets := make([]fetch.Target, 0, len(stationIDs)*len(periods))
	for _, id := range stationIDs {
		for _, p := range periods {
			u := fmt.Sprintf("%s/getDatosRecientesEma/%s/%d/%d?%s",
				c.baseURL, url.PathEscape(id), p.Year, p.Month, c.credentials().Encode())
			targets = append(targets, fetch.Target{StationID: id, Period: p, URL: u})
		}
	}
	return targets
}

// Decode normalizes one observation payload into flat records. The feed nests
// some measurement groups one object deep; those flatten to "parent/child"
// keys so every record downstream is a plain string map.
func (c *Client) Decode(data []byte) ([]domain.ObservationRecord, error) {
	var payload observationResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode observations: %w", err)
	}

	records := make([]domain.ObservationRecord, 0, len(payload.Station.Data))
	for _, raw := range payload.Station.Data {
		records = append(records, flattenRecord(raw))
	}
	return records, nil
}

func (c *Client) get(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dmc request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("dmc API error: status %d: %s", resp.StatusCode, body)
	}

	return io.ReadAll(resp.Body)
}

func (c *Client) credentials() url.Values {
	return url.Values{
		"usuario": {c.user},
		"token":   {c.token},
	}
}

func stationFromRaw(raw map[string]any) (domain.StationRecord, error) {
	id, _ := scalarString(raw[fieldStationID])
	if id == "" {
		return domain.StationRecord{}, fmt.Errorf("station entry has no %q field", fieldStationID)
	}

	lat, ok := coordinate(raw[fieldLatitude])
	if !ok {
		return domain.StationRecord{}, fmt.Errorf("%w: station %s has no usable %q", ErrLocationMissing, id, fieldLatitude)
	}
	lon, ok := coordinate(raw[fieldLongitude])
	if !ok {
		return domain.StationRecord{}, fmt.Errorf("%w: station %s has no usable %q", ErrLocationMissing, id, fieldLongitude)
	}

	attrs := make(map[string]string)
	for key, value := range raw {
		switch key {
		case fieldStationID, fieldLatitude, fieldLongitude:
			continue
		}
		if s, ok := scalarString(value); ok {
			attrs[key] = s
		}
	}

	return domain.StationRecord{ID: id, Latitude: lat, Longitude: lon, Attrs: attrs}, nil
}

// coordinate tolerates the feed's mixed encoding: plain numbers and numeric
// strings both appear.
func coordinate(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case string:
		f := domain.ToFloat(t)
		if math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// scalarString renders one JSON scalar in its canonical string form. Nested
// structures report false so callers decide how to flatten them.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func flattenRecord(raw map[string]any) domain.ObservationRecord {
	rec := make(domain.ObservationRecord, len(raw))
	for key, value := range raw {
		if nested, ok := value.(map[string]any); ok {
			for childKey, childValue := range nested {
				if s, ok := scalarString(childValue); ok {
					rec[key+"/"+childKey] = s
				}
			}
			continue
		}
		if s, ok := scalarString(value); ok {
			rec[key] = s
		}
	}
	return rec
}

// DMC API response shapes. Entries stay loosely typed because the feed mixes
// numbers and strings per field across stations.

type stationListResponse struct {
	Stations []map[string]any `json:"datosEstacion"`
}

type observationResponse struct {
	Station struct {
		Data []map[string]any `json:"datos"`
	} `json:"datosEstaciones"`
}
