// Package pipeline orchestrates a complete observation run: list the
// network's stations, fetch every (station, period) payload, fold the raw
// batches into per-station tables, grid the tables onto a shared time axis,
// and encode the result to a single output file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/obsgrid/internal/domain"
	"github.com/couchcryptid/obsgrid/internal/fetch"
	"github.com/couchcryptid/obsgrid/internal/observability"
)

// Network is one observation network: it knows its stations, how to address
// the payload for a (station, period) pair, and how to decode one payload.
type Network interface {
	Name() string
	ListStations(ctx context.Context) ([]domain.StationRecord, error)
	Targets(stationIDs []string, periods []domain.Period) []fetch.Target
	Decode(data []byte) ([]domain.ObservationRecord, error)
}

// Fetcher retrieves every target, returning one batch per target in target
// order.
type Fetcher interface {
	FetchAll(ctx context.Context, targets []fetch.Target, decode fetch.DecodeFunc) ([]domain.RawBatch, error)
}

// TableStore persists per-station tables and the station catalog between
// runs.
type TableStore interface {
	Load(stationID string) (domain.Table, bool, error)
	Save(stationID string, t domain.Table) error
	SaveStations(records []domain.StationRecord) error
}

// Encoder writes the gridded dataset to one output file.
type Encoder interface {
	Encode(path string, g domain.Grid, runID string) error
}

// Publisher feeds merged per-station rows to a downstream consumer. Publish
// failures degrade the run to a warning, never fail it.
type Publisher interface {
	PublishRows(ctx context.Context, runID, stationID string, t domain.Table) error
}

// Pipeline orchestrates the fetch-translate-grid-encode run.
type Pipeline struct {
	network   Network
	fetcher   Fetcher
	store     TableStore
	encoder   Encoder
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// Option configures optional Pipeline collaborators.
type Option func(*Pipeline)

// WithPublisher enables the downstream row feed.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// New creates a Pipeline with the given stages and observability.
func New(n Network, f Fetcher, s TableStore, e Encoder, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		network: n,
		fetcher: f,
		store:   s,
		encoder: e,
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.publisher != nil {
		p.metrics.PublishEnabled.Set(1)
	}
	return p
}

// CheckReadiness returns nil once at least one run has completed, or an
// error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// Run executes one complete run and reports what it did. The returned
// Summary is valid even on error, populated up to the failed stage.
func (p *Pipeline) Run(ctx context.Context, params Params) (Summary, error) {
	if err := params.validate(); err != nil {
		return Summary{}, err
	}
	if params.Resolution == "" {
		params.Resolution = domain.ResolutionNative
	}

	start := time.Now()
	sum := Summary{RunID: uuid.NewString()}
	logger := p.logger.With("run_id", sum.RunID, "network", p.network.Name())
	logger.Info("run started",
		"window_start", params.Start.Format(time.RFC3339),
		"window_end", params.End.Format(time.RFC3339),
		"resolution", string(params.Resolution),
	)

	err := p.run(ctx, logger, params, &sum)
	sum.Duration = time.Since(start)
	p.metrics.RunDuration.Observe(sum.Duration.Seconds())
	if err != nil {
		p.metrics.Runs.WithLabelValues("error").Inc()
		logger.Error("run failed", "error", err, "duration", sum.Duration)
		return sum, err
	}

	p.metrics.Runs.WithLabelValues("ok").Inc()
	p.ready.Store(true)
	logger.Info("run complete",
		"stations", sum.Stations,
		"rows_kept", sum.RowsKept,
		"rows_dropped", sum.RowsDropped,
		"payloads_missing", sum.PayloadsMissing,
		"stations_gridded", sum.StationsGridded,
		"time_steps", sum.TimeSteps,
		"variables", sum.Variables,
		"output", sum.OutputPath,
		"duration", sum.Duration,
	)
	return sum, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, params Params, sum *Summary) error {
	stations, err := p.network.ListStations(ctx)
	if err != nil {
		return fmt.Errorf("list stations: %w", err)
	}
	registry, err := domain.NewStationRegistry(stations)
	if err != nil {
		return fmt.Errorf("station registry: %w", err)
	}
	sum.Stations = registry.Len()

	if params.SaveIntermediate {
		if err := p.store.SaveStations(stations); err != nil {
			return fmt.Errorf("save station catalog: %w", err)
		}
	}

	periods := domain.PeriodsBetween(params.Start, params.End)
	targets := p.network.Targets(registry.IDs(), periods)
	sum.Targets = len(targets)
	logger.Info("fetching payloads",
		"stations", registry.Len(), "periods", len(periods), "targets", len(targets))

	batches, err := p.fetcher.FetchAll(ctx, targets, p.network.Decode)
	if err != nil {
		return fmt.Errorf("fetch payloads: %w", err)
	}

	tables, err := p.buildTables(ctx, logger, params, batches, sum)
	if err != nil {
		return err
	}

	grid, dropped := domain.BuildGrid(tables, registry, params.ExtraAttrs)
	for _, id := range dropped {
		logger.Warn("station missing from registry, dropped", "station", id)
	}
	sum.StationsDropped = dropped
	p.metrics.StationsDropped.Add(float64(len(dropped)))

	grid = grid.Resample(params.Resolution).Window(params.Start, params.End)
	sum.StationsGridded = len(grid.Stations)
	sum.TimeSteps = len(grid.Times)
	sum.Variables = len(grid.Variables)
	p.metrics.StationsGridded.Set(float64(len(grid.Stations)))

	if params.OutputPath == "" {
		return nil
	}
	if len(grid.Stations) == 0 {
		// An empty result is a valid outcome, but the classic dataset
		// layout cannot represent a zero-size station dimension.
		logger.Warn("no station produced data, skipping output", "path", params.OutputPath)
		return nil
	}
	if err := p.encoder.Encode(params.OutputPath, grid, sum.RunID); err != nil {
		return fmt.Errorf("encode %s: %w", params.OutputPath, err)
	}
	sum.OutputPath = params.OutputPath
	return nil
}

// buildTables folds the fetched batches into one table per station id the
// batches claim, merging and persisting along the way as params ask. Ids
// unknown to the registry are kept here; the grid join drops them.
func (p *Pipeline) buildTables(ctx context.Context, logger *slog.Logger, params Params, batches []domain.RawBatch, sum *Summary) (map[string]domain.Table, error) {
	byStation := make(map[string][]domain.RawBatch)
	order := make([]string, 0, len(batches))
	for _, b := range batches {
		if _, seen := byStation[b.StationID]; !seen {
			order = append(order, b.StationID)
		}
		byStation[b.StationID] = append(byStation[b.StationID], b)
	}
	domain.SortStationIDs(order)

	tables := make(map[string]domain.Table, len(order))
	for _, id := range order {
		table, stats, err := domain.BuildTable(byStation[id], params.TimeField)
		if err != nil {
			return nil, fmt.Errorf("station %s: %w", id, err)
		}
		p.metrics.Payloads.WithLabelValues("ok").Add(float64(len(byStation[id]) - stats.MissingBatches - stats.EmptyBatches))
		p.metrics.Payloads.WithLabelValues("missing").Add(float64(stats.MissingBatches))
		p.metrics.Payloads.WithLabelValues("empty").Add(float64(stats.EmptyBatches))
		sum.RowsKept += stats.RowsKept
		sum.RowsDropped += stats.RowsDropped
		sum.PayloadsMissing += stats.MissingBatches
		sum.PayloadsEmpty += stats.EmptyBatches
		if stats.RowsDropped > 0 {
			logger.Warn("rows dropped for unparseable timestamps",
				"station", id, "dropped", stats.RowsDropped)
		}

		if params.Merge {
			previous, found, err := p.store.Load(id)
			if err != nil {
				return nil, fmt.Errorf("load table for station %s: %w", id, err)
			}
			if found {
				table = previous.Merge(table)
			}
		}
		if params.SaveIntermediate {
			if err := p.store.Save(id, table); err != nil {
				return nil, fmt.Errorf("save table for station %s: %w", id, err)
			}
		}
		if p.publisher != nil && !table.Empty() {
			if err := p.publisher.PublishRows(ctx, sum.RunID, id, table); err != nil {
				logger.Warn("publish failed, continuing", "station", id, "error", err)
			} else {
				sum.RowsPublished += table.Len()
				p.metrics.RowsPublished.Add(float64(table.Len()))
			}
		}
		if table.Empty() {
			logger.Debug("no usable rows for station, excluded from grid", "station", id)
		}
		tables[id] = table
	}

	p.metrics.RowsIngested.Add(float64(sum.RowsKept))
	return tables, nil
}
