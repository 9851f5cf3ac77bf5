// Command obsgrid fetches per-station observations from the DMC network,
// folds them into per-station tables, and grids them into a single output
// file. One-shot by default; -watch re-runs on an interval and serves
// health, metrics, and status endpoints while doing so.
//
// Usage:
//
//	obsgrid -start 2021-01 -end 2021-06 -resolution day -out obs.nc
//	obsgrid -merge -save-intermediate -data-dir data -out obs.parquet
//	obsgrid -watch 1h -merge -save-intermediate -out obs.nc
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/obsgrid/internal/adapter/dmc"
	httpadapter "github.com/couchcryptid/obsgrid/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/obsgrid/internal/adapter/kafka"
	"github.com/couchcryptid/obsgrid/internal/adapter/netcdf"
	"github.com/couchcryptid/obsgrid/internal/adapter/parquet"
	"github.com/couchcryptid/obsgrid/internal/config"
	"github.com/couchcryptid/obsgrid/internal/domain"
	"github.com/couchcryptid/obsgrid/internal/fetch"
	"github.com/couchcryptid/obsgrid/internal/observability"
	"github.com/couchcryptid/obsgrid/internal/pipeline"
	"github.com/couchcryptid/obsgrid/internal/scheduler"
	"github.com/couchcryptid/obsgrid/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "obsgrid:", err)
		os.Exit(1)
	}
}

func run() error {
	startFlag := flag.String("start", "", "window start (2006-01, 2006-01-02, or RFC3339; default: start of the current month)")
	endFlag := flag.String("end", "", "window end (same formats; default: now)")
	resolutionFlag := flag.String("resolution", "native", "output resolution: native, hour, day, month, or year")
	outFlag := flag.String("out", "observations.nc", "output path; a .parquet extension selects long-format parquet")
	dataDirFlag := flag.String("data-dir", "data", "directory for intermediate per-station tables")
	mergeFlag := flag.Bool("merge", false, "merge previously stored tables under freshly fetched data")
	saveFlag := flag.Bool("save-intermediate", false, "persist the station catalog and per-station tables")
	timeFieldFlag := flag.String("time-field", "momento", "raw field holding the observation moment")
	attrsFlag := flag.String("station-attrs", "nombreEstacion", "comma-separated station attributes carried into the output")
	watchFlag := flag.Duration("watch", 0, "re-run on this interval and serve HTTP endpoints (0 runs once)")
	verboseFlag := flag.Bool("v", false, "debug logging")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.LogFormat, *verboseFlag || strings.EqualFold(cfg.LogLevel, "debug"))
	metrics := observability.NewMetrics()

	resolution, err := domain.ParseResolution(*resolutionFlag)
	if err != nil {
		return err
	}
	start, end, err := window(*startFlag, *endFlag)
	if err != nil {
		return err
	}

	public := cfg.DMCBaseURL == "" || cfg.DMCBaseURL == dmc.DefaultBaseURL
	if public && (cfg.DMCUser == "" || cfg.DMCToken == "") {
		return errors.New("OBSGRID_DMC_USER and OBSGRID_DMC_TOKEN are required for the public DMC API")
	}

	network := dmc.NewClient(cfg.DMCBaseURL, cfg.DMCUser, cfg.DMCToken, cfg.FetchTimeout, logger)
	fetcher := fetch.NewFetcher(logger, metrics,
		fetch.WithMaxRounds(cfg.FetchRounds),
		fetch.WithConcurrency(cfg.FetchConcurrency),
		fetch.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout}),
	)
	tableStore := store.NewStore(*dataDirFlag, *timeFieldFlag, logger)

	var encoder pipeline.Encoder
	if filepath.Ext(*outFlag) == ".parquet" {
		encoder = parquet.NewEncoder()
	} else {
		encoder = netcdf.NewEncoder(netcdf.Meta{
			Title:      "gridded station observations",
			Network:    network.Name(),
			Resolution: string(resolution),
		})
	}

	var opts []pipeline.Option
	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg, logger)
		defer closePublisher(publisher, logger)
		opts = append(opts, pipeline.WithPublisher(publisher))
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	p := pipeline.New(network, fetcher, tableStore, encoder, logger, metrics, opts...)

	params := pipeline.Params{
		Start:            start,
		End:              end,
		Resolution:       resolution,
		TimeField:        *timeFieldFlag,
		ExtraAttrs:       splitComma(*attrsFlag),
		Merge:            *mergeFlag,
		SaveIntermediate: *saveFlag,
		OutputPath:       *outFlag,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *watchFlag <= 0 {
		_, err := p.Run(ctx, params)
		return err
	}
	return watch(ctx, cfg, p, params, *watchFlag, logger)
}

// watch runs the pipeline on an interval and serves the operational HTTP
// endpoints until a signal arrives.
func watch(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, params pipeline.Params, interval time.Duration, logger *slog.Logger) error {
	sched := scheduler.New(p, params, interval, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, p, sched, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func closePublisher(pub *kafkaadapter.Publisher, logger *slog.Logger) {
	if err := pub.Close(); err != nil {
		logger.Error("kafka publisher close error", "error", err)
	}
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// window resolves the -start and -end flags. Unset start defaults to the
// first of the current month, unset end to now, both UTC.
func window(startFlag, endFlag string) (time.Time, time.Time, error) {
	now := domain.Now().UTC()

	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if startFlag != "" {
		t, err := parseTimeFlag(startFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("-start: %w", err)
		}
		start = t
	}

	end := now
	if endFlag != "" {
		t, err := parseTimeFlag(endFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("-end: %w", err)
		}
		end = t
	}
	return start, end, nil
}

func parseTimeFlag(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q (want 2006-01, 2006-01-02, or RFC3339)", s)
}
