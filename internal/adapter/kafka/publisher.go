package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/obsgrid/internal/config"
	"github.com/couchcryptid/obsgrid/internal/domain"
)

// RowMessage is the canonical per-row payload published downstream. NaN
// values serialize as null, which JSON requires and consumers expect.
type RowMessage struct {
	StationID  string              `json:"station_id"`
	ObservedAt time.Time           `json:"observed_at"`
	Values     map[string]*float64 `json:"values"`
	RunID      string              `json:"run_id"`
}

// Publisher produces canonical observation rows to a Kafka topic.
// It implements pipeline.Publisher.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishRows serializes one station's merged table and publishes every row
// in a single WriteMessages call.
func (p *Publisher) PublishRows(ctx context.Context, runID, stationID string, t domain.Table) error {
	rows := t.Rows()
	if len(rows) == 0 {
		return nil
	}

	msgs := make([]kafkago.Message, len(rows))
	for i, row := range rows {
		msg, err := serializeRow(runID, stationID, row)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish rows for station %s: %w", stationID, err)
	}
	p.logger.Debug("rows published", slog.String("station", stationID), slog.Int("rows", len(rows)))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeRow marshals one observation row into a Kafka message keyed by
// station id.
func serializeRow(runID, stationID string, row domain.Row) (kafkago.Message, error) {
	values := make(map[string]*float64, len(row.Values))
	for col, v := range row.Values {
		if math.IsNaN(v) {
			values[col] = nil
			continue
		}
		f := v
		values[col] = &f
	}

	data, err := json.Marshal(RowMessage{
		StationID:  stationID,
		ObservedAt: row.At.UTC(),
		Values:     values,
		RunID:      runID,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize row for station %s: %w", stationID, err)
	}

	return kafkago.Message{
		Key:   []byte(stationID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(runID)},
			{Key: "observed_at", Value: []byte(row.At.UTC().Format(time.RFC3339))},
		},
	}, nil
}
