package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb/geojson"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/water-quality-etl/internal/config"
	"github.com/couchcryptid/water-quality-etl/internal/domain"
)

// publishBatchSize bounds the number of messages per WriteMessages call.
const publishBatchSize = 500

// Writer publishes exported features to a Kafka topic, one message per feature.
// It implements pipeline.FeaturePublisher.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaSinkTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes the features and writes them in batches. Messages are keyed
// by feature ID so a re-run of the same department replaces earlier values on a
// compacted topic.
func (w *Writer) Publish(ctx context.Context, runID string, features []*geojson.Feature) error {
	publishedAt := domain.Now()
	for start := 0; start < len(features); start += publishBatchSize {
		end := min(start+publishBatchSize, len(features))

		msgs := make([]kafkago.Message, 0, end-start)
		for _, f := range features[start:end] {
			msg, err := serializeToMessage(f, runID, publishedAt)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("publish features %d-%d: %w", start, end, err)
		}
	}
	w.logger.Info("features published", "count", len(features), "run_id", runID)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a feature into a Kafka message.
func serializeToMessage(f *geojson.Feature, runID string, publishedAt time.Time) (kafkago.Message, error) {
	data, err := f.MarshalJSON()
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize feature: %w", err)
	}
	key := fmt.Sprint(f.ID)
	source, _ := f.Properties["source"].(string)
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(source)},
			{Key: "run_id", Value: []byte(runID)},
			{Key: "published_at", Value: []byte(publishedAt.Format(time.RFC3339))},
		},
	}, nil
}
