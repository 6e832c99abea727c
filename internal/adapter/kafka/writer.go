package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/climate-prep-etl/internal/config"
	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

// Writer produces messages to a Kafka topic.
// It implements pipeline.DetectionLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured detection topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.Fires.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    cfg.BatchSize,
	}
	return &Writer{writer: w, logger: logger}
}

// detectionMessage is the JSON body of a published detection.
type detectionMessage struct {
	Date       string  `json:"date"`
	Time       string  `json:"time"`
	Satellite  string  `json:"satellite"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Confidence float64 `json:"confidence"`
}

// LoadBatch serializes and publishes detections in a single WriteMessages
// call, keyed by FireDetection.Key.
func (w *Writer) LoadBatch(ctx context.Context, detections []domain.FireDetection) error {
	if len(detections) == 0 {
		return nil
	}
	publishedAt := domain.Now()
	msgs := make([]kafkago.Message, len(detections))
	for i := range detections {
		msg, err := serializeToMessage(detections[i], publishedAt)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d detections: %w", len(msgs), err)
	}
	w.logger.Debug("published detections", "topic", w.writer.Topic, "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a FireDetection into a Kafka message.
func serializeToMessage(d domain.FireDetection, publishedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(detectionMessage{
		Date:       d.Date,
		Time:       d.Time,
		Satellite:  d.Satellite,
		Lat:        d.Lat,
		Lon:        d.Lon,
		Confidence: d.Confidence,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize fire detection: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(d.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "satellite", Value: []byte(d.Satellite)},
			{Key: "published_at", Value: []byte(publishedAt.Format(time.RFC3339))},
		},
	}, nil
}
