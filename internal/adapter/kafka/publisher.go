// Package kafka forwards persisted measurement rows to a downstream topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
)

// Publisher produces measurement rows to a Kafka topic. It implements
// pipeline.Publisher. Delivery is at-least-once per persisted batch;
// consumers dedup on the message key.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the measurement topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishRows serializes and publishes a batch of rows in a single
// WriteMessages call.
func (p *Publisher) PublishRows(ctx context.Context, source string, rows []domain.Row) error {
	if len(rows) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(rows))
	for i := range rows {
		msg, err := serializeRow(source, rows[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeRow marshals a row into a Kafka message keyed by the row's dedup
// identity, so replayed batches land on the same partition and consumers can
// drop duplicates.
func serializeRow(source string, row domain.Row) (kafkago.Message, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize row: %w", err)
	}
	key := fmt.Sprintf("%s|%s|%s %s", source, row.EntityID, row.Date, row.Time)
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(source)},
			{Key: "observed_at", Value: []byte(row.ObservedAt.Format(time.RFC3339))},
		},
	}, nil
}
