// Package kafka wraps segmentio/kafka-go with the narrow surface the event
// queues need: synchronous JSON publishes keyed for partition affinity, and
// explicit fetch/commit reads so a message is only committed after the
// indexing work behind it succeeded.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tenantgrid/index-pipeline/pkg/config"
)

const (
	writeBatchSize    = 100
	writeBatchTimeout = 10 * time.Millisecond
	writeMaxAttempts  = 3
)

// Event is one unit of data to publish. Key drives partition hashing so
// events for the same entity stay ordered; Value is JSON-encoded on the way
// out.
type Event struct {
	Key   string
	Value any
}

// Producer writes events to a single topic. Writes are synchronous and
// require acks from all replicas, so a nil error means the event is durable.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    writeBatchSize,
			BatchTimeout: writeBatchTimeout,
			MaxAttempts:  writeMaxAttempts,
			RequiredAcks: kafka.RequireAll,
		},
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish encodes the given events and writes them in one call. It returns
// before writing anything if any event fails to encode.
func (p *Producer) Publish(ctx context.Context, events ...Event) error {
	msgs := make([]kafka.Message, len(events))
	for i, ev := range events {
		value, err := json.Marshal(ev.Value)
		if err != nil {
			return fmt.Errorf("encoding event %q: %w", ev.Key, err)
		}
		msgs[i] = kafka.Message{Key: []byte(ev.Key), Value: value}
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("publish failed", "count", len(msgs), "error", err)
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	p.logger.Debug("published", "count", len(msgs))
	return nil
}

// Close flushes pending writes and releases the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
