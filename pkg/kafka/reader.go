package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/tenantgrid/index-pipeline/pkg/config"
)

const (
	fetchMinBytes = 1e3
	fetchMaxBytes = 10e6
)

// Reader consumes a topic as part of a consumer group with auto-commit off.
// An uncommitted message is redelivered to the group after a rebalance, so
// committing only after successful processing yields at-least-once delivery.
type Reader struct {
	reader *kafka.Reader
	logger *slog.Logger
}

func NewReader(cfg config.KafkaConfig, topic string) *Reader {
	return &Reader{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    fetchMinBytes,
			MaxBytes:    fetchMaxBytes,
			StartOffset: kafka.LastOffset,
		}),
		logger: slog.Default().With("component", "kafka-reader", "topic", topic),
	}
}

// Fetch blocks for the next message or until ctx expires. The returned
// message stays uncommitted until passed to Commit.
func (r *Reader) Fetch(ctx context.Context) (kafka.Message, error) {
	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, err
	}
	r.logger.Debug("fetched",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
	)
	return msg, nil
}

// Commit marks the given messages consumed for the group.
func (r *Reader) Commit(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := r.reader.CommitMessages(ctx, msgs...); err != nil {
		r.logger.Error("commit failed", "count", len(msgs), "error", err)
		return fmt.Errorf("committing kafka offsets: %w", err)
	}
	return nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}
