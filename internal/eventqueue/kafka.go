package eventqueue

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/tenantgrid/index-pipeline/pkg/config"
	"github.com/tenantgrid/index-pipeline/pkg/kafka"
	"github.com/tenantgrid/index-pipeline/pkg/metrics"
)

// KafkaQueue backs the Queue contract with a Kafka topic. Visibility is the
// consumer group's: fetched-but-uncommitted offsets are redelivered after a
// rebalance, which gives the same at-least-once contract as a visibility
// timeout.
type KafkaQueue struct {
	name     string
	producer *kafka.Producer
	reader   *kafka.Reader
	metrics  *metrics.Metrics
}

func NewKafkaQueue(cfg config.KafkaConfig, topic string, m *metrics.Metrics) *KafkaQueue {
	return &KafkaQueue{
		name:     topic,
		producer: kafka.NewProducer(cfg, topic),
		reader:   kafka.NewReader(cfg, topic),
		metrics:  m,
	}
}

func (q *KafkaQueue) Offer(ctx context.Context, key string, body []byte) error {
	// The producer JSON-encodes its event value; body is already encoded,
	// so pass it through as raw JSON.
	err := q.producer.Publish(ctx, kafka.Event{Key: key, Value: rawJSON(body)})
	if err == nil && q.metrics != nil {
		q.metrics.QueueOfferedTotal.WithLabelValues(q.name).Inc()
	}
	return err
}

func (q *KafkaQueue) Take(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	start := time.Now()
	defer func() {
		if q.metrics != nil {
			q.metrics.QueueTakeDuration.WithLabelValues(q.name).Observe(time.Since(start).Seconds())
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var msgs []Message
	for len(msgs) < max {
		raw, err := q.reader.Fetch(fetchCtx)
		if err != nil {
			if len(msgs) > 0 || fetchCtx.Err() != nil {
				// Batch cut short by the wait deadline; return what we have.
				break
			}
			return nil, err
		}
		msgs = append(msgs, Message{
			ID:      fmt.Sprintf("%d/%d", raw.Partition, raw.Offset),
			Body:    raw.Value,
			receipt: raw,
		})
	}
	if q.metrics != nil {
		q.metrics.QueueTakenTotal.WithLabelValues(q.name).Add(float64(len(msgs)))
	}
	return msgs, nil
}

func (q *KafkaQueue) Ack(ctx context.Context, msgs ...Message) error {
	raws := make([]kafkago.Message, 0, len(msgs))
	for _, m := range msgs {
		if raw, ok := m.receipt.(kafkago.Message); ok {
			raws = append(raws, raw)
		}
	}
	if err := q.reader.Commit(ctx, raws...); err != nil {
		return err
	}
	if q.metrics != nil {
		q.metrics.QueueAckedTotal.WithLabelValues(q.name).Add(float64(len(raws)))
	}
	return nil
}

func (q *KafkaQueue) Close() error {
	producerErr := q.producer.Close()
	if err := q.reader.Close(); err != nil {
		return err
	}
	return producerErr
}

// rawJSON passes pre-encoded JSON through the producer's marshal step
// unchanged.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) { return r, nil }
