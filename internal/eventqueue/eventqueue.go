// Package eventqueue abstracts the durable queue behind the distributed
// async index service. Messages are opaque byte payloads; consumers take up
// to a cap, process, then acknowledge. Unacknowledged messages are
// redelivered, so every consumer must tolerate duplicates.
package eventqueue

import (
	"context"
	"time"
)

// Message is one queued payload plus the receipt needed to acknowledge it.
type Message struct {
	// ID identifies the message for logging; its format is backend-specific.
	ID string
	// Body is the JSON payload as offered.
	Body []byte

	// receipt is backend state consumed by Ack.
	receipt any
}

// Queue is a durable at-least-once message queue.
type Queue interface {
	// Offer enqueues one payload. Key groups related payloads for backends
	// that partition by key.
	Offer(ctx context.Context, key string, body []byte) error
	// Take returns up to max messages, waiting up to wait for the first
	// one. An empty slice with a nil error means the wait elapsed quietly.
	Take(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	// Ack marks the messages consumed. Unacked messages are redelivered
	// after the backend's visibility timeout.
	Ack(ctx context.Context, msgs ...Message) error
	Close() error
}
