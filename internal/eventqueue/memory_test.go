package eventqueue

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/tenantgrid/index-pipeline/pkg/errors"
)

func TestOfferTake(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	ctx := context.Background()

	for _, body := range []string{"a", "b", "c"} {
		if err := q.Offer(ctx, "key", []byte(body)); err != nil {
			t.Fatalf("Offer: %v", err)
		}
	}

	msgs, err := q.Take(ctx, 10, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("took %d messages, want 3", len(msgs))
	}
	if string(msgs[0].Body) != "a" {
		t.Fatalf("first message = %q, want FIFO order", msgs[0].Body)
	}
}

func TestTakeHonoursCap(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if err := q.Offer(ctx, "key", []byte{byte(i)}); err != nil {
			t.Fatalf("Offer: %v", err)
		}
	}

	msgs, err := q.Take(ctx, 10, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if len(msgs) != 10 {
		t.Fatalf("took %d messages, want cap of 10", len(msgs))
	}
}

func TestTakenMessagesInvisibleUntilTimeout(t *testing.T) {
	q := NewMemoryQueue(50 * time.Millisecond)
	ctx := context.Background()

	if err := q.Offer(ctx, "key", []byte("payload")); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	first, err := q.Take(ctx, 10, 100*time.Millisecond)
	if err != nil || len(first) != 1 {
		t.Fatalf("first take = (%d, %v)", len(first), err)
	}

	// In flight: a second take inside the visibility window sees nothing.
	second, err := q.Take(ctx, 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("second take: %v", err)
	}
	if len(second) != 0 {
		t.Fatal("in-flight message must be invisible")
	}

	// Unacked past the timeout: redelivered.
	redelivered, err := q.Take(ctx, 10, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("redelivery take: %v", err)
	}
	if len(redelivered) != 1 {
		t.Fatal("unacked message should be redelivered after visibility timeout")
	}
	if string(redelivered[0].Body) != "payload" {
		t.Fatalf("redelivered body = %q", redelivered[0].Body)
	}
}

func TestAckStopsRedelivery(t *testing.T) {
	q := NewMemoryQueue(20 * time.Millisecond)
	ctx := context.Background()

	if err := q.Offer(ctx, "key", []byte("payload")); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	msgs, err := q.Take(ctx, 10, 100*time.Millisecond)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("take = (%d, %v)", len(msgs), err)
	}
	if err := q.Ack(ctx, msgs...); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if q.Depth() != 0 {
		t.Fatalf("Depth = %d after ack, want 0", q.Depth())
	}

	later, err := q.Take(ctx, 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("take after ack: %v", err)
	}
	if len(later) != 0 {
		t.Fatal("acked message must not be redelivered")
	}
}

func TestClosedQueueRejectsOfferAndTake(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	ctx := context.Background()

	if err := q.Offer(ctx, "key", []byte("payload")); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := q.Offer(ctx, "key", []byte("late")); !stderrors.Is(err, errors.ErrQueueBackend) {
		t.Fatalf("Offer after Close = %v, want ErrQueueBackend", err)
	}
	if _, err := q.Take(ctx, 10, 50*time.Millisecond); !stderrors.Is(err, errors.ErrQueueBackend) {
		t.Fatalf("Take after Close = %v, want ErrQueueBackend", err)
	}
}

func TestTakeRespectsContext(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Take(ctx, 10, time.Second)
	if err == nil {
		t.Fatal("expected context error")
	}
}
