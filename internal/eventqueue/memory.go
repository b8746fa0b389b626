package eventqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/tenantgrid/index-pipeline/pkg/errors"
)

// MemoryQueue is an in-process Queue with visibility-timeout redelivery,
// used by local deployments and tests. Taken messages become invisible for
// the configured timeout; if not acked by then they are handed out again.
type MemoryQueue struct {
	mu         sync.Mutex
	notify     chan struct{}
	entries    map[int64]*memoryMessage
	nextID     int64
	head       int64
	visibility time.Duration
	closed     bool
	now        func() time.Time
}

type memoryMessage struct {
	id             int64
	key            string
	body           []byte
	invisibleUntil time.Time
}

func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	return &MemoryQueue{
		notify:     make(chan struct{}, 1),
		entries:    make(map[int64]*memoryMessage),
		head:       1,
		visibility: visibility,
		now:        time.Now,
	}
}

func (q *MemoryQueue) Offer(_ context.Context, key string, body []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New(errors.ErrQueueBackend, 503, "queue is closed")
	}
	q.nextID++
	id := q.nextID
	q.entries[id] = &memoryMessage{id: id, key: key, body: append([]byte(nil), body...)}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Take(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	deadline := q.now().Add(wait)
	for {
		msgs, err := q.takeVisible(max)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		remaining := deadline.Sub(q.now())
		if remaining <= 0 {
			return nil, nil
		}
		// Poll interval doubles as the redelivery check for messages whose
		// visibility timeout expires while we wait.
		poll := 10 * time.Millisecond
		if poll > remaining {
			poll = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		case <-time.After(poll):
		}
	}
}

func (q *MemoryQueue) takeVisible(max int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, errors.New(errors.ErrQueueBackend, 503, "queue is closed")
	}
	now := q.now()
	var taken []Message
	// Scan in insertion order so redelivery keeps rough FIFO behaviour. The
	// head pointer skips the acked prefix so the scan stays cheap on
	// long-lived queues.
	for id := q.head; id <= q.nextID && len(taken) < max; id++ {
		m, ok := q.entries[id]
		if !ok {
			if id == q.head {
				q.head++
			}
			continue
		}
		if now.Before(m.invisibleUntil) {
			continue
		}
		m.invisibleUntil = now.Add(q.visibility)
		taken = append(taken, Message{
			ID:      strconv.FormatInt(m.id, 10),
			Body:    m.body,
			receipt: m.id,
		})
	}
	return taken, nil
}

func (q *MemoryQueue) Ack(_ context.Context, msgs ...Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range msgs {
		if id, ok := m.receipt.(int64); ok {
			delete(q.entries, id)
		}
	}
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Depth reports how many messages are pending (visible or in flight).
func (q *MemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
