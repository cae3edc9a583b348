package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const defaultInMemoryCapacity = 1000

var ErrQueueClosed = errors.New("queue is closed")

type inMemoryTask struct {
	queue       *InMemoryQueue
	name        string
	payload     []byte
	redelivered bool
	settle      sync.Once
}

func (t *inMemoryTask) Type() string {
	return t.name
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Redelivered() bool {
	return t.redelivered
}

func (t *inMemoryTask) Ack() error {
	t.settle.Do(func() {})
	return nil
}

func (t *inMemoryTask) Nack() error {
	t.settle.Do(func() {
		next := &inMemoryTask{queue: t.queue, name: t.name, payload: t.payload, redelivered: true}
		// The consumer calling Nack may be the only reader, so the redelivery
		// must not block on a full buffer.
		go func() {
			if err := t.queue.enqueue(context.Background(), next); err != nil {
				slog.Warn("dropping nacked task", "queue", t.name, "error", err)
			}
		}()
	})
	return nil
}

func (t *inMemoryTask) Reject() error {
	t.settle.Do(func() {})
	return nil
}

// InMemoryQueue is a process-local Publisher and Receiver. Messages do not
// survive a restart; callers that need durability replay from the store.
type InMemoryQueue struct {
	closeLock sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
	tasks     chan Task
}

func NewInMemoryQueue() *InMemoryQueue {
	return NewInMemoryQueueWithCapacity(defaultInMemoryCapacity)
}

func NewInMemoryQueueWithCapacity(capacity int) *InMemoryQueue {
	return &InMemoryQueue{
		done:  make(chan struct{}),
		tasks: make(chan Task, capacity),
	}
}

func (q *InMemoryQueue) enqueue(ctx context.Context, task *inMemoryTask) error {
	q.closeLock.RLock()
	defer q.closeLock.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- task:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) publishTaskInternal(ctx context.Context, queue string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", queue, err)
	}

	return q.enqueue(ctx, &inMemoryTask{queue: q, name: queue, payload: data})
}

func (q *InMemoryQueue) PublishScoreTask(ctx context.Context, payload ScoreTaskPayload) error {
	return q.publishTaskInternal(ctx, ScoreQueue, payload)
}

// PublishRaw enqueues an already encoded payload.
func (q *InMemoryQueue) PublishRaw(ctx context.Context, queue string, data []byte) error {
	return q.enqueue(ctx, &inMemoryTask{queue: q, name: queue, payload: data})
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

func (q *InMemoryQueue) Close() {
	q.closeOnce.Do(func() {
		// Unblock publishers waiting on a full buffer before taking the write lock.
		close(q.done)

		q.closeLock.Lock()
		defer q.closeLock.Unlock()
		q.closed = true
		close(q.tasks)
	})
}
