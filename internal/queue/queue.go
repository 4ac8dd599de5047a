// internal/queue/queue.go - named queues feeding the worker loops
package queue

import (
	"context"
	"sync"
)

// Broker hands out named queues. Workers block on a queue until an item
// arrives; producers push from the API layer and from other workers.
type Broker struct {
	mu     sync.Mutex
	queues map[string]*Queue
}

func NewBroker() *Broker {
	return &Broker{
		queues: make(map[string]*Queue),
	}
}

// Get returns the named queue, creating it on first use.
func (b *Broker) Get(name string) *Queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		q = newQueue(name)
		b.queues[name] = q
	}
	return q
}

// Queue is an unbounded FIFO with a blocking receive. Items are held in
// order; Pop waits until an item is available or the context ends.
type Queue struct {
	name   string
	mu     sync.Mutex
	items  [][]byte
	wakeup chan struct{}
}

func newQueue(name string) *Queue {
	return &Queue{
		name:   name,
		wakeup: make(chan struct{}, 1),
	}
}

func (q *Queue) Name() string {
	return q.name
}

// Push appends an item and wakes one waiting consumer.
func (q *Queue) Push(item []byte) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wakeup <- struct{}{}:
	default:
	}
}

// Pop blocks until an item is available, returning ctx.Err() when the
// context is cancelled first.
func (q *Queue) Pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wakeup:
		}
	}
}

// TryPop returns the next item without blocking; ok is false when the
// queue is empty. Workers use it to drain everything available while
// holding their processing lock.
func (q *Queue) TryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
