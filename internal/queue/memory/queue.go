// Package memory provides the bounded visit queue shared by scheduler slots.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/rum-crawler/internal/crawler"
)

// ErrClosed is returned by Enqueue after Close, and by Dequeue once a closed
// queue is empty.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory FIFO with context-aware operations.
type Queue struct {
	ch     chan crawler.VisitTask
	mu     sync.RWMutex
	closed bool
}

// NewQueue constructs a queue holding up to capacity pending tasks.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan crawler.VisitTask, capacity),
	}
}

// Enqueue blocks while the queue is full, until ctx ends.
func (q *Queue) Enqueue(ctx context.Context, task crawler.VisitTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task. Tasks queued before Close are still delivered.
func (q *Queue) Dequeue(ctx context.Context) (crawler.VisitTask, error) {
	select {
	case <-ctx.Done():
		return crawler.VisitTask{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return crawler.VisitTask{}, ErrClosed
		}
		return task, nil
	}
}

// Len reports the number of pending tasks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting tasks. It waits for in-flight Enqueue calls to
// finish and is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
