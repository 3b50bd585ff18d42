package wschain

import (
	"context"
	"sync"
	"time"
)

type pendingRead[T any] struct {
	value chan T
}

// BlockingQueue hands values from a producer to a sequence of readers.
// Values pushed with no reader waiting are buffered without bound; readers
// arriving with nothing buffered wait in FIFO order.
type BlockingQueue[T any] struct {
	mu      sync.Mutex
	pushed  []T
	pending []*pendingRead[T]
	closed  bool
}

func NewBlockingQueue[T any]() *BlockingQueue[T] {
	return &BlockingQueue[T]{}
}

// Push hands v to the oldest waiting reader, or buffers it.
func (q *BlockingQueue[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	if len(q.pending) > 0 {
		p := q.pending[0]
		q.pending = q.pending[1:]
		p.value <- v
		return
	}

	q.pushed = append(q.pushed, v)
}

// Pop returns the oldest buffered value or waits for the next Push. A zero
// timeout waits until ctx is done. On timeout the read is withdrawn, so a
// later Push is never delivered to it.
func (q *BlockingQueue[T]) Pop(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	q.mu.Lock()
	if len(q.pushed) > 0 {
		v := q.pushed[0]
		q.pushed = q.pushed[1:]
		q.mu.Unlock()
		return v, nil
	}
	if q.closed {
		q.mu.Unlock()
		return zero, ErrQueueClosed
	}
	p := &pendingRead[T]{value: make(chan T, 1)}
	q.pending = append(q.pending, p)
	q.mu.Unlock()

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case v, ok := <-p.value:
		if !ok {
			return zero, ErrQueueClosed
		}
		return v, nil
	case <-timerC:
		return q.withdraw(p, timeoutError{after: timeout})
	case <-ctx.Done():
		return q.withdraw(p, context.Cause(ctx))
	}
}

// withdraw removes p from the waiters. If a Push already claimed it, the
// pushed value wins over err.
func (q *BlockingQueue[T]) withdraw(p *pendingRead[T], err error) (T, error) {
	var zero T

	q.mu.Lock()
	for i, w := range q.pending {
		if w == p {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.mu.Unlock()
			return zero, err
		}
	}
	q.mu.Unlock()

	v, ok := <-p.value
	if !ok {
		return zero, ErrQueueClosed
	}
	return v, nil
}

// Len reports how many values are buffered.
func (q *BlockingQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pushed)
}

// Close rejects every waiting reader and drops later pushes. Buffered values
// remain readable.
func (q *BlockingQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for _, p := range q.pending {
		close(p.value)
	}
	q.pending = nil
}
