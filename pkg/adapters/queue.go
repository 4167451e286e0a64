package adapters

import "sync"

// SendFunc performs the deferred send of one queued payload.
type SendFunc func(payload any) error

// PendingQueue buffers sends issued before the session is ready. Flush
// drains in FIFO order exactly once; everything after that passes through.
type PendingQueue struct {
	mu      sync.Mutex
	pending []any
	flushed bool
	limit   int
}

// NewPendingQueue bounds the buffer at limit entries (0 means 1024).
// Overflow drops the oldest entry so a stuck handshake cannot grow the
// queue without bound.
func NewPendingQueue(limit int) *PendingQueue {
	if limit <= 0 {
		limit = 1024
	}
	return &PendingQueue{limit: limit}
}

// Enqueue buffers a payload if the queue has not flushed yet. It reports
// whether the payload was buffered; false means the caller should send
// directly.
func (q *PendingQueue) Enqueue(payload any) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.flushed {
		return false
	}
	if len(q.pending) >= q.limit {
		q.pending = q.pending[1:]
	}
	q.pending = append(q.pending, payload)
	return true
}

// Flush sends all buffered payloads in order and marks the queue as
// passed-through. A second flush is a no-op.
func (q *PendingQueue) Flush(send SendFunc) error {
	q.mu.Lock()
	if q.flushed {
		q.mu.Unlock()
		return nil
	}
	q.flushed = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, payload := range pending {
		if err := send(payload); err != nil {
			return err
		}
	}
	return nil
}

// Discard drops any buffered payloads without sending and resets the
// queue for a future connection attempt.
func (q *PendingQueue) Discard() {
	q.mu.Lock()
	q.pending = nil
	q.flushed = false
	q.mu.Unlock()
}

// Len reports the buffered payload count.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
