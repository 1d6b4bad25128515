package ws

import (
	"context"
	"sync"
)

// requestQueue is an unbounded FIFO of client frames. push never blocks, so
// the read pump keeps reading while the worker is busy.
type requestQueue struct {
	mu    sync.Mutex
	items [][]byte
	ready chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{ready: make(chan struct{}, 1)}
}

func (q *requestQueue) push(data []byte) {
	q.mu.Lock()
	q.items = append(q.items, data)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop returns the oldest frame, waiting for one. ok is false once ctx is done.
func (q *requestQueue) pop(ctx context.Context) (data []byte, ok bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			data = q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return data, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, false
		}
	}
}
