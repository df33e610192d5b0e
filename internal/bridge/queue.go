package bridge

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// AudioQueue is an unbounded FIFO of recorded audio payloads. The connection
// handler pushes; the orchestrator pops and drains.
//
// All methods are safe for concurrent use.
type AudioQueue struct {
	mu    sync.Mutex
	items deque.Deque[[]byte]

	// ready holds a token while items may be available.
	ready chan struct{}
}

// NewAudioQueue returns an empty queue.
func NewAudioQueue() *AudioQueue {
	return &AudioQueue{ready: make(chan struct{}, 1)}
}

// Push appends data. It never blocks.
func (q *AudioQueue) Push(data []byte) {
	q.mu.Lock()
	q.items.PushBack(data)
	q.mu.Unlock()
	q.signal()
}

// Pop removes and returns the oldest payload, waiting until one is available
// or ctx is done. Nothing is removed when ctx ends first.
func (q *AudioQueue) Pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			data := q.items.PopFront()
			more := q.items.Len() > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return data, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Drain discards every queued payload and returns how many were dropped.
func (q *AudioQueue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.items.Len()
	q.items.Clear()
	select {
	case <-q.ready:
	default:
	}
	return n
}

// Len returns the number of queued payloads.
func (q *AudioQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *AudioQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
