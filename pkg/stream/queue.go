package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrDone is returned by Next once the done message has been consumed.
var ErrDone = errors.New("stream: done")

// Queue buffers messages in arrival order for a single reader. Push never
// blocks, so it is safe to call from a bus handler.
type Queue struct {
	mu     sync.Mutex
	items  []*Message
	signal chan struct{}
	done   bool
	last   *Message
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push appends m.
func (q *Queue) Push(m *Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop returns the next message, waiting for one if needed. After the done
// message has been popped it returns ErrDone.
func (q *Queue) Pop(ctx context.Context) (*Message, error) {
	for {
		q.mu.Lock()
		if q.done {
			q.mu.Unlock()
			return nil, ErrDone
		}
		if len(q.items) > 0 {
			m := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if m.Done {
				q.done = true
				q.last = m
			}
			q.mu.Unlock()
			return m, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Next returns the next value. Error messages are returned as errors and do
// not end the stream; the done message yields ErrDone.
func (q *Queue) Next(ctx context.Context) (any, error) {
	m, err := q.Pop(ctx)
	if err != nil {
		return nil, err
	}
	if m.Done {
		return nil, ErrDone
	}
	return m.Result()
}

// Terminal returns the done message once it has been popped.
func (q *Queue) Terminal() *Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last
}
