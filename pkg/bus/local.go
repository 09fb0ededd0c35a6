package bus

import (
	"context"
	"sync/atomic"

	"github.com/morezero/streamcall/pkg/commsutil"
)

// Local is an in-process bus. Emit calls subscribers synchronously on the
// emitting goroutine, so a subscriber that must not block the emitter hands
// the payload off itself.
type Local struct {
	subs   *table
	closed atomic.Bool
}

// NewLocal creates an empty in-process bus.
func NewLocal() *Local {
	return &Local{subs: newTable()}
}

func (l *Local) On(topic string, h Handler) (*Subscription, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if err := commsutil.ValidateTopic(topic); err != nil {
		return nil, err
	}
	sub, _ := l.subs.add(topic, h)
	return sub, nil
}

func (l *Local) Off(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	l.subs.remove(sub)
	return nil
}

func (l *Local) Emit(topic string, data []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	deliver(l.subs.snapshot(topic), data)
	return nil
}

func (l *Local) Next(ctx context.Context, topic string) ([]byte, error) {
	w, err := Prepare(l, topic)
	if err != nil {
		return nil, err
	}
	return w.Wait(ctx)
}

// Subscribers returns the number of handlers currently on topic.
func (l *Local) Subscribers(topic string) int {
	return l.subs.count(topic)
}

func (l *Local) Close() error {
	l.closed.Store(true)
	l.subs.clear()
	return nil
}
