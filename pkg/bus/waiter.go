package bus

import (
	"context"
	"sync"
)

// Waiter is a one-shot subscription registered before the emission it waits
// for, so a reply published right after a request cannot be missed.
type Waiter struct {
	b     Bus
	sub   *Subscription
	ch    chan []byte
	once  sync.Once
	close sync.Once
}

// Prepare subscribes to topic and returns a waiter for its next emission.
func Prepare(b Bus, topic string) (*Waiter, error) {
	return PrepareFunc(b, topic, nil)
}

// PrepareFunc is Prepare that only accepts payloads for which match returns
// true. A nil match accepts everything.
func PrepareFunc(b Bus, topic string, match func([]byte) bool) (*Waiter, error) {
	w := &Waiter{b: b, ch: make(chan []byte, 1)}
	sub, err := b.On(topic, func(data []byte) {
		if match != nil && !match(data) {
			return
		}
		w.once.Do(func() { w.ch <- data })
	})
	if err != nil {
		return nil, err
	}
	w.sub = sub
	return w, nil
}

// Wait returns the first matching payload, or ctx's error. The waiter is
// unsubscribed either way.
func (w *Waiter) Wait(ctx context.Context) ([]byte, error) {
	defer w.Cancel()
	select {
	case data := <-w.ch:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel unsubscribes a waiter that will not be waited on.
func (w *Waiter) Cancel() {
	w.close.Do(func() {
		_ = w.b.Off(w.sub)
	})
}
