// Package bus is the topic based publish/subscribe surface used for stream
// delivery, offload hand-off and reload notifications. Local delivers in
// process; Relay carries the same topics over a NATS connection so several
// processes share one topic space.
package bus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/morezero/streamcall/pkg/commsutil"
)

const logPrefix = "bus:bus"

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus: closed")

// Handler receives the payload of one emission.
type Handler func(data []byte)

// Subscription identifies one registered handler. Pass it to Off to remove it.
type Subscription struct {
	id      uint64
	topic   string
	handler Handler
}

// Topic returns the topic the subscription listens on.
func (s *Subscription) Topic() string { return s.topic }

// Bus is implemented by Local and Relay.
type Bus interface {
	// On registers h for topic. Subscribers of a topic are called in
	// registration order.
	On(topic string, h Handler) (*Subscription, error)
	// Off removes a subscription. Removing twice is a no-op.
	Off(sub *Subscription) error
	// Emit delivers data to every current subscriber of topic.
	Emit(topic string, data []byte) error
	// Next waits for the first emission on topic after the call.
	Next(ctx context.Context, topic string) ([]byte, error)
	Close() error
}

// Open returns a Local bus for an empty or "local://" url and a Relay for
// nats:// urls. A relay opened this way owns its connection.
func Open(rawURL, name string) (Bus, error) {
	if rawURL == "" {
		return NewLocal(), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid bus url %q: %w", logPrefix, rawURL, err)
	}
	switch u.Scheme {
	case "local", "mem", "memory":
		return NewLocal(), nil
	case "nats", "tls", "ws", "wss":
		nc, err := commsutil.Connect(rawURL, name)
		if err != nil {
			return nil, err
		}
		r := NewRelay(nc)
		r.owned = true
		return r, nil
	default:
		return nil, fmt.Errorf("%s - unsupported bus scheme %q", logPrefix, u.Scheme)
	}
}

// table keeps the ordered subscriber lists shared by both implementations.
type table struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string][]*Subscription
}

func newTable() *table {
	return &table{topics: make(map[string][]*Subscription)}
}

// add registers h and reports whether it is the first subscriber of topic.
func (t *table) add(topic string, h Handler) (*Subscription, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	sub := &Subscription{id: t.nextID, topic: topic, handler: h}
	first := len(t.topics[topic]) == 0
	t.topics[topic] = append(t.topics[topic], sub)
	return sub, first
}

// remove drops sub and reports whether it was present and whether it was the last one.
func (t *table) remove(sub *Subscription) (found, last bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.topics[sub.topic]
	for i, s := range subs {
		if s.id != sub.id {
			continue
		}
		rest := make([]*Subscription, 0, len(subs)-1)
		rest = append(rest, subs[:i]...)
		rest = append(rest, subs[i+1:]...)
		if len(rest) == 0 {
			delete(t.topics, sub.topic)
			return true, true
		}
		t.topics[sub.topic] = rest
		return true, false
	}
	return false, false
}

// snapshot returns the subscribers of topic at this instant. Handlers added
// or removed during delivery do not affect the running delivery.
func (t *table) snapshot(topic string) []*Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.topics[topic]
}

func (t *table) count(topic string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.topics[topic])
}

func (t *table) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.topics = make(map[string][]*Subscription)
}

func deliver(subs []*Subscription, data []byte) {
	for _, s := range subs {
		s.handler(data)
	}
}
