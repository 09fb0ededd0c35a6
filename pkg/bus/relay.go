package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/streamcall/pkg/commsutil"
)

const relayLogPrefix = "bus:relay"

// Relay carries topics over a NATS connection. The first local subscriber of
// a topic joins the relay subject and the last one to leave unsubscribes, so
// the broker only routes topics somebody in this process listens to.
type Relay struct {
	nc    *comms.Conn
	owned bool
	subs  *table

	mu     sync.Mutex
	joined map[string]*comms.Subscription
	// ready is closed once the join of a topic has been flushed.
	ready  map[string]chan struct{}
	closed bool
}

// NewRelay wraps an existing connection. The caller keeps ownership of nc.
func NewRelay(nc *comms.Conn) *Relay {
	return &Relay{
		nc:     nc,
		subs:   newTable(),
		joined: make(map[string]*comms.Subscription),
		ready:  make(map[string]chan struct{}),
	}
}

func (r *Relay) On(topic string, h Handler) (*Subscription, error) {
	if err := commsutil.ValidateTopic(topic); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}

	sub, first := r.subs.add(topic, h)
	if !first {
		ready := r.ready[topic]
		r.mu.Unlock()
		if ready != nil {
			<-ready
		}
		return sub, nil
	}

	ns, err := r.nc.Subscribe(commsutil.BuildTopicSubject(topic), func(msg *comms.Msg) {
		deliver(r.subs.snapshot(topic), msg.Data)
	})
	if err != nil {
		r.subs.remove(sub)
		r.mu.Unlock()
		return nil, fmt.Errorf("%s - failed to join %s: %w", relayLogPrefix, topic, err)
	}
	r.joined[topic] = ns
	ready := make(chan struct{})
	r.ready[topic] = ready
	r.mu.Unlock()

	// The join is only visible to publishers once the broker has processed it.
	// The flush is a round trip, so it runs without the lock.
	if err := r.nc.Flush(); err != nil {
		slog.Warn(fmt.Sprintf("%s - flush after join %s failed: %v", relayLogPrefix, topic, err))
	}
	r.mu.Lock()
	if r.ready[topic] == ready {
		delete(r.ready, topic)
	}
	r.mu.Unlock()
	close(ready)
	slog.Debug(fmt.Sprintf("%s - joined %s", relayLogPrefix, topic))
	return sub, nil
}

func (r *Relay) Off(sub *Subscription) error {
	if sub == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	found, last := r.subs.remove(sub)
	if !found || !last {
		return nil
	}
	ns, ok := r.joined[sub.topic]
	if !ok {
		return nil
	}
	delete(r.joined, sub.topic)
	if r.closed {
		return nil
	}
	if err := ns.Unsubscribe(); err != nil {
		return fmt.Errorf("%s - failed to leave %s: %w", relayLogPrefix, sub.topic, err)
	}
	slog.Debug(fmt.Sprintf("%s - left %s", relayLogPrefix, sub.topic))
	return nil
}

func (r *Relay) Emit(topic string, data []byte) error {
	if err := commsutil.ValidateTopic(topic); err != nil {
		return err
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := r.nc.Publish(commsutil.BuildTopicSubject(topic), data); err != nil {
		return fmt.Errorf("%s - failed to emit on %s: %w", relayLogPrefix, topic, err)
	}
	return nil
}

func (r *Relay) Next(ctx context.Context, topic string) ([]byte, error) {
	w, err := Prepare(r, topic)
	if err != nil {
		return nil, err
	}
	return w.Wait(ctx)
}

// Flush blocks until the broker has seen everything published so far.
func (r *Relay) Flush() error {
	return r.nc.Flush()
}

// Conn exposes the underlying connection.
func (r *Relay) Conn() *comms.Conn {
	return r.nc
}

func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	joined := r.joined
	r.joined = make(map[string]*comms.Subscription)
	r.subs.clear()
	r.mu.Unlock()

	for topic, ns := range joined {
		if err := ns.Unsubscribe(); err != nil {
			slog.Debug(fmt.Sprintf("%s - leave %s on close: %v", relayLogPrefix, topic, err))
		}
	}
	if r.owned {
		if err := r.nc.Drain(); err != nil {
			r.nc.Close()
			return fmt.Errorf("%s - drain failed: %w", relayLogPrefix, err)
		}
	}
	return nil
}
