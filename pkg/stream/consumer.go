package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/streamcall/pkg/bus"
)

const consumerLogPrefix = "stream:consumer"

// Consumer is the receiving side of one stream. Subscribe before the call
// is started so no message is missed.
type Consumer struct {
	bus   bus.Bus
	evt   string
	sub   *bus.Subscription
	queue *Queue

	closeOnce sync.Once
}

// Subscribe starts buffering evt.
func Subscribe(b bus.Bus, evt string) (*Consumer, error) {
	c := &Consumer{bus: b, evt: evt, queue: NewQueue()}
	sub, err := b.On(evt, func(data []byte) {
		m, err := Unmarshal(data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - dropping malformed message on %s: %v", consumerLogPrefix, evt, err))
			return
		}
		c.queue.Push(m)
	})
	if err != nil {
		return nil, err
	}
	c.sub = sub
	return c, nil
}

// Evt returns the stream token.
func (c *Consumer) Evt() string { return c.evt }

// Next returns the next value, the next remote error, or ErrDone.
func (c *Consumer) Next(ctx context.Context) (any, error) {
	v, err := c.queue.Next(ctx)
	if errors.Is(err, ErrDone) {
		c.Close()
	}
	return v, err
}

// Message returns the next raw message. The done message is returned once;
// afterwards ErrDone.
func (c *Consumer) Message(ctx context.Context) (*Message, error) {
	m, err := c.queue.Pop(ctx)
	if err == nil && m.Done {
		c.Close()
	}
	return m, err
}

// Terminal returns the done message once it has been consumed.
func (c *Consumer) Terminal() *Message {
	return c.queue.Terminal()
}

// Cancel asks the producer to stop. The stream still ends with a done message.
func (c *Consumer) Cancel() error {
	return c.bus.Emit(CancelTopic(c.evt), []byte("{}"))
}

// Close unsubscribes. Messages already buffered can still be read.
func (c *Consumer) Close() {
	c.closeOnce.Do(func() {
		if err := c.bus.Off(c.sub); err != nil {
			slog.Debug(fmt.Sprintf("%s - unsubscribe %s: %v", consumerLogPrefix, c.evt, err))
		}
	})
}
