package events

import "context"

// EventPublisher is the interface for publishing reload events.
type EventPublisher interface {
	PublishReload(ctx context.Context, event *ReloadEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishReload is a no-op.
func (p *NoOpPublisher) PublishReload(_ context.Context, _ *ReloadEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function.
type CallbackPublisher struct {
	callback func(ctx context.Context, event *ReloadEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *ReloadEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishReload calls the callback.
func (p *CallbackPublisher) PublishReload(ctx context.Context, event *ReloadEvent) error {
	return p.callback(ctx, event)
}

// MultiPublisher fans an event out to several publishers. Every publisher is
// called; the first error is returned.
type MultiPublisher []EventPublisher

// PublishReload publishes to each member in order.
func (m MultiPublisher) PublishReload(ctx context.Context, event *ReloadEvent) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishReload(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
