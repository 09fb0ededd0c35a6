package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/morezero/streamcall/pkg/bus"
)

const busPublisherLogPrefix = "events:bus_publisher"

// TopicWatch is the global reload topic.
const TopicWatch = "watch"

// BuildWatchTopic returns the per-namespace reload topic. The root namespace
// uses "watch.root".
func BuildWatchTopic(prefix string) string {
	if prefix == "" {
		return TopicWatch + ".root"
	}
	return TopicWatch + "." + prefix
}

// BusPublisherOpts configures BusPublisher. Nil or zero values use defaults.
type BusPublisherOpts struct {
	// GlobalTopic overrides the global reload topic.
	GlobalTopic string
}

// BusPublisher publishes reload events on the message bus.
type BusPublisher struct {
	bus         bus.Bus
	globalTopic string
}

// NewBusPublisher creates a new BusPublisher. Pass nil for opts to use defaults.
func NewBusPublisher(b bus.Bus, opts *BusPublisherOpts) *BusPublisher {
	topic := TopicWatch
	if opts != nil && opts.GlobalTopic != "" {
		topic = opts.GlobalTopic
	}
	return &BusPublisher{bus: b, globalTopic: topic}
}

// PublishReload publishes a ReloadEvent to both the namespace topic and the
// global topic.
func (p *BusPublisher) PublishReload(_ context.Context, event *ReloadEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", busPublisherLogPrefix, err)
	}

	granular := BuildWatchTopic(event.Prefix)
	if err := p.bus.Emit(granular, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", busPublisherLogPrefix, granular, err))
		return err
	}

	if err := p.bus.Emit(p.globalTopic, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", busPublisherLogPrefix, p.globalTopic, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %s event for namespace %q seq=%d", busPublisherLogPrefix, event.Outcome, event.Prefix, event.Seq))
	return nil
}
