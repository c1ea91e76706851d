package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// topic is the single stream all lifecycle events travel on. Consumers
// filter by Event.Type.
const topic = "lifecycle"

// Bus is an in-process pub/sub bus backed by watermill's gochannel.
// Construct one per process and inject it; there is no package-level
// instance.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates a bus. Publishing never blocks the registry's locks as long
// as subscribers drain within the buffer window.
func NewBus(logger *slog.Logger) *Bus {
	var wmLogger watermill.LoggerAdapter = watermill.NopLogger{}
	if logger != nil {
		wmLogger = watermill.NewSlogLogger(logger)
	}

	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			wmLogger,
		),
	}
}

// Publish sends one event to all current subscribers. Events published with
// no subscribers are dropped, which is the desired behavior for an
// observability feed.
func (b *Bus) Publish(evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	return b.pubsub.Publish(topic, message.NewMessage(evt.ID, payload))
}

// Subscribe returns a channel of raw event messages. The channel closes when
// ctx is canceled or the bus shuts down. Consumers must Ack every message.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Decode unmarshals a bus message back into an Event.
func Decode(msg *message.Message) (Event, error) {
	var evt Event
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return Event{}, fmt.Errorf("unmarshaling event: %w", err)
	}
	return evt, nil
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
