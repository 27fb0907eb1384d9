package eventbus

import (
	"context"

	"github.com/r3e-labs/docweave/internal/store"
)

// StorePublisher adapts a Bus (optionally fronted by a pgrelay.Relay, which
// shares the same Publish(Event) signature) to store.EventPublisher, so REST
// handlers can call facade.PublishTicketEvent without the store package
// depending on internal/eventbus.
type StorePublisher struct {
	publish func(event Event) error
}

// NewStorePublisher wraps bus directly, with no cross-process relay.
func NewStorePublisher(bus *Bus) *StorePublisher {
	return &StorePublisher{publish: func(event Event) error {
		bus.Publish(event)
		return nil
	}}
}

// NewRelayedStorePublisher wraps a relay function (pgrelay.Relay.Publish) so
// ticket events also reach other processes via Postgres LISTEN/NOTIFY.
func NewRelayedStorePublisher(publish func(event Event) error) *StorePublisher {
	return &StorePublisher{publish: publish}
}

var _ store.EventPublisher = (*StorePublisher)(nil)

// Publish implements store.EventPublisher. event must be a store.TicketEvent;
// PublishTicketEvent is the only caller and always passes one.
func (p *StorePublisher) Publish(ctx context.Context, topic string, event any) error {
	ticketEvent, ok := event.(store.TicketEvent)
	if !ok {
		return nil
	}
	return p.publish(Event{Topic: topic, Kind: ticketEvent.Kind, Payload: ticketEvent.Payload})
}
