package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-labs/docweave/internal/store"
)

func TestStorePublisherDeliversTicketEvent(t *testing.T) {
	bus := New(DefaultConfig())
	received := make(chan Event, 1)
	bus.Subscribe([]string{"ticket:42"}, func(ctx context.Context, e Event) error {
		received <- e
		return nil
	})

	pub := NewStorePublisher(bus)
	err := pub.Publish(context.Background(), "ticket:42", store.TicketEvent{
		TicketID: "42",
		Kind:     "comment-added",
		Payload:  map[string]any{"comment_id": "9"},
	})
	require.NoError(t, err)

	select {
	case e := <-received:
		assert.Equal(t, "comment-added", e.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected delivery")
	}
}

func TestStorePublisherIgnoresWrongPayloadType(t *testing.T) {
	bus := New(DefaultConfig())
	pub := NewStorePublisher(bus)
	err := pub.Publish(context.Background(), "ticket:42", "not a ticket event")
	require.NoError(t, err)
}
