package pgrelay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-labs/docweave/internal/eventbus"
)

func TestHandleSuppressesSelfOriginatedNotifications(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig())
	received := make(chan eventbus.Event, 1)
	bus.Subscribe([]string{"ticket:1"}, func(ctx context.Context, e eventbus.Event) error {
		received <- e
		return nil
	})

	r := &Relay{bus: bus, origin: "process-a"}

	selfEnv := envelope{Origin: "process-a", Topic: "ticket:1", Kind: "comment-added"}
	data, err := json.Marshal(selfEnv)
	require.NoError(t, err)
	r.handle(string(data))

	select {
	case <-received:
		t.Fatal("a notification tagged with this process's own origin must not be re-delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleRelaysRemoteNotifications(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig())
	received := make(chan eventbus.Event, 1)
	bus.Subscribe([]string{"ticket:1"}, func(ctx context.Context, e eventbus.Event) error {
		received <- e
		return nil
	})

	r := &Relay{bus: bus, origin: "process-a"}

	payload, err := json.Marshal(map[string]interface{}{"ticket_id": "1", "count": 3})
	require.NoError(t, err)
	remoteEnv := envelope{Origin: "process-b", Topic: "ticket:1", Kind: "viewer-count-changed", Payload: payload}
	data, err := json.Marshal(remoteEnv)
	require.NoError(t, err)
	r.handle(string(data))

	select {
	case e := <-received:
		assert.Equal(t, "viewer-count-changed", e.Kind)
	case <-time.After(time.Second):
		t.Fatal("a remote-origin notification should be delivered to local subscribers")
	}
}

func TestHandleIgnoresMalformedEnvelope(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultConfig())
	received := make(chan eventbus.Event, 1)
	bus.Subscribe([]string{"ticket:1"}, func(ctx context.Context, e eventbus.Event) error {
		received <- e
		return nil
	})

	r := &Relay{bus: bus, origin: "process-a"}
	r.handle("not json")

	select {
	case <-received:
		t.Fatal("malformed notifications must not be delivered")
	case <-time.After(50 * time.Millisecond):
	}
}
