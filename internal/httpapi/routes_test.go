package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-labs/docweave/infrastructure/testutil"
	"github.com/r3e-labs/docweave/internal/doccache"
	"github.com/r3e-labs/docweave/internal/eventbus"
	"github.com/r3e-labs/docweave/internal/session"
	"github.com/r3e-labs/docweave/internal/sse"
	"github.com/r3e-labs/docweave/internal/store"
	"github.com/r3e-labs/docweave/internal/store/memstore"
	"github.com/r3e-labs/docweave/internal/wire"
)

func testServer(t *testing.T) (*httptest.Server, *memstore.Store, *eventbus.Bus) {
	t.Helper()
	facade := memstore.New()
	cache := doccache.New(facade, doccache.DefaultConfig())
	t.Cleanup(cache.Close)
	hub := session.NewHub(facade, cache, session.IdentityAuthenticator{}, session.DefaultConfig())
	bus := eventbus.New(eventbus.DefaultConfig())
	sseHandler := sse.NewHandler(bus, sse.Config{Keepalive: time.Hour, StallTimeout: 5 * time.Second, OutboundBufferSize: 8})
	viewers := eventbus.NewViewerCounter(bus, 10*time.Millisecond)

	s := New(hub, sseHandler, viewers)
	router := mux.NewRouter()
	s.Register(router)

	srv := testutil.NewHTTPTestServer(t, router)
	t.Cleanup(srv.Close)
	return srv, facade, bus
}

func TestDocWSRouteAttaches(t *testing.T) {
	srv, facade, _ := testServer(t)
	facade.GrantPermission("user-1", "doc-1", store.PermissionWrite)

	wsURL := "ws" + srv.URL[len("http"):] + "/ws/docs/doc-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, wire.Encode(wire.Auth([]byte("user-1")))))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := wire.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, wire.KindSyncStep1, frame.Kind)
}

func TestTicketArticleWSRouteDerivesDocID(t *testing.T) {
	srv, facade, _ := testServer(t)
	facade.GrantPermission("user-1", TicketArticleDocID("77"), store.PermissionWrite)

	wsURL := "ws" + srv.URL[len("http"):] + "/ws/ticket-article/77"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, wire.Encode(wire.Auth([]byte("user-1")))))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := wire.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, wire.KindSyncStep1, frame.Kind)
}

func TestTicketSSERouteStreamsPublishedEvent(t *testing.T) {
	srv, _, bus := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/tickets/42", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool {
		return bus.SubscriberCount(TicketTopic("42")) == 1
	}, time.Second, 5*time.Millisecond)

	bus.Publish(eventbus.Event{Topic: TicketTopic("42"), Kind: "ticket-updated", Payload: map[string]string{"field": "status"}})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ticket-updated\n", line)
}
