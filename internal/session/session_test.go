package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-labs/docweave/infrastructure/testutil"
	"github.com/r3e-labs/docweave/internal/crdt"
	"github.com/r3e-labs/docweave/internal/doccache"
	"github.com/r3e-labs/docweave/internal/docerr"
	"github.com/r3e-labs/docweave/internal/store"
	"github.com/r3e-labs/docweave/internal/store/memstore"
	"github.com/r3e-labs/docweave/internal/wire"
)

func testServer(t *testing.T, facade *memstore.Store, cfg Config) (*httptest.Server, string) {
	t.Helper()
	cache := doccache.New(facade, doccache.DefaultConfig())
	t.Cleanup(cache.Close)

	hub := NewHub(facade, cache, IdentityAuthenticator{}, cfg)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/docs/", func(w http.ResponseWriter, r *http.Request) {
		docID := strings.TrimPrefix(r.URL.Path, "/ws/docs/")
		_ = hub.ServeWS(w, r, docID)
	})
	srv := testutil.NewHTTPTestServer(t, mux)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/docs/doc-1"
	return srv, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wire.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	f, err := wire.Decode(data)
	require.NoError(t, err)
	return f
}

func TestAttachHandshakeSendsSyncStep1(t *testing.T) {
	facade := memstore.New()
	facade.GrantPermission("alice", "doc-1", store.PermissionWrite)
	_, url := testServer(t, facade, DefaultConfig())

	conn := dial(t, url)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, wire.Encode(wire.Auth([]byte("alice")))))

	f := readFrame(t, conn)
	assert.Equal(t, wire.KindSyncStep1, f.Kind)
}

func TestAuthTimeoutClosesSession(t *testing.T) {
	facade := memstore.New()
	_, url := testServer(t, facade, Config{
		AuthGrace:         50 * time.Millisecond,
		HeartbeatInterval: time.Minute,
		HeartbeatMisses:   2,
		MaxSessionsPerDoc: 10,
		MaxOutboundQueue:  16,
	})

	conn := dial(t, url)
	f := readFrame(t, conn)
	assert.Equal(t, wire.KindClose, f.Kind)
	assert.Equal(t, uint16(docerr.AuthTimeout().CloseCode), f.Reason)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "server must close the connection when no Auth frame arrives within auth_grace")
}

func TestTwoEditorsConverge(t *testing.T) {
	facade := memstore.New()
	facade.GrantPermission("alice", "doc-1", store.PermissionWrite)
	facade.GrantPermission("bob", "doc-1", store.PermissionWrite)
	_, url := testServer(t, facade, DefaultConfig())

	connA := dial(t, url)
	require.NoError(t, connA.WriteMessage(websocket.BinaryMessage, wire.Encode(wire.Auth([]byte("alice")))))
	readFrame(t, connA) // SyncStep1

	connB := dial(t, url)
	require.NoError(t, connB.WriteMessage(websocket.BinaryMessage, wire.Encode(wire.Auth([]byte("bob")))))
	readFrame(t, connB) // SyncStep1

	update := wire.Encode(wire.Update(insertUpdateBytes(t, "hello")))
	require.NoError(t, connA.WriteMessage(websocket.BinaryMessage, update))

	f := readFrame(t, connB)
	assert.Equal(t, wire.KindUpdate, f.Kind)
	assert.NotEmpty(t, f.Payload)
}

func TestViewerUpdateIsDropped(t *testing.T) {
	facade := memstore.New()
	facade.GrantPermission("alice", "doc-1", store.PermissionWrite)
	facade.GrantPermission("viewer", "doc-1", store.PermissionRead)
	_, url := testServer(t, facade, DefaultConfig())

	connA := dial(t, url)
	require.NoError(t, connA.WriteMessage(websocket.BinaryMessage, wire.Encode(wire.Auth([]byte("alice")))))
	readFrame(t, connA)

	connV := dial(t, url)
	require.NoError(t, connV.WriteMessage(websocket.BinaryMessage, wire.Encode(wire.Auth([]byte("viewer")))))
	readFrame(t, connV)

	update := wire.Encode(wire.Update(insertUpdateBytes(t, "nope")))
	require.NoError(t, connV.WriteMessage(websocket.BinaryMessage, update))

	// Alice must not see the viewer's dropped update: a subsequent ping from
	// the server is the next thing on the wire, not an Update frame.
	connA.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := connA.ReadMessage()
	assert.Error(t, err, "no frame should arrive from a dropped viewer update")
}

func TestEditorExceedingUpdateRateIsClosed(t *testing.T) {
	facade := memstore.New()
	facade.GrantPermission("alice", "doc-1", store.PermissionWrite)
	_, url := testServer(t, facade, Config{
		AuthGrace:         time.Second,
		HeartbeatInterval: time.Minute,
		HeartbeatMisses:   2,
		MaxSessionsPerDoc: 10,
		MaxOutboundQueue:  256,
		UpdateRatePerSec:  5,
		UpdateRateBurst:   1,
	})

	conn := dial(t, url)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, wire.Encode(wire.Auth([]byte("alice")))))
	readFrame(t, conn) // SyncStep1

	replica := crdt.New("client-x")
	for i := 0; i < 5; i++ {
		update := wire.Encode(wire.Update(replica.InsertLocal(i, "x")))
		if err := conn.WriteMessage(websocket.BinaryMessage, update); err != nil {
			break
		}
	}

	f := readFrame(t, conn)
	assert.Equal(t, wire.KindClose, f.Kind)
	assert.Equal(t, uint16(docerr.RateLimited("").CloseCode), f.Reason)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "burst of updates past the configured rate must close the session")
}

// insertUpdateBytes builds a standalone CRDT insert update the same shape a
// real client's replica would produce, without depending on the crdt
// package's internal representation from this test.
func insertUpdateBytes(t *testing.T, text string) []byte {
	t.Helper()
	r := crdt.New("client-x")
	return r.InsertLocal(0, text)
}
