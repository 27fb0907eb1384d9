package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/r3e-labs/docweave/infrastructure/cache"
	"github.com/r3e-labs/docweave/internal/awareness"
	"github.com/r3e-labs/docweave/internal/doccache"
	"github.com/r3e-labs/docweave/internal/docerr"
	"github.com/r3e-labs/docweave/internal/store"
)

// docState is the per-document Broadcaster: its mu serializes apply_remote
// calls and the resulting fan-out together, so a diff is enqueued to every
// peer before the next apply_remote for this document begins — giving
// causal consistency across sessions even though the CRDT itself doesn't
// require ordering. Per §5's lock-ordering rule, this lock is always
// acquired before the embedded awareness Channel's own lock, never after.
type docState struct {
	mu        sync.Mutex
	clients   map[*Client]bool
	awareness *awareness.Channel
}

// RevisionRecorder is the subset of internal/revision.Engine's API the
// Broadcaster needs to drive snapshot triggers after every applied update.
// Declared here rather than imported to avoid a session<->revision import
// cycle (the revision engine broadcasts restores back through the Hub).
type RevisionRecorder interface {
	RecordUpdate(docID, contributorID string)
}

// Hub owns every attached session, grouped by document. One Hub exists per
// process.
type Hub struct {
	facade   store.Facade
	cache    *doccache.Cache
	auth     Authenticator
	cfg      Config
	revision RevisionRecorder
	perms    *cache.PermissionCache

	upgrader websocket.Upgrader

	mu   sync.Mutex
	docs map[string]*docState
}

// SetRevisionRecorder wires the revision engine so applied updates feed its
// snapshot-trigger evaluation.
func (h *Hub) SetRevisionRecorder(r RevisionRecorder) { h.revision = r }

// BroadcastUpdate fans diff out to every session attached to docID, with no
// exclusion. It exists for the revision engine's restore path, which
// applies its diff the same way a live edit's diff is applied but has no
// originating Client to exclude.
func (h *Hub) BroadcastUpdate(docID string, diff []byte) {
	h.mu.Lock()
	ds, ok := h.docs[docID]
	h.mu.Unlock()
	if !ok {
		return
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for peer := range ds.clients {
		peer.enqueueUpdate(diff)
	}
}

func NewHub(facade store.Facade, docCache *doccache.Cache, auth Authenticator, cfg Config) *Hub {
	return &Hub{
		facade: facade,
		cache:  docCache,
		auth:   auth,
		cfg:    cfg,
		perms:  cache.NewPermissionCache(cache.CacheConfig{DefaultTTL: cfg.PermissionCacheTTL}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		docs: make(map[string]*docState),
	}
}

// checkPermission resolves a user's permission level for docID, consulting
// the PermissionCache before falling back to the persistence façade — the
// hub attaches a session on every reconnect, and a busy document can attach
// dozens of sessions in a burst, each repeating the same lookup.
func (h *Hub) checkPermission(ctx context.Context, userID, docID string) (store.Permission, error) {
	if cached, ok := h.perms.Get(userID, docID); ok {
		return cached.(store.Permission), nil
	}
	perm, err := h.facade.CheckDocumentPermission(ctx, userID, docID)
	if err != nil {
		return store.PermissionNone, err
	}
	h.perms.Set(userID, docID, perm, 0)
	return perm, nil
}

// InvalidatePermission drops any cached permission for userID on docID, for
// callers that change a grant out-of-band (e.g. a REST endpoint revoking
// access) and need the next attach to see it immediately rather than wait
// out the cache TTL.
func (h *Hub) InvalidatePermission(userID, docID string) {
	h.perms.Invalidate(userID, docID)
}

func (h *Hub) stateFor(docID string) *docState {
	h.mu.Lock()
	defer h.mu.Unlock()
	ds, ok := h.docs[docID]
	if !ok {
		ds = &docState{clients: make(map[*Client]bool), awareness: awareness.New()}
		h.docs[docID] = ds
	}
	return ds
}

// ServeWS upgrades the request to a WebSocket and runs the attach algorithm
// (§4.3 steps 1-3) before handing the connection off to a Client's
// readPump/writePump goroutines. It returns once the connection has either
// failed the handshake or been fully attached; the session itself continues
// on its own goroutines after that.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, docID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	ds := h.stateFor(docID)
	c := newClient(h, ds, conn, docID)

	if err := c.attach(r.Context()); err != nil {
		c.closeWithError(err)
		return err
	}

	ds.mu.Lock()
	if h.cfg.MaxSessionsPerDoc > 0 && len(ds.clients) >= h.cfg.MaxSessionsPerDoc {
		ds.mu.Unlock()
		derr := docerr.CapacityExceeded("sessions_per_document", h.cfg.MaxSessionsPerDoc)
		c.closeWithError(derr)
		c.detach()
		return derr
	}
	ds.clients[c] = true
	ds.mu.Unlock()

	go c.writePump()
	go c.readPump()
	return nil
}

// broadcastDiffLocked enqueues diff as an Update frame to every session
// attached to the document other than exclude. The caller must hold ds.mu,
// the document's Broadcaster lock — see docState's doc comment.
func (ds *docState) broadcastDiffLocked(exclude *Client, diff []byte) {
	for peer := range ds.clients {
		if peer == exclude {
			continue
		}
		peer.enqueueUpdate(diff)
	}
}

func (ds *docState) broadcastAwarenessLocked(exclude *Client, sessionID string, payload []byte, tombstone bool, echo bool) {
	for peer := range ds.clients {
		if peer == exclude && !echo {
			continue
		}
		peer.enqueueAwareness(sessionID, payload, tombstone)
	}
}

func (ds *docState) remove(c *Client) {
	ds.mu.Lock()
	delete(ds.clients, c)
	ds.mu.Unlock()
}
