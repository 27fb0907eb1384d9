package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/r3e-labs/docweave/infrastructure/ratelimit"
	"github.com/r3e-labs/docweave/internal/doccache"
	"github.com/r3e-labs/docweave/internal/docerr"
	"github.com/r3e-labs/docweave/internal/store"
	"github.com/r3e-labs/docweave/internal/wire"
)

// Client is one attached session: a document, a user, a role, and the two
// pumps that move frames to and from its WebSocket connection.
type Client struct {
	hub   *Hub
	ds    *docState
	conn  *websocket.Conn
	docID string

	sessionID string
	userID    string
	role      Role

	handle *doccache.Handle

	updateLimiter *ratelimit.RateLimiter

	outbound *outboundQueue
	done     chan struct{}

	pingCounter uint64
	missedPongs int32
	dropped     int64 // Update frames dropped because the session is a viewer

	closeOnce  sync.Once
	detachOnce sync.Once
}

func newClient(h *Hub, ds *docState, conn *websocket.Conn, docID string) *Client {
	c := &Client{
		hub:       h,
		ds:        ds,
		conn:      conn,
		docID:     docID,
		sessionID: uuid.NewString(),
		outbound:  newOutboundQueue(h.cfg.MaxOutboundQueue),
		done:      make(chan struct{}),
	}
	if h.cfg.UpdateRatePerSec > 0 {
		c.updateLimiter = ratelimit.New(ratelimit.RateLimitConfig{
			RequestsPerSecond: h.cfg.UpdateRatePerSec,
			Burst:             h.cfg.UpdateRateBurst,
		})
	}
	return c
}

// attach runs the attach algorithm's handshake steps (§4.3 steps 1-3):
// wait for Auth within auth_grace, resolve identity and permission, pin the
// document cache, and send the server's own SyncStep1.
func (c *Client) attach(ctx context.Context) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.AuthGrace)); err != nil {
		return docerr.Internal("set read deadline", err)
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return docerr.AuthTimeout()
	}
	frame, err := wire.Decode(data)
	if err != nil || frame.Kind != wire.KindAuth {
		return docerr.ProtocolViolation("expected Auth as first frame")
	}
	_ = c.conn.SetReadDeadline(time.Time{})

	userID, err := c.hub.auth.Authenticate(ctx, frame.Payload)
	if err != nil {
		return docerr.AuthFailure(err.Error())
	}
	c.userID = userID

	perm, err := c.hub.checkPermission(ctx, userID, c.docID)
	if err != nil {
		return docerr.StorageUnavailable("check_document_permission", err)
	}
	if perm == store.PermissionNone {
		return docerr.AuthFailure("no access to document")
	}
	if perm == store.PermissionWrite {
		c.role = RoleEditor
	} else {
		c.role = RoleViewer
	}

	handle, err := c.hub.cache.Pin(ctx, c.docID)
	if err != nil {
		return err
	}
	c.handle = handle

	c.enqueueRaw(wire.SyncStep1(c.hub.cache.StateVector(handle)))
	return nil
}

func (c *Client) readPump() {
	defer c.detach()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := wire.Decode(data)
		if err != nil {
			c.closeWithError(docerr.ProtocolViolation(err.Error()))
			return
		}

		switch frame.Kind {
		case wire.KindSyncStep1:
			diff, err := c.hub.cache.DiffAgainst(c.handle, frame.Payload)
			if err != nil {
				c.closeWithError(err)
				return
			}
			c.enqueueRaw(wire.SyncStep2(diff))

		case wire.KindSyncStep2, wire.KindUpdate:
			if c.role != RoleEditor {
				atomic.AddInt64(&c.dropped, 1)
				continue
			}
			if c.updateLimiter != nil && !c.updateLimiter.Allow() {
				c.closeWithError(docerr.RateLimited(c.sessionID))
				return
			}
			if !c.applyAndBroadcast(frame.Payload) {
				return
			}

		case wire.KindAwarenessUpdate:
			c.updateAwareness(frame.Payload)

		case wire.KindQueryAwareness:
			c.sendAwarenessSnapshot()

		case wire.KindPong:
			atomic.StoreInt32(&c.missedPongs, 0)

		case wire.KindPing:
			c.enqueueRaw(wire.Pong(frame.Counter))

		case wire.KindClose:
			return

		default:
			c.closeWithError(docerr.ProtocolViolation("unexpected frame kind"))
			return
		}
	}
}

// applyAndBroadcast implements step 5 of the attach algorithm together with
// the failure semantics in §4.3: append_update is persisted before the
// update is applied to the hot replica or fanned out, so a storage failure
// never lets peers see state the document's row doesn't have yet. Holding
// ds.mu across the storage call keeps this document's updates ordered with
// respect to every other session's, at the cost of serializing persistence
// behind the same lock as fan-out — acceptable at the per-document
// concurrency this engine targets (§5).
func (c *Client) applyAndBroadcast(payload []byte) bool {
	ok := func() bool {
		c.ds.mu.Lock()
		defer c.ds.mu.Unlock()

		if _, err := c.hub.facade.AppendUpdate(context.Background(), c.docID, payload, c.userID, time.Now()); err != nil {
			c.closeWithError(docerr.StorageUnavailable("append_update", err))
			return false
		}

		diff, _, err := c.hub.cache.ApplyRemote(c.handle, payload)
		if err != nil {
			c.closeWithError(err)
			return false
		}
		if len(diff) > 0 {
			c.ds.broadcastDiffLocked(c, diff)
		}
		return true
	}()

	if ok && c.hub.revision != nil {
		c.hub.revision.RecordUpdate(c.docID, c.userID)
	}
	return ok
}

func (c *Client) updateAwareness(payload []byte) {
	c.ds.mu.Lock()
	defer c.ds.mu.Unlock()
	entry := c.ds.awareness.Update(c.sessionID, payload)
	c.ds.broadcastAwarenessLocked(c, c.sessionID, entry.Payload, false, c.hub.cfg.AwarenessEcho)
}

func (c *Client) sendAwarenessSnapshot() {
	for sessionID, entry := range c.ds.awareness.Snapshot() {
		c.enqueueAwareness(sessionID, entry.Payload, false)
	}
}

// enqueueUpdate is called by a peer's broadcast to deliver a diff to this
// session.
func (c *Client) enqueueUpdate(diff []byte) {
	c.enqueueQueued(queuedFrame{frame: wire.Update(diff)})
}

func (c *Client) enqueueAwareness(sessionID string, payload []byte, tombstone bool) {
	var f wire.Frame
	if tombstone {
		f = wire.AwarenessUpdate(nil)
	} else {
		f = wire.AwarenessUpdate(payload)
	}
	c.enqueueQueued(queuedFrame{frame: f, sessionID: sessionID})
}

func (c *Client) enqueueRaw(f wire.Frame) {
	c.enqueueQueued(queuedFrame{frame: f})
}

func (c *Client) enqueueQueued(f queuedFrame) {
	if !c.outbound.push(f) {
		c.closeWithError(docerr.SlowConsumer(c.sessionID))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case <-ticker.C:
			if atomic.LoadInt32(&c.missedPongs) >= int32(c.hub.cfg.HeartbeatMisses) {
				c.closeWithError(docerr.HeartbeatTimeout(int(c.missedPongs)))
				return
			}
			atomic.AddInt32(&c.missedPongs, 1)
			c.pingCounter++
			if err := c.writeFrame(wire.Ping(c.pingCounter)); err != nil {
				return
			}

		case <-c.outbound.notify:
			for {
				qf, ok := c.outbound.pop()
				if !ok {
					break
				}
				if err := c.writeFrame(qf.frame); err != nil {
					return
				}
			}
		}
	}
}

func (c *Client) writeFrame(f wire.Frame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.BinaryMessage, wire.Encode(f))
}

// closeWithError sends a best-effort Close frame carrying err's close code,
// then tears down the connection. It is safe to call more than once or from
// either pump.
func (c *Client) closeWithError(err error) {
	c.closeOnce.Do(func() {
		var code uint16
		if de := docerr.AsDocError(err); de != nil {
			code = uint16(de.CloseCode)
		}
		_ = c.writeFrame(wire.Close(code))
		c.conn.Close()
	})
}

// detach implements session teardown: unregister from the document,
// tombstone its awareness entry, and release the cache handle. Safe to call
// more than once.
func (c *Client) detach() {
	c.detachOnce.Do(func() {
		close(c.done)
		c.ds.remove(c)

		c.ds.mu.Lock()
		if _, ok := c.ds.awareness.Remove(c.sessionID); ok {
			c.ds.broadcastAwarenessLocked(c, c.sessionID, nil, true, false)
		}
		c.ds.mu.Unlock()

		if c.handle != nil {
			c.hub.cache.Unpin(c.handle)
		}
		c.conn.Close()
	})
}
