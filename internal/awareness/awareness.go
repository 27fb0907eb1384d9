// Package awareness tracks ephemeral per-session presence state (cursor
// position, selection, display name) for a single document (§4.4). It is
// never persisted: a channel's lifetime is exactly the cache lifetime of the
// document it belongs to.
package awareness

import "sync"

// Entry is one session's last-known presence payload.
type Entry struct {
	Payload   []byte
	Clock     uint64
	Tombstone bool
}

// Channel is a mutex-guarded map of session id to Entry for one document.
// It is meant to be embedded alongside a document's Broadcaster so the
// lock-ordering rule in §5 holds by construction: callers take the
// document's write lock before touching a Channel, never the reverse.
type Channel struct {
	mu      sync.Mutex
	clock   uint64
	entries map[string]Entry
}

func New() *Channel {
	return &Channel{entries: make(map[string]Entry)}
}

// Update stores sessionID's latest payload and returns the entry to fan out
// as an AwarenessUpdate frame to every other session attached to the
// document.
func (c *Channel) Update(sessionID string, payload []byte) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	e := Entry{Payload: payload, Clock: c.clock}
	c.entries[sessionID] = e
	return e
}

// Remove tombstones sessionID's entry and returns it so the caller can fan
// it out once before discarding it. The tombstone's clock is monotonic so a
// presence update that raced with the removal and arrives late cannot
// resurrect the entry.
func (c *Channel) Remove(sessionID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[sessionID]; !ok {
		return Entry{}, false
	}
	c.clock++
	tomb := Entry{Clock: c.clock, Tombstone: true}
	delete(c.entries, sessionID)
	return tomb, true
}

// Snapshot returns every live entry, keyed by session id, for a
// QueryAwareness response.
func (c *Channel) Snapshot() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}
