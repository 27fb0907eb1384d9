// Package doccache keeps one in-memory CRDT replica per hot document (§4.2).
// It generalizes the teacher's generic TTL/versioned cache
// (infrastructure/cache) from a map[string]entry with a background sweep
// goroutine into a reference-counted cache of *crdt.Replica handles: the
// background sweep reuses the same ticker-based eviction idiom, gated on
// attach count rather than raw TTL.
package doccache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/r3e-labs/docweave/internal/crdt"
	"github.com/r3e-labs/docweave/internal/docerr"
	"github.com/r3e-labs/docweave/internal/store"
)

// Config tunes eviction behavior.
type Config struct {
	IdleTimeout   time.Duration
	MaxHotDocs    int
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		IdleTimeout:   5 * time.Minute,
		MaxHotDocs:    1000,
		SweepInterval: 30 * time.Second,
	}
}

// Handle identifies one pinned attachment to a document. unpin requires the
// same handle that pin returned so a caller can't accidentally release
// somebody else's attachment.
type Handle struct {
	docID string
	entry *entry
}

type entry struct {
	mu       sync.Mutex // serializes apply_remote/snapshot/diff_against per §4.2
	replica  *crdt.Replica
	attached int
	idleFrom time.Time // zero while attached > 0
}

// Cache is the process-wide hot-document cache. Reads are served from the
// in-memory replica; cold misses fold the persisted snapshot plus any
// updates appended after it, per the Update Store contract in §4.1.
type Cache struct {
	facade store.Facade

	mu    sync.Mutex
	docs  map[string]*entry
	cfg   Config

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(facade store.Facade, cfg Config) *Cache {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	c := &Cache{
		facade: facade,
		docs:   make(map[string]*entry),
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Close stops the background eviction sweep. It does not evict anything
// still attached.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for docID, e := range c.docs {
		e.mu.Lock()
		evict := e.attached == 0 && !e.idleFrom.IsZero() && now.Sub(e.idleFrom) >= c.cfg.IdleTimeout
		e.mu.Unlock()
		if evict {
			delete(c.docs, docID)
		}
	}
}

// Pin loads the document on a cold miss (snapshot plus updates appended
// after it, folded onto a fresh replica) and increments its attach count.
func (c *Cache) Pin(ctx context.Context, docID string) (*Handle, error) {
	c.mu.Lock()
	e, ok := c.docs[docID]
	if !ok {
		if c.cfg.MaxHotDocs > 0 && len(c.docs) >= c.cfg.MaxHotDocs {
			c.mu.Unlock()
			return nil, docerr.CapacityExceeded("hot_documents", c.cfg.MaxHotDocs)
		}
		e = &entry{}
		c.docs[docID] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.replica == nil {
		replica, err := c.load(ctx, docID)
		if err != nil {
			return nil, err
		}
		e.replica = replica
	}
	e.attached++
	e.idleFrom = time.Time{}
	return &Handle{docID: docID, entry: e}, nil
}

func (c *Cache) load(ctx context.Context, docID string) (*crdt.Replica, error) {
	state, err := c.facade.LoadDocument(ctx, docID)
	if err != nil && err != store.ErrNotFound {
		return nil, docerr.StorageUnavailable("load_document", err)
	}

	replica := crdt.New(docID)
	var lastSeq int64
	if state != nil && len(state.Snapshot) > 0 {
		if err := replica.LoadSnapshot(state.Snapshot); err != nil {
			return nil, docerr.MalformedUpdate(fmt.Errorf("doccache: snapshot for %q: %w", docID, err))
		}
	}

	updates, err := c.facade.LoadUpdatesSince(ctx, docID, lastSeq)
	if err != nil {
		return nil, docerr.StorageUnavailable("load_updates_since", err)
	}
	for _, u := range updates {
		if _, err := replica.ApplyUpdate(u.Payload); err != nil {
			return nil, docerr.MalformedUpdate(fmt.Errorf("doccache: update seq %d for %q: %w", u.Seq, docID, err))
		}
	}
	return replica, nil
}

// Unpin decrements the attach count. When it reaches zero the entry becomes
// eligible for eviction after idle_timeout.
func (c *Cache) Unpin(h *Handle) {
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attached > 0 {
		e.attached--
	}
	if e.attached == 0 {
		e.idleFrom = time.Now()
	}
}

// ApplyRemote integrates update into h's replica and returns the subset
// new to this replica (the diff to fan out) along with the resulting state
// vector.
func (c *Cache) ApplyRemote(h *Handle, update []byte) (diff []byte, vector []byte, err error) {
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()

	diff, err = e.replica.ApplyUpdate(update)
	if err != nil {
		return nil, nil, docerr.MalformedUpdate(err)
	}
	return diff, e.replica.StateVector(), nil
}

// InsertLocal applies a local insert and returns the update bytes to fan out.
func (c *Cache) InsertLocal(h *Handle, pos int, text string) []byte {
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replica.InsertLocal(pos, text)
}

// DeleteLocal applies a local delete and returns the update bytes to fan out.
func (c *Cache) DeleteLocal(h *Handle, pos, length int) []byte {
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replica.DeleteLocal(pos, length)
}

func (c *Cache) StateVector(h *Handle) []byte {
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replica.StateVector()
}

func (c *Cache) DiffAgainst(h *Handle, peerVector []byte) ([]byte, error) {
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	diff, err := e.replica.DiffAgainst(peerVector)
	if err != nil {
		return nil, docerr.MalformedUpdate(err)
	}
	return diff, nil
}

func (c *Cache) Snapshot(h *Handle) []byte {
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replica.Snapshot()
}

// WordCount and Text support the revision engine's persisted metadata and
// diagnostics without exposing the underlying replica.
func (c *Cache) WordCount(h *Handle) int {
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replica.WordCount()
}

func (c *Cache) Text(h *Handle) string {
	e := h.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replica.Text()
}

// DocID returns the document this handle is pinned to.
func (h *Handle) DocID() string { return h.docID }
