package revision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	sllogging "github.com/r3e-labs/docweave/infrastructure/logging"
	"github.com/r3e-labs/docweave/internal/crdt"
	"github.com/r3e-labs/docweave/internal/doccache"
	"github.com/r3e-labs/docweave/internal/docerr"
	"github.com/r3e-labs/docweave/internal/store"
)

// restoreOriginPrefix marks an applied update as having come from a
// restore rather than a live edit, so downstream consumers (audit logs,
// the event bus) can tell the two apart.
const restoreOriginPrefix = "restore:"

type tracking struct {
	updatesSince   int
	lastUpdateAt   time.Time
	lastSnapshotAt time.Time
	contributors   map[string]struct{}
}

// BroadcastFunc fans a restore's applied diff out to every attached
// session for a document. internal/session.Hub supplies this; the engine
// doesn't depend on the session package directly to avoid a cycle.
type BroadcastFunc func(docID string, diff []byte)

// Engine evaluates snapshot triggers and performs restores.
type Engine struct {
	facade store.Facade
	cache  *doccache.Cache
	cfg    Config
	logger *sllogging.Logger

	locks    *store.KeyedMutex
	revCache *lru

	mu       sync.Mutex
	tracking map[string]*tracking

	broadcast BroadcastFunc

	cron *cron.Cron
}

func New(facade store.Facade, cache *doccache.Cache, cfg Config, logger *sllogging.Logger, maxHotDocs int) *Engine {
	return &Engine{
		facade:   facade,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
		locks:    store.NewKeyedMutex(),
		revCache: newLRU(maxHotDocs),
		tracking: make(map[string]*tracking),
	}
}

// SetBroadcaster wires the session layer's fan-out so a restore's applied
// diff reaches every attached session, the same as a live edit would.
func (e *Engine) SetBroadcaster(fn BroadcastFunc) { e.broadcast = fn }

// Start launches the idle-sweep cron schedule. It is a no-op if already
// started.
func (e *Engine) Start() error {
	if e.cron != nil {
		return nil
	}
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(e.cfg.SweepSchedule, e.sweep); err != nil {
		return fmt.Errorf("revision: schedule sweep: %w", err)
	}
	e.cron = c
	c.Start()
	return nil
}

func (e *Engine) Stop() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
}

// RecordUpdate is called after a session's apply_remote succeeds (§4.3 step
// 5 flows into §4.5's trigger evaluation). It updates the bookkeeping used
// by the update/time thresholds and, if either is met, snapshots
// asynchronously — failure is logged and non-fatal per §4.5's failure
// semantics; the trigger simply fires again on the next update.
func (e *Engine) RecordUpdate(docID, contributorID string) {
	e.mu.Lock()
	t, ok := e.tracking[docID]
	if !ok {
		t = &tracking{contributors: make(map[string]struct{})}
		e.tracking[docID] = t
	}
	t.updatesSince++
	t.lastUpdateAt = time.Now()
	if contributorID != "" {
		t.contributors[contributorID] = struct{}{}
	}
	trigger := t.updatesSince >= e.cfg.UpdateThreshold ||
		(t.updatesSince > 0 && !t.lastSnapshotAt.IsZero() && time.Since(t.lastSnapshotAt) >= e.cfg.TimeThreshold)
	e.mu.Unlock()

	if trigger {
		go e.snapshotLogged(context.Background(), docID)
	}
}

// sweep catches documents that went idle without a triggering edit: the
// update/time thresholds only ever fire from RecordUpdate, so a document
// that receives its last edit and then nothing for idle_threshold needs
// this periodic check instead.
func (e *Engine) sweep() {
	now := time.Now()
	var due []string

	e.mu.Lock()
	for docID, t := range e.tracking {
		if t.updatesSince > 0 && now.Sub(t.lastUpdateAt) >= e.cfg.IdleThreshold {
			due = append(due, docID)
		}
	}
	e.mu.Unlock()

	for _, docID := range due {
		e.snapshotLogged(context.Background(), docID)
	}
}

func (e *Engine) snapshotLogged(ctx context.Context, docID string) {
	if err := e.snapshot(ctx, docID); err != nil {
		if e.logger != nil {
			e.logger.WithFields(map[string]interface{}{
				"document_id": docID,
				"error":       err,
			}).Warn("revision: snapshot failed, will retry on next trigger")
		}
	}
}

// snapshot implements the creation algorithm in §4.5.
func (e *Engine) snapshot(ctx context.Context, docID string) error {
	e.locks.Lock(docID)
	defer e.locks.Unlock(docID)

	handle, err := e.cache.Pin(ctx, docID)
	if err != nil {
		return docerr.RevisionFailed(docID, err)
	}
	defer e.cache.Unpin(handle)

	snap := e.cache.Snapshot(handle)
	vector := e.cache.StateVector(handle)
	wordCount := e.cache.WordCount(handle)

	e.mu.Lock()
	t := e.tracking[docID]
	var contributors []string
	if t != nil {
		for c := range t.contributors {
			contributors = append(contributors, c)
		}
	}
	e.mu.Unlock()

	revisions, err := e.facade.ListRevisions(ctx, docID)
	if err != nil {
		return docerr.RevisionFailed(docID, err)
	}
	number := 1
	for _, r := range revisions {
		if r.Number >= number {
			number = r.Number + 1
		}
	}

	summary := fmt.Sprintf("%d words, %d contributor(s)", wordCount, len(contributors))
	if err := e.facade.InsertRevision(ctx, docID, number, snap, vector, contributors, wordCount, summary); err != nil {
		return docerr.RevisionFailed(docID, err)
	}

	lastClient := ""
	if state, err := e.facade.LoadDocument(ctx, docID); err == nil && state != nil {
		lastClient = state.LastClient
	}

	var pruneBefore int64
	if e.cfg.PruneUpdatesOnSnapshot {
		if updates, err := e.facade.LoadUpdatesSince(ctx, docID, 0); err == nil {
			for _, u := range updates {
				if u.Seq > pruneBefore {
					pruneBefore = u.Seq
				}
			}
		}
	}
	if err := e.facade.WriteSnapshot(ctx, docID, snap, vector, lastClient, pruneBefore); err != nil {
		return docerr.RevisionFailed(docID, err)
	}

	e.mu.Lock()
	if t := e.tracking[docID]; t != nil {
		t.updatesSince = 0
		t.lastSnapshotAt = time.Now()
		t.contributors = make(map[string]struct{})
	}
	e.mu.Unlock()

	e.revCache.invalidateDoc(docID)
	return nil
}

// Restore implements §4.5's restore algorithm: load the target revision,
// compute what it has that the live document doesn't, and apply that as a
// normal update with a distinguished origin so it fans out like any edit.
// History before the restore is untouched — a restore is itself just
// another update, eligible for its own future snapshot.
func (e *Engine) Restore(ctx context.Context, docID string, number int, restoredBy string) error {
	e.locks.Lock(docID)
	defer e.locks.Unlock(docID)

	rev, err := e.loadRevision(ctx, docID, number)
	if err != nil {
		return docerr.RestoreFailed(docID, number, err)
	}

	handle, err := e.cache.Pin(ctx, docID)
	if err != nil {
		return docerr.RestoreFailed(docID, number, err)
	}
	defer e.cache.Unpin(handle)

	target := crdt.New(docID)
	if err := target.LoadSnapshot(rev.Snapshot); err != nil {
		return docerr.RestoreFailed(docID, number, err)
	}

	diff, err := target.DiffAgainst(e.cache.StateVector(handle))
	if err != nil {
		return docerr.RestoreFailed(docID, number, err)
	}
	if len(diff) == 0 {
		return nil
	}

	origin := fmt.Sprintf("%s%d:%s", restoreOriginPrefix, number, restoredBy)
	if _, err := e.facade.AppendUpdate(ctx, docID, diff, origin, time.Now()); err != nil {
		return docerr.RestoreFailed(docID, number, err)
	}

	if _, _, err := e.cache.ApplyRemote(handle, diff); err != nil {
		return docerr.RestoreFailed(docID, number, err)
	}

	if e.logger != nil {
		e.logger.WithFields(map[string]interface{}{
			"document_id": docID,
			"revision":    number,
			"restored_by": restoredBy,
		}).Info("revision: restored document to prior revision")
	}

	if e.broadcast != nil {
		e.broadcast(docID, diff)
	}
	e.RecordUpdate(docID, restoredBy)
	return nil
}

func (e *Engine) loadRevision(ctx context.Context, docID string, number int) (*store.Revision, error) {
	if rev, ok := e.revCache.get(docID, number); ok {
		return rev, nil
	}
	rev, err := e.facade.LoadRevision(ctx, docID, number)
	if err != nil {
		return nil, err
	}
	e.revCache.put(docID, number, rev)
	return rev, nil
}

// ListRevisions is a thin passthrough exposed so HTTP handlers don't need a
// separate facade reference for read-only history listing.
func (e *Engine) ListRevisions(ctx context.Context, docID string) ([]store.RevisionSummary, error) {
	return e.facade.ListRevisions(ctx, docID)
}
