// Package memstore implements store.Facade entirely in memory. It backs the
// CLI's dev mode when no DATABASE_URL is configured, and every unit test
// that needs a Facade without a real Postgres instance.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/r3e-labs/docweave/internal/store"
)

type docRecord struct {
	mu       sync.Mutex // serializes mutating operations per document, per §5
	state    *store.DocumentState
	updates  []store.Update
	nextSeq  int64
	revisions []*store.Revision
}

// Store is an in-memory store.Facade. The zero value is not usable; use New.
type Store struct {
	mu   sync.Mutex // guards the docs map itself, not per-document state
	docs map[string]*docRecord

	// permsMu guards perms, a simple user->doc->permission table populated
	// by tests and the dev CLI; production deployments would resolve this
	// against the ticketing platform's own ACL instead.
	permsMu sync.RWMutex
	perms   map[string]map[string]store.Permission
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		docs:  make(map[string]*docRecord),
		perms: make(map[string]map[string]store.Permission),
	}
}

// GrantPermission sets the permission a user has on a document. Intended
// for tests and the dev CLI; production permission resolution is external.
func (s *Store) GrantPermission(userID, docID string, perm store.Permission) {
	s.permsMu.Lock()
	defer s.permsMu.Unlock()
	if s.perms[userID] == nil {
		s.perms[userID] = make(map[string]store.Permission)
	}
	s.perms[userID][docID] = perm
}

func (s *Store) record(docID string) *docRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.docs[docID]
	if !ok {
		rec = &docRecord{}
		s.docs[docID] = rec
	}
	return rec
}

func (s *Store) LoadDocument(ctx context.Context, docID string) (*store.DocumentState, error) {
	rec := s.record(docID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state == nil {
		return nil, store.ErrNotFound
	}
	cp := *rec.state
	return &cp, nil
}

func (s *Store) LoadUpdatesSince(ctx context.Context, docID string, afterSeq int64) ([]store.Update, error) {
	rec := s.record(docID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var out []store.Update
	for _, u := range rec.updates {
		if u.Seq > afterSeq {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) AppendUpdate(ctx context.Context, docID string, payload []byte, origin string, ts time.Time) (int64, error) {
	rec := s.record(docID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.nextSeq++
	seq := rec.nextSeq
	rec.updates = append(rec.updates, store.Update{DocID: docID, Seq: seq, Payload: payload, Origin: origin, Ts: ts})
	if rec.state == nil {
		rec.state = &store.DocumentState{DocID: docID}
	}
	rec.state.LastClient = origin
	return seq, nil
}

func (s *Store) WriteSnapshot(ctx context.Context, docID string, snapshot, vector []byte, lastClient string, pruneBefore int64) error {
	rec := s.record(docID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.state = &store.DocumentState{DocID: docID, Snapshot: snapshot, Vector: vector, LastClient: lastClient}

	if pruneBefore > 0 {
		kept := rec.updates[:0]
		for _, u := range rec.updates {
			if u.Seq > pruneBefore {
				kept = append(kept, u)
			}
		}
		rec.updates = kept
	}
	return nil
}

func (s *Store) InsertRevision(ctx context.Context, docID string, number int, snapshot, vector []byte, contributors []string, wordCount int, summary string) error {
	rec := s.record(docID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	for _, r := range rec.revisions {
		if r.Number == number {
			return fmt.Errorf("memstore: revision %d already exists for %s", number, docID)
		}
	}
	rec.revisions = append(rec.revisions, &store.Revision{
		RevisionSummary: store.RevisionSummary{
			Number:       number,
			CreatedAt:    time.Now(),
			WordCount:    wordCount,
			Contributors: append([]string{}, contributors...),
			Summary:      summary,
		},
		Snapshot: snapshot,
		Vector:   vector,
	})
	return nil
}

func (s *Store) ListRevisions(ctx context.Context, docID string) ([]store.RevisionSummary, error) {
	rec := s.record(docID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	out := make([]store.RevisionSummary, 0, len(rec.revisions))
	for _, r := range rec.revisions {
		out = append(out, r.RevisionSummary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, nil
}

func (s *Store) LoadRevision(ctx context.Context, docID string, number int) (*store.Revision, error) {
	rec := s.record(docID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	for _, r := range rec.revisions {
		if r.Number == number {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CheckDocumentPermission(ctx context.Context, userID, docID string) (store.Permission, error) {
	s.permsMu.RLock()
	defer s.permsMu.RUnlock()
	if byUser, ok := s.perms[userID]; ok {
		if perm, ok := byUser[docID]; ok {
			return perm, nil
		}
	}
	return store.PermissionNone, nil
}

func (s *Store) PublishTicketEvent(ctx context.Context, pub store.EventPublisher, event store.TicketEvent) error {
	if pub == nil {
		return nil
	}
	topic := "ticket:" + event.TicketID
	return pub.Publish(ctx, topic, event)
}

func (s *Store) Ping(ctx context.Context) error { return nil }

var _ store.Facade = (*Store)(nil)
