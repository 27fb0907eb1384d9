// Package store defines the persistence façade the document engine's core
// depends on (§6): document snapshots and their update log, revisions, and
// the two cross-cutting queries (permission checks, ticket event
// publication) the core needs but does not implement itself.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a document, revision, or update position
// does not exist.
var ErrNotFound = errors.New("store: not found")

// Permission is the result of check_document_permission.
type Permission int

const (
	PermissionNone Permission = iota
	PermissionRead
	PermissionWrite
)

// DocumentState is the row shape load_document / write_snapshot operate on.
type DocumentState struct {
	DocID      string
	Snapshot   []byte
	Vector     []byte
	LastClient string
	ArchivedAt *time.Time
}

// Update is one row of the append-only update log.
type Update struct {
	DocID   string
	Seq     int64
	Payload []byte
	Origin  string
	Ts      time.Time
}

// RevisionSummary is the metadata list_revisions returns; it deliberately
// omits the (potentially large) snapshot/vector blobs.
type RevisionSummary struct {
	Number       int
	CreatedAt    time.Time
	WordCount    int
	Contributors []string
	Summary      string
}

// Revision is a full revision record including its state, returned by
// load_revision.
type Revision struct {
	RevisionSummary
	Snapshot []byte
	Vector   []byte
}

// TicketEvent is published through the façade so REST handlers can feed the
// Event Bus without the store depending on internal/eventbus directly.
type TicketEvent struct {
	TicketID string
	Kind     string
	Payload  map[string]any
}

// EventPublisher is the minimal capability the façade needs to fan a ticket
// event out to Event Bus subscribers; internal/eventbus.Bus satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// Facade is the full persistence contract consumed by internal/doccache,
// internal/revision, and internal/session. Both internal/store/postgres and
// internal/store/memstore implement it.
type Facade interface {
	// LoadDocument returns the latest snapshot/vector/last-writer for a
	// document, or ErrNotFound if the document has never been written.
	LoadDocument(ctx context.Context, docID string) (*DocumentState, error)

	// LoadUpdatesSince returns updates strictly after afterSeq, in append
	// order. Used to fold outstanding updates onto a loaded snapshot.
	LoadUpdatesSince(ctx context.Context, docID string, afterSeq int64) ([]Update, error)

	// AppendUpdate appends one update to the log and returns its sequence.
	AppendUpdate(ctx context.Context, docID string, payload []byte, origin string, ts time.Time) (int64, error)

	// WriteSnapshot overwrites the document's snapshot transactionally. If
	// pruneBefore is non-zero, updates with Seq <= pruneBefore are deleted
	// in the same transaction (PRUNE_UPDATES_ON_SNAPSHOT).
	WriteSnapshot(ctx context.Context, docID string, snapshot, vector []byte, lastClient string, pruneBefore int64) error

	// InsertRevision persists a new numbered revision. number must be
	// max(existing)+1; implementations enforce this with UNIQUE(doc_id, number).
	InsertRevision(ctx context.Context, docID string, number int, snapshot, vector []byte, contributors []string, wordCount int, summary string) error

	// ListRevisions returns revision metadata, most recent first.
	ListRevisions(ctx context.Context, docID string) ([]RevisionSummary, error)

	// LoadRevision returns one revision's full state.
	LoadRevision(ctx context.Context, docID string, number int) (*Revision, error)

	// CheckDocumentPermission resolves what a user may do with a document.
	CheckDocumentPermission(ctx context.Context, userID, docID string) (Permission, error)

	// PublishTicketEvent feeds the Event Bus via pub, tagged with ticketID's
	// derived topic ("ticket:<id>").
	PublishTicketEvent(ctx context.Context, pub EventPublisher, event TicketEvent) error

	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error
}
