package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/r3e-labs/docweave/infrastructure/resilience"
	"github.com/r3e-labs/docweave/internal/store"
)

// Store is a store.Facade backed by PostgreSQL, using the documents,
// document_updates, and document_revisions tables defined under
// db/migrations. The two hottest façade calls, LoadDocument and the update
// insert in AppendUpdate, run through a circuit breaker so a database outage fails fast with CodeStorageUnavailable instead of piling
// up blocked sessions one connection-pool-exhaustion timeout at a time.
type Store struct {
	baseStore
	docLocks *store.KeyedMutex
	breaker  *resilience.CircuitBreaker
}

// Open connects to databaseURL and verifies connectivity, retrying the
// initial connection with exponential backoff — the database and the
// document engine are typically started together by an orchestrator, and
// the engine should not exit just because it won the race. Schema
// migrations are applied separately via cmd/migrate, not here.
func Open(databaseURL string, maxConns int, idleTimeout time.Duration) (*Store, error) {
	var db *sqlx.DB
	connect := func() error {
		opened, err := sqlx.Connect("postgres", databaseURL)
		if err != nil {
			return err
		}
		db = opened
		return nil
	}
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = 5
	if err := resilience.Retry(context.Background(), retryCfg, connect); err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetConnMaxIdleTime(idleTimeout)

	return &Store{
		baseStore: baseStore{db: db},
		docLocks:  store.NewKeyedMutex(),
		breaker:   resilience.New(resilience.DefaultConfig()),
	}, nil
}

// NewWithDB wraps an already-open sqlx.DB, for tests against a real test
// database without going through Open's connection-string parsing.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{
		baseStore: baseStore{db: db},
		docLocks:  store.NewKeyedMutex(),
		breaker:   resilience.New(resilience.DefaultConfig()),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB returns the underlying *sql.DB, for collaborators that need to issue
// raw SQL outside the Facade contract — currently only pgrelay, which needs
// it for pg_notify and its own LISTEN connection.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

type documentRow struct {
	DocID      string     `db:"doc_id"`
	Snapshot   []byte     `db:"snapshot"`
	Vector     []byte     `db:"vector"`
	LastClient string     `db:"last_client"`
	ArchivedAt *time.Time `db:"archived_at"`
}

func (s *Store) LoadDocument(ctx context.Context, docID string) (*store.DocumentState, error) {
	var row documentRow
	err := s.breaker.Execute(ctx, func() error {
		return sqlx.GetContext(ctx, s.querier(ctx), &row,
			`SELECT doc_id, snapshot, vector, last_client, archived_at FROM documents WHERE doc_id = $1`, docID)
	})
	if isNoRows(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load document: %w", err)
	}
	return &store.DocumentState{
		DocID:      row.DocID,
		Snapshot:   row.Snapshot,
		Vector:     row.Vector,
		LastClient: row.LastClient,
		ArchivedAt: row.ArchivedAt,
	}, nil
}

type updateRow struct {
	DocID   string    `db:"doc_id"`
	Seq     int64     `db:"seq"`
	Payload []byte    `db:"payload"`
	Origin  string    `db:"origin"`
	Ts      time.Time `db:"ts"`
}

func (s *Store) LoadUpdatesSince(ctx context.Context, docID string, afterSeq int64) ([]store.Update, error) {
	var rows []updateRow
	err := sqlx.SelectContext(ctx, s.querier(ctx), &rows,
		`SELECT doc_id, seq, payload, origin, ts FROM document_updates WHERE doc_id = $1 AND seq > $2 ORDER BY seq ASC`,
		docID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("postgres: load updates since: %w", err)
	}
	out := make([]store.Update, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.Update{DocID: r.DocID, Seq: r.Seq, Payload: r.Payload, Origin: r.Origin, Ts: r.Ts})
	}
	return out, nil
}

func (s *Store) AppendUpdate(ctx context.Context, docID string, payload []byte, origin string, ts time.Time) (int64, error) {
	s.docLocks.Lock(docID)
	defer s.docLocks.Unlock(docID)

	var seq int64
	err := s.breaker.Execute(ctx, func() error {
		return sqlx.GetContext(ctx, s.querier(ctx), &seq,
			`INSERT INTO document_updates (doc_id, seq, payload, origin, ts)
			 VALUES ($1, COALESCE((SELECT MAX(seq) FROM document_updates WHERE doc_id = $1), 0) + 1, $2, $3, $4)
			 RETURNING seq`,
			docID, payload, origin, ts)
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: append update: %w", err)
	}

	_, err = s.querier(ctx).ExecContext(ctx,
		`INSERT INTO documents (doc_id, snapshot, vector, last_client)
		 VALUES ($1, '', '', $2)
		 ON CONFLICT (doc_id) DO UPDATE SET last_client = EXCLUDED.last_client`,
		docID, origin)
	if err != nil {
		return 0, fmt.Errorf("postgres: touch document row: %w", err)
	}
	return seq, nil
}

func (s *Store) WriteSnapshot(ctx context.Context, docID string, snapshot, vector []byte, lastClient string, pruneBefore int64) error {
	s.docLocks.Lock(docID)
	defer s.docLocks.Unlock(docID)

	return s.withTx(ctx, func(ctx context.Context) error {
		_, err := s.querier(ctx).ExecContext(ctx,
			`INSERT INTO documents (doc_id, snapshot, vector, last_client)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (doc_id) DO UPDATE SET snapshot = EXCLUDED.snapshot, vector = EXCLUDED.vector, last_client = EXCLUDED.last_client`,
			docID, snapshot, vector, lastClient)
		if err != nil {
			return fmt.Errorf("postgres: write snapshot: %w", err)
		}

		if pruneBefore > 0 {
			_, err := s.querier(ctx).ExecContext(ctx,
				`DELETE FROM document_updates WHERE doc_id = $1 AND seq <= $2`, docID, pruneBefore)
			if err != nil {
				return fmt.Errorf("postgres: prune updates: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) InsertRevision(ctx context.Context, docID string, number int, snapshot, vector []byte, contributors []string, wordCount int, summary string) error {
	_, err := s.querier(ctx).ExecContext(ctx,
		`INSERT INTO document_revisions (doc_id, number, snapshot, vector, contributors, word_count, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		docID, number, snapshot, vector, strings.Join(contributors, ","), wordCount, summary, time.Now())
	if err != nil {
		return fmt.Errorf("postgres: insert revision: %w", err)
	}
	return nil
}

type revisionSummaryRow struct {
	Number       int       `db:"number"`
	CreatedAt    time.Time `db:"created_at"`
	WordCount    int       `db:"word_count"`
	Contributors string    `db:"contributors"`
	Summary      string    `db:"summary"`
}

func (s *Store) ListRevisions(ctx context.Context, docID string) ([]store.RevisionSummary, error) {
	var rows []revisionSummaryRow
	err := sqlx.SelectContext(ctx, s.querier(ctx), &rows,
		`SELECT number, created_at, word_count, contributors, summary FROM document_revisions WHERE doc_id = $1 ORDER BY number DESC`,
		docID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list revisions: %w", err)
	}
	out := make([]store.RevisionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.RevisionSummary{
			Number:       r.Number,
			CreatedAt:    r.CreatedAt,
			WordCount:    r.WordCount,
			Contributors: splitContributors(r.Contributors),
			Summary:      r.Summary,
		})
	}
	return out, nil
}

type revisionRow struct {
	revisionSummaryRow
	Snapshot []byte `db:"snapshot"`
	Vector   []byte `db:"vector"`
}

func (s *Store) LoadRevision(ctx context.Context, docID string, number int) (*store.Revision, error) {
	var row revisionRow
	err := sqlx.GetContext(ctx, s.querier(ctx), &row,
		`SELECT number, created_at, word_count, contributors, summary, snapshot, vector
		 FROM document_revisions WHERE doc_id = $1 AND number = $2`, docID, number)
	if isNoRows(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load revision: %w", err)
	}
	return &store.Revision{
		RevisionSummary: store.RevisionSummary{
			Number:       row.Number,
			CreatedAt:    row.CreatedAt,
			WordCount:    row.WordCount,
			Contributors: splitContributors(row.Contributors),
			Summary:      row.Summary,
		},
		Snapshot: row.Snapshot,
		Vector:   row.Vector,
	}, nil
}

func (s *Store) CheckDocumentPermission(ctx context.Context, userID, docID string) (store.Permission, error) {
	var level string
	err := sqlx.GetContext(ctx, s.querier(ctx), &level,
		`SELECT permission FROM document_permissions WHERE user_id = $1 AND doc_id = $2`, userID, docID)
	if isNoRows(err) {
		return store.PermissionNone, nil
	}
	if err != nil {
		return store.PermissionNone, fmt.Errorf("postgres: check permission: %w", err)
	}
	switch level {
	case "write":
		return store.PermissionWrite, nil
	case "read":
		return store.PermissionRead, nil
	default:
		return store.PermissionNone, nil
	}
}

func (s *Store) PublishTicketEvent(ctx context.Context, pub store.EventPublisher, event store.TicketEvent) error {
	if pub == nil {
		return nil
	}
	return pub.Publish(ctx, "ticket:"+event.TicketID, event)
}

func splitContributors(csv string) []string {
	if csv == "" {
		return nil
	}
	return strings.Split(csv, ",")
}

var _ store.Facade = (*Store)(nil)
