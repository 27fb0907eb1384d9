// Package postgres implements store.Facade atop sqlx.DB and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// baseStore provides the transaction-scoped querier pattern shared by every
// table-specific method below, adapted from the teacher's BaseStore helper.
type baseStore struct {
	db *sqlx.DB
}

type txKey struct{}

// txFromContext extracts a transaction previously attached by withTx.
func txFromContext(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}

func contextWithTx(ctx context.Context, tx *sqlx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// querier returns the active transaction if one is bound to ctx, or the
// pool, so callers can write one code path regardless of transaction state.
func (s *baseStore) querier(ctx context.Context) sqlx.ExtContext {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

// withTx runs fn inside a new transaction, committing on success and rolling
// back on error or panic. Document-wide mutations (snapshot overwrite +
// update pruning, revision insertion) use this so they are all-or-nothing.
func (s *baseStore) withTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, beginErr := s.db.BeginTxx(ctx, nil)
	if beginErr != nil {
		return fmt.Errorf("begin transaction: %w", beginErr)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(contextWithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
