// Package store provides PostgreSQL-backed persistence for ThisReply.
//
// Repositories accept a DBTX interface satisfied by both *pgxpool.Pool and
// pgx.Tx, so the same query code works inside and outside a transaction.
// Counter mutations on the entitlements table are expressed as conditional
// updates: requests from different processes may race on the same record and
// no in-process locking is available, so correctness relies on the database
// serializing each UPDATE.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the minimal query interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when an insert or update violates a uniqueness
// constraint.
var ErrDuplicate = errors.New("record already exists")

// Store bundles the repositories over a shared connection pool.
type Store struct {
	Pool         *pgxpool.Pool
	Users        *UserStore
	Entitlements *EntitlementStore
	Analyses     *AnalysisStore
}

// New creates a Store backed by the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Pool:         pool,
		Users:        NewUserStore(pool),
		Entitlements: NewEntitlementStore(pool),
		Analyses:     NewAnalysisStore(pool),
	}
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// translateErr maps pgx-level errors to the package sentinels.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
