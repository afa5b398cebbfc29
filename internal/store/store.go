// Package store implements the PostgreSQL repositories backing the lead
// engine. The relational store is the authoritative ledger; every worker
// shares one connection pool sized to twice the total worker concurrency.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/genomiq/lead-engine/internal/config"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
)

// Store bundles all repositories over one shared pool.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and configures the pool per the config.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing connection (used by tests with sqlmock).
func New(db *sql.DB) *Store { return &Store{db: db} }

// DB exposes the underlying pool for health checks and advisory locks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// errNoRows lets RowsAffected checks reuse the not_found translation.
var errNoRows = sql.ErrNoRows

// translateErr maps driver errors onto the application error taxonomy:
// unique violations become conflict (retried once by the queue), missing
// rows become not_found, anything else stays transient.
func translateErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.CodeNotFound, "%s not found", what)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return apperr.Wrap(apperr.CodeConflict, err, "%s already exists", what)
	}
	return apperr.Wrap(apperr.CodeTransientIO, err, "%s query failed", what)
}
