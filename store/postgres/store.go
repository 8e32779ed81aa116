// Package postgres implements store.Store on PostgreSQL through pgx. Every
// Lock* method issues SELECT ... FOR UPDATE, so callers must go through InTx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"freightflow/carrier"
	"freightflow/store"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	invalidText         = "22P02"
)

type Store struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

func New(pool *pgxpool.Pool) *Store {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Store{pool: pool, log: log}
}

// WithLogger sets the logger used for outbox dead-letters.
func (s *Store) WithLogger(log logrus.FieldLogger) *Store {
	s.log = log
	return s
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// CarrierProfiles exposes read access to carrier profiles outside of a
// workflow transaction.
func (s *Store) CarrierProfiles() carrier.ProfileReader {
	return carrier.NewRepository(s.pool)
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx, carriers: carrier.NewRepository(tx)}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

type txStore struct {
	tx       pgx.Tx
	carriers *carrier.Repository
}

// translate maps driver errors onto the store taxonomy. Malformed ids
// cannot match any row and are reported as not found.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%w: %s: %s", store.ErrConflict, what, pgErr.ConstraintName)
		case foreignKeyViolation, invalidText:
			return fmt.Errorf("%w: %s", store.ErrNotFound, what)
		}
	}
	return fmt.Errorf("postgres: %s: %w", what, err)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
