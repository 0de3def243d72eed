// Copyright 2025 The gliskd Authors
// This file is part of the gliskd library.
//
// The gliskd library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The gliskd library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the gliskd library. If not, see <http://www.gnu.org/licenses/>.

// Package store implements the Postgres persistence layer of gliskd.
//
// The database doubles as the work queue: pipeline workers claim token rows
// with SELECT ... FOR UPDATE SKIP LOCKED and advance them through the token
// lifecycle. All exported operations are available both on Store, where each
// statement commits on its own, and on Tx for multi-statement transactions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries carries every statement of the store. It is embedded in Store and
// Tx so the same operation set runs in autocommit or transactional mode.
type queries struct {
	q Querier
}

// Store is the root handle on the Postgres pool.
type Store struct {
	queries
	db  *sql.DB
	log log.Logger
}

// Tx is a store handle bound to one open transaction. Row locks taken by
// LeaseTokens are held until Commit or Rollback.
type Tx struct {
	queries
	tx *sql.Tx
}

// Open connects to Postgres and configures the pool. The pool is sized for
// worker claims, which hold one connection per in-flight token.
func Open(ctx context.Context, url string, poolSize int) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize / 4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{
		queries: queries{q: db},
		db:      db,
		log:     log.New("db", "postgres"),
	}
	s.log.Info("Connected to database", "poolsize", poolSize)
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the pool can still reach the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Begin opens a transaction handle.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{queries: queries{q: tx}, tx: tx}, nil
}

// Commit commits the transaction and releases its row locks.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}
