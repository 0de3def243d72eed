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

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateEvent is returned when a mint event with the same
// (tx_hash, log_index) pair was already stored.
var ErrDuplicateEvent = errors.New("store: duplicate mint event")

// MintEvent is the durable record of one decoded BatchMinted log. The
// (TxHash, LogIndex) pair is the idempotency key for webhook deliveries and
// log replay alike.
type MintEvent struct {
	ID             uuid.UUID
	TxHash         string
	LogIndex       int
	BlockNumber    int64
	BlockTimestamp time.Time
	StartTokenID   int64
	Quantity       int
	TotalPaid      string // wei, decimal string
	Minter         string
	AuthorWallet   string
	DetectedAt     time.Time
}

// InsertMintEvent stores a decoded event. ErrDuplicateEvent is returned when
// the (tx_hash, log_index) pair already exists; the caller decides whether
// that is an error or routine redelivery.
func (q queries) InsertMintEvent(ctx context.Context, ev *MintEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.TotalPaid == "" {
		ev.TotalPaid = "0"
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO mint_events (id, tx_hash, log_index, block_number, block_timestamp,
			start_token_id, quantity, total_paid, minter, author_wallet)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tx_hash, log_index) DO NOTHING`,
		ev.ID, ev.TxHash, ev.LogIndex, ev.BlockNumber, ev.BlockTimestamp,
		ev.StartTokenID, ev.Quantity, ev.TotalPaid, ev.Minter, ev.AuthorWallet)
	if err != nil {
		return fmt.Errorf("insert mint event %s/%d: %w", ev.TxHash, ev.LogIndex, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

// HasMintEvent reports whether the (txHash, logIndex) pair is already stored.
func (q queries) HasMintEvent(ctx context.Context, txHash string, logIndex int) (bool, error) {
	var exists bool
	err := q.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM mint_events WHERE tx_hash = $1 AND log_index = $2)`,
		txHash, logIndex).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check mint event: %w", err)
	}
	return exists, nil
}

// MaxEventBlock returns the highest block number across stored mint events,
// or zero when the table is empty.
func (q queries) MaxEventBlock(ctx context.Context) (int64, error) {
	var block int64
	err := q.q.QueryRowContext(ctx,
		`SELECT COALESCE(max(block_number), 0) FROM mint_events`).Scan(&block)
	if err != nil {
		return 0, fmt.Errorf("max event block: %w", err)
	}
	return block, nil
}
