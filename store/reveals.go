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
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// RevealStatus tracks a reveal transaction from signing to its receipt.
type RevealStatus string

const (
	// RevealPending: signed, hash known, not yet broadcast.
	RevealPending RevealStatus = "pending"
	// RevealSent: accepted by the RPC node, receipt not yet seen.
	RevealSent RevealStatus = "sent"
	// RevealConfirmed: receipt seen with status 1.
	RevealConfirmed RevealStatus = "confirmed"
	// RevealFailed: receipt seen with status 0.
	RevealFailed RevealStatus = "failed"
)

// RevealTx is the audit row for one batch reveal transaction. Rows are
// written on a pool connection before broadcast so a crashed worker leaves a
// trace that startup reconciliation can resolve against the chain.
type RevealTx struct {
	ID           uuid.UUID
	TokenRowIDs  []uuid.UUID // tokens_s0 primary keys in this batch
	TxHash       string
	BlockNumber  int64
	GasUsed      int64
	GasPriceGwei string // effective gas price, decimal gwei
	Status       RevealStatus
	CreatedAt    time.Time
	ConfirmedAt  time.Time
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// InsertRevealTx stores a new reveal audit row, normally in RevealPending.
func (q queries) InsertRevealTx(ctx context.Context, rt *RevealTx) error {
	if rt.ID == uuid.Nil {
		rt.ID = uuid.New()
	}
	if rt.Status == "" {
		rt.Status = RevealPending
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO reveal_transactions (id, token_ids, tx_hash, status)
		VALUES ($1, $2::uuid[], $3, $4)`,
		rt.ID, pq.Array(uuidStrings(rt.TokenRowIDs)), nullif(rt.TxHash), rt.Status)
	if err != nil {
		return fmt.Errorf("insert reveal tx %s: %w", rt.TxHash, err)
	}
	return nil
}

// MarkRevealSent flips a pending reveal row to sent after broadcast.
func (q queries) MarkRevealSent(ctx context.Context, id uuid.UUID) error {
	_, err := q.q.ExecContext(ctx,
		`UPDATE reveal_transactions SET status = $1 WHERE id = $2`,
		RevealSent, id)
	if err != nil {
		return fmt.Errorf("mark reveal sent: %w", err)
	}
	return nil
}

// MarkRevealConfirmed records the receipt of a successful reveal.
func (q queries) MarkRevealConfirmed(ctx context.Context, id uuid.UUID, blockNumber int64, gasUsed uint64, effectiveGasPrice *big.Int) error {
	gwei := ""
	if effectiveGasPrice != nil {
		gwei = weiToGwei(effectiveGasPrice)
	}
	_, err := q.q.ExecContext(ctx, `
		UPDATE reveal_transactions
		SET status = $1, block_number = $2, gas_used = $3, gas_price_gwei = $4,
		    confirmed_at = now()
		WHERE id = $5`,
		RevealConfirmed, blockNumber, int64(gasUsed), nullif(gwei), id)
	if err != nil {
		return fmt.Errorf("mark reveal confirmed: %w", err)
	}
	return nil
}

// MarkRevealFailed records an on-chain revert for the reveal row.
func (q queries) MarkRevealFailed(ctx context.Context, id uuid.UUID, blockNumber int64, gasUsed uint64) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE reveal_transactions
		SET status = $1, block_number = $2, gas_used = $3, confirmed_at = now()
		WHERE id = $4`,
		RevealFailed, blockNumber, int64(gasUsed), id)
	if err != nil {
		return fmt.Errorf("mark reveal failed: %w", err)
	}
	return nil
}

// UnresolvedRevealTxs returns reveal rows whose receipt was never recorded:
// pending (signed, possibly broadcast) and sent (broadcast). Startup
// reconciliation resolves them against the chain.
func (q queries) UnresolvedRevealTxs(ctx context.Context) ([]*RevealTx, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, token_ids, tx_hash, COALESCE(block_number, 0),
		       COALESCE(gas_used, 0), status, created_at
		FROM reveal_transactions
		WHERE status = $1 OR status = $2
		ORDER BY created_at ASC`,
		RevealPending, RevealSent)
	if err != nil {
		return nil, fmt.Errorf("list unresolved reveals: %w", err)
	}
	defer rows.Close()

	var out []*RevealTx
	for rows.Next() {
		var (
			rt     RevealTx
			ids    pq.StringArray
			txHash sql.NullString
		)
		if err := rows.Scan(&rt.ID, &ids, &txHash, &rt.BlockNumber, &rt.GasUsed, &rt.Status, &rt.CreatedAt); err != nil {
			return nil, err
		}
		rt.TxHash = txHash.String
		rt.TokenRowIDs = make([]uuid.UUID, 0, len(ids))
		for _, s := range ids {
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("reveal %s: bad token row id %q: %w", rt.ID, s, err)
			}
			rt.TokenRowIDs = append(rt.TokenRowIDs, id)
		}
		out = append(out, &rt)
	}
	return out, rows.Err()
}

// weiToGwei renders a wei amount as a decimal gwei string with up to nine
// fractional digits.
func weiToGwei(wei *big.Int) string {
	r := new(big.Rat).SetFrac(wei, big.NewInt(1_000_000_000))
	return r.FloatString(9)
}
