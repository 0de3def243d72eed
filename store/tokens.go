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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrNotFound is returned by point lookups that matched no row.
var ErrNotFound = errors.New("store: not found")

// ErrStaleToken is returned when a guarded update lost a race: the row's
// status no longer matches the state the caller loaded. The caller should
// drop the token; whoever won the race owns it now.
var ErrStaleToken = errors.New("store: token row changed concurrently")

const tokenColumns = `id, token_id, author_id, minter_address, status,
	image_url, image_cid, metadata_cid, reveal_tx_hash,
	generation_attempts, generation_error, mint_timestamp, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(row scanner) (*Token, error) {
	var (
		t        Token
		minter   sql.NullString
		imageURL sql.NullString
		imageCID sql.NullString
		metaCID  sql.NullString
		txHash   sql.NullString
		genErr   sql.NullString
		mintedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.TokenID, &t.AuthorID, &minter, &t.Status,
		&imageURL, &imageCID, &metaCID, &txHash,
		&t.GenerationAttempts, &genErr, &mintedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.MinterAddress = minter.String
	t.ImageURL = imageURL.String
	t.ImageCID = imageCID.String
	t.MetadataCID = metaCID.String
	t.RevealTxHash = txHash.String
	t.GenerationError = genErr.String
	t.MintTimestamp = mintedAt.Time
	return &t, nil
}

func nullif(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullifTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// InsertTokenIgnoreDup stores a new token row unless its on-chain id already
// exists. It reports whether a row was actually inserted, which recovery
// paths use to count skips.
func (q queries) InsertTokenIgnoreDup(ctx context.Context, t *Token) (bool, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = StatusDetected
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO tokens_s0 (id, token_id, author_id, minter_address, status,
			image_url, image_cid, metadata_cid, reveal_tx_hash,
			generation_attempts, generation_error, mint_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (token_id) DO NOTHING`,
		t.ID, t.TokenID, t.AuthorID, nullif(t.MinterAddress), t.Status,
		nullif(t.ImageURL), nullif(t.ImageCID), nullif(t.MetadataCID), nullif(t.RevealTxHash),
		t.GenerationAttempts, nullif(t.GenerationError), nullifTime(t.MintTimestamp))
	if err != nil {
		return false, fmt.Errorf("insert token %d: %w", t.TokenID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TokenByTokenID loads one token by its on-chain id.
func (q queries) TokenByTokenID(ctx context.Context, tokenID int64) (*Token, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens_s0 WHERE token_id = $1`, tokenID)
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

// persistTransition writes the mutable token columns guarded by the status
// the caller observed. Zero rows affected means another writer got there
// first; the in-memory token is rolled back to its previous state.
func (q queries) persistTransition(ctx context.Context, t *Token, prev TokenStatus) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE tokens_s0
		SET status = $1, image_url = $2, image_cid = $3, metadata_cid = $4,
		    reveal_tx_hash = $5, generation_attempts = $6, generation_error = $7,
		    updated_at = now()
		WHERE id = $8 AND status = $9`,
		t.Status, nullif(t.ImageURL), nullif(t.ImageCID), nullif(t.MetadataCID),
		nullif(t.RevealTxHash), t.GenerationAttempts, nullif(t.GenerationError),
		t.ID, prev)
	if err != nil {
		return fmt.Errorf("update token %d: %w", t.TokenID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		t.Status = prev
		return ErrStaleToken
	}
	return nil
}

// MarkGenerating publishes a generation claim for the token.
func (q queries) MarkGenerating(ctx context.Context, t *Token) error {
	prev := t.Status
	if err := t.MarkGenerating(); err != nil {
		return err
	}
	return q.persistTransition(ctx, t, prev)
}

// MarkUploading records the generated image URL and advances the token.
func (q queries) MarkUploading(ctx context.Context, t *Token, imageURL string) error {
	prev := t.Status
	if err := t.MarkUploading(imageURL); err != nil {
		return err
	}
	return q.persistTransition(ctx, t, prev)
}

// MarkReady records the pinned CIDs and advances the token.
func (q queries) MarkReady(ctx context.Context, t *Token, imageCID, metadataCID string) error {
	prev := t.Status
	if err := t.MarkReady(imageCID, metadataCID); err != nil {
		return err
	}
	return q.persistTransition(ctx, t, prev)
}

// MarkRevealed records the confirmed reveal hash and advances the token.
func (q queries) MarkRevealed(ctx context.Context, t *Token, txHash string) error {
	prev := t.Status
	if err := t.MarkRevealed(txHash); err != nil {
		return err
	}
	return q.persistTransition(ctx, t, prev)
}

// MarkFailed moves the token to the failed terminal state.
func (q queries) MarkFailed(ctx context.Context, t *Token, reason string) error {
	prev := t.Status
	if err := t.MarkFailed(reason); err != nil {
		return err
	}
	return q.persistTransition(ctx, t, prev)
}

// RetryGeneration returns a token that hit a transient generation error to
// the detected state, counting the attempt. This reset edge stays outside
// the entity state machine on purpose: only the generate worker may take it.
func (q queries) RetryGeneration(ctx context.Context, t *Token, reason string) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE tokens_s0
		SET status = $1, generation_attempts = generation_attempts + 1,
		    generation_error = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		StatusDetected, truncateError(reason), t.ID, StatusGenerating)
	if err != nil {
		return fmt.Errorf("retry token %d: %w", t.TokenID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleToken
	}
	t.Status = StatusDetected
	t.GenerationAttempts++
	t.GenerationError = truncateError(reason)
	return nil
}

// IncrementAttempts counts a transient failure without changing status. The
// upload worker uses it: uploading is already a replayable state.
func (q queries) IncrementAttempts(ctx context.Context, t *Token, reason string) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE tokens_s0
		SET generation_attempts = generation_attempts + 1,
		    generation_error = $1, updated_at = now()
		WHERE id = $2`,
		truncateError(reason), t.ID)
	if err != nil {
		return fmt.Errorf("count attempt for token %d: %w", t.TokenID, err)
	}
	t.GenerationAttempts++
	t.GenerationError = truncateError(reason)
	return nil
}

// ResetOrphanedGenerating returns every token stuck in generating to
// detected. Run at worker startup: rows in generating with no live worker
// are leftovers of a crash.
func (q queries) ResetOrphanedGenerating(ctx context.Context) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE tokens_s0 SET status = $1, updated_at = now() WHERE status = $2`,
		StatusDetected, StatusGenerating)
	if err != nil {
		return 0, fmt.Errorf("reset orphaned tokens: %w", err)
	}
	return res.RowsAffected()
}

// LeaseTokens locks up to limit tokens in the given status, oldest first,
// skipping rows locked by other workers. The lock is held by the enclosing
// transaction; calling this on a Store handle would lock nothing useful.
func (t *Tx) LeaseTokens(ctx context.Context, status TokenStatus, limit int) ([]*Token, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens_s0
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		status, limit)
	if err != nil {
		return nil, fmt.Errorf("lease %s tokens: %w", status, err)
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}

// ClaimTokens leases a batch in a short transaction and commits immediately,
// releasing the locks. The claim only serializes batch selection across
// workers; the per-token status guard catches the losers of any remaining
// race.
func (s *Store) ClaimTokens(ctx context.Context, status TokenStatus, limit int) ([]*Token, error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	tokens, err := tx.LeaseTokens(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return tokens, nil
}

// MissingTokenIDs returns on-chain ids in [1, nextTokenID) that have no
// token row, ascending, capped at limit.
func (q queries) MissingTokenIDs(ctx context.Context, nextTokenID int64, limit int) ([]int64, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT s.id
		FROM generate_series(1, $1) AS s(id)
		LEFT JOIN tokens_s0 t ON t.token_id = s.id
		WHERE t.token_id IS NULL
		ORDER BY s.id ASC
		LIMIT $2`,
		nextTokenID-1, limit)
	if err != nil {
		return nil, fmt.Errorf("find missing token ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TokensByAuthorPage returns one page of an author's tokens, newest token id
// first, along with the total count across all pages.
func (q queries) TokensByAuthorPage(ctx context.Context, authorID uuid.UUID, offset, limit int) ([]*Token, int, error) {
	var total int
	err := q.q.QueryRowContext(ctx,
		`SELECT count(*) FROM tokens_s0 WHERE author_id = $1`, authorID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count author tokens: %w", err)
	}

	rows, err := q.q.QueryContext(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens_s0
		WHERE author_id = $1
		ORDER BY token_id DESC
		OFFSET $2 LIMIT $3`,
		authorID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list author tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, 0, err
		}
		tokens = append(tokens, tok)
	}
	return tokens, total, rows.Err()
}

// AdvanceRevealed marks the given token rows revealed if they are still
// ready. Reveal reconciliation uses it when a receipt turns up confirmed for
// a transaction whose worker died before recording the outcome.
func (q queries) AdvanceRevealed(ctx context.Context, rowIDs []uuid.UUID, txHash string) (int64, error) {
	ids := make([]string, len(rowIDs))
	for i, id := range rowIDs {
		ids[i] = id.String()
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE tokens_s0
		SET status = $1, reveal_tx_hash = $2, updated_at = now()
		WHERE id = ANY($3::uuid[]) AND status = $4`,
		StatusRevealed, txHash, pq.Array(ids), StatusReady)
	if err != nil {
		return 0, fmt.Errorf("advance revealed tokens: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns the number of tokens per lifecycle state. Queue
// depth gauges are fed from this.
func (q queries) CountByStatus(ctx context.Context) (map[TokenStatus]int64, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT status, count(*) FROM tokens_s0 GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tokens by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[TokenStatus]int64)
	for rows.Next() {
		var (
			status TokenStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
