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
	"time"

	"github.com/google/uuid"
)

// Author is a prompt author profile. Rows are written by the profile
// service; gliskd only reads them to resolve prompts and display handles.
type Author struct {
	ID            uuid.UUID
	WalletAddress string // EIP-55 checksummed
	PromptText    string
	TwitterHandle string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const authorColumns = `id, wallet_address, prompt_text, twitter_handle, created_at, updated_at`

func scanAuthor(row scanner) (*Author, error) {
	var (
		a      Author
		prompt sql.NullString
		handle sql.NullString
	)
	err := row.Scan(&a.ID, &a.WalletAddress, &prompt, &handle, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.PromptText = prompt.String
	a.TwitterHandle = handle.String
	return &a, nil
}

// AuthorByWallet looks an author up by wallet address, case-insensitively.
// Wallets are stored checksummed but callers may hold any casing.
func (q queries) AuthorByWallet(ctx context.Context, wallet string) (*Author, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+authorColumns+` FROM authors WHERE lower(wallet_address) = lower($1)`,
		wallet)
	a, err := scanAuthor(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("author by wallet: %w", err)
	}
	return a, nil
}

// AuthorByID loads an author row by primary key.
func (q queries) AuthorByID(ctx context.Context, id uuid.UUID) (*Author, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+authorColumns+` FROM authors WHERE id = $1`, id)
	a, err := scanAuthor(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("author by id: %w", err)
	}
	return a, nil
}
