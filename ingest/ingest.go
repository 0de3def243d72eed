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

// Package ingest turns decoded BatchMinted events into durable token rows.
// The webhook receiver and log replay both persist through here, so the two
// ingestion paths cannot drift apart.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/glisk/gliskd/chain"
	"github.com/glisk/gliskd/store"
)

// ErrDuplicate reports that the event's (tx_hash, log_index) pair was
// already persisted. Redeliveries and replay overlap hit this routinely.
var ErrDuplicate = errors.New("ingest: duplicate mint event")

// MintTx is one open transaction persisting a single event.
type MintTx interface {
	InsertMintEvent(ctx context.Context, ev *store.MintEvent) error
	InsertTokenIgnoreDup(ctx context.Context, t *store.Token) (bool, error)
	Commit() error
	Rollback() error
}

// Storage is the store surface ingestion needs; satisfied by mintStore over
// a store.Store.
type Storage interface {
	AuthorByWallet(ctx context.Context, wallet string) (*store.Author, error)
	HasMintEvent(ctx context.Context, txHash string, logIndex int) (bool, error)
	BeginMint(ctx context.Context) (MintTx, error)
}

// mintStore adapts store.Store to Storage: Begin returns the concrete Tx,
// BeginMint narrows it.
type mintStore struct {
	*store.Store
}

func (s mintStore) BeginMint(ctx context.Context) (MintTx, error) {
	return s.Store.Begin(ctx)
}

// Ingestor persists decoded mint events. DefaultAuthorWallet supplies the
// author for mints whose on-chain author has no profile row.
type Ingestor struct {
	store               Storage
	defaultAuthorWallet string
	log                 log.Logger
}

// New builds an ingestor over the store.
func New(st *store.Store, defaultAuthorWallet string) *Ingestor {
	return &Ingestor{
		store:               mintStore{st},
		defaultAuthorWallet: defaultAuthorWallet,
		log:                 log.New("module", "ingest"),
	}
}

// ResolveAuthor maps an on-chain author wallet to an Author row, falling
// back to the configured default author when the wallet has no profile. A
// missing default author is a deployment error, reported with the wallet so
// the operator knows which row to provision.
func (in *Ingestor) ResolveAuthor(ctx context.Context, wallet common.Address) (*store.Author, error) {
	author, err := in.store.AuthorByWallet(ctx, wallet.Hex())
	if err == nil {
		return author, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if in.defaultAuthorWallet == "" {
		return nil, fmt.Errorf("author %s unknown and no default author configured", wallet.Hex())
	}
	author, err = in.store.AuthorByWallet(ctx, in.defaultAuthorWallet)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("default author %s not found, provision the row", in.defaultAuthorWallet)
	}
	if err != nil {
		return nil, err
	}
	in.log.Debug("Author unknown, using default", "wallet", wallet, "default", in.defaultAuthorWallet)
	return author, nil
}

// PersistMint stores one decoded event and its token rows in a single
// transaction. It returns the number of token rows created; ErrDuplicate
// means the event was already persisted and nothing was written.
func (in *Ingestor) PersistMint(ctx context.Context, ev *chain.BatchMinted, blockTime time.Time) (int, error) {
	// The delivery key decides first: a redelivered event must report
	// duplicate even when its author could not be resolved today.
	known, err := in.store.HasMintEvent(ctx, ev.TxHash.Hex(), int(ev.LogIndex))
	if err != nil {
		return 0, err
	}
	if known {
		return 0, ErrDuplicate
	}

	author, err := in.ResolveAuthor(ctx, ev.Author)
	if err != nil {
		return 0, err
	}

	tx, err := in.store.BeginMint(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	err = tx.InsertMintEvent(ctx, &store.MintEvent{
		TxHash:         ev.TxHash.Hex(),
		LogIndex:       int(ev.LogIndex),
		BlockNumber:    int64(ev.BlockNumber),
		BlockTimestamp: blockTime,
		StartTokenID:   ev.StartTokenID.Int64(),
		Quantity:       int(ev.Quantity.Int64()),
		TotalPaid:      ev.TotalPaid.String(),
		Minter:         ev.Minter.Hex(),
		AuthorWallet:   ev.Author.Hex(),
	})
	if errors.Is(err, store.ErrDuplicateEvent) {
		return 0, ErrDuplicate
	}
	if err != nil {
		return 0, err
	}

	// Token rows may already exist when gap repair raced ahead of this
	// event; the token_id conflict is skipped, the event row still commits.
	created := 0
	start := ev.StartTokenID.Int64()
	qty := ev.Quantity.Int64()
	for id := start; id < start+qty; id++ {
		inserted, err := tx.InsertTokenIgnoreDup(ctx, &store.Token{
			ID:            uuid.New(),
			TokenID:       id,
			AuthorID:      author.ID,
			MinterAddress: ev.Minter.Hex(),
			Status:        store.StatusDetected,
			MintTimestamp: blockTime,
		})
		if err != nil {
			return 0, err
		}
		if inserted {
			created++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	in.log.Info("Mint persisted", "tx", ev.TxHash, "logindex", ev.LogIndex,
		"start", start, "quantity", qty, "created", created, "author", author.WalletAddress)
	return created, nil
}
