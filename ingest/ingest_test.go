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

package ingest

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/glisk/gliskd/chain"
	"github.com/glisk/gliskd/store"
)

var (
	knownAuthor   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	unknownAuthor = common.HexToAddress("0x3333333333333333333333333333333333333333")
	defaultAuthor = common.HexToAddress("0x4444444444444444444444444444444444444444")
	testMinter    = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

// fakeMintTx records the writes of one PersistMint call.
type fakeMintTx struct {
	parent    *fakeStorage
	event     *store.MintEvent
	tokens    []*store.Token
	committed bool
}

func (tx *fakeMintTx) InsertMintEvent(ctx context.Context, ev *store.MintEvent) error {
	if tx.parent.conflict {
		return store.ErrDuplicateEvent
	}
	tx.event = ev
	return nil
}

func (tx *fakeMintTx) InsertTokenIgnoreDup(ctx context.Context, t *store.Token) (bool, error) {
	if tx.parent.existingTokens[t.TokenID] {
		return false, nil
	}
	tx.tokens = append(tx.tokens, t)
	return true, nil
}

func (tx *fakeMintTx) Commit() error   { tx.committed = true; return nil }
func (tx *fakeMintTx) Rollback() error { return nil }

// fakeStorage is an in-memory Storage for ingestion tests.
type fakeStorage struct {
	authors        map[string]*store.Author
	known          map[string]bool
	existingTokens map[int64]bool
	conflict       bool
	begun          []*fakeMintTx
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		authors:        make(map[string]*store.Author),
		known:          make(map[string]bool),
		existingTokens: make(map[int64]bool),
	}
}

func (s *fakeStorage) addAuthor(wallet common.Address, prompt string) *store.Author {
	a := &store.Author{ID: uuid.New(), WalletAddress: wallet.Hex(), PromptText: prompt}
	s.authors[strings.ToLower(wallet.Hex())] = a
	return a
}

func (s *fakeStorage) AuthorByWallet(ctx context.Context, wallet string) (*store.Author, error) {
	a, ok := s.authors[strings.ToLower(wallet)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (s *fakeStorage) HasMintEvent(ctx context.Context, txHash string, logIndex int) (bool, error) {
	return s.known[txHash], nil
}

func (s *fakeStorage) BeginMint(ctx context.Context) (MintTx, error) {
	tx := &fakeMintTx{parent: s}
	s.begun = append(s.begun, tx)
	return tx, nil
}

func newTestIngestor(s *fakeStorage, defaultWallet string) *Ingestor {
	return &Ingestor{
		store:               s,
		defaultAuthorWallet: defaultWallet,
		log:                 log.New("module", "ingest"),
	}
}

func mintEvent(author common.Address, startID, qty int64) *chain.BatchMinted {
	return &chain.BatchMinted{
		Minter:       testMinter,
		Author:       author,
		StartTokenID: big.NewInt(startID),
		Quantity:     big.NewInt(qty),
		TotalPaid:    big.NewInt(1_000_000),
		TxHash:       common.HexToHash("0xabc1"),
		LogIndex:     2,
		BlockNumber:  500,
	}
}

func TestPersistMintCreatesTokens(t *testing.T) {
	storage := newFakeStorage()
	author := storage.addAuthor(knownAuthor, "a prompt")
	in := newTestIngestor(storage, "")

	created, err := in.PersistMint(context.Background(), mintEvent(knownAuthor, 10, 3), time.Now())
	require.NoError(t, err)
	require.Equal(t, 3, created)

	require.Len(t, storage.begun, 1)
	tx := storage.begun[0]
	require.True(t, tx.committed)
	require.NotNil(t, tx.event)
	require.Equal(t, int64(10), tx.event.StartTokenID)
	require.Len(t, tx.tokens, 3)
	for i, tok := range tx.tokens {
		require.Equal(t, int64(10+i), tok.TokenID)
		require.Equal(t, author.ID, tok.AuthorID)
		require.Equal(t, store.StatusDetected, tok.Status)
	}
}

func TestPersistMintDuplicateBeatsUnknownAuthor(t *testing.T) {
	// A redelivered event must answer duplicate even when its author has no
	// profile and no default author is configured; resolution failure only
	// matters for events actually being written.
	storage := newFakeStorage()
	ev := mintEvent(unknownAuthor, 1, 1)
	storage.known[ev.TxHash.Hex()] = true
	in := newTestIngestor(storage, "")

	_, err := in.PersistMint(context.Background(), ev, time.Now())
	require.ErrorIs(t, err, ErrDuplicate)
	require.Empty(t, storage.begun)
}

func TestPersistMintInsertRace(t *testing.T) {
	// The pre-check missed, but the insert hit the unique key: a concurrent
	// writer won. Still a duplicate, nothing committed.
	storage := newFakeStorage()
	storage.addAuthor(knownAuthor, "a prompt")
	storage.conflict = true
	in := newTestIngestor(storage, "")

	_, err := in.PersistMint(context.Background(), mintEvent(knownAuthor, 1, 1), time.Now())
	require.ErrorIs(t, err, ErrDuplicate)
	require.Len(t, storage.begun, 1)
	require.False(t, storage.begun[0].committed)
}

func TestPersistMintSkipsExistingTokens(t *testing.T) {
	// Gap repair raced ahead and already inserted token 11: the event row
	// still commits and only the missing ids are created.
	storage := newFakeStorage()
	storage.addAuthor(knownAuthor, "a prompt")
	storage.existingTokens[11] = true
	in := newTestIngestor(storage, "")

	created, err := in.PersistMint(context.Background(), mintEvent(knownAuthor, 10, 3), time.Now())
	require.NoError(t, err)
	require.Equal(t, 2, created)
	require.True(t, storage.begun[0].committed)
}

func TestResolveAuthorFallsBack(t *testing.T) {
	storage := newFakeStorage()
	def := storage.addAuthor(defaultAuthor, "default prompt")
	in := newTestIngestor(storage, defaultAuthor.Hex())

	author, err := in.ResolveAuthor(context.Background(), unknownAuthor)
	require.NoError(t, err)
	require.Equal(t, def.ID, author.ID)
}

func TestResolveAuthorUnknownNoDefault(t *testing.T) {
	in := newTestIngestor(newFakeStorage(), "")
	_, err := in.ResolveAuthor(context.Background(), unknownAuthor)
	require.Error(t, err)
	require.Contains(t, err.Error(), unknownAuthor.Hex())
}
