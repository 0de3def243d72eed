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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/glisk/gliskd/chain"
	"github.com/glisk/gliskd/store"
)

// RevealPacker builds revealTokens calldata.
type RevealPacker interface {
	PackRevealTokens(tokenIDs []int64, uris []string) ([]byte, error)
}

// RevealSigner is the keeper surface the reveal stage uses.
type RevealSigner interface {
	EstimateFees(ctx context.Context, calldata []byte) (*chain.Fees, error)
	SignReveal(ctx context.Context, calldata []byte, fees *chain.Fees) (*types.Transaction, error)
	Send(ctx context.Context, tx *types.Transaction) error
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	ExplorerTxURL(hash common.Hash) string
}

// RevealLease is one open claim transaction over ready tokens. It maps to
// store.Tx: rows selected through it stay locked until Commit or Rollback.
type RevealLease interface {
	LeaseTokens(ctx context.Context, status store.TokenStatus, limit int) ([]*store.Token, error)
	MarkRevealed(ctx context.Context, t *store.Token, txHash string) error
	Commit() error
	Rollback() error
}

// revealStore is the store surface of the reveal stage.
type revealStore interface {
	BeginLease(ctx context.Context) (RevealLease, error)
	InsertRevealTx(ctx context.Context, rt *store.RevealTx) error
	MarkRevealSent(ctx context.Context, id uuid.UUID) error
	MarkRevealConfirmed(ctx context.Context, id uuid.UUID, blockNumber int64, gasUsed uint64, effectiveGasPrice *big.Int) error
	MarkRevealFailed(ctx context.Context, id uuid.UUID, blockNumber int64, gasUsed uint64) error
	UnresolvedRevealTxs(ctx context.Context) ([]*store.RevealTx, error)
	AdvanceRevealed(ctx context.Context, rowIDs []uuid.UUID, txHash string) (int64, error)
}

// leaseStore adapts store.Store to revealStore: Begin returns the concrete
// Tx, BeginLease narrows it.
type leaseStore struct {
	*store.Store
}

func (s leaseStore) BeginLease(ctx context.Context) (RevealLease, error) {
	return s.Store.Begin(ctx)
}

// RevealWorker batches ready tokens into gas-bounded reveal transactions.
// The batch lease transaction stays open across the whole submit/confirm
// cycle, so no other process can claim the same tokens meanwhile.
type RevealWorker struct {
	store  revealStore
	packer RevealPacker
	keeper RevealSigner

	batchMax     int
	batchWait    time.Duration
	pollInterval time.Duration

	log log.Logger
}

// NewRevealWorker builds the reveal stage.
func NewRevealWorker(st *store.Store, packer RevealPacker, keeper RevealSigner,
	batchMax int, batchWait, pollInterval time.Duration) *RevealWorker {

	return &RevealWorker{
		store:        leaseStore{st},
		packer:       packer,
		keeper:       keeper,
		batchMax:     batchMax,
		batchWait:    batchWait,
		pollInterval: pollInterval,
		log:          log.New("worker", "reveal"),
	}
}

func (w *RevealWorker) Name() string { return "reveal" }

// Run reconciles orphaned reveal transactions once, then loops on batch
// accumulation until ctx is cancelled.
func (w *RevealWorker) Run(ctx context.Context) error {
	if err := w.Reconcile(ctx); err != nil {
		return fmt.Errorf("reveal reconciliation: %w", err)
	}
	for {
		n, err := w.processBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// Batch failures leave the tokens ready; log and keep polling.
			w.log.Error("Reveal batch failed", "err", err)
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}

// processBatch accumulates a batch under one lease transaction, submits the
// reveal and settles every member token. Returns the number of tokens
// revealed.
func (w *RevealWorker) processBatch(ctx context.Context) (int, error) {
	tx, err := w.store.BeginLease(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	tokens, err := tx.LeaseTokens(ctx, store.StatusReady, w.batchMax)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	// Partial batch: wait the accumulation window, then top up. The second
	// select re-sees rows locked by this same transaction, so dedupe.
	if len(tokens) < w.batchMax {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(w.batchWait):
		}
		more, err := tx.LeaseTokens(ctx, store.StatusReady, w.batchMax-len(tokens))
		if err != nil {
			return 0, err
		}
		tokens = dedupeTokens(tokens, more)
	}
	revealBatchSizeGauge.Update(int64(len(tokens)))

	return len(tokens), w.revealBatch(ctx, tx, tokens)
}

// revealBatch signs, journals, submits and confirms one batch. The reveal
// audit row is written outside the lease transaction so it survives a crash
// between broadcast and commit.
func (w *RevealWorker) revealBatch(ctx context.Context, tx RevealLease, tokens []*store.Token) error {
	tokenIDs := make([]int64, len(tokens))
	uris := make([]string, len(tokens))
	rowIDs := make([]uuid.UUID, len(tokens))
	for i, tok := range tokens {
		if tok.MetadataCID == "" {
			return fmt.Errorf("token %d is ready without a metadata cid", tok.TokenID)
		}
		tokenIDs[i] = tok.TokenID
		uris[i] = "ipfs://" + tok.MetadataCID
		rowIDs[i] = tok.ID
	}

	calldata, err := w.packer.PackRevealTokens(tokenIDs, uris)
	if err != nil {
		return err
	}
	fees, err := w.keeper.EstimateFees(ctx, calldata)
	if err != nil {
		return err
	}
	signed, err := w.keeper.SignReveal(ctx, calldata, fees)
	if err != nil {
		return err
	}
	hash := signed.Hash()

	// Journal before broadcast: if the process dies mid-flight, startup
	// reconciliation finds this row and resolves it against the chain.
	journal := &store.RevealTx{TokenRowIDs: rowIDs, TxHash: hash.Hex(), Status: store.RevealPending}
	if err := w.store.InsertRevealTx(ctx, journal); err != nil {
		return fmt.Errorf("journal reveal: %w", err)
	}

	if err := w.keeper.Send(ctx, signed); err != nil {
		return err
	}
	if err := w.store.MarkRevealSent(ctx, journal.ID); err != nil {
		w.log.Warn("Reveal journal update failed", "tx", hash, "err", err)
	}
	w.log.Info("Reveal batch submitted", "tx", hash, "tokens", len(tokens))

	waitStart := time.Now()
	receipt, err := w.keeper.WaitReceipt(ctx, hash)
	if err != nil {
		// Timeout or RPC loss: tokens stay ready, journal stays sent,
		// reconciliation settles it either way.
		return err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		revealRevertedCounter.Inc(1)
		if err := w.store.MarkRevealFailed(ctx, journal.ID, receipt.BlockNumber.Int64(), receipt.GasUsed); err != nil {
			w.log.Warn("Reveal journal update failed", "tx", hash, "err", err)
		}
		return fmt.Errorf("reveal reverted on chain, investigate %s", w.keeper.ExplorerTxURL(hash))
	}

	// Confirmed: settle the tokens inside the lease transaction, then the
	// journal. The lease commit is the decision point.
	for _, tok := range tokens {
		if err := tx.MarkRevealed(ctx, tok, hash.Hex()); err != nil {
			return fmt.Errorf("settle token %d: %w", tok.TokenID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reveal batch: %w", err)
	}
	if err := w.store.MarkRevealConfirmed(ctx, journal.ID, receipt.BlockNumber.Int64(),
		receipt.GasUsed, receipt.EffectiveGasPrice); err != nil {
		w.log.Warn("Reveal journal update failed", "tx", hash, "err", err)
	}
	revealConfirmedCounter.Inc(1)
	revealTimer.UpdateSince(waitStart)
	w.log.Info("Reveal confirmed", "tx", hash, "tokens", len(tokens),
		"block", receipt.BlockNumber, "gasused", receipt.GasUsed,
		"url", w.keeper.ExplorerTxURL(hash))
	return nil
}

// Reconcile resolves reveal journal rows whose receipt was never recorded.
// Run before the loop so a crashed predecessor's batch cannot be double
// submitted or silently lost.
func (w *RevealWorker) Reconcile(ctx context.Context) error {
	rows, err := w.store.UnresolvedRevealTxs(ctx)
	if err != nil {
		return err
	}
	for _, rt := range rows {
		if rt.TxHash == "" {
			continue
		}
		hash := common.HexToHash(rt.TxHash)
		receipt, err := w.keeper.Receipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			// Never mined (or not yet): leave the row for the next startup.
			w.log.Warn("Orphaned reveal has no receipt", "tx", hash, "status", rt.Status)
			continue
		}
		if err != nil {
			w.log.Warn("Orphaned reveal receipt read failed", "tx", hash, "err", err)
			continue
		}
		if receipt.Status == types.ReceiptStatusSuccessful {
			n, err := w.store.AdvanceRevealed(ctx, rt.TokenRowIDs, rt.TxHash)
			if err != nil {
				return fmt.Errorf("advance tokens of reveal %s: %w", rt.ID, err)
			}
			if err := w.store.MarkRevealConfirmed(ctx, rt.ID, receipt.BlockNumber.Int64(),
				receipt.GasUsed, receipt.EffectiveGasPrice); err != nil {
				return err
			}
			w.log.Info("Orphaned reveal confirmed", "tx", hash, "tokens", n)
		} else {
			if err := w.store.MarkRevealFailed(ctx, rt.ID, receipt.BlockNumber.Int64(), receipt.GasUsed); err != nil {
				return err
			}
			w.log.Error("Orphaned reveal reverted, tokens stay ready",
				"tx", hash, "url", w.keeper.ExplorerTxURL(hash))
		}
	}
	return nil
}

// dedupeTokens merges the second accumulation claim into the first, dropping
// rows the open transaction already holds.
func dedupeTokens(first, second []*store.Token) []*store.Token {
	seen := make(map[int64]struct{}, len(first))
	for _, tok := range first {
		seen[tok.TokenID] = struct{}{}
	}
	out := first
	for _, tok := range second {
		if _, dup := seen[tok.TokenID]; dup {
			continue
		}
		seen[tok.TokenID] = struct{}{}
		out = append(out, tok)
	}
	return out
}
