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

// Package recovery repairs the store against chain state: token gap repair
// diffs the contract's nextTokenId against the token table, and event replay
// refetches BatchMinted logs from the watermark. Both paths are idempotent
// and safe to run while the daemon serves traffic.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/glisk/gliskd/ingest"
	"github.com/glisk/gliskd/store"
)

// ContractReader is the read-only contract surface gap repair needs.
type ContractReader interface {
	NextTokenID(ctx context.Context) (int64, error)
	TokenPromptAuthor(ctx context.Context, tokenID int64) (common.Address, error)
	IsRevealed(ctx context.Context, tokenID int64) (bool, error)
	TokenURI(ctx context.Context, tokenID int64) (string, error)
}

// nextTokenIDBackoff paces retries of the initial nextTokenId read. RPC
// blips recover; an ABI mismatch aborts immediately.
var nextTokenIDBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// IDError records one per-token failure that did not stop the run.
type IDError struct {
	TokenID int64
	Err     error
}

// TokenResult summarizes one gap repair run.
type TokenResult struct {
	NextTokenID int64
	Missing     []int64
	Recovered   int // inserted as detected
	Revealed    int // inserted terminal, already revealed on chain
	Skipped     int // lost an insert race, row existed
	Errors      []IDError
	DryRun      bool
}

// Partial reports whether some ids failed while others recovered.
func (r *TokenResult) Partial() bool {
	return len(r.Errors) > 0 && (r.Recovered > 0 || r.Revealed > 0 || r.Skipped > 0)
}

// TokenRecovery fills token table gaps from contract view calls.
type TokenRecovery struct {
	store    *store.Store
	contract ContractReader
	ingestor *ingest.Ingestor
	log      log.Logger
}

// NewTokenRecovery builds a gap repair runner.
func NewTokenRecovery(st *store.Store, contract ContractReader, ing *ingest.Ingestor) *TokenRecovery {
	return &TokenRecovery{
		store:    st,
		contract: contract,
		ingestor: ing,
		log:      log.New("module", "recovery"),
	}
}

// Run diffs [1, nextTokenId-1] against the token table and inserts a row for
// every missing id, reading its author and reveal state from the contract.
// limit caps how many ids one run repairs; zero means all. Per-id failures
// are collected, not fatal.
func (tr *TokenRecovery) Run(ctx context.Context, limit int, dryRun bool) (*TokenResult, error) {
	next, err := tr.nextTokenID(ctx)
	if err != nil {
		return nil, err
	}
	res := &TokenResult{NextTokenID: next, DryRun: dryRun}
	if next <= 1 {
		tr.log.Info("No tokens minted yet")
		return res, nil
	}

	if limit <= 0 {
		limit = int(next) // effectively unbounded
	}
	missing, err := tr.store.MissingTokenIDs(ctx, next, limit)
	if err != nil {
		return nil, err
	}
	res.Missing = missing
	if len(missing) == 0 {
		tr.log.Info("No token gaps", "nexttokenid", next)
		return res, nil
	}
	tr.log.Warn("Token gaps found", "count", len(missing), "nexttokenid", next)
	if dryRun {
		return res, nil
	}

	for _, id := range missing {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := tr.recoverOne(ctx, id, res); err != nil {
			res.Errors = append(res.Errors, IDError{TokenID: id, Err: err})
			tr.log.Error("Token recovery failed", "token", id, "err", err)
		}
	}
	tr.log.Info("Token recovery done", "recovered", res.Recovered,
		"revealed", res.Revealed, "skipped", res.Skipped, "errors", len(res.Errors))
	return res, nil
}

// recoverOne inserts the row for one missing id from chain state.
func (tr *TokenRecovery) recoverOne(ctx context.Context, id int64, res *TokenResult) error {
	authorWallet, err := tr.contract.TokenPromptAuthor(ctx, id)
	if err != nil {
		return err
	}
	author, err := tr.ingestor.ResolveAuthor(ctx, authorWallet)
	if err != nil {
		return err
	}

	tok := &store.Token{TokenID: id, AuthorID: author.ID, Status: store.StatusDetected}

	revealed, err := tr.contract.IsRevealed(ctx, id)
	if err != nil {
		return err
	}
	if revealed {
		uri, err := tr.contract.TokenURI(ctx, id)
		if err != nil {
			return err
		}
		cid, err := cidFromURI(uri)
		if err != nil {
			return err
		}
		// Revealed before this system saw it: terminal on arrival, no tx
		// hash of ours to record.
		tok.Status = store.StatusRevealed
		tok.MetadataCID = cid
	}

	inserted, err := tr.store.InsertTokenIgnoreDup(ctx, tok)
	if err != nil {
		return err
	}
	if !inserted {
		res.Skipped++ // webhook raced ahead, fine
		return nil
	}
	if revealed {
		res.Revealed++
		tr.log.Info("Recovered revealed token", "token", id, "cid", tok.MetadataCID)
	} else {
		res.Recovered++
		tr.log.Info("Recovered token", "token", id, "author", author.WalletAddress)
	}
	return nil
}

// nextTokenID reads the mint cursor with bounded backoff. An ABI mismatch is
// not retried: the contract address is wrong and waiting will not fix it.
func (tr *TokenRecovery) nextTokenID(ctx context.Context) (int64, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		next, err := tr.contract.NextTokenID(ctx)
		if err == nil {
			return next, nil
		}
		var abiErr interface{ Temporary() bool }
		if errors.As(err, &abiErr) && !abiErr.Temporary() {
			return 0, err
		}
		lastErr = err
		if attempt >= len(nextTokenIDBackoff) {
			return 0, fmt.Errorf("nextTokenId after %d attempts: %w", attempt+1, lastErr)
		}
		tr.log.Warn("nextTokenId read failed, retrying", "attempt", attempt+1, "err", err)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(nextTokenIDBackoff[attempt]):
		}
	}
}

// cidFromURI extracts the content id from an ipfs:// URI.
func cidFromURI(uri string) (string, error) {
	cid, ok := strings.CutPrefix(uri, "ipfs://")
	if !ok || cid == "" {
		return "", fmt.Errorf("tokenURI %q is not an ipfs URI", uri)
	}
	return cid, nil
}
