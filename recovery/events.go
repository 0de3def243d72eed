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

package recovery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/glisk/gliskd/chain"
	"github.com/glisk/gliskd/ingest"
	"github.com/glisk/gliskd/store"
)

// LogSource filters BatchMinted logs over a block range.
type LogSource interface {
	FilterBatchMinted(ctx context.Context, from, to uint64) ([]types.Log, error)
}

// HeadSource resolves chain head and block headers for timestamps.
type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// watermarkStore is the replay progress surface; satisfied by store.Store.
type watermarkStore interface {
	LastProcessedBlock(ctx context.Context) (uint64, error)
	SetLastProcessedBlock(ctx context.Context, block uint64) error
	MaxEventBlock(ctx context.Context) (int64, error)
}

// rateLimitBackoff paces retries of a rate-limited getLogs window. Three
// strikes in a row abort the run.
var rateLimitBackoff = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}

// EventResult summarizes one log replay run.
type EventResult struct {
	FromBlock uint64
	ToBlock   uint64
	Logs      int
	Events    int // mint events persisted
	Tokens    int // token rows created
	Dups      int // deliveries already persisted
	Errors    int // decode or persist failures, skipped
	DryRun    bool
}

// EventRecovery replays BatchMinted logs in block windows and persists them
// through the same path the webhook uses.
type EventRecovery struct {
	store     watermarkStore
	contract  LogSource
	head      HeadSource
	ingestor  *ingest.Ingestor
	batchSize uint64

	// tsCache caches header timestamps; a batch mint burst puts many logs in
	// the same block and each needs the block time.
	tsCache *lru.Cache[uint64, time.Time]

	log log.Logger
}

// NewEventRecovery builds a replay runner with the given block window width.
func NewEventRecovery(st *store.Store, contract LogSource, head HeadSource,
	ing *ingest.Ingestor, batchSize uint64) *EventRecovery {

	cache, _ := lru.New[uint64, time.Time](1024)
	if batchSize == 0 {
		batchSize = 1000
	}
	return &EventRecovery{
		store:     st,
		contract:  contract,
		head:      head,
		ingestor:  ing,
		batchSize: batchSize,
		tsCache:   cache,
		log:       log.New("module", "replay"),
	}
}

// Run replays logs from block `from` through `to` inclusive. from == 0 means
// resume at the stored watermark + 1, falling back to the highest mint event
// block when no watermark exists; to == 0 means the current head. After
// a complete run the watermark advances to max(to, highest block observed).
func (er *EventRecovery) Run(ctx context.Context, from, to uint64, dryRun bool) (*EventResult, error) {
	if from == 0 {
		wm, err := er.store.LastProcessedBlock(ctx)
		if err != nil {
			return nil, err
		}
		if wm == 0 {
			// No watermark yet: resume past the highest stored event, the
			// furthest point any ingestion path has certainly covered.
			maxBlock, err := er.store.MaxEventBlock(ctx)
			if err != nil {
				return nil, err
			}
			wm = uint64(maxBlock)
		}
		if wm == 0 {
			return nil, errors.New("no watermark stored, pass an explicit from block")
		}
		from = wm + 1
	}
	if to == 0 {
		head, err := er.head.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("read chain head: %w", err)
		}
		to = head
	}
	if from > to {
		er.log.Info("Nothing to replay", "from", from, "to", to)
		return &EventResult{FromBlock: from, ToBlock: to, DryRun: dryRun}, nil
	}

	res := &EventResult{FromBlock: from, ToBlock: to, DryRun: dryRun}
	er.log.Info("Replaying mint logs", "from", from, "to", to,
		"window", er.batchSize, "dryrun", dryRun)

	maxSeen := uint64(0)
	for start := from; start <= to; start += er.batchSize {
		end := start + er.batchSize - 1
		if end > to {
			end = to
		}
		logs, err := er.filterWindow(ctx, start, end)
		if err != nil {
			return res, err
		}
		for i := range logs {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			lg := &logs[i]
			if lg.Removed {
				continue
			}
			res.Logs++
			if lg.BlockNumber > maxSeen {
				maxSeen = lg.BlockNumber
			}
			if dryRun {
				continue
			}
			if err := er.replayLog(ctx, lg, res); err != nil {
				res.Errors++
				er.log.Error("Replay of log failed", "tx", lg.TxHash, "logindex", lg.Index, "err", err)
			}
		}
	}

	if !dryRun {
		wm := to
		if maxSeen > wm {
			wm = maxSeen
		}
		if err := er.store.SetLastProcessedBlock(ctx, wm); err != nil {
			return res, fmt.Errorf("advance watermark: %w", err)
		}
		er.log.Info("Watermark advanced", "block", wm)
	}
	er.log.Info("Replay done", "logs", res.Logs, "events", res.Events,
		"tokens", res.Tokens, "duplicates", res.Dups, "errors", res.Errors)
	return res, nil
}

// replayLog decodes and persists one log.
func (er *EventRecovery) replayLog(ctx context.Context, lg *types.Log, res *EventResult) error {
	ev, err := chain.DecodeBatchMinted(lg)
	if err != nil {
		return err
	}
	created, err := er.ingestor.PersistMint(ctx, ev, er.blockTime(ctx, lg.BlockNumber))
	if errors.Is(err, ingest.ErrDuplicate) {
		res.Dups++
		return nil
	}
	if err != nil {
		return err
	}
	res.Events++
	res.Tokens += created
	return nil
}

// filterWindow fetches one window of logs, backing off on provider rate
// limits. Non-rate-limit RPC errors fail the run immediately.
func (er *EventRecovery) filterWindow(ctx context.Context, from, to uint64) ([]types.Log, error) {
	for attempt := 0; ; attempt++ {
		logs, err := er.contract.FilterBatchMinted(ctx, from, to)
		if err == nil {
			er.log.Debug("Window fetched", "from", from, "to", to, "logs", len(logs))
			return logs, nil
		}
		if !isRateLimited(err) {
			return nil, fmt.Errorf("getLogs [%d,%d]: %w", from, to, err)
		}
		if attempt >= len(rateLimitBackoff) {
			return nil, fmt.Errorf("getLogs [%d,%d]: rate limited %d times: %w",
				from, to, attempt+1, err)
		}
		er.log.Warn("Rate limited, backing off", "window", fmt.Sprintf("[%d,%d]", from, to),
			"wait", rateLimitBackoff[attempt])
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(rateLimitBackoff[attempt]):
		}
	}
}

// blockTime resolves a block timestamp through the header cache. Timestamp
// is bookkeeping only, so a failed header read degrades to receive time
// instead of failing the log.
func (er *EventRecovery) blockTime(ctx context.Context, number uint64) time.Time {
	if ts, ok := er.tsCache.Get(number); ok {
		return ts
	}
	header, err := er.head.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		er.log.Warn("Header read failed, using receive time", "block", number, "err", err)
		return time.Now().UTC()
	}
	ts := time.Unix(int64(header.Time), 0).UTC()
	er.tsCache.Add(number, ts)
	return ts
}

// isRateLimited matches provider throttling responses across node vendors.
func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "capacity exceeded")
}
