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
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/glisk/gliskd/chain"
)

// fakeContract scripts NextTokenID responses; the view reads are unused in
// these tests.
type fakeContract struct {
	nextResponses []any // int64 or error, consumed in order
	calls         int
}

func (f *fakeContract) NextTokenID(ctx context.Context) (int64, error) {
	r := f.nextResponses[f.calls]
	f.calls++
	if err, ok := r.(error); ok {
		return 0, err
	}
	return r.(int64), nil
}

func (f *fakeContract) TokenPromptAuthor(ctx context.Context, tokenID int64) (common.Address, error) {
	return common.Address{}, errors.New("not scripted")
}

func (f *fakeContract) IsRevealed(ctx context.Context, tokenID int64) (bool, error) {
	return false, errors.New("not scripted")
}

func (f *fakeContract) TokenURI(ctx context.Context, tokenID int64) (string, error) {
	return "", errors.New("not scripted")
}

func fastBackoff(t *testing.T) {
	old := nextTokenIDBackoff
	nextTokenIDBackoff = []time.Duration{0, 0, 0}
	t.Cleanup(func() { nextTokenIDBackoff = old })
}

func TestNextTokenIDRetriesTransient(t *testing.T) {
	fastBackoff(t)
	fc := &fakeContract{nextResponses: []any{
		errors.New("connection reset"),
		errors.New("i/o timeout"),
		int64(42),
	}}
	tr := &TokenRecovery{contract: fc, log: log.Root()}
	next, err := tr.nextTokenID(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(42), next)
	require.Equal(t, 3, fc.calls)
}

func TestNextTokenIDGivesUpAfterBackoff(t *testing.T) {
	fastBackoff(t)
	boom := errors.New("connection refused")
	fc := &fakeContract{nextResponses: []any{boom, boom, boom, boom}}
	tr := &TokenRecovery{contract: fc, log: log.Root()}
	_, err := tr.nextTokenID(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 4, fc.calls) // initial try plus one per backoff step
}

func TestNextTokenIDABIMismatchIsFatal(t *testing.T) {
	fastBackoff(t)
	fc := &fakeContract{nextResponses: []any{
		&chain.ABIError{Method: "nextTokenId", Err: errors.New("no such method")},
	}}
	tr := &TokenRecovery{contract: fc, log: log.Root()}
	_, err := tr.nextTokenID(context.Background())
	var abiErr *chain.ABIError
	require.ErrorAs(t, err, &abiErr)
	require.Equal(t, 1, fc.calls) // no retry on contract mismatch
}

func TestCIDFromURI(t *testing.T) {
	cid, err := cidFromURI("ipfs://bafkreiabc123")
	require.NoError(t, err)
	require.Equal(t, "bafkreiabc123", cid)

	_, err = cidFromURI("https://gateway.example/ipfs/bafy")
	require.Error(t, err)
	_, err = cidFromURI("ipfs://")
	require.Error(t, err)
	_, err = cidFromURI("")
	require.Error(t, err)
}

// fakeWatermark scripts the replay progress store.
type fakeWatermark struct {
	wm       uint64
	maxBlock int64
	set      []uint64
}

func (f *fakeWatermark) LastProcessedBlock(ctx context.Context) (uint64, error) {
	return f.wm, nil
}

func (f *fakeWatermark) SetLastProcessedBlock(ctx context.Context, block uint64) error {
	f.set = append(f.set, block)
	return nil
}

func (f *fakeWatermark) MaxEventBlock(ctx context.Context) (int64, error) {
	return f.maxBlock, nil
}

// fakeLogSource records the block windows queried and returns no logs.
type fakeLogSource struct {
	ranges [][2]uint64
}

func (f *fakeLogSource) FilterBatchMinted(ctx context.Context, from, to uint64) ([]types.Log, error) {
	f.ranges = append(f.ranges, [2]uint64{from, to})
	return nil, nil
}

type fakeHead struct {
	head uint64
}

func (f *fakeHead) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeHead) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return nil, errors.New("not scripted")
}

func newTestReplay(wm *fakeWatermark, logs *fakeLogSource, head *fakeHead) *EventRecovery {
	return &EventRecovery{
		store:     wm,
		contract:  logs,
		head:      head,
		batchSize: 1000,
		log:       log.Root(),
	}
}

func TestReplayResumesAtWatermark(t *testing.T) {
	wm := &fakeWatermark{wm: 100}
	logs := &fakeLogSource{}
	er := newTestReplay(wm, logs, &fakeHead{head: 110})

	res, err := er.Run(context.Background(), 0, 0, false)
	require.NoError(t, err)
	require.Equal(t, uint64(101), res.FromBlock)
	require.Equal(t, uint64(110), res.ToBlock)
	require.Equal(t, [][2]uint64{{101, 110}}, logs.ranges)
	require.Equal(t, []uint64{110}, wm.set)
}

func TestReplayFallsBackToMaxEventBlock(t *testing.T) {
	// No watermark stored yet; the highest persisted mint event marks how
	// far ingestion has certainly reached.
	wm := &fakeWatermark{maxBlock: 80}
	er := newTestReplay(wm, &fakeLogSource{}, &fakeHead{head: 90})

	res, err := er.Run(context.Background(), 0, 0, false)
	require.NoError(t, err)
	require.Equal(t, uint64(81), res.FromBlock)
}

func TestReplayWithoutResumePointFails(t *testing.T) {
	er := newTestReplay(&fakeWatermark{}, &fakeLogSource{}, &fakeHead{head: 90})
	_, err := er.Run(context.Background(), 0, 0, false)
	require.Error(t, err)
}

func TestReplayDryRunLeavesWatermark(t *testing.T) {
	wm := &fakeWatermark{wm: 100}
	er := newTestReplay(wm, &fakeLogSource{}, &fakeHead{head: 110})

	_, err := er.Run(context.Background(), 0, 0, true)
	require.NoError(t, err)
	require.Empty(t, wm.set)
}

func TestIsRateLimited(t *testing.T) {
	require.True(t, isRateLimited(errors.New("429 Too Many Requests")))
	require.True(t, isRateLimited(errors.New("your app has exceeded its compute capacity exceeded")))
	require.True(t, isRateLimited(errors.New("rate limit reached")))
	require.False(t, isRateLimited(errors.New("execution reverted")))
	require.False(t, isRateLimited(errors.New("connection refused")))
}
