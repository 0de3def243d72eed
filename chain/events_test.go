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

package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

var (
	testMinter = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testAuthor = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// mintLog builds a BatchMinted log the way the contract emits it: minter,
// author and startTokenId indexed, quantity and totalPaid in the data.
func mintLog(startID, qty, paid int64) *types.Log {
	data := make([]byte, 64)
	big.NewInt(qty).FillBytes(data[0:32])
	big.NewInt(paid).FillBytes(data[32:64])
	return &types.Log{
		Topics: []common.Hash{
			BatchMintedTopic,
			common.BytesToHash(testMinter.Bytes()),
			common.BytesToHash(testAuthor.Bytes()),
			common.BigToHash(big.NewInt(startID)),
		},
		Data:        data,
		TxHash:      common.HexToHash("0xdead"),
		Index:       3,
		BlockNumber: 1234,
	}
}

func TestDecodeBatchMinted(t *testing.T) {
	ev, err := DecodeBatchMinted(mintLog(10, 3, 3_000_000_000_000_000))
	require.NoError(t, err)
	require.Equal(t, testMinter, ev.Minter)
	require.Equal(t, testAuthor, ev.Author)
	require.Equal(t, int64(10), ev.StartTokenID.Int64())
	require.Equal(t, int64(3), ev.Quantity.Int64())
	require.Equal(t, int64(3_000_000_000_000_000), ev.TotalPaid.Int64())
	require.Equal(t, uint(3), ev.LogIndex)
	require.Equal(t, uint64(1234), ev.BlockNumber)
}

func TestDecodeBatchMintedStartIDFromTopics(t *testing.T) {
	// Same data words, different indexed startTokenId. The decoder must take
	// the id from topic 3, never from the data section.
	a, err := DecodeBatchMinted(mintLog(1, 5, 0))
	require.NoError(t, err)
	b, err := DecodeBatchMinted(mintLog(77, 5, 0))
	require.NoError(t, err)
	require.Equal(t, int64(1), a.StartTokenID.Int64())
	require.Equal(t, int64(77), b.StartTokenID.Int64())
}

func TestDecodeBatchMintedRejectsMalformed(t *testing.T) {
	wrongTopic := mintLog(1, 1, 0)
	wrongTopic.Topics[0] = common.HexToHash("0x01")
	_, err := DecodeBatchMinted(wrongTopic)
	require.Error(t, err)

	short := mintLog(1, 1, 0)
	short.Topics = short.Topics[:3]
	_, err = DecodeBatchMinted(short)
	require.Error(t, err)

	noData := mintLog(1, 1, 0)
	noData.Data = noData.Data[:16]
	_, err = DecodeBatchMinted(noData)
	require.Error(t, err)

	zeroStart := mintLog(0, 1, 0)
	_, err = DecodeBatchMinted(zeroStart)
	require.Error(t, err)

	zeroQty := mintLog(5, 0, 0)
	_, err = DecodeBatchMinted(zeroQty)
	require.Error(t, err)
}

func TestDecodeBatchMintedRejectsOversizedIDs(t *testing.T) {
	// Values above int64 range would truncate on Int64(), turning the id
	// into garbage downstream. The decoder must reject them outright.
	huge := new(big.Int).Lsh(big.NewInt(1), 70)

	bigStart := mintLog(1, 1, 0)
	bigStart.Topics[3] = common.BigToHash(huge)
	_, err := DecodeBatchMinted(bigStart)
	require.Error(t, err)

	bigQty := mintLog(1, 1, 0)
	huge.FillBytes(bigQty.Data[0:32])
	_, err = DecodeBatchMinted(bigQty)
	require.Error(t, err)
}
