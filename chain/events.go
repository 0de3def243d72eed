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
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// BatchMintedTopic is the topic0 of the season contract's mint event.
var BatchMintedTopic = crypto.Keccak256Hash(
	[]byte("BatchMinted(address,address,uint256,uint256,uint256)"))

// BatchMinted is one decoded mint event. Addresses are EIP-55 checksummed by
// common.Address; StartTokenID is indexed, so it lives in topics, not data.
type BatchMinted struct {
	Minter       common.Address
	Author       common.Address
	StartTokenID *big.Int
	Quantity     *big.Int
	TotalPaid    *big.Int

	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
}

// DecodeBatchMinted parses a BatchMinted log. The caller has already matched
// the emitting address; topic0 is re-checked here so a mis-routed log cannot
// be silently misread.
func DecodeBatchMinted(lg *types.Log) (*BatchMinted, error) {
	if len(lg.Topics) != 4 {
		return nil, fmt.Errorf("BatchMinted log needs 4 topics, got %d", len(lg.Topics))
	}
	if lg.Topics[0] != BatchMintedTopic {
		return nil, fmt.Errorf("topic0 %s is not BatchMinted", lg.Topics[0])
	}
	if len(lg.Data) < 64 {
		return nil, fmt.Errorf("BatchMinted data too short: %d bytes", len(lg.Data))
	}
	ev := &BatchMinted{
		Minter:       common.BytesToAddress(lg.Topics[1].Bytes()),
		Author:       common.BytesToAddress(lg.Topics[2].Bytes()),
		StartTokenID: new(big.Int).SetBytes(lg.Topics[3].Bytes()),
		Quantity:     new(big.Int).SetBytes(lg.Data[0:32]),
		TotalPaid:    new(big.Int).SetBytes(lg.Data[32:64]),
		TxHash:       lg.TxHash,
		LogIndex:     lg.Index,
		BlockNumber:  lg.BlockNumber,
	}
	if !ev.StartTokenID.IsInt64() || ev.StartTokenID.Sign() <= 0 {
		return nil, fmt.Errorf("BatchMinted startTokenId %s out of range", ev.StartTokenID)
	}
	if !ev.Quantity.IsInt64() || ev.Quantity.Sign() <= 0 {
		return nil, fmt.Errorf("BatchMinted quantity %s out of range", ev.Quantity)
	}
	return ev, nil
}
