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
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// seasonABIJSON covers the slice of the season contract gliskd touches.
const seasonABIJSON = `[
	{"type":"function","name":"nextTokenId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokenPromptAuthor","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"isRevealed","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"tokenURI","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"revealTokens","stateMutability":"nonpayable","inputs":[{"name":"tokenIds","type":"uint256[]"},{"name":"metadataURIs","type":"string[]"}],"outputs":[]}
]`

var seasonABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(seasonABIJSON))
	if err != nil {
		panic(fmt.Sprintf("season ABI: %v", err))
	}
	return parsed
}()

// Contract binds the season contract at one address through a Client.
type Contract struct {
	client *Client
	addr   common.Address
}

// NewContract binds the season contract at addr.
func NewContract(client *Client, addr common.Address) *Contract {
	return &Contract{client: client, addr: addr}
}

// Address returns the bound contract address.
func (c *Contract) Address() common.Address { return c.addr }

// call packs a view method, executes it against the latest block and unpacks
// the result. Pack and unpack failures are ABI mismatches, never retryable.
func (c *Contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := seasonABI.Pack(method, args...)
	if err != nil {
		return nil, &ABIError{Method: method, Err: err}
	}
	ret, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(ret) == 0 {
		// An empty return from a view means no code or wrong contract.
		return nil, &ABIError{Method: method, Err: fmt.Errorf("empty return data")}
	}
	out, err := seasonABI.Unpack(method, ret)
	if err != nil {
		return nil, &ABIError{Method: method, Err: err}
	}
	return out, nil
}

// NextTokenID reads the id the contract will assign to the next mint. Every
// id in [1, NextTokenID-1] exists on chain.
func (c *Contract) NextTokenID(ctx context.Context) (int64, error) {
	out, err := c.call(ctx, "nextTokenId")
	if err != nil {
		return 0, err
	}
	next := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	if !next.IsInt64() {
		return 0, &ABIError{Method: "nextTokenId", Err: fmt.Errorf("value %s out of range", next)}
	}
	return next.Int64(), nil
}

// TokenPromptAuthor reads the author wallet recorded at mint time.
func (c *Contract) TokenPromptAuthor(ctx context.Context, tokenID int64) (common.Address, error) {
	out, err := c.call(ctx, "tokenPromptAuthor", big.NewInt(tokenID))
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// IsRevealed reports whether the token already has its metadata bound.
func (c *Contract) IsRevealed(ctx context.Context, tokenID int64) (bool, error) {
	out, err := c.call(ctx, "isRevealed", big.NewInt(tokenID))
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// TokenURI reads the metadata URI of a revealed token.
func (c *Contract) TokenURI(ctx context.Context, tokenID int64) (string, error) {
	out, err := c.call(ctx, "tokenURI", big.NewInt(tokenID))
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

// PackRevealTokens builds the calldata of revealTokens(tokenIds, uris).
func (c *Contract) PackRevealTokens(tokenIDs []int64, uris []string) ([]byte, error) {
	if len(tokenIDs) != len(uris) {
		return nil, &ABIError{Method: "revealTokens",
			Err: fmt.Errorf("%d token ids but %d uris", len(tokenIDs), len(uris))}
	}
	ids := make([]*big.Int, len(tokenIDs))
	for i, id := range tokenIDs {
		ids[i] = big.NewInt(id)
	}
	data, err := seasonABI.Pack("revealTokens", ids, uris)
	if err != nil {
		return nil, &ABIError{Method: "revealTokens", Err: err}
	}
	return data, nil
}

// FilterBatchMinted fetches BatchMinted logs from the contract over the
// inclusive block range [from, to].
func (c *Contract) FilterBatchMinted(ctx context.Context, from, to uint64) ([]types.Log, error) {
	return c.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.addr},
		Topics:    [][]common.Hash{{BatchMintedTopic}},
	})
}
