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

// Package chain wraps the season contract: BatchMinted log decoding, the
// read-only views the recovery paths need, and the keeper that signs and
// confirms batch reveal transactions.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
)

// Client is an ethclient bound to one network, with its chain id resolved at
// dial time so transaction signing never races a slow first RPC.
type Client struct {
	*ethclient.Client
	chainID *big.Int
	network string
}

// Dial connects to the JSON-RPC endpoint and resolves the chain id.
func Dial(ctx context.Context, rpcURL, network string) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", network, err)
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain id of %s: %w", network, err)
	}
	log.Info("Connected to chain", "network", network, "chainid", chainID)
	return &Client{Client: ec, chainID: chainID, network: network}, nil
}

// ChainID returns the id resolved at dial time.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Network returns the human network label.
func (c *Client) Network() string { return c.network }
