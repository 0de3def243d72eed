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
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
)

// receiptPollInterval paces the confirmation wait. L2 blocks land every
// couple of seconds; polling faster only burns RPC quota.
const receiptPollInterval = 2 * time.Second

// Fees holds the EIP-1559 parameters of one reveal attempt.
type Fees struct {
	GasLimit uint64
	MaxFee   *big.Int // maxFeePerGas, wei
	MaxTip   *big.Int // maxPriorityFeePerGas, wei
	BaseFee  *big.Int // base fee sampled at estimation time, wei
}

// Keeper is the single wallet that signs and broadcasts reveal transactions.
type Keeper struct {
	client   *Client
	contract *Contract

	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer

	gasBufferPercent int
	maxFeeCap        *big.Int // wei, nil disables the cap
	confirmTimeout   time.Duration
	explorerURL      string

	log log.Logger
}

// NewKeeper derives the keeper wallet from privKeyHex (no 0x prefix) and
// binds it to the contract's network.
func NewKeeper(client *Client, contract *Contract, privKeyHex string,
	gasBufferPercent int, maxGasPriceGwei int64, confirmTimeout time.Duration,
	explorerURL string) (*Keeper, error) {

	key, err := crypto.HexToECDSA(privKeyHex)
	if err != nil {
		return nil, fmt.Errorf("keeper key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	var feeCap *big.Int
	if maxGasPriceGwei > 0 {
		feeCap = new(big.Int).Mul(big.NewInt(maxGasPriceGwei), big.NewInt(params.GWei))
	}
	k := &Keeper{
		client:           client,
		contract:         contract,
		key:              key,
		address:          addr,
		signer:           types.LatestSignerForChainID(client.ChainID()),
		gasBufferPercent: gasBufferPercent,
		maxFeeCap:        feeCap,
		confirmTimeout:   confirmTimeout,
		explorerURL:      explorerURL,
		log:              log.New("keeper", addr),
	}
	k.log.Info("Keeper initialized", "network", client.Network(),
		"gasbuffer", fmt.Sprintf("%d%%", gasBufferPercent), "confirmtimeout", confirmTimeout)
	return k, nil
}

// Address returns the keeper wallet address.
func (k *Keeper) Address() common.Address { return k.address }

// EstimateFees simulates calldata as the keeper and computes EIP-1559 fee
// parameters: the estimate and the suggested tip are both widened by the gas
// buffer, and maxFee = 2*baseFee + bufferedTip so the transaction survives
// base fee growth while it waits for inclusion.
func (k *Keeper) EstimateFees(ctx context.Context, calldata []byte) (*Fees, error) {
	to := k.contract.Address()
	gas, err := k.client.EstimateGas(ctx, ethereum.CallMsg{
		From: k.address,
		To:   &to,
		Data: calldata,
	})
	if err != nil {
		return nil, &GasEstimationError{Reason: classifyNodeError(err), Err: err}
	}

	head, err := k.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, &GasEstimationError{Err: fmt.Errorf("read head: %w", err)}
	}
	if head.BaseFee == nil {
		return nil, &GasEstimationError{Err: errors.New("chain has no base fee (pre-London?)")}
	}
	tip, err := k.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, &GasEstimationError{Err: fmt.Errorf("suggest tip: %w", err)}
	}

	buffered := func(v *big.Int) *big.Int {
		out := new(big.Int).Mul(v, big.NewInt(int64(100+k.gasBufferPercent)))
		return out.Div(out, big.NewInt(100))
	}
	maxTip := buffered(tip)
	maxFee := new(big.Int).Add(new(big.Int).Lsh(head.BaseFee, 1), maxTip)

	if k.maxFeeCap != nil && maxFee.Cmp(k.maxFeeCap) > 0 {
		return nil, &FeeCapError{
			MaxFeeGwei: new(big.Rat).SetFrac(maxFee, big.NewInt(params.GWei)).FloatString(2),
			CapGwei:    new(big.Int).Div(k.maxFeeCap, big.NewInt(params.GWei)).Int64(),
		}
	}
	return &Fees{
		GasLimit: gas * uint64(100+k.gasBufferPercent) / 100,
		MaxFee:   maxFee,
		MaxTip:   maxTip,
		BaseFee:  head.BaseFee,
	}, nil
}

// SignReveal builds and signs a reveal transaction with a fresh pending
// nonce. The signed hash is known before broadcast, which lets the caller
// journal the attempt first.
func (k *Keeper) SignReveal(ctx context.Context, calldata []byte, fees *Fees) (*types.Transaction, error) {
	nonce, err := k.client.PendingNonceAt(ctx, k.address)
	if err != nil {
		return nil, &SubmitError{Err: fmt.Errorf("pending nonce: %w", err)}
	}
	to := k.contract.Address()
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   k.client.ChainID(),
		Nonce:     nonce,
		To:        &to,
		Gas:       fees.GasLimit,
		GasFeeCap: fees.MaxFee,
		GasTipCap: fees.MaxTip,
		Data:      calldata,
	})
	signed, err := types.SignTx(tx, k.signer, k.key)
	if err != nil {
		return nil, &SubmitError{Err: fmt.Errorf("sign: %w", err)}
	}
	return signed, nil
}

// Send broadcasts a signed transaction.
func (k *Keeper) Send(ctx context.Context, tx *types.Transaction) error {
	if err := k.client.SendTransaction(ctx, tx); err != nil {
		return &SubmitError{TxHash: tx.Hash().Hex(), Err: err}
	}
	k.log.Info("Reveal transaction sent", "tx", tx.Hash(),
		"nonce", tx.Nonce(), "gaslimit", tx.Gas(), "url", k.ExplorerTxURL(tx.Hash()))
	return nil
}

// WaitReceipt polls for the receipt of hash until the confirmation timeout.
// ConfirmTimeoutError means inclusion is still possible; the caller must not
// treat the batch as settled either way.
func (k *Keeper) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(k.confirmTimeout)
	for {
		receipt, err := k.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			k.log.Warn("Receipt poll failed", "tx", hash, "err", err)
		}
		if time.Now().After(deadline) {
			return nil, &ConfirmTimeoutError{TxHash: hash.Hex(), Timeout: k.confirmTimeout}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(receiptPollInterval):
		}
	}
}

// Receipt fetches a receipt once, without waiting. ethereum.NotFound passes
// through for the caller to distinguish "not mined" from RPC failure.
func (k *Keeper) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return k.client.TransactionReceipt(ctx, hash)
}

// ExplorerTxURL renders the block explorer link for a transaction hash.
func (k *Keeper) ExplorerTxURL(hash common.Hash) string {
	if k.explorerURL == "" {
		return hash.Hex()
	}
	return k.explorerURL + "/tx/" + hash.Hex()
}

// classifyNodeError maps well-known node error texts to an operator-facing
// reason. Node implementations do not agree on error codes, so string
// matching is the only portable classifier.
func classifyNodeError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return "insufficient funds, fund the keeper wallet"
	case strings.Contains(msg, "execution reverted"):
		return "execution reverted, check token state on chain"
	default:
		return ""
	}
}
