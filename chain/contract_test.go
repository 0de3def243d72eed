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
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/require"
)

func TestPackRevealTokens(t *testing.T) {
	c := &Contract{}
	data, err := c.PackRevealTokens([]int64{10, 11, 12}, []string{
		"ipfs://bafy10", "ipfs://bafy11", "ipfs://bafy12",
	})
	require.NoError(t, err)

	// First four bytes select revealTokens(uint256[],string[]).
	method, err := seasonABI.MethodById(data[:4])
	require.NoError(t, err)
	require.Equal(t, "revealTokens", method.Name)

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	ids := abi.ConvertType(args[0], new([]*big.Int)).(*[]*big.Int)
	uris := abi.ConvertType(args[1], new([]string)).(*[]string)
	require.Len(t, *ids, 3)
	require.Equal(t, int64(11), (*ids)[1].Int64())
	require.Equal(t, []string{"ipfs://bafy10", "ipfs://bafy11", "ipfs://bafy12"}, *uris)
}

func TestPackRevealTokensLengthMismatch(t *testing.T) {
	c := &Contract{}
	_, err := c.PackRevealTokens([]int64{1, 2}, []string{"ipfs://one"})
	require.Error(t, err)

	var abiErr *ABIError
	require.True(t, errors.As(err, &abiErr))
	require.False(t, abiErr.Temporary())
}

func TestErrorClassification(t *testing.T) {
	type temporary interface{ Temporary() bool }

	for _, err := range []error{
		&GasEstimationError{Err: errors.New("boom")},
		&SubmitError{TxHash: "0x1", Err: errors.New("boom")},
		&ConfirmTimeoutError{TxHash: "0x1", Timeout: 0},
		&FeeCapError{MaxFeeGwei: "93.20", CapGwei: 50},
	} {
		var tmp temporary
		require.True(t, errors.As(err, &tmp), "%T", err)
		require.True(t, tmp.Temporary(), "%T", err)
	}

	var tmp temporary
	abiErr := error(&ABIError{Method: "nextTokenId", Err: errors.New("no method")})
	require.True(t, errors.As(abiErr, &tmp))
	require.False(t, tmp.Temporary())
}

func TestClassifyNodeError(t *testing.T) {
	require.Contains(t, classifyNodeError(errors.New("insufficient funds for gas * price + value")), "fund the keeper")
	require.Contains(t, classifyNodeError(errors.New("execution reverted: TokenAlreadyRevealed()")), "reverted")
	require.Empty(t, classifyNodeError(errors.New("connection refused")))
}
