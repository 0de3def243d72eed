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
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glisk/gliskd/chain"
	"github.com/glisk/gliskd/pinata"
	"github.com/glisk/gliskd/replicate"
	"github.com/glisk/gliskd/store"
)

func TestPermanentClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"pinata auth", &pinata.APIError{StatusCode: http.StatusUnauthorized}, true},
		{"pinata rate limit", &pinata.APIError{StatusCode: http.StatusTooManyRequests}, false},
		{"pinata network", &pinata.APIError{Err: errors.New("eof")}, false},
		{"replicate auth", &replicate.APIError{StatusCode: http.StatusUnauthorized}, true},
		{"replicate 5xx", &replicate.APIError{StatusCode: http.StatusBadGateway}, false},
		{"abi mismatch", &chain.ABIError{Method: "revealTokens", Err: errors.New("x")}, true},
		{"gas estimation", &chain.GasEstimationError{Err: errors.New("x")}, false},
		{"confirm timeout", &chain.ConfirmTimeoutError{TxHash: "0x1"}, false},
		{"wrapped permanent", fmt.Errorf("pin image: %w", &pinata.APIError{StatusCode: 403}), true},
		{"plain error defaults transient", errors.New("mystery"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, permanent(tt.err))
		})
	}
}

func TestBuildMetadata(t *testing.T) {
	meta := BuildMetadata(123, "bafkreiimg", "")
	require.Equal(t, "GLISK S0 #123", meta.Name)
	require.Equal(t, "GLISK Season 0. https://x.com/getglisk", meta.Description)
	require.Equal(t, "ipfs://bafkreiimg", meta.Image)
	require.Equal(t, []pinata.Attribute{{TraitType: "Season", Value: "0"}}, meta.Attributes)
}

func TestBuildMetadataWithHandle(t *testing.T) {
	meta := BuildMetadata(7, "bafy", "getglisk")
	require.Contains(t, meta.Attributes, pinata.Attribute{TraitType: "Author", Value: "@getglisk"})

	// A stored handle that already carries the @ must not double it.
	meta = BuildMetadata(7, "bafy", "@getglisk")
	require.Contains(t, meta.Attributes, pinata.Attribute{TraitType: "Author", Value: "@getglisk"})
}

func TestDedupeTokens(t *testing.T) {
	mk := func(ids ...int64) []*store.Token {
		out := make([]*store.Token, len(ids))
		for i, id := range ids {
			out[i] = &store.Token{TokenID: id}
		}
		return out
	}

	merged := dedupeTokens(mk(1, 2, 3), mk(2, 3, 4, 5))
	got := make([]int64, len(merged))
	for i, tok := range merged {
		got[i] = tok.TokenID
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5}, got)

	// Second claim re-seeing only held rows adds nothing.
	require.Len(t, dedupeTokens(mk(1, 2), mk(1, 2)), 2)
	// Empty first claim passes the second through.
	require.Len(t, dedupeTokens(nil, mk(9)), 1)
}
