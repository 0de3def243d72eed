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

package store

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenLifecycleHappyPath(t *testing.T) {
	tok := &Token{TokenID: 7, Status: StatusDetected}

	require.NoError(t, tok.MarkGenerating())
	require.Equal(t, StatusGenerating, tok.Status)

	require.NoError(t, tok.MarkUploading("https://cdn.example/image.png"))
	require.Equal(t, StatusUploading, tok.Status)
	require.Equal(t, "https://cdn.example/image.png", tok.ImageURL)

	require.NoError(t, tok.MarkReady("bafkreiimg", "bafkreimeta"))
	require.Equal(t, StatusReady, tok.Status)
	require.Equal(t, "bafkreiimg", tok.ImageCID)
	require.Equal(t, "bafkreimeta", tok.MetadataCID)

	require.NoError(t, tok.MarkRevealed("0xabc"))
	require.Equal(t, StatusRevealed, tok.Status)
	require.Equal(t, "0xabc", tok.RevealTxHash)
}

func TestTokenInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from TokenStatus
		call func(*Token) error
	}{
		{"generating from generating", StatusGenerating, (*Token).MarkGenerating},
		{"generating from ready", StatusReady, (*Token).MarkGenerating},
		{"generating from revealed", StatusRevealed, (*Token).MarkGenerating},
		{"uploading from detected", StatusDetected, func(tok *Token) error { return tok.MarkUploading("u") }},
		{"uploading from ready", StatusReady, func(tok *Token) error { return tok.MarkUploading("u") }},
		{"ready from detected", StatusDetected, func(tok *Token) error { return tok.MarkReady("i", "m") }},
		{"ready from generating", StatusGenerating, func(tok *Token) error { return tok.MarkReady("i", "m") }},
		{"revealed from uploading", StatusUploading, func(tok *Token) error { return tok.MarkRevealed("0x1") }},
		{"revealed from failed", StatusFailed, func(tok *Token) error { return tok.MarkRevealed("0x1") }},
		{"failed from revealed", StatusRevealed, func(tok *Token) error { return tok.MarkFailed("boom") }},
		{"failed from failed", StatusFailed, func(tok *Token) error { return tok.MarkFailed("boom") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := &Token{TokenID: 42, Status: tt.from}
			err := tt.call(tok)
			require.Error(t, err)

			var ite *InvalidTransitionError
			require.True(t, errors.As(err, &ite))
			require.Equal(t, int64(42), ite.TokenID)
			require.Equal(t, tt.from, ite.From)
			// The token must be left untouched by a rejected transition.
			require.Equal(t, tt.from, tok.Status)
		})
	}
}

func TestTokenFailedFromAnyNonTerminal(t *testing.T) {
	for _, from := range []TokenStatus{StatusDetected, StatusGenerating, StatusUploading, StatusReady} {
		tok := &Token{TokenID: 1, Status: from}
		require.NoError(t, tok.MarkFailed("provider exploded"), "from %s", from)
		require.Equal(t, StatusFailed, tok.Status)
		require.Equal(t, "provider exploded", tok.GenerationError)
	}
}

func TestTokenFailedTruncatesReason(t *testing.T) {
	tok := &Token{TokenID: 1, Status: StatusGenerating}
	long := strings.Repeat("x", 4000)
	require.NoError(t, tok.MarkFailed(long))
	require.Len(t, tok.GenerationError, maxErrorLen)
}

func TestTerminalStatuses(t *testing.T) {
	require.True(t, StatusRevealed.Terminal())
	require.True(t, StatusFailed.Terminal())
	for _, s := range []TokenStatus{StatusDetected, StatusGenerating, StatusUploading, StatusReady} {
		require.False(t, s.Terminal(), "%s must not be terminal", s)
	}
}

func TestWeiToGwei(t *testing.T) {
	tests := []struct {
		wei  int64
		want string
	}{
		{1_000_000_000, "1.000000000"},
		{1_500_000_000, "1.500000000"},
		{1, "0.000000001"},
		{0, "0.000000000"},
		{12_345_678_901, "12.345678901"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, weiToGwei(big.NewInt(tt.wei)))
	}
}
