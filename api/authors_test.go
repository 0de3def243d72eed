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

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	"github.com/glisk/gliskd/store"
)

const testWallet = "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa"

func storageWithTokens(n int) *fakeStorage {
	authorID := uuid.New()
	toks := make([]*store.Token, n)
	for i := range toks {
		toks[i] = &store.Token{TokenID: int64(n - i), Status: store.StatusRevealed}
	}
	return &fakeStorage{
		authors: map[string]*store.Author{
			strings.ToLower(testWallet): {ID: authorID, WalletAddress: testWallet},
		},
		tokens: map[uuid.UUID][]*store.Token{authorID: toks},
	}
}

func getTokens(s *Server, wallet, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/authors/"+wallet+"/tokens"+query, nil)
	req = req.WithContext(context.WithValue(req.Context(), httprouter.ParamsKey,
		httprouter.Params{{Key: "wallet", Value: wallet}}))
	rec := httptest.NewRecorder()
	s.handleAuthorTokens(rec, req)
	return rec
}

func TestAuthorTokensPagination(t *testing.T) {
	s := testServer(&fakeIngester{}, storageWithTokens(25))

	rec := getTokens(s, testWallet, "?offset=0&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	var page tokenPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Tokens, 10)
	require.Equal(t, 25, page.Total)
	require.Equal(t, int64(25), page.Tokens[0].TokenID) // newest first

	rec = getTokens(s, testWallet, "?offset=20&limit=10")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Tokens, 5)
	require.Equal(t, 25, page.Total)
}

func TestAuthorTokensUnknownWallet(t *testing.T) {
	s := testServer(&fakeIngester{}, storageWithTokens(3))
	rec := getTokens(s, "0x1234567890123456789012345678901234567890", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page tokenPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Empty(t, page.Tokens)
	require.Zero(t, page.Total)
}

func TestAuthorTokensMalformedWallet(t *testing.T) {
	s := testServer(&fakeIngester{}, storageWithTokens(3))
	rec := getTokens(s, "not-a-wallet", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page tokenPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Empty(t, page.Tokens)
}

func TestPageParamClamping(t *testing.T) {
	tests := []struct {
		query      string
		wantOffset int
		wantLimit  int
	}{
		{"", 0, defaultPageLimit},
		{"?offset=-5&limit=0", 0, 1},
		{"?limit=1000", 0, maxPageLimit},
		{"?offset=7&limit=50", 7, 50},
		{"?offset=junk&limit=junk", 0, defaultPageLimit},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/x/tokens%s", tt.query), nil)
		offset, limit := pageParams(req)
		require.Equal(t, tt.wantOffset, offset, tt.query)
		require.Equal(t, tt.wantLimit, limit, tt.query)
	}
}
