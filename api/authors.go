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
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/julienschmidt/httprouter"

	"github.com/glisk/gliskd/store"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// tokenView is the status listing entry for the UI.
type tokenView struct {
	TokenID            int64     `json:"token_id"`
	Status             string    `json:"status"`
	ImageCID           string    `json:"image_cid,omitempty"`
	MetadataCID        string    `json:"metadata_cid,omitempty"`
	RevealTxHash       string    `json:"reveal_tx_hash,omitempty"`
	GenerationAttempts int       `json:"generation_attempts"`
	GenerationError    string    `json:"generation_error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type tokenPage struct {
	Tokens []tokenView `json:"tokens"`
	Total  int         `json:"total"`
	Offset int         `json:"offset"`
	Limit  int         `json:"limit"`
}

// handleAuthorTokens serves the paginated per-author listing. An unknown or
// malformed wallet yields an empty page, not an error: the UI polls this
// before the profile row exists.
func (s *Server) handleAuthorTokens(w http.ResponseWriter, r *http.Request) {
	wallet := httprouter.ParamsFromContext(r.Context()).ByName("wallet")
	offset, limit := pageParams(r)
	page := tokenPage{Tokens: []tokenView{}, Offset: offset, Limit: limit}

	if !common.IsHexAddress(wallet) {
		s.writeJSON(w, http.StatusOK, page)
		return
	}
	author, err := s.store.AuthorByWallet(r.Context(), wallet)
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSON(w, http.StatusOK, page)
		return
	}
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "storage error"})
		return
	}

	tokens, total, err := s.store.TokensByAuthorPage(r.Context(), author.ID, offset, limit)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "storage error"})
		return
	}
	page.Total = total
	for _, tok := range tokens {
		page.Tokens = append(page.Tokens, tokenView{
			TokenID:            tok.TokenID,
			Status:             string(tok.Status),
			ImageCID:           tok.ImageCID,
			MetadataCID:        tok.MetadataCID,
			RevealTxHash:       tok.RevealTxHash,
			GenerationAttempts: tok.GenerationAttempts,
			GenerationError:    tok.GenerationError,
			CreatedAt:          tok.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, page)
}

// pageParams parses offset and limit, clamping to [0,inf) and [1,100].
func pageParams(r *http.Request) (offset, limit int) {
	offset = 0
	limit = defaultPageLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		switch {
		case v < 1:
			limit = 1
		case v > maxPageLimit:
			limit = maxPageLimit
		default:
			limit = v
		}
	}
	return offset, limit
}
