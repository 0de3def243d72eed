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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/glisk/gliskd/chain"
	"github.com/glisk/gliskd/ingest"
)

// signatureHeader carries the hex HMAC-SHA256 of the raw request body.
const signatureHeader = "X-Alchemy-Signature"

// maxWebhookBody bounds the raw payload read. Alchemy pushes stay well
// under this; anything bigger is garbage.
const maxWebhookBody = 4 << 20

var (
	webhookReceivedMeter  = metrics.NewRegisteredMeter("glisk/webhook/received", nil)
	webhookRejectedMeter  = metrics.NewRegisteredMeter("glisk/webhook/rejected", nil)
	webhookDuplicateMeter = metrics.NewRegisteredMeter("glisk/webhook/duplicate", nil)
	webhookTokensMeter    = metrics.NewRegisteredMeter("glisk/webhook/tokens", nil)
)

// webhookPayload mirrors the GraphQL-shaped push body. Only the fields the
// ingester reads are declared; the rest of the document passes through the
// decoder untouched.
type webhookPayload struct {
	Event struct {
		Data struct {
			Block struct {
				Number    uint64 `json:"number"`
				Timestamp int64  `json:"timestamp"`
				Logs      []struct {
					Topics  []string `json:"topics"`
					Data    string   `json:"data"`
					Index   uint     `json:"index"`
					Removed bool     `json:"removed"`
					Account struct {
						Address string `json:"address"`
					} `json:"account"`
					Transaction struct {
						Hash   string `json:"hash"`
						Status int    `json:"status"`
					} `json:"transaction"`
				} `json:"logs"`
			} `json:"block"`
		} `json:"data"`
	} `json:"event"`
}

type webhookResponse struct {
	Status        string `json:"status"`
	EventsCreated int    `json:"events_created"`
	TokensCreated int    `json:"tokens_created"`
	Duplicates    int    `json:"duplicates"`
}

// handleWebhook authenticates and ingests one signed push. Every matching
// log persists in its own transaction: a duplicate in the middle of the
// payload never drops the logs after it, which matters when the sender
// retries a push we half-processed before a crash.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	webhookReceivedMeter.Mark(1)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		webhookRejectedMeter.Mark(1)
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}
	if !s.verifySignature(body, r.Header.Get(signatureHeader)) {
		webhookRejectedMeter.Mark(1)
		s.log.Warn("Webhook signature rejected", "remote", r.RemoteAddr)
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		webhookRejectedMeter.Mark(1)
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed payload"})
		return
	}

	block := payload.Event.Data.Block
	blockTime := time.Now().UTC()
	if block.Timestamp > 0 {
		blockTime = time.Unix(block.Timestamp, 0).UTC()
	}

	resp := webhookResponse{Status: "success"}
	for _, raw := range block.Logs {
		// Only successful, non-reorged logs from the season contract count.
		if raw.Removed || raw.Transaction.Status != 1 {
			continue
		}
		if !strings.EqualFold(raw.Account.Address, s.contractAddress) {
			continue
		}
		if len(raw.Topics) == 0 || !strings.EqualFold(raw.Topics[0], chain.BatchMintedTopic.Hex()) {
			continue
		}

		lg, err := rawToLog(raw.Topics, raw.Data, raw.Transaction.Hash, raw.Index, block.Number)
		if err != nil {
			webhookRejectedMeter.Mark(1)
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		ev, err := chain.DecodeBatchMinted(lg)
		if err != nil {
			webhookRejectedMeter.Mark(1)
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		created, err := s.ingestor.PersistMint(r.Context(), ev, blockTime)
		if errors.Is(err, ingest.ErrDuplicate) {
			webhookDuplicateMeter.Mark(1)
			resp.Duplicates++
			continue
		}
		if err != nil {
			// Storage or config failure: 500 tells the sender to retry the
			// whole push, which the duplicate key makes safe.
			s.log.Error("Webhook persist failed", "tx", ev.TxHash, "err", err)
			s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "storage error"})
			return
		}
		resp.EventsCreated++
		resp.TokensCreated += created
	}

	if resp.EventsCreated == 0 && resp.Duplicates > 0 {
		resp.Status = "duplicate"
	}
	webhookTokensMeter.Mark(int64(resp.TokensCreated))
	s.writeJSON(w, http.StatusOK, resp)
}

// verifySignature recomputes the body HMAC under the shared secret and
// compares in constant time, hex-normalized to lower case on both sides.
func (s *Server) verifySignature(body []byte, signature string) bool {
	if s.webhookSecret == "" {
		return true // auth disabled, test deployments only
	}
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	got := strings.ToLower(strings.TrimPrefix(signature, "0x"))
	return hmac.Equal([]byte(want), []byte(got))
}

// rawToLog converts the payload's hex strings into a types.Log for the
// shared decoder.
func rawToLog(topics []string, data, txHash string, index uint, blockNumber uint64) (*types.Log, error) {
	lg := &types.Log{
		TxHash:      common.HexToHash(txHash),
		Index:       index,
		BlockNumber: blockNumber,
	}
	for _, topic := range topics {
		lg.Topics = append(lg.Topics, common.HexToHash(topic))
	}
	if data != "" && data != "0x" {
		decoded, err := hexutil.Decode(data)
		if err != nil {
			return nil, errors.New("malformed log data")
		}
		lg.Data = decoded
	}
	return lg, nil
}
