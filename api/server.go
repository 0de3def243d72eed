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

// Package api serves the inbound HTTP surface: the signed mint webhook, the
// read-only token listing, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/prometheus"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/glisk/gliskd/chain"
	"github.com/glisk/gliskd/store"
)

// Ingester persists decoded mint events; satisfied by ingest.Ingestor.
type Ingester interface {
	PersistMint(ctx context.Context, ev *chain.BatchMinted, blockTime time.Time) (int, error)
}

// Storage is the read surface the API serves from; satisfied by store.Store.
type Storage interface {
	Ping(ctx context.Context) error
	AuthorByWallet(ctx context.Context, wallet string) (*store.Author, error)
	TokensByAuthorPage(ctx context.Context, authorID uuid.UUID, offset, limit int) ([]*store.Token, int, error)
}

// Server is the HTTP listener. Start and Stop bracket the node lifecycle;
// handlers are registered at construction.
type Server struct {
	store    Storage
	ingestor Ingester

	contractAddress string // checksummed
	webhookSecret   string

	endpoint string
	srv      *http.Server
	listener net.Listener

	log log.Logger
}

// NewServer wires the handlers. The webhook secret authenticates pushes; an
// empty secret disables signature checks and is only for tests.
func NewServer(st Storage, ing Ingester, contractAddress, webhookSecret, endpoint string) *Server {
	s := &Server{
		store:           st,
		ingestor:        ing,
		contractAddress: contractAddress,
		webhookSecret:   webhookSecret,
		endpoint:        endpoint,
		log:             log.New("module", "api"),
	}

	router := httprouter.New()
	router.HandlerFunc(http.MethodPost, "/webhooks/alchemy", s.handleWebhook)
	router.HandlerFunc(http.MethodGet, "/api/authors/:wallet/tokens", s.handleAuthorTokens)
	router.HandlerFunc(http.MethodGet, "/health", s.handleHealth)
	router.Handler(http.MethodGet, "/debug/metrics/prometheus",
		prometheus.Handler(metrics.DefaultRegistry))

	s.srv = &http.Server{
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.endpoint)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.endpoint, err)
	}
	s.listener = listener
	go func() {
		if err := s.srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server stopped", "err", err)
		}
	}()
	s.log.Info("HTTP server started", "endpoint", listener.Addr())
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	s.log.Info("HTTP server stopped", "endpoint", s.listener.Addr())
	return err
}

// writeJSON renders a response body; encode failures are logged because by
// then the status line is already on the wire.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("Response encode failed", "err", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth probes the store so the liveness check fails before the
// pipeline starts timing out on a dead database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"class":  "storage",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
