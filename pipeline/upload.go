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
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/glisk/gliskd/pinata"
	"github.com/glisk/gliskd/store"
)

// Pinner stores token content on IPFS and returns content ids.
type Pinner interface {
	PinImage(ctx context.Context, imageURL string, tokenID int64) (string, error)
	PinMetadata(ctx context.Context, meta *pinata.Metadata, tokenID int64) (string, error)
}

// uploadStore is the store surface of the upload stage.
type uploadStore interface {
	ClaimTokens(ctx context.Context, status store.TokenStatus, limit int) ([]*store.Token, error)
	MarkReady(ctx context.Context, t *store.Token, imageCID, metadataCID string) error
	MarkFailed(ctx context.Context, t *store.Token, reason string) error
	IncrementAttempts(ctx context.Context, t *store.Token, reason string) error
	AuthorByID(ctx context.Context, id uuid.UUID) (*store.Author, error)
	RecordUpload(ctx context.Context, rec *store.UploadRecord) error
}

// UploadWorker advances tokens uploading -> ready by pinning the generated
// image and its metadata document. The uploading state is replayable: a
// transient failure just leaves the token for the next poll, and re-pinning
// the same bytes yields the same content id.
type UploadWorker struct {
	store uploadStore
	pins  Pinner

	batchSize    int
	pollInterval time.Duration

	log log.Logger
}

// NewUploadWorker builds the content upload stage.
func NewUploadWorker(st *store.Store, pins Pinner, batchSize int, pollInterval time.Duration) *UploadWorker {
	return &UploadWorker{
		store:        st,
		pins:         pins,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		log:          log.New("worker", "upload"),
	}
}

func (w *UploadWorker) Name() string { return "upload" }

// Run polls for uploading tokens until ctx is cancelled.
func (w *UploadWorker) Run(ctx context.Context) error {
	for {
		n, err := w.processBatch(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *UploadWorker) processBatch(ctx context.Context) (int, error) {
	tokens, err := w.store.ClaimTokens(ctx, store.StatusUploading, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim uploading tokens: %w", err)
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.batchSize)
	for _, tok := range tokens {
		tok := tok
		g.Go(func() error {
			w.processToken(gctx, tok)
			return nil
		})
	}
	g.Wait()
	return len(tokens), ctx.Err()
}

// processToken pins image then metadata and advances the token. Both pins
// are audited individually.
func (w *UploadWorker) processToken(ctx context.Context, tok *store.Token) {
	if tok.ImageURL == "" {
		w.fail(ctx, tok, errors.New("token in uploading without an image URL"))
		return
	}

	imageCID, err := w.pins.PinImage(ctx, tok.ImageURL, tok.TokenID)
	w.audit(ctx, tok, "image", imageCID, err)
	if err != nil {
		w.settle(ctx, tok, fmt.Errorf("pin image: %w", err))
		return
	}

	meta := w.buildMetadata(ctx, tok, imageCID)
	metadataCID, err := w.pins.PinMetadata(ctx, meta, tok.TokenID)
	w.audit(ctx, tok, "metadata", metadataCID, err)
	if err != nil {
		w.settle(ctx, tok, fmt.Errorf("pin metadata: %w", err))
		return
	}

	if err := w.store.MarkReady(ctx, tok, imageCID, metadataCID); err != nil {
		w.log.Error("Advance to ready failed", "token", tok.TokenID, "err", err)
		return
	}
	uploadSucceededCounter.Inc(1)
	w.log.Info("Content pinned", "token", tok.TokenID,
		"image", imageCID, "metadata", metadataCID)
}

// buildMetadata assembles the ERC-721 document. The author's social handle
// becomes a display trait when the profile carries one.
func (w *UploadWorker) buildMetadata(ctx context.Context, tok *store.Token, imageCID string) *pinata.Metadata {
	handle := ""
	author, err := w.store.AuthorByID(ctx, tok.AuthorID)
	if err == nil {
		handle = author.TwitterHandle
	} else if !errors.Is(err, store.ErrNotFound) {
		w.log.Warn("Author read failed, metadata without handle", "token", tok.TokenID, "err", err)
	}
	return BuildMetadata(tok.TokenID, imageCID, handle)
}

// settle routes a pin failure: permanent errors end the token, transient
// ones count the attempt and leave it in uploading for the next poll.
func (w *UploadWorker) settle(ctx context.Context, tok *store.Token, cause error) {
	if permanent(cause) {
		w.fail(ctx, tok, cause)
		return
	}
	uploadRetriedCounter.Inc(1)
	if err := w.store.IncrementAttempts(ctx, tok, cause.Error()); err != nil {
		w.log.Error("Attempt bookkeeping failed", "token", tok.TokenID, "err", err)
	}
	w.log.Warn("Upload will retry", "token", tok.TokenID, "err", cause)
}

func (w *UploadWorker) fail(ctx context.Context, tok *store.Token, cause error) {
	uploadFailedCounter.Inc(1)
	if err := w.store.MarkFailed(ctx, tok, cause.Error()); err != nil {
		w.log.Error("Mark failed failed", "token", tok.TokenID, "err", err)
		return
	}
	w.log.Error("Upload failed permanently", "token", tok.TokenID, "err", cause)
}

func (w *UploadWorker) audit(ctx context.Context, tok *store.Token, kind, cid string, cause error) {
	status := store.AuditCompleted
	msg := ""
	if cause != nil {
		status = store.AuditFailed
		msg = cause.Error()
	}
	err := w.store.RecordUpload(ctx, &store.UploadRecord{
		TokenRowID: tok.ID,
		RecordType: kind,
		CID:        cid,
		Status:     status,
		RetryCount: tok.GenerationAttempts,
		Error:      msg,
	})
	if err != nil {
		w.log.Warn("Upload audit write failed", "token", tok.TokenID, "err", err)
	}
}

// BuildMetadata renders the season metadata document for a token.
func BuildMetadata(tokenID int64, imageCID, twitterHandle string) *pinata.Metadata {
	attrs := []pinata.Attribute{
		{TraitType: "Season", Value: "0"},
	}
	if twitterHandle != "" {
		handle := "@" + strings.TrimPrefix(twitterHandle, "@")
		attrs = append(attrs, pinata.Attribute{TraitType: "Author", Value: handle})
	}
	return &pinata.Metadata{
		Name:        fmt.Sprintf("GLISK S0 #%d", tokenID),
		Description: "GLISK Season 0. https://x.com/getglisk",
		Image:       "ipfs://" + imageCID,
		Attributes:  attrs,
	}
}
