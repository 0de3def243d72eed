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
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/glisk/gliskd/replicate"
	"github.com/glisk/gliskd/store"
)

// ImageGenerator produces one image for a prompt and returns its CDN URL.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// generateStore is the store surface of the generation stage.
type generateStore interface {
	ResetOrphanedGenerating(ctx context.Context) (int64, error)
	ClaimTokens(ctx context.Context, status store.TokenStatus, limit int) ([]*store.Token, error)
	MarkGenerating(ctx context.Context, t *store.Token) error
	MarkUploading(ctx context.Context, t *store.Token, imageURL string) error
	MarkFailed(ctx context.Context, t *store.Token, reason string) error
	RetryGeneration(ctx context.Context, t *store.Token, reason string) error
	AuthorByID(ctx context.Context, id uuid.UUID) (*store.Author, error)
	AuthorByWallet(ctx context.Context, wallet string) (*store.Author, error)
	RecordImageJob(ctx context.Context, job *store.ImageJob) error
}

// GenerateWorker advances tokens detected -> generating -> uploading by
// calling the text-to-image provider.
type GenerateWorker struct {
	store  generateStore
	images ImageGenerator

	defaultAuthorWallet string
	defaultPrompt       string
	fallbackPrompt      string

	batchSize    int
	pollInterval time.Duration

	log log.Logger
}

// NewGenerateWorker builds the image generation stage.
func NewGenerateWorker(st *store.Store, images ImageGenerator,
	defaultAuthorWallet, defaultPrompt, fallbackPrompt string,
	batchSize int, pollInterval time.Duration) *GenerateWorker {

	return &GenerateWorker{
		store:               st,
		images:              images,
		defaultAuthorWallet: defaultAuthorWallet,
		defaultPrompt:       defaultPrompt,
		fallbackPrompt:      fallbackPrompt,
		batchSize:           batchSize,
		pollInterval:        pollInterval,
		log:                 log.New("worker", "generate"),
	}
}

func (w *GenerateWorker) Name() string { return "generate" }

// Run resets orphaned rows once, then polls for detected tokens until ctx
// is cancelled.
func (w *GenerateWorker) Run(ctx context.Context) error {
	// Rows stuck in generating belong to a dead process: this is the one
	// backward edge of the state machine, taken only here.
	reset, err := w.store.ResetOrphanedGenerating(ctx)
	if err != nil {
		return fmt.Errorf("orphan reset: %w", err)
	}
	if reset > 0 {
		w.log.Warn("Reset orphaned generating tokens", "count", reset)
	}

	for {
		n, err := w.processBatch(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			continue // drain the backlog before sleeping
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}

// processBatch claims up to batchSize detected tokens and processes them
// concurrently, each in its own transaction scope.
func (w *GenerateWorker) processBatch(ctx context.Context) (int, error) {
	tokens, err := w.store.ClaimTokens(ctx, store.StatusDetected, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim detected tokens: %w", err)
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
			return nil // per-token outcomes never abort siblings
		})
	}
	g.Wait()
	return len(tokens), ctx.Err()
}

// processToken drives one token through generation, recording its outcome
// itself. Every decision point commits on its own so retry bookkeeping
// survives even when the generation "failed".
func (w *GenerateWorker) processToken(ctx context.Context, tok *store.Token) {
	start := time.Now()
	attempt := tok.GenerationAttempts + 1

	// Publish the lease: detected -> generating, visible to every process.
	if err := w.store.MarkGenerating(ctx, tok); err != nil {
		if !errors.Is(err, store.ErrStaleToken) {
			w.log.Error("Claim publish failed", "token", tok.TokenID, "err", err)
		}
		return
	}

	prompt, err := w.resolvePrompt(ctx, tok)
	if err != nil {
		w.fail(ctx, tok, attempt, fmt.Errorf("prompt resolution: %w", err))
		return
	}
	if err := replicate.ValidatePrompt(prompt); err != nil {
		w.fail(ctx, tok, attempt, fmt.Errorf("prompt validation: %w", err))
		return
	}

	imageURL, err := w.images.Generate(ctx, prompt)
	if errors.Is(err, replicate.ErrContentPolicy) {
		imageURL, err = w.retryCensored(ctx, tok, err)
		if err != nil {
			w.fail(ctx, tok, attempt, err)
			return
		}
		tok.GenerationAttempts++ // censorship counts as a spent attempt
	} else if err != nil {
		if permanent(err) {
			w.fail(ctx, tok, attempt, err)
			return
		}
		w.retry(ctx, tok, attempt, err)
		return
	}

	if err := w.store.MarkUploading(ctx, tok, imageURL); err != nil {
		w.log.Error("Advance to uploading failed", "token", tok.TokenID, "err", err)
		return
	}
	w.audit(ctx, tok, store.AuditCompleted, "")
	generateSucceededCounter.Inc(1)
	generateTimer.UpdateSince(start)
	w.log.Info("Image generated", "token", tok.TokenID, "attempt", attempt,
		"elapsed", time.Since(start))
}

// retryCensored reruns generation with the fallback prompt after a content
// policy rejection. A second rejection or any other failure is permanent.
func (w *GenerateWorker) retryCensored(ctx context.Context, tok *store.Token, cause error) (string, error) {
	generateCensoredCounter.Inc(1)
	w.log.Warn("token.censored", "token", tok.TokenID, "reason", "content_policy_violation")
	if w.fallbackPrompt == "" {
		return "", fmt.Errorf("censored and no fallback prompt configured: %w", cause)
	}
	imageURL, err := w.images.Generate(ctx, w.fallbackPrompt)
	if err != nil {
		return "", fmt.Errorf("fallback prompt failed after censorship: %w", err)
	}
	return imageURL, nil
}

// resolvePrompt picks the prompt text for a token: the author's own, then
// the default author's, then the configured default prompt.
func (w *GenerateWorker) resolvePrompt(ctx context.Context, tok *store.Token) (string, error) {
	author, err := w.store.AuthorByID(ctx, tok.AuthorID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if author != nil && author.PromptText != "" {
		return author.PromptText, nil
	}

	if w.defaultAuthorWallet != "" {
		def, err := w.store.AuthorByWallet(ctx, w.defaultAuthorWallet)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
		if def != nil && def.PromptText != "" {
			w.log.Debug("Using default author prompt", "token", tok.TokenID,
				"default", w.defaultAuthorWallet)
			return def.PromptText, nil
		}
	}
	if w.defaultPrompt != "" {
		return w.defaultPrompt, nil
	}
	return "", fmt.Errorf("no prompt for author %s and default author %q has none",
		tok.AuthorID, w.defaultAuthorWallet)
}

// retry returns the token to detected for the next poll, counting the
// attempt first so the bookkeeping commits regardless.
func (w *GenerateWorker) retry(ctx context.Context, tok *store.Token, attempt int, cause error) {
	generateRetriedCounter.Inc(1)
	w.audit(ctx, tok, store.AuditFailed, cause.Error())
	if err := w.store.RetryGeneration(ctx, tok, cause.Error()); err != nil {
		w.log.Error("Retry reset failed", "token", tok.TokenID, "err", err)
		return
	}
	w.log.Warn("Generation will retry", "token", tok.TokenID, "attempt", attempt, "err", cause)
}

// fail moves the token to the failed terminal state.
func (w *GenerateWorker) fail(ctx context.Context, tok *store.Token, attempt int, cause error) {
	generateFailedCounter.Inc(1)
	w.audit(ctx, tok, store.AuditFailed, cause.Error())
	if err := w.store.MarkFailed(ctx, tok, cause.Error()); err != nil {
		w.log.Error("Mark failed failed", "token", tok.TokenID, "err", err)
		return
	}
	w.log.Error("Generation failed permanently", "token", tok.TokenID,
		"attempt", attempt, "err", cause)
}

// audit appends the per-attempt job record. Audit failures are logged, never
// propagated: debugging data must not stall the pipeline.
func (w *GenerateWorker) audit(ctx context.Context, tok *store.Token, status, errMsg string) {
	err := w.store.RecordImageJob(ctx, &store.ImageJob{
		TokenRowID: tok.ID,
		Service:    "replicate",
		Status:     status,
		RetryCount: tok.GenerationAttempts,
		Error:      errMsg,
	})
	if err != nil {
		w.log.Warn("Image job audit write failed", "token", tok.TokenID, "err", err)
	}
}
