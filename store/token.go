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
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TokenStatus is the lifecycle state of a token row.
type TokenStatus string

const (
	StatusDetected   TokenStatus = "detected"
	StatusGenerating TokenStatus = "generating"
	StatusUploading  TokenStatus = "uploading"
	StatusReady      TokenStatus = "ready"
	StatusRevealed   TokenStatus = "revealed"
	StatusFailed     TokenStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s TokenStatus) Terminal() bool {
	return s == StatusRevealed || s == StatusFailed
}

// maxErrorLen bounds generation_error; longer messages are truncated so a
// pathological provider response cannot bloat the row.
const maxErrorLen = 1000

// Token is one minted NFT moving through the generate/upload/reveal
// pipeline. The zero UUID fields are filled by the store on insert.
type Token struct {
	ID            uuid.UUID
	TokenID       int64 // on-chain token id
	AuthorID      uuid.UUID
	MinterAddress string
	Status        TokenStatus

	ImageURL     string // provider CDN URL of the generated image
	ImageCID     string
	MetadataCID  string
	RevealTxHash string

	GenerationAttempts int
	GenerationError    string

	MintTimestamp time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// InvalidTransitionError reports a lifecycle change the state machine does
// not allow.
type InvalidTransitionError struct {
	TokenID  int64
	From, To TokenStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("token %d: invalid transition %s -> %s", e.TokenID, e.From, e.To)
}

func (t *Token) transition(from, to TokenStatus) error {
	if t.Status != from {
		return &InvalidTransitionError{TokenID: t.TokenID, From: t.Status, To: to}
	}
	t.Status = to
	return nil
}

// MarkGenerating publishes a generation claim: detected -> generating.
func (t *Token) MarkGenerating() error {
	return t.transition(StatusDetected, StatusGenerating)
}

// MarkUploading records the generated image and advances
// generating -> uploading.
func (t *Token) MarkUploading(imageURL string) error {
	if err := t.transition(StatusGenerating, StatusUploading); err != nil {
		return err
	}
	t.ImageURL = imageURL
	return nil
}

// MarkReady records the pinned content and advances uploading -> ready.
func (t *Token) MarkReady(imageCID, metadataCID string) error {
	if err := t.transition(StatusUploading, StatusReady); err != nil {
		return err
	}
	t.ImageCID = imageCID
	t.MetadataCID = metadataCID
	return nil
}

// MarkRevealed records the confirmed reveal transaction and advances
// ready -> revealed.
func (t *Token) MarkRevealed(txHash string) error {
	if err := t.transition(StatusReady, StatusRevealed); err != nil {
		return err
	}
	t.RevealTxHash = txHash
	return nil
}

// MarkFailed moves the token to the failed terminal state from any
// non-terminal state, recording the reason (truncated).
func (t *Token) MarkFailed(reason string) error {
	if t.Status.Terminal() {
		return &InvalidTransitionError{TokenID: t.TokenID, From: t.Status, To: StatusFailed}
	}
	t.Status = StatusFailed
	t.GenerationError = truncateError(reason)
	return nil
}

func truncateError(reason string) string {
	if len(reason) > maxErrorLen {
		return reason[:maxErrorLen]
	}
	return reason
}
