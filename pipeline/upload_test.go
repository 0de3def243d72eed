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
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/glisk/gliskd/pinata"
	"github.com/glisk/gliskd/store"
)

// fakeUploadStore mutates tokens like the real transitions and records the
// pin audit rows.
type fakeUploadStore struct {
	authors map[uuid.UUID]*store.Author
	records []*store.UploadRecord
}

func newFakeUploadStore() *fakeUploadStore {
	return &fakeUploadStore{authors: make(map[uuid.UUID]*store.Author)}
}

func (s *fakeUploadStore) ClaimTokens(ctx context.Context, status store.TokenStatus, limit int) ([]*store.Token, error) {
	return nil, nil
}

func (s *fakeUploadStore) MarkReady(ctx context.Context, t *store.Token, imageCID, metadataCID string) error {
	t.Status = store.StatusReady
	t.ImageCID = imageCID
	t.MetadataCID = metadataCID
	return nil
}

func (s *fakeUploadStore) MarkFailed(ctx context.Context, t *store.Token, reason string) error {
	t.Status = store.StatusFailed
	t.GenerationError = reason
	return nil
}

func (s *fakeUploadStore) IncrementAttempts(ctx context.Context, t *store.Token, reason string) error {
	t.GenerationAttempts++
	t.GenerationError = reason
	return nil
}

func (s *fakeUploadStore) AuthorByID(ctx context.Context, id uuid.UUID) (*store.Author, error) {
	a, ok := s.authors[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (s *fakeUploadStore) RecordUpload(ctx context.Context, rec *store.UploadRecord) error {
	s.records = append(s.records, rec)
	return nil
}

// fakePinner scripts pin outcomes.
type fakePinner struct {
	imageCID    string
	metadataCID string
	imageErr    error
	metadataErr error
	lastMeta    *pinata.Metadata
}

func (p *fakePinner) PinImage(ctx context.Context, imageURL string, tokenID int64) (string, error) {
	return p.imageCID, p.imageErr
}

func (p *fakePinner) PinMetadata(ctx context.Context, meta *pinata.Metadata, tokenID int64) (string, error) {
	p.lastMeta = meta
	return p.metadataCID, p.metadataErr
}

func newUploadWorker(st *fakeUploadStore, pins *fakePinner) *UploadWorker {
	return &UploadWorker{
		store:        st,
		pins:         pins,
		batchSize:    4,
		pollInterval: time.Millisecond,
		log:          log.New("worker", "upload"),
	}
}

func uploadingToken(authorID uuid.UUID) *store.Token {
	return &store.Token{
		ID:       uuid.New(),
		TokenID:  5,
		AuthorID: authorID,
		Status:   store.StatusUploading,
		ImageURL: "https://cdn.example/5.png",
	}
}

func TestUploadAdvancesToReady(t *testing.T) {
	st := newFakeUploadStore()
	author := &store.Author{ID: uuid.New(), TwitterHandle: "glisk_author"}
	st.authors[author.ID] = author
	pins := &fakePinner{imageCID: "bafyimg", metadataCID: "bafymeta"}
	w := newUploadWorker(st, pins)
	tok := uploadingToken(author.ID)

	w.processToken(context.Background(), tok)

	require.Equal(t, store.StatusReady, tok.Status)
	require.Equal(t, "bafyimg", tok.ImageCID)
	require.Equal(t, "bafymeta", tok.MetadataCID)
	require.Equal(t, "ipfs://bafyimg", pins.lastMeta.Image)
	require.Len(t, st.records, 2) // one audit row per pin

	// The author's handle rides along as a display trait.
	last := pins.lastMeta.Attributes[len(pins.lastMeta.Attributes)-1]
	require.Equal(t, "@glisk_author", last.Value)
}

func TestUploadMissingImageURLFails(t *testing.T) {
	st := newFakeUploadStore()
	w := newUploadWorker(st, &fakePinner{})
	tok := uploadingToken(uuid.New())
	tok.ImageURL = ""

	w.processToken(context.Background(), tok)
	require.Equal(t, store.StatusFailed, tok.Status)
}

func TestUploadTransientPinFailureStaysUploading(t *testing.T) {
	// A flaky pin leaves the token in uploading with the attempt counted;
	// there is no retry cap, the content is immutable and re-pinnable.
	st := newFakeUploadStore()
	pins := &fakePinner{imageErr: errors.New("i/o timeout")}
	w := newUploadWorker(st, pins)
	tok := uploadingToken(uuid.New())

	w.processToken(context.Background(), tok)

	require.Equal(t, store.StatusUploading, tok.Status)
	require.Equal(t, 1, tok.GenerationAttempts)
}

func TestUploadPermanentPinFailure(t *testing.T) {
	st := newFakeUploadStore()
	pins := &fakePinner{
		imageCID:    "bafyimg",
		metadataErr: &pinata.APIError{StatusCode: 401, Body: "bad jwt"},
	}
	w := newUploadWorker(st, pins)
	tok := uploadingToken(uuid.New())

	w.processToken(context.Background(), tok)
	require.Equal(t, store.StatusFailed, tok.Status)
}
