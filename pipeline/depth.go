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
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/glisk/gliskd/store"
)

// depthStore is the store surface of the queue depth reporter.
type depthStore interface {
	CountByStatus(ctx context.Context) (map[store.TokenStatus]int64, error)
}

// DepthWorker refreshes the per-status queue depth gauges. It is read-only
// and runs beside the stage workers under the same supervisor.
type DepthWorker struct {
	store        depthStore
	pollInterval time.Duration
	log          log.Logger
}

// NewDepthWorker builds the queue depth reporter.
func NewDepthWorker(st *store.Store, pollInterval time.Duration) *DepthWorker {
	return &DepthWorker{
		store:        st,
		pollInterval: pollInterval,
		log:          log.New("worker", "queuedepth"),
	}
}

func (w *DepthWorker) Name() string { return "queuedepth" }

// Run refreshes the gauges on every poll tick until ctx is cancelled.
func (w *DepthWorker) Run(ctx context.Context) error {
	for {
		if err := w.refresh(ctx); err != nil {
			// A failed count is stale gauges, not a crashed pipeline.
			w.log.Warn("Queue depth refresh failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *DepthWorker) refresh(ctx context.Context) error {
	counts, err := w.store.CountByStatus(ctx)
	if err != nil {
		return err
	}
	// Absent statuses mean zero rows; the gauge must drop, not stick.
	queueDetectedGauge.Update(counts[store.StatusDetected])
	queueGeneratingGauge.Update(counts[store.StatusGenerating])
	queueUploadingGauge.Update(counts[store.StatusUploading])
	queueReadyGauge.Update(counts[store.StatusReady])
	queueRevealedGauge.Update(counts[store.StatusRevealed])
	queueFailedGauge.Update(counts[store.StatusFailed])
	return nil
}
