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
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/glisk/gliskd/store"
)

type fakeDepthStore struct {
	counts map[store.TokenStatus]int64
}

func (s *fakeDepthStore) CountByStatus(ctx context.Context) (map[store.TokenStatus]int64, error) {
	return s.counts, nil
}

func TestDepthRefreshUpdatesGauges(t *testing.T) {
	w := &DepthWorker{
		store: &fakeDepthStore{counts: map[store.TokenStatus]int64{
			store.StatusDetected: 7,
			store.StatusReady:    2,
		}},
		pollInterval: time.Millisecond,
		log:          log.New("worker", "queuedepth"),
	}

	require.NoError(t, w.refresh(context.Background()))
	require.Equal(t, int64(7), queueDetectedGauge.Snapshot().Value())
	require.Equal(t, int64(2), queueReadyGauge.Snapshot().Value())
	// Statuses missing from the count drop to zero instead of sticking.
	require.Equal(t, int64(0), queueGeneratingGauge.Snapshot().Value())
}
