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

// Package pipeline contains the stage workers that advance tokens from
// detected to revealed, and the supervisor that keeps them running. The
// store is the only coordination between workers: each claims its stage's
// rows with skip-locked leases and processes every token in its own
// transaction scope, so one token's failure never rolls back another's
// progress.
package pipeline

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/metrics"
)

// Worker is one supervised pipeline stage. Run blocks until ctx is
// cancelled; any other return is treated as a crash and restarted.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

// permanent reports whether err is classified non-retryable at its source.
// Unknown errors are not permanent: the stage states are replayable, so the
// safe default is to leave the token for the next poll.
func permanent(err error) bool {
	var tmp interface{ Temporary() bool }
	return errors.As(err, &tmp) && !tmp.Temporary()
}

// Stage worker metrics, exported through the node metrics registry.
var (
	generateSucceededCounter = metrics.NewRegisteredCounter("glisk/generate/succeeded", nil)
	generateRetriedCounter   = metrics.NewRegisteredCounter("glisk/generate/retried", nil)
	generateFailedCounter    = metrics.NewRegisteredCounter("glisk/generate/failed", nil)
	generateCensoredCounter  = metrics.NewRegisteredCounter("glisk/generate/censored", nil)
	generateTimer            = metrics.NewRegisteredTimer("glisk/generate/duration", nil)

	uploadSucceededCounter = metrics.NewRegisteredCounter("glisk/upload/succeeded", nil)
	uploadRetriedCounter   = metrics.NewRegisteredCounter("glisk/upload/retried", nil)
	uploadFailedCounter    = metrics.NewRegisteredCounter("glisk/upload/failed", nil)

	revealBatchSizeGauge   = metrics.NewRegisteredGauge("glisk/reveal/batchsize", nil)
	revealConfirmedCounter = metrics.NewRegisteredCounter("glisk/reveal/confirmed", nil)
	revealRevertedCounter  = metrics.NewRegisteredCounter("glisk/reveal/reverted", nil)
	revealTimer            = metrics.NewRegisteredTimer("glisk/reveal/confirmation", nil)

	queueDetectedGauge   = metrics.NewRegisteredGauge("glisk/queue/detected", nil)
	queueGeneratingGauge = metrics.NewRegisteredGauge("glisk/queue/generating", nil)
	queueUploadingGauge  = metrics.NewRegisteredGauge("glisk/queue/uploading", nil)
	queueReadyGauge      = metrics.NewRegisteredGauge("glisk/queue/ready", nil)
	queueRevealedGauge   = metrics.NewRegisteredGauge("glisk/queue/revealed", nil)
	queueFailedGauge     = metrics.NewRegisteredGauge("glisk/queue/failed", nil)
)
