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
	"runtime/debug"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Supervisor hosts the stage workers and respawns any that die. The respawn
// delay is a flat second: the workers are idempotent at their store
// boundaries, so fast recovery beats backoff when the cause was an external
// blip, and a genuine bug loops at a survivable rate either way.
type Supervisor struct {
	workers      []Worker
	restartDelay time.Duration
	log          log.Logger
}

// NewSupervisor builds a supervisor over the given workers.
func NewSupervisor(workers ...Worker) *Supervisor {
	return &Supervisor{
		workers:      workers,
		restartDelay: time.Second,
		log:          log.New("module", "supervisor"),
	}
}

// Run blocks until ctx is cancelled and every worker has returned.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range s.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			s.supervise(ctx, w)
		}(w)
	}
	wg.Wait()
	s.log.Info("All workers stopped")
}

// supervise runs one worker in a respawn loop.
func (s *Supervisor) supervise(ctx context.Context, w Worker) {
	for {
		err := s.runOnce(ctx, w)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			s.log.Info("Worker stopped", "worker", w.Name())
			return
		}
		if err != nil {
			s.log.Error("Worker crashed, respawning", "worker", w.Name(), "err", err)
		} else {
			// Run returned nil without cancellation; workers must loop
			// forever, so treat a clean exit like a crash.
			s.log.Error("Worker exited unexpectedly, respawning", "worker", w.Name())
		}
		select {
		case <-ctx.Done():
			s.log.Info("Worker stopped", "worker", w.Name())
			return
		case <-time.After(s.restartDelay):
		}
	}
}

// runOnce converts a worker panic into an error so one bad token cannot take
// down the process.
func (s *Supervisor) runOnce(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return w.Run(ctx)
}
