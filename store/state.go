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
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// stateKeyLastProcessedBlock is the log replay watermark. Replay resumes at
// watermark+1; blocks at or below it are never refetched.
const stateKeyLastProcessedBlock = "last_processed_block"

func (q queries) getState(ctx context.Context, key string, out any) error {
	var raw []byte
	err := q.q.QueryRowContext(ctx,
		`SELECT state_value FROM system_state WHERE key = $1`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get state %q: %w", key, err)
	}
	return json.Unmarshal(raw, out)
}

func (q queries) setState(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode state %q: %w", key, err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO system_state (key, state_value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET state_value = $2, updated_at = now()`,
		key, raw)
	if err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}
	return nil
}

type blockWatermark struct {
	BlockNumber uint64 `json:"block_number"`
}

// LastProcessedBlock returns the log replay watermark, or zero when replay
// has never run.
func (q queries) LastProcessedBlock(ctx context.Context) (uint64, error) {
	var wm blockWatermark
	err := q.getState(ctx, stateKeyLastProcessedBlock, &wm)
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return wm.BlockNumber, nil
}

// SetLastProcessedBlock advances the log replay watermark.
func (q queries) SetLastProcessedBlock(ctx context.Context, block uint64) error {
	return q.setState(ctx, stateKeyLastProcessedBlock, blockWatermark{BlockNumber: block})
}
