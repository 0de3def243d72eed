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
	"fmt"
)

// schema is the idempotent DDL applied at startup. The season suffix on the
// token table is fixed for the lifetime of a deployment; a new season is a
// new deployment.
const schema = `
CREATE TABLE IF NOT EXISTS authors (
    id              UUID PRIMARY KEY,
    wallet_address  VARCHAR(42) NOT NULL,
    prompt_text     VARCHAR(1000),
    twitter_handle  VARCHAR(64),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS authors_wallet_address_key
    ON authors (wallet_address);

CREATE TABLE IF NOT EXISTS tokens_s0 (
    id                   UUID PRIMARY KEY,
    token_id             BIGINT NOT NULL,
    author_id            UUID NOT NULL REFERENCES authors(id),
    minter_address       VARCHAR(42),
    status               VARCHAR(20) NOT NULL DEFAULT 'detected',
    image_url            TEXT,
    image_cid            VARCHAR(255),
    metadata_cid         VARCHAR(255),
    reveal_tx_hash       VARCHAR(66),
    generation_attempts  INTEGER NOT NULL DEFAULT 0,
    generation_error     VARCHAR(1000),
    mint_timestamp       TIMESTAMPTZ,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS tokens_s0_token_id_key
    ON tokens_s0 (token_id);
CREATE INDEX IF NOT EXISTS tokens_s0_status_created_at_idx
    ON tokens_s0 (status, created_at);
CREATE INDEX IF NOT EXISTS tokens_s0_author_id_idx
    ON tokens_s0 (author_id);

CREATE TABLE IF NOT EXISTS mint_events (
    id               UUID PRIMARY KEY,
    tx_hash          VARCHAR(66) NOT NULL,
    log_index        INTEGER NOT NULL,
    block_number     BIGINT NOT NULL,
    block_timestamp  TIMESTAMPTZ NOT NULL,
    start_token_id   BIGINT NOT NULL,
    quantity         INTEGER NOT NULL,
    total_paid       NUMERIC(78,0) NOT NULL DEFAULT 0,
    minter           VARCHAR(42) NOT NULL,
    author_wallet    VARCHAR(42) NOT NULL,
    detected_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS mint_events_tx_hash_log_index_key
    ON mint_events (tx_hash, log_index);

CREATE TABLE IF NOT EXISTS reveal_transactions (
    id               UUID PRIMARY KEY,
    token_ids        UUID[] NOT NULL,
    tx_hash          VARCHAR(66),
    block_number     BIGINT,
    gas_used         BIGINT,
    gas_price_gwei   NUMERIC(20,9),
    status           VARCHAR(20) NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    confirmed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS reveal_transactions_tx_hash_idx
    ON reveal_transactions (tx_hash);
CREATE INDEX IF NOT EXISTS reveal_transactions_status_idx
    ON reveal_transactions (status);

CREATE TABLE IF NOT EXISTS system_state (
    key          VARCHAR(255) PRIMARY KEY,
    state_value  JSONB NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS image_generation_jobs (
    id               UUID PRIMARY KEY,
    token_id         UUID NOT NULL REFERENCES tokens_s0(id),
    service          VARCHAR(50) NOT NULL,
    status           VARCHAR(50) NOT NULL,
    external_job_id  VARCHAR(255),
    retry_count      INTEGER NOT NULL DEFAULT 0,
    error_data       JSONB,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS image_generation_jobs_token_id_idx
    ON image_generation_jobs (token_id);

CREATE TABLE IF NOT EXISTS ipfs_upload_records (
    id            UUID PRIMARY KEY,
    token_id      UUID NOT NULL REFERENCES tokens_s0(id),
    record_type   VARCHAR(50) NOT NULL,
    cid           VARCHAR(255),
    status        VARCHAR(50) NOT NULL,
    retry_count   INTEGER NOT NULL DEFAULT 0,
    error_data    JSONB,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS ipfs_upload_records_token_id_idx
    ON ipfs_upload_records (token_id);
`

// EnsureSchema applies the embedded DDL. Every statement is idempotent, so
// running it against an existing database is a no-op.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Debug("Database schema ensured")
	return nil
}
