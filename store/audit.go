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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Audit statuses shared by image jobs and upload records.
const (
	AuditCompleted = "completed"
	AuditFailed    = "failed"
)

// ImageJob is the audit record of one image generation attempt.
type ImageJob struct {
	ID            uuid.UUID
	TokenRowID    uuid.UUID
	Service       string // provider name, e.g. "replicate"
	Status        string
	ExternalJobID string // provider-side prediction id, when known
	RetryCount    int
	Error         string
	CreatedAt     time.Time
	CompletedAt   time.Time
}

// RecordImageJob appends an image generation audit row. Audit writes never
// fail the pipeline; callers log and continue on error.
func (q queries) RecordImageJob(ctx context.Context, job *ImageJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	errData, err := errJSON(job.Error)
	if err != nil {
		return err
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO image_generation_jobs (id, token_id, service, status,
			external_job_id, retry_count, error_data, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		job.ID, job.TokenRowID, job.Service, job.Status,
		nullif(job.ExternalJobID), job.RetryCount, errData)
	if err != nil {
		return fmt.Errorf("record image job: %w", err)
	}
	return nil
}

// UploadRecord is the audit record of one pin attempt.
type UploadRecord struct {
	ID         uuid.UUID
	TokenRowID uuid.UUID
	RecordType string // "image" or "metadata"
	CID        string
	Status     string
	RetryCount int
	Error      string
	CreatedAt  time.Time
}

// RecordUpload appends a pin audit row.
func (q queries) RecordUpload(ctx context.Context, rec *UploadRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	errData, err := errJSON(rec.Error)
	if err != nil {
		return err
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO ipfs_upload_records (id, token_id, record_type, cid, status,
			retry_count, error_data, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		rec.ID, rec.TokenRowID, rec.RecordType, nullif(rec.CID), rec.Status,
		rec.RetryCount, errData)
	if err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	return nil
}

// errJSON wraps an error message for the JSONB error_data column; empty
// messages become SQL NULL.
func errJSON(msg string) ([]byte, error) {
	if msg == "" {
		return nil, nil
	}
	raw, err := json.Marshal(map[string]string{"message": msg})
	if err != nil {
		return nil, fmt.Errorf("encode error data: %w", err)
	}
	return raw, nil
}
