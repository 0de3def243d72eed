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

// Package replicate is a minimal client for the Replicate predictions API,
// classifying failures so the pipeline can tell a retryable blip from a
// misconfiguration and from a censored prompt.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const (
	defaultBaseURL = "https://api.replicate.com/v1"

	// maxPromptLen mirrors the author prompt column width. Longer prompts are
	// rejected before any API call.
	maxPromptLen = 1000
)

// ErrContentPolicy marks a prompt the provider refused on content grounds.
// The caller retries once with the configured fallback prompt.
var ErrContentPolicy = errors.New("replicate: prompt rejected by content policy")

// APIError is a classified provider failure.
type APIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("replicate: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("replicate: %v", e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Temporary reports whether a retry can help: network failures, rate limits
// and provider 5xx are temporary, auth and request-shape failures are not.
func (e *APIError) Temporary() bool {
	if e.StatusCode == 0 {
		return true // network error, no response
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client calls the Replicate predictions endpoint for one model.
type Client struct {
	baseURL string
	token   string
	model   string
	httpc   *http.Client
	log     log.Logger
}

// NewClient builds a client for the given model, e.g.
// "black-forest-labs/flux-schnell".
func NewClient(token, model string) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		token:   token,
		model:   model,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		log:     log.New("service", "replicate"),
	}
}

// prediction is the subset of the provider response the pipeline reads.
type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// ValidatePrompt rejects prompts the provider would refuse on shape: empty
// or over the length cap. These are permanent failures, not worth an API
// call.
func ValidatePrompt(prompt string) error {
	if prompt == "" {
		return errors.New("prompt is empty")
	}
	if len(prompt) > maxPromptLen {
		return fmt.Errorf("prompt exceeds %d characters (got %d)", maxPromptLen, len(prompt))
	}
	return nil
}

// Generate runs one synchronous prediction and returns the CDN URL of the
// generated image. The URL expires; the caller must download promptly.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"input": map[string]any{"prompt": prompt},
	})
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/models/%s/predictions", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	// Block until the prediction settles; flux-schnell finishes in seconds.
	req.Header.Set("Prefer", "wait=30")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &APIError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &APIError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: trim(raw)}
	}

	var pred prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return "", &APIError{Err: fmt.Errorf("decode prediction: %w", err)}
	}
	switch pred.Status {
	case "succeeded":
	case "processing", "starting":
		// Prefer: wait expired before the model finished. The prediction may
		// still succeed, but we have no URL; retry later.
		return "", &APIError{StatusCode: http.StatusGatewayTimeout,
			Body: fmt.Sprintf("prediction %s still %s", pred.ID, pred.Status)}
	default:
		if isContentPolicy(pred.Error) {
			c.log.Warn("Prompt censored by provider", "prediction", pred.ID)
			return "", fmt.Errorf("%w: %s", ErrContentPolicy, pred.Error)
		}
		return "", &APIError{StatusCode: http.StatusInternalServerError,
			Body: fmt.Sprintf("prediction %s %s: %s", pred.ID, pred.Status, pred.Error)}
	}

	imageURL, err := firstOutputURL(pred.Output)
	if err != nil {
		return "", &APIError{Err: fmt.Errorf("prediction %s: %w", pred.ID, err)}
	}
	c.log.Debug("Image generated", "prediction", pred.ID, "elapsed", time.Since(start))
	return imageURL, nil
}

// firstOutputURL extracts the image URL from the model output, which is
// either a bare string or an array of strings depending on the model.
func firstOutputURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("prediction has no output")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 && many[0] != "" {
		return many[0], nil
	}
	return "", fmt.Errorf("unrecognized output shape: %s", trim(raw))
}

// isContentPolicy matches the error strings the provider uses for flagged
// prompts and flagged outputs.
func isContentPolicy(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "nsfw") ||
		strings.Contains(m, "sensitive") ||
		strings.Contains(m, "flagged") ||
		strings.Contains(m, "content policy")
}

func trim(raw []byte) string {
	const max = 512
	s := string(raw)
	if len(s) > max {
		return s[:max]
	}
	return s
}
