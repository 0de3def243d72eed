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

// Package pinata pins token images and metadata to IPFS through the Pinata
// pinning API.
package pinata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.pinata.cloud"

// APIError is a classified pinning failure.
type APIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("pinata: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("pinata: %v", e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Temporary reports whether a later retry can succeed. Auth (401/403) and
// request-shape (400) failures cannot.
func (e *APIError) Temporary() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Metadata is the ERC-721 metadata document pinned per token.
type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"` // ipfs://<cid>
	Attributes  []Attribute `json:"attributes"`
}

// Attribute is one display trait in the metadata document.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Client pins content through the Pinata API. Requests are paced by a rate
// limiter so a large backlog drains without tripping the provider's 429s.
type Client struct {
	baseURL string
	jwt     string
	gateway string
	httpc   *http.Client
	limiter *rate.Limiter
	log     log.Logger
}

// NewClient builds a pinning client. gateway is the domain used only for
// display URLs; pins always go through the API host.
func NewClient(jwtToken, gateway string) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		jwt:     jwtToken,
		gateway: gateway,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		// Pinata's published limit is 60 req/min on the pinning endpoints.
		limiter: rate.NewLimiter(rate.Limit(1), 3),
		log:     log.New("service", "pinata"),
	}
	c.warnIfExpiring()
	return c
}

// warnIfExpiring decodes the JWT claims without verifying the signature (we
// hold no key for that) and logs when the token is close to expiry. A dead
// token otherwise only surfaces as 401s mid-pipeline.
func (c *Client) warnIfExpiring() {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.jwt, &claims); err != nil {
		return // opaque token, nothing to inspect
	}
	if claims.ExpiresAt == nil {
		return
	}
	left := time.Until(claims.ExpiresAt.Time)
	switch {
	case left <= 0:
		c.log.Error("Pinning token is expired", "expired", claims.ExpiresAt.Time)
	case left < 7*24*time.Hour:
		c.log.Warn("Pinning token expires soon", "expires", claims.ExpiresAt.Time, "left", left)
	}
}

// pinResponse is the provider reply for both pin endpoints.
type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// PinImage downloads the image at imageURL and pins it under the season
// filename for tokenID, returning the content id.
func (c *Client) PinImage(ctx context.Context, imageURL string, tokenID int64) (string, error) {
	data, err := c.download(ctx, imageURL)
	if err != nil {
		return "", err
	}
	filename := fmt.Sprintf("s0-token-%d.png", tokenID)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.WriteField("pinataOptions", `{"cidVersion": 1}`); err != nil {
		return "", err
	}
	meta, err := json.Marshal(pinMeta(filename, tokenID))
	if err != nil {
		return "", err
	}
	if err := mw.WriteField("pinataMetadata", string(meta)); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	cid, err := c.post(ctx, "/pinning/pinFileToIPFS", mw.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	c.log.Debug("Image pinned", "token", tokenID, "cid", cid, "bytes", len(data))
	return cid, nil
}

// PinMetadata pins the metadata document for tokenID and returns its
// content id.
func (c *Client) PinMetadata(ctx context.Context, meta *Metadata, tokenID int64) (string, error) {
	filename := fmt.Sprintf("s0-token-%d-metadata.json", tokenID)
	payload, err := json.Marshal(map[string]any{
		"pinataContent":  meta,
		"pinataOptions":  map[string]any{"cidVersion": 1},
		"pinataMetadata": pinMeta(filename, tokenID),
	})
	if err != nil {
		return "", err
	}
	cid, err := c.post(ctx, "/pinning/pinJSONToIPFS", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	c.log.Debug("Metadata pinned", "token", tokenID, "cid", cid)
	return cid, nil
}

// GatewayURL renders a display URL for a pinned content id.
func (c *Client) GatewayURL(cid string) string {
	return "https://" + c.gateway + "/ipfs/" + cid
}

// pinMeta is the dashboard-facing pin annotation.
func pinMeta(filename string, tokenID int64) map[string]any {
	return map[string]any{
		"name": filename,
		"keyvalues": map[string]string{
			"season":   "0",
			"token_id": strconv.FormatInt(tokenID, 10),
		},
	}
}

// download fetches the transient CDN image. Non-2xx responses are temporary:
// the URL may not have propagated yet, and an expired URL resolves itself
// when the token is regenerated.
func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &APIError{Err: fmt.Errorf("download image: %w", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Err: fmt.Errorf("download image: status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, &APIError{Err: fmt.Errorf("download image: %w", err)}
	}
	if len(data) == 0 {
		return nil, &APIError{Err: fmt.Errorf("download image: empty body")}
	}
	return data, nil
}

// post pins content and extracts the content id, classifying every non-2xx
// status for the worker.
func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.jwt)
	req.Header.Set("Content-Type", contentType)

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
		return "", &APIError{StatusCode: resp.StatusCode, Body: trimBody(raw)}
	}
	var pr pinResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return "", &APIError{Err: fmt.Errorf("decode pin response: %w", err)}
	}
	if pr.IpfsHash == "" {
		return "", &APIError{Err: fmt.Errorf("pin response has no IpfsHash: %s", trimBody(raw))}
	}
	return pr.IpfsHash, nil
}

func trimBody(raw []byte) string {
	const max = 512
	s := string(raw)
	if len(s) > max {
		return s[:max]
	}
	return s
}
