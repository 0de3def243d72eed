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

package pinata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-jwt", "gateway.pinata.cloud")
	c.baseURL = srv.URL
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func TestPinImage(t *testing.T) {
	// One server plays both the image CDN and the pinning API.
	var gotFilename, gotMetaName string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/image.png":
			w.Write([]byte("fake png bytes"))
		case "/pinning/pinFileToIPFS":
			require.Equal(t, "Bearer test-jwt", r.Header.Get("Authorization"))
			require.NoError(t, r.ParseMultipartForm(1<<20))
			_, hdr, err := r.FormFile("file")
			require.NoError(t, err)
			gotFilename = hdr.Filename
			var meta struct {
				Name      string            `json:"name"`
				Keyvalues map[string]string `json:"keyvalues"`
			}
			require.NoError(t, json.Unmarshal([]byte(r.FormValue("pinataMetadata")), &meta))
			gotMetaName = meta.Name
			require.Equal(t, "123", meta.Keyvalues["token_id"])
			w.Write([]byte(`{"IpfsHash":"bafkreiimage"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	cid, err := c.PinImage(context.Background(), c.baseURL+"/image.png", 123)
	require.NoError(t, err)
	require.Equal(t, "bafkreiimage", cid)
	require.Equal(t, "s0-token-123.png", gotFilename)
	require.Equal(t, "s0-token-123.png", gotMetaName)
}

func TestPinMetadata(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pinning/pinJSONToIPFS", r.URL.Path)
		var payload struct {
			Content  Metadata       `json:"pinataContent"`
			Options  map[string]any `json:"pinataOptions"`
			Metadata struct {
				Name string `json:"name"`
			} `json:"pinataMetadata"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "GLISK S0 #7", payload.Content.Name)
		require.Equal(t, "ipfs://bafkreiimage", payload.Content.Image)
		require.Equal(t, "s0-token-7-metadata.json", payload.Metadata.Name)
		require.Equal(t, float64(1), payload.Options["cidVersion"])
		w.Write([]byte(`{"IpfsHash":"bafkreimeta"}`))
	})

	cid, err := c.PinMetadata(context.Background(), &Metadata{
		Name:        "GLISK S0 #7",
		Description: "GLISK Season 0. https://x.com/getglisk",
		Image:       "ipfs://bafkreiimage",
		Attributes:  []Attribute{},
	}, 7)
	require.NoError(t, err)
	require.Equal(t, "bafkreimeta", cid)
}

func TestPinClassification(t *testing.T) {
	tests := []struct {
		status    int
		temporary bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusInternalServerError, true},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		_, err := c.PinMetadata(context.Background(), &Metadata{}, 1)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr), "status %d", tt.status)
		require.Equal(t, tt.status, apiErr.StatusCode)
		require.Equal(t, tt.temporary, apiErr.Temporary(), "status %d", tt.status)
	}
}

func TestPinImageDownloadFailureIsTemporary(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, err := c.PinImage(context.Background(), c.baseURL+"/gone.png", 1)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.True(t, apiErr.Temporary())
}

func TestGatewayURL(t *testing.T) {
	c := NewClient("jwt", "gateway.pinata.cloud")
	require.Equal(t, "https://gateway.pinata.cloud/ipfs/bafy123", c.GatewayURL("bafy123"))
}
