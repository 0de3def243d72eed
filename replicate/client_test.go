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

package replicate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-token", "black-forest-labs/flux-schnell")
	c.baseURL = srv.URL
	return c
}

func TestGenerateSucceeded(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models/black-forest-labs/flux-schnell/predictions", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id":"p1","status":"succeeded","output":["https://cdn.example/img.webp"]}`))
	})
	url, err := c.Generate(context.Background(), "a fox in the snow")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/img.webp", url)
}

func TestGenerateScalarOutput(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"p2","status":"succeeded","output":"https://cdn.example/one.png"}`))
	})
	url, err := c.Generate(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/one.png", url)
}

func TestGenerateContentPolicy(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"p3","status":"failed","error":"NSFW content detected"}`))
	})
	_, err := c.Generate(context.Background(), "something rude")
	require.ErrorIs(t, err, ErrContentPolicy)
}

func TestGenerateClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		temporary bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"detail":"slow down"}`, true},
		{"provider down", http.StatusInternalServerError, `oops`, true},
		{"bad token", http.StatusUnauthorized, `{"detail":"invalid token"}`, false},
		{"bad request", http.StatusUnprocessableEntity, `{"detail":"input invalid"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.Generate(context.Background(), "p")
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			require.Equal(t, tt.status, apiErr.StatusCode)
			require.Equal(t, tt.temporary, apiErr.Temporary())
		})
	}
}

func TestGenerateNetworkErrorIsTemporary(t *testing.T) {
	c := NewClient("t", "m")
	c.baseURL = "http://127.0.0.1:1" // nothing listens here
	_, err := c.Generate(context.Background(), "p")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.True(t, apiErr.Temporary())
}

func TestGenerateStillProcessingIsTemporary(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"p4","status":"processing"}`))
	})
	_, err := c.Generate(context.Background(), "p")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.True(t, apiErr.Temporary())
}

func TestValidatePrompt(t *testing.T) {
	require.NoError(t, ValidatePrompt("a perfectly fine prompt"))
	require.NoError(t, ValidatePrompt(strings.Repeat("x", 1000)))
	require.Error(t, ValidatePrompt(""))
	require.Error(t, ValidatePrompt(strings.Repeat("x", 1001)))
}
