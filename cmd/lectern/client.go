// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"github.com/lectern-dev/lectern/internal/server"
	lecterr "github.com/lectern-dev/lectern/pkg/errors"
)

// defaultHTTPClient is the package-level HTTP client used by server
// commands. No timeout: the ask stream is long-lived and bounded by its
// request context.
var defaultHTTPClient = &http.Client{}

// serverClient provides HTTP access to a running lectern server.
type serverClient struct {
	baseURL string
	http    *http.Client
}

// newServerClient creates a client targeting the configured listen
// address.
func newServerClient() *serverClient {
	return &serverClient{
		baseURL: "http://" + viper.GetString("server.listen"),
		http:    defaultHTTPClient,
	}
}

// getJSON performs a GET request and decodes the JSON response into dest.
func (c *serverClient) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return lecterr.Wrapf(err, lecterr.CodeCLIRequestFailure, "building request")
	}
	return c.doJSON(req, dest)
}

// deleteJSON performs a DELETE request and decodes the JSON response
// into dest.
func (c *serverClient) deleteJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return lecterr.Wrapf(err, lecterr.CodeCLIRequestFailure, "building request")
	}
	return c.doJSON(req, dest)
}

func (c *serverClient) doJSON(req *http.Request, dest any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if isDialError(err) {
			return lecterr.New(lecterr.CodeCLIServerNotRunning, "server is not running (connection refused)")
		}
		return lecterr.Wrapf(err, lecterr.CodeCLIRequestFailure, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return lecterr.Errorf(lecterr.CodeCLIRequestFailure, "server returned status %d: %s", resp.StatusCode, string(body))
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return lecterr.Wrapf(err, lecterr.CodeCLIResponseInvalid, "invalid response")
	}
	return nil
}

// openStream posts an ask request and returns the raw answer stream.
// The caller must close the returned body.
func (c *serverClient) openStream(ctx context.Context, req server.AskRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, lecterr.Wrapf(err, lecterr.CodeCLIRequestFailure, "encoding request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/chat/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, lecterr.Wrapf(err, lecterr.CodeCLIRequestFailure, "building request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if isDialError(err) {
			return nil, lecterr.New(lecterr.CodeCLIServerNotRunning, "server is not running (connection refused)")
		}
		return nil, lecterr.Wrapf(err, lecterr.CodeCLIRequestFailure, "request failed")
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, lecterr.Errorf(lecterr.CodeCLIRequestFailure, "server returned status %d: %s", resp.StatusCode, string(body))
	}

	return resp.Body, nil
}

// isDialError returns true if err is a net dial error (connection
// refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}

// shortTimeout bounds the non-streaming server commands.
const shortTimeout = 10 * time.Second
