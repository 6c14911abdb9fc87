// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agentchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/docqa/pkg/telemetry"
)

// Default endpoint layout of the agent API.
const (
	DefaultBaseURL    = "http://localhost:8000/api"
	DefaultChatPath   = "/agent/chat_stream"
	DefaultStatusPath = "/agent/status"

	// ContentTypeNDJSON is the media type of the streaming response.
	ContentTypeNDJSON = "application/x-ndjson"
)

// =============================================================================
// Interfaces
// =============================================================================

// HTTPClient is the subset of *http.Client used here. Tests substitute a
// mock.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StreamOpener opens the streaming response for one request.
//
// The returned body yields the raw NDJSON bytes. The caller closes it.
// Cancelling ctx must unblock any pending read on the body.
type StreamOpener interface {
	Open(ctx context.Context, req ChatRequest) (io.ReadCloser, error)
}

// StreamOpenerFunc adapts a function to StreamOpener.
type StreamOpenerFunc func(ctx context.Context, req ChatRequest) (io.ReadCloser, error)

// Open implements StreamOpener.
func (f StreamOpenerFunc) Open(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	return f(ctx, req)
}

// =============================================================================
// HTTP Stream Opener
// =============================================================================

// HTTPConfig locates the agent API.
type HTTPConfig struct {
	// BaseURL is the API root, e.g. http://localhost:8000/api.
	BaseURL string

	// ChatPath is appended to BaseURL for streaming chat.
	ChatPath string

	// StatusPath is appended to BaseURL for the status probe.
	StatusPath string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.ChatPath == "" {
		c.ChatPath = DefaultChatPath
	}
	if c.StatusPath == "" {
		c.StatusPath = DefaultStatusPath
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// HTTPStreamOpener posts ChatRequests to the agent's streaming endpoint.
type HTTPStreamOpener struct {
	client HTTPClient
	url    string
	logger *slog.Logger
}

// NewHTTPStreamOpener creates an opener for cfg. A nil client uses
// NewHTTPClient with default timeouts.
func NewHTTPStreamOpener(cfg HTTPConfig, client HTTPClient) *HTTPStreamOpener {
	cfg = cfg.withDefaults()
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &HTTPStreamOpener{
		client: client,
		url:    joinURL(cfg.BaseURL, cfg.ChatPath),
		logger: cfg.Logger,
	}
}

// URL returns the endpoint requests are posted to.
func (o *HTTPStreamOpener) URL() string {
	return o.url
}

// Open posts req and returns the response body once a 200 status arrives.
//
// # Outputs
//
//   - io.ReadCloser: the NDJSON body. The caller must close it.
//   - error: *TransportError for network failures (OpOpen) or a non-200
//     status (OpStatus, with a snippet of the response body).
func (o *HTTPStreamOpener) Open(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", ContentTypeNDJSON)
	telemetry.InjectHeaders(ctx, httpReq.Header)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		o.logger.Error("agent stream request failed", "url", o.url, "error", err)
		return nil, &TransportError{Op: OpOpen, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				o.logger.Debug("failed to close error response body", "error", cerr)
			}
		}()
		snippet := readSnippet(resp.Body)
		o.logger.Error("agent stream returned error status",
			"url", o.url,
			"status_code", resp.StatusCode,
			"response_body", snippet,
		)
		return nil, &TransportError{Op: OpStatus, StatusCode: resp.StatusCode, Body: snippet}
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, ContentTypeNDJSON) {
		o.logger.Debug("unexpected content type on agent stream", "content_type", ct)
	}
	return resp.Body, nil
}

func readSnippet(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxBodySnippet))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// NewHTTPClient returns a client suited to long-lived streams: no overall
// timeout, a bounded connect phase. Zero connectTimeout means 10s.
func NewHTTPClient(connectTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	return &http.Client{Transport: transport}
}

var (
	_ StreamOpener = (*HTTPStreamOpener)(nil)
	_ StreamOpener = StreamOpenerFunc(nil)
	_ HTTPClient   = (*http.Client)(nil)
)
