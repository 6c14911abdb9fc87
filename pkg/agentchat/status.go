// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agentchat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// AgentStatus is the body of GET {base}/agent/status.
type AgentStatus struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Model      string `json:"model,omitempty"`
	AgentReady bool   `json:"agent_ready"`
}

// Healthy reports whether the agent is up and ready to answer.
func (s AgentStatus) Healthy() bool {
	return s.Status == "healthy" && s.AgentReady
}

// StatusClient probes the agent status endpoint.
type StatusClient struct {
	client HTTPClient
	url    string
	logger *slog.Logger
}

// NewStatusClient creates a StatusClient. A nil client uses NewHTTPClient.
func NewStatusClient(cfg HTTPConfig, client HTTPClient) *StatusClient {
	cfg = cfg.withDefaults()
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &StatusClient{
		client: client,
		url:    joinURL(cfg.BaseURL, cfg.StatusPath),
		logger: cfg.Logger,
	}
}

// Status fetches the agent status.
//
// A reachable agent reporting status "error" is not a Go error; inspect
// AgentStatus.Healthy instead.
func (c *StatusClient) Status(ctx context.Context) (AgentStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return AgentStatus{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return AgentStatus{}, &TransportError{Op: OpOpen, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close status response body", "error", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return AgentStatus{}, &TransportError{
			Op:         OpStatus,
			StatusCode: resp.StatusCode,
			Body:       readSnippet(resp.Body),
		}
	}

	var status AgentStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return AgentStatus{}, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}
