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
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/docqa/pkg/conversation"
)

// mockHTTPClient returns a canned response or error.
type mockHTTPClient struct {
	resp    *http.Response
	err     error
	lastReq *http.Request
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.lastReq = req
	return m.resp, m.err
}

func createMockResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{ContentTypeNDJSON}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// =============================================================================
// HTTPStreamOpener Tests
// =============================================================================

func TestHTTPStreamOpener_URL(t *testing.T) {
	tests := []struct {
		name string
		cfg  HTTPConfig
		want string
	}{
		{"defaults", HTTPConfig{}, "http://localhost:8000/api/agent/chat_stream"},
		{"trailing slash", HTTPConfig{BaseURL: "http://h:1/api/"}, "http://h:1/api/agent/chat_stream"},
		{"custom path", HTTPConfig{BaseURL: "http://h", ChatPath: "stream"}, "http://h/stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewHTTPStreamOpener(tt.cfg, &mockHTTPClient{}).URL())
		})
	}
}

func TestHTTPStreamOpener_PostsRequest(t *testing.T) {
	var gotBody ChatRequest
	var gotAccept, gotContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/agent/chat_stream", r.URL.Path)
		gotAccept = r.Header.Get("Accept")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", ContentTypeNDJSON)
		_, _ = io.WriteString(w, `{"type":"final_answer","content":"ok"}`+"\n")
	}))
	defer server.Close()

	opener := NewHTTPStreamOpener(HTTPConfig{BaseURL: server.URL + "/api"}, server.Client())
	req := NewChatRequest("What is X?", []conversation.Pair{{Question: "q", Answer: "a"}})

	body, err := opener.Open(context.Background(), req)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "final_answer")
	assert.Equal(t, req, gotBody)
	assert.Equal(t, ContentTypeNDJSON, gotAccept)
	assert.Equal(t, "application/json", gotContentType)
}

func TestHTTPStreamOpener_EmptyContextEncodesAsArray(t *testing.T) {
	client := &mockHTTPClient{resp: createMockResponse(http.StatusOK, "")}
	opener := NewHTTPStreamOpener(HTTPConfig{}, client)

	body, err := opener.Open(context.Background(), NewChatRequest("q", nil))
	require.NoError(t, err)
	body.Close()

	raw, err := io.ReadAll(client.lastReq.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"q","context":[]}`, string(raw))
}

func TestHTTPStreamOpener_NonOKStatus(t *testing.T) {
	client := &mockHTTPClient{resp: createMockResponse(http.StatusInternalServerError, "  agent crashed \n")}
	opener := NewHTTPStreamOpener(HTTPConfig{}, client)

	_, err := opener.Open(context.Background(), NewChatRequest("q", nil))
	require.Error(t, err)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, OpStatus, te.Op)
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.Equal(t, "agent crashed", te.Body)
	assert.Equal(t, "server error (500): agent crashed", te.Error())
}

func TestHTTPStreamOpener_BodySnippetIsBounded(t *testing.T) {
	client := &mockHTTPClient{resp: createMockResponse(http.StatusBadGateway, strings.Repeat("e", 10_000))}
	_, err := NewHTTPStreamOpener(HTTPConfig{}, client).Open(context.Background(), NewChatRequest("q", nil))

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Len(t, te.Body, maxBodySnippet)
}

func TestHTTPStreamOpener_NetworkError(t *testing.T) {
	refused := errors.New("connection refused")
	opener := NewHTTPStreamOpener(HTTPConfig{}, &mockHTTPClient{err: refused})

	_, err := opener.Open(context.Background(), NewChatRequest("q", nil))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, OpOpen, te.Op)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, "open: connection refused", te.Error())
}

func TestHTTPStreamOpener_EndToEndWithOrchestrator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", ContentTypeNDJSON)
		flusher := w.(http.Flusher)
		// Split events at awkward offsets to exercise reassembly.
		payload := `{"type":"thought","content":"Look up X","tool":"search"}` + "\n" +
			`{"type":"observation","content":"X is Y"}` + "\n" +
			`{"type":"final_answer","content":"X is Y."}`
		for i := 0; i < len(payload); i += 7 {
			end := min(i+7, len(payload))
			_, _ = io.WriteString(w, payload[i:end])
			flusher.Flush()
		}
	}))
	defer server.Close()

	opener := NewHTTPStreamOpener(HTTPConfig{BaseURL: server.URL}, server.Client())
	o := newTestOrchestrator(opener, Config{})

	result, err := o.Send(context.Background(), "What is X?")
	require.NoError(t, err)
	assert.Equal(t, "X is Y.", result.Turn.Content)
	require.Len(t, result.Turn.Steps, 1)
	assert.Equal(t, "X is Y", result.Turn.Steps[0].Observation)
}

func TestNewHTTPClient(t *testing.T) {
	client := NewHTTPClient(0)
	assert.Zero(t, client.Timeout, "streams must not have an overall timeout")
	require.NotNil(t, client.Transport)
}

// =============================================================================
// StatusClient Tests
// =============================================================================

func TestStatusClient_Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/agent/status", r.URL.Path)
		_, _ = io.WriteString(w, `{"status":"healthy","message":"ok","model":"qwen-max","agent_ready":true}`)
	}))
	defer server.Close()

	status, err := NewStatusClient(HTTPConfig{BaseURL: server.URL + "/api"}, server.Client()).Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy())
	assert.Equal(t, "qwen-max", status.Model)
}

func TestStatusClient_Unhealthy(t *testing.T) {
	client := &mockHTTPClient{resp: createMockResponse(http.StatusOK,
		`{"status":"error","message":"agent failed to load","agent_ready":false}`)}

	status, err := NewStatusClient(HTTPConfig{}, client).Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Healthy())
	assert.Equal(t, "agent failed to load", status.Message)
}

func TestStatusClient_Errors(t *testing.T) {
	t.Run("status code", func(t *testing.T) {
		client := &mockHTTPClient{resp: createMockResponse(http.StatusNotFound, "not found")}
		_, err := NewStatusClient(HTTPConfig{}, client).Status(context.Background())
		assert.True(t, IsTransportError(err))
	})

	t.Run("bad json", func(t *testing.T) {
		client := &mockHTTPClient{resp: createMockResponse(http.StatusOK, "<html>")}
		_, err := NewStatusClient(HTTPConfig{}, client).Status(context.Background())
		require.Error(t, err)
		assert.False(t, IsTransportError(err))
	})

	t.Run("network", func(t *testing.T) {
		client := &mockHTTPClient{err: errors.New("no route to host")}
		_, err := NewStatusClient(HTTPConfig{}, client).Status(context.Background())
		assert.True(t, IsTransportError(err))
	})
}

// =============================================================================
// ChatRequest Tests
// =============================================================================

func TestChatRequest_Validate(t *testing.T) {
	tooMany := make([]conversation.Pair, MaxContextPairs+1)
	for i := range tooMany {
		tooMany[i] = conversation.Pair{Question: "q", Answer: "a"}
	}

	tests := []struct {
		name    string
		req     ChatRequest
		wantErr bool
	}{
		{"valid", NewChatRequest("q", []conversation.Pair{{Question: "q", Answer: "a"}}), false},
		{"no context", NewChatRequest("q", nil), false},
		{"empty query", NewChatRequest("", nil), true},
		{"oversized query", NewChatRequest(strings.Repeat("x", MaxQueryBytes+1), nil), true},
		{"empty pair answer", NewChatRequest("q", []conversation.Pair{{Question: "q"}}), true},
		{"too many pairs", NewChatRequest("q", tooMany), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
