// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mockagent is a scripted stand-in for the document Q&A agent
// backend. It serves the same HTTP surface as the real agent so the CLI and
// integration tests can run without a model.
//
// Endpoints, under /api:
//
//	POST /agent/chat_stream  NDJSON event stream
//	POST /agent/chat         full answer with reasoning steps
//	GET  /agent/status       agent readiness
//	GET  /health             liveness
package mockagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/docqa/pkg/agentchat"
	"github.com/AleutianAI/docqa/pkg/conversation"
	"github.com/AleutianAI/docqa/pkg/stream"
)

const (
	// DefaultAddr matches the agent's default port.
	DefaultAddr = "127.0.0.1:8000"

	// ServiceName is used for tracing.
	ServiceName = "docqa-mockagent"

	shutdownTimeout = 5 * time.Second
)

// Config configures a Server.
type Config struct {
	// Addr is the listen address. Defaults to DefaultAddr.
	Addr string

	// Model is reported by the status endpoint.
	Model string

	// Scenarios script responses. Defaults to DefaultScenarios.
	Scenarios []Scenario

	// NotReady makes the status endpoint report an unready agent.
	NotReady bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the mock agent HTTP server.
type Server struct {
	cfg    Config
	router *gin.Engine
	logger *slog.Logger
}

// New creates a Server with its routes registered.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Model == "" {
		cfg.Model = "mock-agent"
	}
	if len(cfg.Scenarios) == 0 {
		cfg.Scenarios = DefaultScenarios()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	router.Use(requestLogger(cfg.Logger))

	s := &Server{cfg: cfg, router: router, logger: cfg.Logger}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		agent := api.Group("/agent")
		{
			agent.POST("/chat_stream", s.handleChatStream)
			agent.POST("/chat", s.handleChat)
			agent.GET("/status", s.handleStatus)
		}
	}
}

// Handler returns the HTTP handler, for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("mock agent listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		s.logger.Info("mock agent stopped")
		return nil
	})
	return g.Wait()
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := agentchat.AgentStatus{
		Status:     "healthy",
		Message:    "Agent is ready",
		Model:      s.cfg.Model,
		AgentReady: true,
	}
	if s.cfg.NotReady {
		status.Status = "error"
		status.Message = "Agent is not initialized"
		status.AgentReady = false
	}
	c.JSON(http.StatusOK, status)
}

// bindRequest decodes and validates the chat request, answering 400 on
// failure.
func (s *Server) bindRequest(c *gin.Context) (agentchat.ChatRequest, bool) {
	var req agentchat.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Warn("invalid chat request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return req, false
	}
	if err := req.Validate(); err != nil {
		s.logger.Warn("chat request validation failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return req, false
	}
	return req, true
}

func (s *Server) handleChatStream(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}

	scenario, found := Select(s.cfg.Scenarios, req.Query)
	if !found {
		s.writeStreamError(c, fmt.Errorf("no scenario matches query"))
		return
	}
	if scenario.FailStatus != 0 {
		c.String(scenario.FailStatus, scenario.FailBody)
		return
	}

	payload, err := scenario.Encode(req.Query)
	if err != nil {
		s.writeStreamError(c, err)
		return
	}

	s.logger.Debug("streaming scenario",
		"scenario", scenario.Name,
		"context_pairs", len(req.Context),
		"bytes", len(payload),
	)

	c.Header("Content-Type", agentchat.ContentTypeNDJSON)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if scenario.CutAfter > 0 && scenario.CutAfter < len(payload) {
		payload = payload[:scenario.CutAfter]
		defer abortConnection(c)
	}

	ctx := c.Request.Context()
	for _, chunk := range splitPayload(payload, scenario.ChunkSize) {
		if _, err := c.Writer.Write(chunk); err != nil {
			s.logger.Debug("client went away", "error", err)
			return
		}
		c.Writer.Flush()
		if scenario.Delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(scenario.Delay):
			}
		}
	}
}

// writeStreamError reports a server-side failure inside a 200 stream, the
// way the agent reports exceptions.
func (s *Server) writeStreamError(c *gin.Context, err error) {
	s.logger.Error("chat stream failed", "error", err)
	line, _ := json.Marshal(stream.NewEvent(stream.EventError, err.Error()))
	c.Header("Content-Type", agentchat.ContentTypeNDJSON)
	c.Status(http.StatusOK)
	_, _ = c.Writer.Write(append(line, '\n'))
	c.Writer.Flush()
}

// chatResponse mirrors the agent's non-streaming reply.
type chatResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Data    chatResponseData `json:"data"`
}

type chatResponseData struct {
	Answer    string          `json:"answer"`
	Reasoning []reasoningStep `json:"reasoning"`
}

type reasoningStep struct {
	Thought     string          `json:"thought"`
	Tool        string          `json:"tool"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`
	Observation string          `json:"observation"`
}

func (s *Server) handleChat(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}

	scenario, found := Select(s.cfg.Scenarios, req.Query)
	if !found {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no scenario matches query"})
		return
	}
	if scenario.FailStatus != 0 {
		c.String(scenario.FailStatus, scenario.FailBody)
		return
	}

	turn, err := scenario.Reasoning(req.Query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if turn.IsError {
		c.JSON(http.StatusInternalServerError, gin.H{"error": turn.Content})
		return
	}

	c.JSON(http.StatusOK, chatResponse{
		Status:  "success",
		Message: "Query processed successfully",
		Data: chatResponseData{
			Answer:    turn.Content,
			Reasoning: reasoningFrom(turn.Steps),
		},
	})
}

func reasoningFrom(steps []conversation.Step) []reasoningStep {
	out := make([]reasoningStep, len(steps))
	for i, st := range steps {
		out[i] = reasoningStep{
			Thought:     st.Thought,
			Tool:        st.Tool,
			ToolInput:   st.ToolInput,
			Observation: st.Observation,
		}
	}
	return out
}

// =============================================================================
// Helpers
// =============================================================================

// splitPayload cuts payload into size-byte chunks, or into lines when
// size is zero.
func splitPayload(payload []byte, size int) [][]byte {
	var out [][]byte
	if size <= 0 {
		start := 0
		for i, b := range payload {
			if b == '\n' {
				out = append(out, payload[start:i+1])
				start = i + 1
			}
		}
		if start < len(payload) {
			out = append(out, payload[start:])
		}
		return out
	}
	for len(payload) > 0 {
		n := min(size, len(payload))
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	return out
}

// abortConnection drops the TCP connection without finishing the chunked
// response, so the client sees an unexpected EOF.
func abortConnection(c *gin.Context) {
	hj, ok := c.Writer.(http.Hijacker)
	if !ok {
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
