// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/docqa/pkg/agentchat"
	"github.com/AleutianAI/docqa/pkg/conversation"
	"github.com/AleutianAI/docqa/pkg/ux"
)

// Session commands recognized at the prompt.
const (
	commandClear   = "/clear"
	commandHistory = "/history"
	commandHelp    = "/help"

	defaultHistoryTurns = 10
	historyPreviewRunes = 160
)

// ChatRunnerConfig configures a ChatRunner.
type ChatRunnerConfig struct {
	// Orchestrator runs exchanges. Required.
	Orchestrator *agentchat.Orchestrator

	// Input supplies user lines. Required.
	Input InputReader

	// Printer writes session messages. Defaults to ux.DefaultPrinter().
	Printer *ux.Printer

	// ExchangeTimeout bounds each exchange. Zero disables it.
	ExchangeTimeout time.Duration

	// HistoryTurns is how many turns /history prints. Defaults to 10.
	HistoryTurns int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// ChatRunner runs the interactive chat loop.
//
// # Description
//
// Reads a line, skips it when empty, handles session commands, and
// otherwise sends it through the orchestrator. Turn output comes from the
// renderer subscribed to the orchestrator's store, so the runner only
// prints session messages.
//
// The loop ends when the user types exit or quit, when input is exhausted,
// or when Interrupt is called while no exchange is open.
//
// # Thread Safety
//
// Run must be called once. Interrupt may be called from any goroutine,
// typically a signal handler.
type ChatRunner struct {
	orch            *agentchat.Orchestrator
	input           InputReader
	printer         *ux.Printer
	exchangeTimeout time.Duration
	historyTurns    int
	logger          *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewChatRunner creates a ChatRunner.
func NewChatRunner(cfg ChatRunnerConfig) *ChatRunner {
	r := &ChatRunner{
		orch:            cfg.Orchestrator,
		input:           cfg.Input,
		printer:         cfg.Printer,
		exchangeTimeout: cfg.ExchangeTimeout,
		historyTurns:    cfg.HistoryTurns,
		logger:          cfg.Logger,
	}
	if r.printer == nil {
		r.printer = ux.DefaultPrinter()
	}
	if r.historyTurns <= 0 {
		r.historyTurns = defaultHistoryTurns
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run executes the chat loop. It returns nil on a normal exit, including
// an interrupt at the prompt.
func (r *ChatRunner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.printer.Title("docqa chat")
	r.printer.Muted("Ask a question about your documents. Type /help for commands, exit to leave.")

	for {
		line, err := r.readLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				r.printer.Muted("Goodbye.")
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		switch {
		case line == "":
			continue
		case isExitCommand(line):
			r.printer.Muted("Goodbye.")
			return nil
		case line == commandClear:
			r.clear()
		case line == commandHistory:
			r.printHistory()
		case line == commandHelp:
			r.printHelp()
		default:
			r.ask(ctx, line)
		}
	}
}

// Interrupt aborts the open exchange, or ends the loop when none is open.
// Returns true if an exchange was aborted.
func (r *ChatRunner) Interrupt() bool {
	if r.orch.Abort() {
		r.logger.Debug("exchange aborted by interrupt")
		return true
	}
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return false
}

// Stop aborts the open exchange, if any, and ends the loop.
func (r *ChatRunner) Stop() {
	r.orch.Abort()
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// readLine reads in a goroutine so that Interrupt can end a blocked read.
func (r *ChatRunner) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.input.ReadLine()
		ch <- result{line: line, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.line, res.err
	}
}

func (r *ChatRunner) ask(ctx context.Context, text string) {
	_, err := sendWithTimeout(ctx, r.orch, text, r.exchangeTimeout)
	switch {
	case err == nil:
	case agentchat.IsTransportError(err):
		// The turn already carries the failure text.
		r.logger.Warn("exchange failed", "error", err)
	case errors.Is(err, agentchat.ErrInvalidRequest):
		r.printer.Warning(fmt.Sprintf("Message not sent: %v", err))
	default:
		r.printer.Error(err.Error())
	}
}

func (r *ChatRunner) clear() {
	if err := r.orch.Store().Reset(); err != nil {
		r.printer.Error(fmt.Sprintf("Could not clear the conversation: %v", err))
		return
	}
	r.printer.Success("Conversation cleared.")
}

func (r *ChatRunner) printHistory() {
	turns := r.orch.Snapshot()
	if len(turns) == 0 {
		r.printer.Muted("No messages yet.")
		return
	}
	if len(turns) > r.historyTurns {
		turns = turns[len(turns)-r.historyTurns:]
	}
	for _, t := range turns {
		label := "You"
		if t.Role == conversation.RoleAssistant {
			label = "Assistant"
			if t.IsError {
				label = "Assistant (error)"
			}
		}
		r.printer.KeyValue(label, preview(t.Content, historyPreviewRunes))
	}
}

func (r *ChatRunner) printHelp() {
	r.printer.KeyValue(commandClear, "start a new conversation")
	r.printer.KeyValue(commandHistory, "show recent messages")
	r.printer.KeyValue("exit, quit", "leave the chat")
	r.printer.KeyValue("Ctrl+C", "stop the current answer, or leave at the prompt")
}

// sendWithTimeout runs one exchange, bounded by timeout when positive.
func sendWithTimeout(ctx context.Context, o *agentchat.Orchestrator, text string, timeout time.Duration) (agentchat.ExchangeResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return o.Send(ctx, text)
}

func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}

// preview returns the first line of s, cut to max runes.
func preview(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max]) + "…"
	}
	return s
}
