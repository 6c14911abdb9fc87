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
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/docqa/pkg/agentchat"
	"github.com/AleutianAI/docqa/pkg/conversation"
	"github.com/AleutianAI/docqa/pkg/ux"
)

const inputHistorySize = 100

// reportedError is a failure the terminal output already shows. main exits
// non-zero without printing it again.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

var (
	errAgentFailed = errors.New("the agent reported an error")
	errInterrupted = errors.New("interrupted")
)

// runChatCommand starts an interactive session.
func runChatCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := newChatApp(ctx, appConfig, appOptions{Out: cmd.OutOrStdout(), ErrOut: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer app.Close()

	runner := NewChatRunner(ChatRunnerConfig{
		Orchestrator:    app.orch,
		Input:           newChatInput(cmd),
		Printer:         app.printer,
		ExchangeTimeout: appConfig.Chat.ExchangeTimeout,
		Logger:          app.logger.Slog(),
	})
	stopSignals := handleInterrupts(runner)
	defer stopSignals()

	metricsAddr := appConfig.Telemetry.MetricsAddr
	if chatMetricsAddr != "" {
		metricsAddr = chatMetricsAddr
	}
	return runChatSession(ctx, app, runner, metricsAddr)
}

// runChatSession runs the chat loop, alongside the metrics endpoint when
// metricsAddr is set. Either one ending stops the other.
func runChatSession(ctx context.Context, app *chatApp, runner *ChatRunner, metricsAddr string) error {
	if metricsAddr == "" {
		return runner.Run(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return runner.Run(gctx)
	})
	g.Go(func() error {
		return app.serveMetrics(gctx, metricsAddr)
	})
	return g.Wait()
}

// newChatInput reads from the command's input when it was redirected,
// and from an interactive prompt otherwise.
func newChatInput(cmd *cobra.Command) InputReader {
	if in := cmd.InOrStdin(); in != io.Reader(os.Stdin) {
		return NewLineReader(in)
	}
	if ux.GetPersonality().Level == ux.PersonalityMachine {
		return NewStdinReader()
	}
	return NewInteractiveInputReader("> ", inputHistorySize)
}

// handleInterrupts routes SIGINT to runner.Interrupt and SIGTERM to
// runner.Stop until the returned function is called.
func handleInterrupts(runner *ChatRunner) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigCh:
				if sig == syscall.SIGTERM {
					runner.Stop()
					continue
				}
				runner.Interrupt()
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// runAskCommand sends one question and exits non-zero unless the agent
// answered.
func runAskCommand(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newChatApp(ctx, appConfig, appOptions{Out: cmd.OutOrStdout(), ErrOut: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer app.Close()

	timeout := appConfig.Chat.ExchangeTimeout
	if askTimeout > 0 {
		timeout = askTimeout
	}
	result, err := sendWithTimeout(ctx, app.orch, question, timeout)
	return askOutcome(result, err)
}

// askOutcome maps an exchange to the command's error.
func askOutcome(result agentchat.ExchangeResult, err error) error {
	if err != nil {
		if agentchat.IsTransportError(err) {
			return &reportedError{err: err}
		}
		return err
	}
	switch result.Reason {
	case conversation.CloseErrored:
		return &reportedError{err: errAgentFailed}
	case conversation.CloseAborted:
		return &reportedError{err: errInterrupted}
	default:
		return nil
	}
}

// exitError prints err unless it was already reported.
func exitError(err error) {
	var reported *reportedError
	if errors.As(err, &reported) {
		return
	}
	ux.Error(fmt.Sprint(err))
}
