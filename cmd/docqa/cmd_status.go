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
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/docqa/pkg/agentchat"
	"github.com/AleutianAI/docqa/pkg/transcript"
	"github.com/AleutianAI/docqa/pkg/ux"
)

const statusTimeout = 10 * time.Second

var errAgentNotReady = errors.New("agent is not ready")

func commandPrinter(cmd *cobra.Command) *ux.Printer {
	return ux.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), ux.GetPersonality().Level)
}

// runStatusCommand probes the agent's status endpoint.
func runStatusCommand(cmd *cobra.Command, _ []string) error {
	printer := commandPrinter(cmd)
	logger := newLogger(appConfig.Logging, cmd.ErrOrStderr())
	defer logger.Close()

	client := agentchat.NewStatusClient(agentchat.HTTPConfig{
		BaseURL:    appConfig.API.BaseURL,
		ChatPath:   appConfig.API.ChatPath,
		StatusPath: appConfig.API.StatusPath,
		Logger:     logger.Slog(),
	}, agentchat.NewHTTPClient(appConfig.API.ConnectTimeout))

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	var status agentchat.AgentStatus
	err := ux.WithSpinner(printer, "Contacting agent", func() error {
		var err error
		status, err = client.Status(ctx)
		return err
	})
	if err != nil {
		return &reportedError{err: err}
	}

	printer.KeyValue("API", appConfig.API.BaseURL)
	printer.KeyValue("Status", status.Status)
	if status.Model != "" {
		printer.KeyValue("Model", status.Model)
	}
	printer.KeyValue("Ready", strconv.FormatBool(status.AgentReady))
	if status.Message != "" {
		printer.KeyValue("Message", status.Message)
	}

	if !status.Healthy() {
		printer.Warning("The agent is reachable but not ready to answer.")
		return &reportedError{err: errAgentNotReady}
	}
	printer.Success("The agent is ready.")
	return nil
}

// runHistoryCommand lists archived exchanges, newest first.
func runHistoryCommand(cmd *cobra.Command, _ []string) error {
	printer := commandPrinter(cmd)
	if !appConfig.Transcript.Enabled {
		printer.Warning("The transcript archive is disabled in the config.")
		return nil
	}

	logger := newLogger(appConfig.Logging, cmd.ErrOrStderr())
	defer logger.Close()

	archive, err := openArchive(appConfig.Transcript, logger.Slog())
	if err != nil {
		return fmt.Errorf("open transcript archive: %w", err)
	}
	defer archive.Close()

	exchanges, err := archive.List(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("list transcripts: %w", err)
	}
	if len(exchanges) == 0 {
		printer.Info("No archived exchanges yet.")
		return nil
	}

	for i, ex := range exchanges {
		if i > 0 && printer.Level() != ux.PersonalityMachine {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		printExchange(printer, ex)
	}
	return nil
}

func printExchange(p *ux.Printer, ex transcript.Exchange) {
	p.KeyValue("ID", ex.ID())
	p.KeyValue("Asked", ex.User.CreatedAt.Local().Format(time.DateTime))
	p.KeyValue("Question", preview(ex.Question(), historyPreviewRunes))
	p.KeyValue("Answer", preview(ex.Answer(), historyPreviewRunes))
	p.KeyValue("Steps", strconv.Itoa(len(ex.Assistant.Steps)))
	p.KeyValue("Outcome", string(ex.Assistant.CloseReason))
}
