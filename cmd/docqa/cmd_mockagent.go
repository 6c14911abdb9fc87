// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/docqa/services/mockagent"
)

// runMockServerCommand serves scripted agent responses until interrupted.
func runMockServerCommand(cmd *cobra.Command, _ []string) error {
	logger := newLogger(appConfig.Logging, cmd.ErrOrStderr())
	defer logger.Close()

	cfg := mockagent.Config{
		Addr:     mockAddr,
		Model:    mockModel,
		NotReady: mockNotReady,
		Logger:   logger.Slog(),
	}
	if mockScenarios != "" {
		scenarios, err := mockagent.LoadScenarios(mockScenarios)
		if err != nil {
			return err
		}
		cfg.Scenarios = scenarios
	}

	gin.SetMode(gin.ReleaseMode)
	server := mockagent.New(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := commandPrinter(cmd)
	printer.Info("Mock agent API at http://" + server.Addr() + "/api")
	return server.Run(ctx)
}
