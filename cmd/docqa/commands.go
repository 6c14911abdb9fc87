// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/docqa/cmd/docqa/config"
	"github.com/AleutianAI/docqa/pkg/ux"
)

var (
	// Global flags
	configPath       string
	apiURL           string
	personalityLevel string
	logLevel         string

	// Command flags
	askTimeout      time.Duration
	historyLimit    int
	mockAddr        string
	mockScenarios   string
	mockModel       string
	mockNotReady    bool
	chatMetricsAddr string

	// appConfig is loaded by rootCmd before any command runs.
	appConfig config.DocQAConfig

	rootCmd = &cobra.Command{
		Use:   "docqa",
		Short: "Ask questions about your documents",
		Long: `docqa talks to the document Q&A agent and streams its reasoning and
answer to the terminal as they arrive.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadSettings,
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE:  runChatCommand, // Defined in cmd_chat.go
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAskCommand, // Defined in cmd_chat.go
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Check whether the agent is ready",
		Args:  cobra.NoArgs,
		RunE:  runStatusCommand, // Defined in cmd_status.go
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List archived questions and answers, newest first",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCommand, // Defined in cmd_status.go
	}

	mockServerCmd = &cobra.Command{
		Use:   "mock-server",
		Short: "Run a scripted stand-in for the agent",
		Long: `mock-server serves the agent's HTTP API from scripted scenarios so the
client can be exercised without a model. Without --scenarios it echoes the
question back.`,
		Args: cobra.NoArgs,
		RunE: runMockServerCommand, // Defined in cmd_mockagent.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the docqa version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docqa %s (%s)\n", version, commit)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default ~/.docqa/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "",
		"Agent API base URL, e.g. http://localhost:8000/api")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full, standard, minimal, or machine (scripting)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error")

	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatMetricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address while chatting")

	rootCmd.AddCommand(askCmd)
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 0,
		"Give up on the answer after this long, e.g. 2m")

	rootCmd.AddCommand(statusCmd)

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of exchanges to show (0 for all)")

	rootCmd.AddCommand(mockServerCmd)
	mockServerCmd.Flags().StringVar(&mockAddr, "addr", "", "Listen address (default 127.0.0.1:8000)")
	mockServerCmd.Flags().StringVar(&mockScenarios, "scenarios", "", "YAML scenario file")
	mockServerCmd.Flags().StringVar(&mockModel, "model", "", "Model name reported by the status endpoint")
	mockServerCmd.Flags().BoolVar(&mockNotReady, "not-ready", false, "Report the agent as not ready")

	rootCmd.AddCommand(versionCmd)
}

// loadSettings loads the config file and applies flag overrides. Flags win
// over the environment, which wins over the file.
func loadSettings(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if apiURL != "" {
		cfg.API.BaseURL = strings.TrimSpace(apiURL)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	appConfig = cfg

	ux.InitPersonality(cfg.Chat.Personality)
	if personalityLevel != "" {
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
	}
	return nil
}
