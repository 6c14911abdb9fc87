// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"time"

	"github.com/AleutianAI/docqa/pkg/agentchat"
	"github.com/AleutianAI/docqa/pkg/conversation"
	"github.com/AleutianAI/docqa/pkg/telemetry"
)

// CurrentConfigVersion is written to new config files.
const CurrentConfigVersion = "1"

// DocQAConfig is the on-disk CLI configuration.
type DocQAConfig struct {
	Meta       MetaConfig       `yaml:"meta"`
	API        APIConfig        `yaml:"api"`
	Chat       ChatConfig       `yaml:"chat"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

// APIConfig locates the agent.
type APIConfig struct {
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	ChatPath       string        `yaml:"chat_path" validate:"required,startswith=/"`
	StatusPath     string        `yaml:"status_path" validate:"required,startswith=/"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gte=0"`
}

type ChatConfig struct {
	// ContextPairs is how many earlier exchanges accompany each question.
	// Zero uses the default, -1 sends none. The agent accepts at most 20.
	ContextPairs int `yaml:"context_pairs" validate:"gte=-1,lte=20"`

	// Personality is full, standard, minimal or machine. Empty picks one
	// from the terminal.
	Personality string `yaml:"personality" validate:"omitempty,oneof=full standard minimal machine"`

	// ExchangeTimeout bounds one exchange. Zero disables it.
	ExchangeTimeout time.Duration `yaml:"exchange_timeout" validate:"gte=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled"`
	TraceExporter  string `yaml:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`

	// MetricsAddr serves /metrics while a chat runs, e.g. 127.0.0.1:9464.
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

type TranscriptConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() DocQAConfig {
	return DocQAConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		API: APIConfig{
			BaseURL:        agentchat.DefaultBaseURL,
			ChatPath:       agentchat.DefaultChatPath,
			StatusPath:     agentchat.DefaultStatusPath,
			ConnectTimeout: 10 * time.Second,
		},
		Chat: ChatConfig{
			ContextPairs: conversation.DefaultContextPairs,
		},
		Logging: LoggingConfig{
			Level: "warn",
			Dir:   "~/.docqa/logs",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  telemetry.ExporterNone,
			MetricExporter: telemetry.ExporterPrometheus,
			OTLPEndpoint:   "localhost:4317",
		},
		Transcript: TranscriptConfig{
			Enabled: true,
			Path:    "~/.docqa/transcripts",
		},
	}
}
