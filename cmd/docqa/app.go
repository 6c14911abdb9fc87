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
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/docqa/cmd/docqa/config"
	"github.com/AleutianAI/docqa/pkg/agentchat"
	"github.com/AleutianAI/docqa/pkg/conversation"
	"github.com/AleutianAI/docqa/pkg/logging"
	"github.com/AleutianAI/docqa/pkg/telemetry"
	"github.com/AleutianAI/docqa/pkg/transcript"
	"github.com/AleutianAI/docqa/pkg/ux"
)

const telemetryShutdownTimeout = 5 * time.Second

// chatApp wires the conversation store, orchestrator, renderer and the
// optional transcript archive, metrics and telemetry for one command run.
type chatApp struct {
	cfg      config.DocQAConfig
	logger   *logging.Logger
	printer  *ux.Printer
	store    *conversation.Store
	orch     *agentchat.Orchestrator
	registry *prometheus.Registry
	archive  *transcript.Archive
	renderer *ux.Renderer
	observer *ux.CoalescingObserver

	unsubscribe       func()
	shutdownTelemetry func(context.Context) error
}

// appOptions adjusts newChatApp for a command.
type appOptions struct {
	// Out receives rendered turns and printer output.
	Out io.Writer

	// ErrOut receives warnings, errors and logs.
	ErrOut io.Writer
}

// newChatApp builds the stack from cfg. The caller must Close it.
func newChatApp(ctx context.Context, cfg config.DocQAConfig, opts appOptions) (*chatApp, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.ErrOut == nil {
		opts.ErrOut = os.Stderr
	}
	personality := ux.GetPersonality()

	a := &chatApp{
		cfg:      cfg,
		logger:   newLogger(cfg.Logging, opts.ErrOut),
		printer:  ux.NewPrinter(opts.Out, opts.ErrOut, personality.Level),
		store:    conversation.NewStore(),
		registry: prometheus.NewRegistry(),
	}
	slogger := a.logger.Slog()

	if cfg.Telemetry.Enabled {
		tcfg := telemetry.DefaultConfig()
		tcfg.ServiceVersion = version
		tcfg.TraceExporter = cfg.Telemetry.TraceExporter
		tcfg.MetricExporter = cfg.Telemetry.MetricExporter
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
		tcfg.Writer = opts.ErrOut
		tcfg.Registry = a.registry
		shutdown, err := telemetry.Init(ctx, tcfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		a.shutdownTelemetry = shutdown
	}

	orchCfg := agentchat.Config{
		ContextPairs: cfg.Chat.ContextPairs,
		Logger:       slogger,
		Metrics:      agentchat.NewMetrics(a.registry),
	}
	if cfg.Transcript.Enabled {
		archive, err := openArchive(cfg.Transcript, slogger)
		if err != nil {
			// Chat continues without an archive.
			a.printer.Warning(fmt.Sprintf("Transcript archive unavailable: %v", err))
			slogger.Warn("transcript archive unavailable", "path", cfg.Transcript.Path, "error", err)
		} else {
			a.archive = archive
			orchCfg.Recorder = archive
		}
	}

	opener := agentchat.NewHTTPStreamOpener(agentchat.HTTPConfig{
		BaseURL:    cfg.API.BaseURL,
		ChatPath:   cfg.API.ChatPath,
		StatusPath: cfg.API.StatusPath,
		Logger:     slogger,
	}, agentchat.NewHTTPClient(cfg.API.ConnectTimeout))
	a.orch = agentchat.New(a.store, opener, orchCfg)

	a.renderer = ux.NewRenderer(ux.RendererConfig{
		Writer:    opts.Out,
		Level:     personality.Level,
		ShowSteps: personality.ShowSteps,
		Spinner:   ux.ShouldShowProgress(),
	})
	a.observer = ux.NewCoalescingObserver(a.renderer.Observe, ux.DefaultRedrawRate)
	a.unsubscribe = a.store.Subscribe(a.observer.Observe)

	slogger.Debug("chat stack ready",
		"api", opener.URL(),
		"personality", string(personality.Level),
		"transcript", a.archive != nil,
		"telemetry", cfg.Telemetry.Enabled,
	)
	return a, nil
}

// Close releases everything newChatApp acquired. Safe on a partially built
// app. Failures are logged at debug before the logger itself closes.
func (a *chatApp) Close() error {
	var errs []error
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.observer != nil {
		a.observer.Stop()
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transcript archive: %w", err))
		}
	}
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		if err := a.shutdownTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
		cancel()
	}
	if a.logger != nil {
		if len(errs) > 0 {
			a.logger.Slog().Debug("chat app shutdown incomplete", slog.Any("error", errors.Join(errs...)))
		}
		if err := a.logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// serveMetrics exposes the app's registry on addr until ctx is done.
func (a *chatApp) serveMetrics(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	a.logger.Debug("metrics endpoint listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

func newLogger(cfg config.LoggingConfig, out io.Writer) *logging.Logger {
	level, ok := logging.ParseLevel(cfg.Level)
	if !ok {
		level = logging.LevelWarn
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Dir,
		Service: "docqa",
		JSON:    cfg.JSON,
		Output:  out,
	})
}

func openArchive(cfg config.TranscriptConfig, logger *slog.Logger) (*transcript.Archive, error) {
	tcfg := transcript.DefaultConfig(cfg.Path)
	tcfg.Logger = logger
	return transcript.Open(tcfg)
}
