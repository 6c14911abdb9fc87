// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agentchat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/docqa/pkg/conversation"
	"github.com/AleutianAI/docqa/pkg/stream"
	"github.com/AleutianAI/docqa/pkg/telemetry"
)

// Recorder archives closed exchanges. Implementations must not retain the
// turns beyond the call.
type Recorder interface {
	RecordExchange(ctx context.Context, user, assistant conversation.Turn) error
}

// Config tunes an Orchestrator. Zero values pick defaults.
type Config struct {
	// ContextPairs is how many prior question/answer pairs accompany each
	// request. Zero means conversation.DefaultContextPairs; negative sends
	// none. Values above MaxContextPairs are clamped.
	ContextPairs int

	// Parser decodes lines. Defaults to stream.NewNDJSONParser().
	Parser stream.Parser

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *Metrics

	// Recorder may be nil.
	Recorder Recorder
}

// ExchangeResult summarizes one finished exchange.
type ExchangeResult struct {
	IDs       conversation.ExchangeIDs
	Turn      conversation.Turn
	Reason    conversation.CloseReason
	Events    int
	Malformed int
	Bytes     int64
	Duration  time.Duration
}

// activeExchange is the cancel handle of the open exchange.
type activeExchange struct {
	ids     conversation.ExchangeIDs
	cancel  context.CancelFunc
	aborted bool
}

// Orchestrator runs exchanges against the agent and folds the streamed
// events into its Store.
type Orchestrator struct {
	store  *conversation.Store
	opener StreamOpener
	parser stream.Parser
	logger *slog.Logger

	contextPairs int
	metrics      *Metrics
	recorder     Recorder

	mu     sync.Mutex
	active *activeExchange
}

// New creates an Orchestrator over store and opener.
func New(store *conversation.Store, opener StreamOpener, cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		opener:       opener,
		parser:       cfg.Parser,
		logger:       cfg.Logger,
		contextPairs: cfg.ContextPairs,
		metrics:      cfg.Metrics,
		recorder:     cfg.Recorder,
	}
	if o.parser == nil {
		o.parser = stream.NewNDJSONParser()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	switch {
	case o.contextPairs == 0:
		o.contextPairs = conversation.DefaultContextPairs
	case o.contextPairs > MaxContextPairs:
		o.logger.Warn("context pairs clamped",
			slog.Int("requested", o.contextPairs),
			slog.Int("max", MaxContextPairs),
		)
		o.contextPairs = MaxContextPairs
	}
	return o
}

// Store returns the conversation this orchestrator writes to.
func (o *Orchestrator) Store() *conversation.Store {
	return o.store
}

// Snapshot returns a deep copy of the conversation.
func (o *Orchestrator) Snapshot() []conversation.Turn {
	return o.store.Snapshot()
}

// InProgress reports whether an exchange is open. Input should be disabled
// while it returns true.
func (o *Orchestrator) InProgress() bool {
	return o.store.InProgress()
}

// Abort cancels the open exchange. The turn is closed with its partial
// content intact, exactly like a stream that ended early. Returns false
// when nothing was open.
func (o *Orchestrator) Abort() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return false
	}
	o.active.aborted = true
	o.active.cancel()
	return true
}

// Send runs one exchange to completion.
//
// # Description
//
// Trims text, builds the context window from earlier turns, opens the
// stream and applies every decoded event to the new assistant turn in
// wire order. Malformed lines are logged and skipped. The turn is closed
// when a terminal event arrives, when the stream ends, when ctx is
// cancelled or Abort is called, or when the transport fails.
//
// # Outputs
//
//   - ExchangeResult: ids, the closed assistant turn and counters. Set
//     whenever an exchange was started, including on transport failure.
//   - error: ErrEmptyMessage, ErrExchangeInProgress or ErrInvalidRequest
//     when no exchange was started; a *TransportError when the exchange
//     was started but the connection failed. Aborts and silent ends are
//     not errors.
func (o *Orchestrator) Send(ctx context.Context, text string) (ExchangeResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ExchangeResult{}, ErrEmptyMessage
	}

	req := NewChatRequest(text, o.store.ContextWindow(o.contextPairs))
	if err := req.Validate(); err != nil {
		return ExchangeResult{}, err
	}

	exCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	ids, err := o.store.StartExchange(text)
	if err != nil {
		o.mu.Unlock()
		return ExchangeResult{}, err
	}
	o.active = &activeExchange{ids: ids, cancel: cancel}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.active = nil
		o.mu.Unlock()
	}()

	exCtx, span := telemetry.StartSpan(exCtx, telemetry.TracerName, "agentchat.Orchestrator.Send",
		trace.WithAttributes(
			attribute.String("assistant_turn_id", ids.AssistantTurnID),
			attribute.Int("context.pairs", len(req.Context)),
		),
	)
	defer span.End()

	logger := telemetry.LoggerWithTrace(exCtx, o.logger).With("assistant_turn_id", ids.AssistantTurnID)
	logger.Debug("exchange started", "context_pairs", len(req.Context))

	o.metrics.exchangeStarted()
	run := &exchangeRun{o: o, ids: ids, logger: logger, span: span, started: time.Now()}
	reason, detail, runErr := run.drain(exCtx, req)

	turn, _, err := o.store.CloseExchange(ids.AssistantTurnID, reason, detail)
	if err != nil {
		logger.Error("failed to close exchange", "error", err)
	}

	result := ExchangeResult{
		IDs:       ids,
		Turn:      turn,
		Reason:    reason,
		Events:    run.events,
		Malformed: run.malformed,
		Bytes:     run.bytes,
		Duration:  time.Since(run.started),
	}
	o.metrics.exchangeClosed(reason, result.Duration, result.Bytes)

	span.SetAttributes(
		attribute.String("close_reason", string(reason)),
		attribute.Int("events", result.Events),
		attribute.Int("malformed", result.Malformed),
	)
	if runErr != nil {
		telemetry.RecordError(span, runErr)
	} else {
		telemetry.SetSpanOK(span)
	}

	logger.Info("exchange closed",
		"reason", reason,
		"events", result.Events,
		"malformed", result.Malformed,
		"bytes", result.Bytes,
		"duration_ms", result.Duration.Milliseconds(),
	)

	o.record(ctx, ids, logger)
	return result, runErr
}

func (o *Orchestrator) record(ctx context.Context, ids conversation.ExchangeIDs, logger *slog.Logger) {
	if o.recorder == nil {
		return
	}
	user, ok := o.store.Turn(ids.UserTurnID)
	if !ok {
		return
	}
	assistant, ok := o.store.Turn(ids.AssistantTurnID)
	if !ok {
		return
	}
	if err := o.recorder.RecordExchange(context.WithoutCancel(ctx), user, assistant); err != nil {
		logger.Warn("failed to record exchange", "error", err)
	}
}

func (o *Orchestrator) wasAborted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil && o.active.aborted
}

// =============================================================================
// Exchange Pipeline
// =============================================================================

// exchangeRun holds the per-exchange counters of one Send call.
type exchangeRun struct {
	o       *Orchestrator
	ids     conversation.ExchangeIDs
	logger  *slog.Logger
	span    trace.Span
	started time.Time

	events    int
	malformed int
	bytes     int64
}

// drain opens the stream and applies events until it ends. It returns the
// close reason, the failure detail for transport failures, and the
// transport error to hand back to the caller.
func (r *exchangeRun) drain(ctx context.Context, req ChatRequest) (conversation.CloseReason, string, error) {
	body, err := r.o.opener.Open(ctx, req)
	if err != nil {
		return r.failure(ctx, OpOpen, err)
	}
	defer func() {
		if cerr := body.Close(); cerr != nil {
			r.logger.Debug("failed to close response body", "error", cerr)
		}
	}()

	lr := stream.NewLineReader(body)
	defer func() { r.bytes = lr.BytesRead() }()

	current := conversation.Turn{Role: conversation.RoleAssistant, IsStreaming: true}
	for {
		line, err := lr.Next(ctx)
		if errors.Is(err, io.EOF) {
			return conversation.CloseSilent, "", nil
		}
		if err != nil {
			return r.failure(ctx, OpRead, err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		ev, err := r.o.parser.ParseLine(line)
		if err != nil {
			r.skip(err)
			continue
		}

		if v := conversation.CheckEvent(current, ev); v != nil {
			r.logger.Debug("ignoring event", "error", v)
		}
		next, ok := r.o.store.ApplyEvent(r.ids.AssistantTurnID, ev)
		if !ok {
			// The turn is no longer open; nothing more can apply.
			return conversation.CloseSilent, "", nil
		}
		current = next
		r.events++
		if r.events == 1 {
			r.o.metrics.firstEvent(time.Since(r.started))
			telemetry.AddSpanEvent(r.span, "first_event", attribute.String("type", ev.Type.String()))
		}
		r.o.metrics.eventApplied(ev.Type)

		switch ev.Type {
		case stream.EventFinalAnswer:
			return conversation.CloseCompleted, "", nil
		case stream.EventError:
			r.logger.Warn("agent reported an error", "content", ev.Content)
			return conversation.CloseErrored, "", nil
		}
	}
}

// failure classifies a transport error. Cancellation is an abort, which
// keeps partial content and is not reported as an error.
func (r *exchangeRun) failure(ctx context.Context, op string, err error) (conversation.CloseReason, string, error) {
	if ctx.Err() != nil || r.o.wasAborted() {
		return conversation.CloseAborted, "", nil
	}
	var te *TransportError
	if !errors.As(err, &te) {
		te = &TransportError{Op: op, Err: err}
	}
	r.logger.Error("agent stream failed", "op", te.Op, "error", te)
	return conversation.CloseTransportFailed, te.Error(), te
}

func (r *exchangeRun) skip(err error) {
	r.malformed++
	reason := malformedReason(err)
	r.o.metrics.malformedLine(reason)
	if stream.IsUnknownType(err) {
		r.logger.Debug("skipping event of unknown type", "error", err)
		return
	}
	r.logger.Warn("skipping malformed stream line", "reason", reason, "error", err)
}

func malformedReason(err error) string {
	switch {
	case errors.Is(err, stream.ErrInvalidJSON):
		return "invalid_json"
	case errors.Is(err, stream.ErrMissingType):
		return "missing_type"
	case errors.Is(err, stream.ErrUnknownEventType):
		return "unknown_type"
	case errors.Is(err, stream.ErrMissingContent):
		return "missing_content"
	case errors.Is(err, stream.ErrInvalidField):
		return "invalid_field"
	default:
		return "other"
	}
}
