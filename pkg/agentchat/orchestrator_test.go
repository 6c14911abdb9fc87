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
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/docqa/pkg/conversation"
	"github.com/AleutianAI/docqa/pkg/logging"
)

// =============================================================================
// Test Helpers
// =============================================================================

// scriptedOpener serves one canned body per call and records requests.
type scriptedOpener struct {
	mu       sync.Mutex
	bodies   []string
	requests []ChatRequest
	wrap     func(io.Reader) io.Reader
	openErr  error
}

func (s *scriptedOpener) Open(_ context.Context, req ChatRequest) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.openErr != nil {
		return nil, s.openErr
	}
	body := ""
	if len(s.bodies) > 0 {
		body, s.bodies = s.bodies[0], s.bodies[1:]
	}
	var r io.Reader = strings.NewReader(body)
	if s.wrap != nil {
		r = s.wrap(r)
	}
	return io.NopCloser(r), nil
}

func (s *scriptedOpener) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.requests...)
}

// pipeOpener hands back a pipe the test writes to. The pipe is closed
// with the context error on cancellation, like an HTTP body.
type pipeOpener struct {
	w      *io.PipeWriter
	opened chan struct{}
}

func newPipeOpener() *pipeOpener {
	return &pipeOpener{opened: make(chan struct{})}
}

func (p *pipeOpener) Open(ctx context.Context, _ ChatRequest) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	p.w = pw
	go func() {
		<-ctx.Done()
		_ = pw.CloseWithError(ctx.Err())
	}()
	close(p.opened)
	return pr, nil
}

type memoryRecorder struct {
	mu        sync.Mutex
	exchanges [][2]conversation.Turn
}

func (m *memoryRecorder) RecordExchange(_ context.Context, user, assistant conversation.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = append(m.exchanges, [2]conversation.Turn{user, assistant})
	return nil
}

func newTestOrchestrator(opener StreamOpener, cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard().Slog()
	}
	return New(conversation.NewStore(), opener, cfg)
}

func lines(ls ...string) string {
	return strings.Join(ls, "\n") + "\n"
}

// =============================================================================
// Send Tests
// =============================================================================

func TestSend_SearchScenario(t *testing.T) {
	opener := &scriptedOpener{bodies: []string{lines(
		`{"type":"thought","content":"Look up X","tool":"search"}`,
		`{"type":"observation","content":"X is Y"}`,
		`{"type":"final_answer","content":"X is Y."}`,
	)}}
	o := newTestOrchestrator(opener, Config{})

	result, err := o.Send(context.Background(), "What is X?")
	require.NoError(t, err)

	turn := result.Turn
	assert.Equal(t, conversation.CloseCompleted, result.Reason)
	assert.Equal(t, "X is Y.", turn.Content)
	assert.False(t, turn.IsStreaming)
	assert.False(t, turn.IsError)
	require.Len(t, turn.Steps, 1)
	assert.Equal(t, "search", turn.Steps[0].Tool)
	assert.Equal(t, "Look up X", turn.Steps[0].Thought)
	assert.Equal(t, "X is Y", turn.Steps[0].Observation)
	assert.Equal(t, 3, result.Events)

	snap := o.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "What is X?", snap[0].Content)
	assert.Equal(t, turn, snap[1])
	assert.False(t, o.InProgress())

	reqs := opener.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "What is X?", reqs[0].Query)
	assert.Empty(t, reqs[0].Context)
}

func TestSend_SilentTermination(t *testing.T) {
	opener := &scriptedOpener{bodies: []string{lines(
		`{"type":"thought_chunk","content":"a"}`,
		`{"type":"answer_chunk","content":"b"}`,
	)}}
	o := newTestOrchestrator(opener, Config{})

	result, err := o.Send(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, conversation.CloseSilent, result.Reason)
	assert.False(t, result.Turn.IsStreaming)
	assert.False(t, result.Turn.IsError)
	assert.Equal(t, "b", result.Turn.Content)
	require.Len(t, result.Turn.Steps, 1)
	assert.Equal(t, "a", result.Turn.Steps[0].Thought)
}

func TestSend_EmptyStream(t *testing.T) {
	o := newTestOrchestrator(&scriptedOpener{bodies: []string{""}}, Config{})

	result, err := o.Send(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, conversation.CloseSilent, result.Reason)
	assert.Empty(t, result.Turn.Content)
	assert.Zero(t, result.Events)
}

func TestSend_MalformedLineDoesNotInterrupt(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	opener := &scriptedOpener{bodies: []string{lines(
		`{"type":"answer_chunk","content":"one "}`,
		`{"type":"answer_chunk","content":`,
		``,
		`{"type":"heartbeat","content":""}`,
		`{"type":"answer_chunk","content":"two"}`,
	)}}
	o := newTestOrchestrator(opener, Config{Metrics: metrics})

	result, err := o.Send(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, "one two", result.Turn.Content)
	assert.Equal(t, 2, result.Events)
	assert.Equal(t, 2, result.Malformed)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MalformedLinesTotal.WithLabelValues("invalid_json")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MalformedLinesTotal.WithLabelValues("unknown_type")))
}

func TestSend_ChunkBoundariesDoNotMatter(t *testing.T) {
	body := lines(
		`{"type":"thought","content":"Größe prüfen","tool":"search"}`,
		`{"type":"answer_chunk","content":"日本"}`,
		`{"type":"final_answer","content":"答え 🚀"}`,
	)

	whole := newTestOrchestrator(&scriptedOpener{bodies: []string{body}}, Config{})
	want, err := whole.Send(context.Background(), "q")
	require.NoError(t, err)

	split := newTestOrchestrator(&scriptedOpener{
		bodies: []string{body},
		wrap:   iotest.OneByteReader,
	}, Config{})
	got, err := split.Send(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, want.Turn.Content, got.Turn.Content)
	assert.Equal(t, want.Turn.Steps, got.Turn.Steps)
	assert.Equal(t, "答え 🚀", got.Turn.Content)
}

func TestSend_AgentErrorEvent(t *testing.T) {
	opener := &scriptedOpener{bodies: []string{lines(
		`{"type":"answer_chunk","content":"partial"}`,
		`{"type":"error","content":"model unavailable"}`,
		`{"type":"answer_chunk","content":"ignored"}`,
	)}}
	o := newTestOrchestrator(opener, Config{})

	result, err := o.Send(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, conversation.CloseErrored, result.Reason)
	assert.Equal(t, "Error: model unavailable", result.Turn.Content)
	assert.True(t, result.Turn.IsError)
	assert.Equal(t, 2, result.Events)
}

func TestSend_TransportFailureOnOpen(t *testing.T) {
	opener := &scriptedOpener{openErr: &TransportError{Op: OpStatus, StatusCode: 503, Body: "overloaded"}}
	o := newTestOrchestrator(opener, Config{})

	result, err := o.Send(context.Background(), "q")
	require.Error(t, err)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 503, te.StatusCode)
	assert.Equal(t, conversation.CloseTransportFailed, result.Reason)
	assert.True(t, result.Turn.IsError)
	assert.False(t, result.Turn.IsStreaming)
	assert.Equal(t, "Sorry, an error occurred: server error (503): overloaded", result.Turn.Content)
	assert.False(t, o.InProgress())
}

func TestSend_TransportFailureMidStream(t *testing.T) {
	boom := errors.New("connection reset by peer")
	opener := StreamOpenerFunc(func(context.Context, ChatRequest) (io.ReadCloser, error) {
		return io.NopCloser(io.MultiReader(
			strings.NewReader(lines(
				`{"type":"thought","content":"searching"}`,
				`{"type":"answer_chunk","content":"partial"}`,
			)),
			iotest.ErrReader(boom),
		)), nil
	})
	o := newTestOrchestrator(opener, Config{})

	result, err := o.Send(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsTransportError(err))

	turn := result.Turn
	assert.True(t, turn.IsError)
	assert.Equal(t, conversation.CloseTransportFailed, turn.CloseReason)
	assert.Equal(t, "partial\n\nSorry, an error occurred: read: connection reset by peer", turn.Content)
	assert.Len(t, turn.Steps, 1, "steps survive a transport failure")
}

func TestSend_RejectsEmptyMessage(t *testing.T) {
	o := newTestOrchestrator(&scriptedOpener{}, Config{})

	_, err := o.Send(context.Background(), "   \n\t")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, o.Store().Len())
}

func TestSend_RejectsOversizedMessage(t *testing.T) {
	o := newTestOrchestrator(&scriptedOpener{}, Config{})

	_, err := o.Send(context.Background(), strings.Repeat("x", MaxQueryBytes+1))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, o.Store().Len())
}

func TestSend_RejectsWhileInProgress(t *testing.T) {
	opener := newPipeOpener()
	o := newTestOrchestrator(opener, Config{})

	done := make(chan ExchangeResult, 1)
	go func() {
		result, _ := o.Send(context.Background(), "first")
		done <- result
	}()
	<-opener.opened

	assert.True(t, o.InProgress())
	_, err := o.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrExchangeInProgress)
	assert.Equal(t, 2, o.Store().Len())

	_, err = opener.w.Write([]byte(`{"type":"final_answer","content":"ok"}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, opener.w.Close())

	result := <-done
	assert.Equal(t, "ok", result.Turn.Content)
	assert.False(t, o.InProgress())
}

func TestAbort_KeepsPartialContent(t *testing.T) {
	opener := newPipeOpener()
	o := newTestOrchestrator(opener, Config{})

	applied := make(chan struct{}, 8)
	o.Store().Subscribe(func(c conversation.Change) {
		if c.Kind == conversation.ChangeUpdated {
			applied <- struct{}{}
		}
	})

	type outcome struct {
		result ExchangeResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := o.Send(context.Background(), "q")
		done <- outcome{result, err}
	}()
	<-opener.opened

	go func() {
		_, _ = opener.w.Write([]byte(`{"type":"answer_chunk","content":"half an answer"}` + "\n"))
	}()
	select {
	case <-applied:
	case <-time.After(5 * time.Second):
		t.Fatal("event was never applied")
	}

	assert.True(t, o.Abort())

	var out outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Send did not return after Abort")
	}

	require.NoError(t, out.err)
	assert.Equal(t, conversation.CloseAborted, out.result.Reason)
	assert.Equal(t, "half an answer", out.result.Turn.Content)
	assert.False(t, out.result.Turn.IsStreaming)
	assert.False(t, out.result.Turn.IsError)
	assert.False(t, o.Abort(), "nothing left to abort")
}

func TestSend_ParentContextCancelledIsAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opener := StreamOpenerFunc(func(ctx context.Context, _ ChatRequest) (io.ReadCloser, error) {
		return nil, &TransportError{Op: OpOpen, Err: ctx.Err()}
	})
	o := newTestOrchestrator(opener, Config{})

	result, err := o.Send(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, conversation.CloseAborted, result.Reason)
	assert.False(t, result.Turn.IsError)
}

func TestSend_SendsContextWindow(t *testing.T) {
	opener := &scriptedOpener{bodies: []string{
		lines(`{"type":"final_answer","content":"a1"}`),
		lines(`{"type":"error","content":"nope"}`),
		lines(`{"type":"final_answer","content":"a3"}`),
		lines(`{"type":"final_answer","content":"a4"}`),
	}}
	o := newTestOrchestrator(opener, Config{ContextPairs: 2})

	for _, q := range []string{"q1", "q2", "q3", "q4"} {
		_, err := o.Send(context.Background(), q)
		require.NoError(t, err)
	}

	reqs := opener.Requests()
	require.Len(t, reqs, 4)
	assert.Empty(t, reqs[0].Context)
	assert.Equal(t, []conversation.Pair{{Question: "q1", Answer: "a1"}}, reqs[1].Context)
	assert.Equal(t, []conversation.Pair{{Question: "q1", Answer: "a1"}}, reqs[2].Context, "errored exchange is omitted")
	assert.Equal(t, []conversation.Pair{
		{Question: "q1", Answer: "a1"},
		{Question: "q3", Answer: "a3"},
	}, reqs[3].Context)
}

func TestSend_NegativeContextPairsSendsNone(t *testing.T) {
	opener := &scriptedOpener{bodies: []string{
		lines(`{"type":"final_answer","content":"a1"}`),
		lines(`{"type":"final_answer","content":"a2"}`),
	}}
	o := newTestOrchestrator(opener, Config{ContextPairs: -1})

	for _, q := range []string{"q1", "q2"} {
		_, err := o.Send(context.Background(), q)
		require.NoError(t, err)
	}
	assert.Empty(t, opener.Requests()[1].Context)
}

func TestSend_ContextPairsAboveLimitAreClamped(t *testing.T) {
	const exchanges = 30
	bodies := make([]string, exchanges)
	for i := range bodies {
		bodies[i] = lines(fmt.Sprintf(`{"type":"final_answer","content":"a%d"}`, i))
	}
	opener := &scriptedOpener{bodies: bodies}
	o := newTestOrchestrator(opener, Config{ContextPairs: MaxContextPairs + 5})

	for i := 0; i < exchanges; i++ {
		result, err := o.Send(context.Background(), fmt.Sprintf("q%d", i))
		require.NoError(t, err, "exchange %d", i)
		assert.Equal(t, conversation.CloseCompleted, result.Reason)
	}

	reqs := opener.Requests()
	require.Len(t, reqs, exchanges)
	last := reqs[exchanges-1]
	require.Len(t, last.Context, MaxContextPairs)
	assert.Equal(t, conversation.Pair{Question: "q9", Answer: "a9"}, last.Context[0])
	assert.Equal(t, conversation.Pair{Question: "q28", Answer: "a28"}, last.Context[MaxContextPairs-1])
}

func TestSend_RecordsExchange(t *testing.T) {
	rec := &memoryRecorder{}
	opener := &scriptedOpener{bodies: []string{lines(`{"type":"final_answer","content":"done"}`)}}
	o := newTestOrchestrator(opener, Config{Recorder: rec})

	_, err := o.Send(context.Background(), "q")
	require.NoError(t, err)

	require.Len(t, rec.exchanges, 1)
	assert.Equal(t, "q", rec.exchanges[0][0].Content)
	assert.Equal(t, "done", rec.exchanges[0][1].Content)
	assert.Equal(t, conversation.CloseCompleted, rec.exchanges[0][1].CloseReason)
}

func TestSend_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	body := lines(
		`{"type":"thought","content":"t"}`,
		`{"type":"answer_chunk","content":"a"}`,
		`{"type":"final_answer","content":"done"}`,
	)
	o := newTestOrchestrator(&scriptedOpener{bodies: []string{body}}, Config{Metrics: metrics})

	_, err := o.Send(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ExchangesTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsTotal.WithLabelValues("thought")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsTotal.WithLabelValues("final_answer")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ActiveExchanges))
	assert.Equal(t, float64(len(body)), testutil.ToFloat64(metrics.BytesReceivedTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.TimeToFirstEventSeconds))
}

func TestMalformedReason(t *testing.T) {
	assert.Equal(t, "other", malformedReason(errors.New("x")))
}
