// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/AleutianAI/docqa/pkg/conversation"
	"github.com/AleutianAI/docqa/pkg/stream"
)

// renderHarness drives a Renderer through a real store.
type renderHarness struct {
	t     *testing.T
	store *conversation.Store
	ids   conversation.ExchangeIDs
	out   *bytes.Buffer
}

func newRenderHarness(t *testing.T, cfg RendererConfig) *renderHarness {
	t.Helper()
	var out bytes.Buffer
	cfg.Writer = &out
	r := NewRenderer(cfg)
	t.Cleanup(r.Close)

	n := 0
	store := conversation.NewStore(conversation.WithIDFunc(func() string {
		n++
		return fmt.Sprintf("turn-%d", n)
	}))
	store.Subscribe(r.Observe)

	ids, err := store.StartExchange("What is X?")
	if err != nil {
		t.Fatalf("StartExchange: %v", err)
	}
	return &renderHarness{t: t, store: store, ids: ids, out: &out}
}

func (h *renderHarness) apply(events ...stream.Event) {
	for _, ev := range events {
		h.store.ApplyEvent(h.ids.AssistantTurnID, ev)
	}
}

func (h *renderHarness) close(reason conversation.CloseReason, detail string) string {
	if _, _, err := h.store.CloseExchange(h.ids.AssistantTurnID, reason, detail); err != nil {
		h.t.Fatalf("CloseExchange: %v", err)
	}
	return h.out.String()
}

func searchScenario() []stream.Event {
	return []stream.Event{
		stream.NewThought("Look up X", "search", json.RawMessage(`"What is X?"`)),
		stream.NewEvent(stream.EventObservation, "X is Y"),
		stream.NewEvent(stream.EventAnswerChunk, "X is "),
		stream.NewEvent(stream.EventAnswerChunk, "Y."),
		stream.NewEvent(stream.EventFinalAnswer, "X is Y."),
	}
}

func assertContains(t *testing.T, got string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

// =============================================================================
// Standard Mode Tests
// =============================================================================

func TestRenderer_Standard_SearchScenario(t *testing.T) {
	h := newRenderHarness(t, RendererConfig{Level: PersonalityStandard, ShowSteps: true})
	h.apply(searchScenario()...)
	got := h.close(conversation.CloseCompleted, "")

	assertContains(t, got, "search", "What is X?", "Look up X", "↳ X is Y", "X is Y.")
	if n := strings.Count(got, "X is Y."); n != 1 {
		t.Errorf("answer printed %d times, want 1:\n%s", n, got)
	}
	if !strings.HasSuffix(got, "\n") {
		t.Errorf("output should end with a newline: %q", got)
	}
}

func TestRenderer_Standard_StreamsIncrementally(t *testing.T) {
	h := newRenderHarness(t, RendererConfig{Level: PersonalityStandard})

	h.apply(stream.NewEvent(stream.EventAnswerChunk, "Hello "))
	if got := h.out.String(); !strings.Contains(got, "Hello ") {
		t.Fatalf("first chunk not printed immediately: %q", got)
	}
	h.apply(stream.NewEvent(stream.EventAnswerChunk, "world"))
	h.apply(stream.NewEvent(stream.EventFinalAnswer, "Hello world"))
	got := h.close(conversation.CloseCompleted, "")

	if n := strings.Count(got, "Hello"); n != 1 {
		t.Errorf("extension of streamed text must not reprint, got %d copies:\n%s", n, got)
	}
}

func TestRenderer_Standard_FinalAnswerReplacesDraft(t *testing.T) {
	h := newRenderHarness(t, RendererConfig{Level: PersonalityStandard})
	h.apply(
		stream.NewEvent(stream.EventAnswerChunk, "draft"),
		stream.NewEvent(stream.EventFinalAnswer, "Final."),
	)
	got := h.close(conversation.CloseCompleted, "")

	assertContains(t, got, "draft", "\nFinal.")
}

func TestRenderer_Standard_ThoughtChunks(t *testing.T) {
	h := newRenderHarness(t, RendererConfig{Level: PersonalityStandard, ShowSteps: true})
	h.apply(
		stream.NewEvent(stream.EventThoughtChunk, "Let me"),
		stream.NewEvent(stream.EventThoughtChunk, " think"),
		stream.NewEvent(stream.EventFinalAnswer, "Done."),
	)
	got := h.close(conversation.CloseCompleted, "")

	assertContains(t, got, conversation.DefaultTool, "Let me think", "Done.")
}

func TestRenderer_HidesStepsWhenDisabled(t *testing.T) {
	h := newRenderHarness(t, RendererConfig{Level: PersonalityMinimal, ShowSteps: false})
	h.apply(searchScenario()...)
	got := h.close(conversation.CloseCompleted, "")

	if strings.Contains(got, "Look up X") {
		t.Errorf("steps should be hidden:\n%s", got)
	}
	assertContains(t, got, "X is Y.")
}

// =============================================================================
// Close Reason Tests
// =============================================================================

func TestRenderer_SilentNotice(t *testing.T) {
	h := newRenderHarness(t, RendererConfig{Level: PersonalityStandard})
	h.apply(stream.NewEvent(stream.EventAnswerChunk, "partial"))
	got := h.close(conversation.CloseSilent, "")

	assertContains(t, got, "partial", noticeSilent)
}

func TestRenderer_InterruptedNotice(t *testing.T) {
	h := newRenderHarness(t, RendererConfig{Level: PersonalityStandard})
	got := h.close(conversation.CloseAborted, "")

	assertContains(t, got, noticeInterrupted)
}

func TestRenderer_AgentError(t *testing.T) {
	h := newRenderHarness(t, RendererConfig{Level: PersonalityStandard})
	h.apply(
		stream.NewEvent(stream.EventAnswerChunk, "partial"),
		stream.NewEvent(stream.EventError, "boom"),
	)
	got := h.close(conversation.CloseErrored, "")

	assertContains(t, got, "partial", "Error: boom")
}

func TestRenderer_TransportFailureKeepsPartial(t *testing.T) {
	h := newRenderHarness(t, RendererConfig{Level: PersonalityStandard})
	h.apply(stream.NewEvent(stream.EventAnswerChunk, "partial"))
	got := h.close(conversation.CloseTransportFailed, "read: connection reset")

	if n := strings.Count(got, "partial"); n != 1 {
		t.Errorf("partial content printed %d times:\n%s", n, got)
	}
	assertContains(t, got, "Sorry, an error occurred: read: connection reset")
}

func TestRenderer_IgnoresUpdatesAfterClose(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(RendererConfig{Writer: &out, Level: PersonalityStandard})

	turn := conversation.Turn{ID: "a1", Role: conversation.RoleAssistant, Content: "done", CloseReason: conversation.CloseCompleted}
	r.Observe(conversation.Change{Kind: conversation.ChangeClosed, Turn: turn})
	before := out.String()

	turn.Content = "done and more"
	r.Observe(conversation.Change{Kind: conversation.ChangeUpdated, Turn: turn})
	r.Observe(conversation.Change{Kind: conversation.ChangeClosed, Turn: turn})

	if out.String() != before {
		t.Errorf("closed turn re-rendered: %q", out.String())
	}
}

// =============================================================================
// Machine Mode Tests
// =============================================================================

func TestRenderer_Machine(t *testing.T) {
	h := newRenderHarness(t, RendererConfig{Level: PersonalityMachine, Spinner: true})
	h.apply(searchScenario()...)
	got := h.close(conversation.CloseCompleted, "")

	want := "STEP: search(What is X?): Look up X\n" +
		"OBSERVATION: X is Y\n" +
		"ANSWER: X is Y.\n"
	if got != want {
		t.Errorf("machine output:\n%q\nwant:\n%q", got, want)
	}
}

func TestRenderer_Machine_Error(t *testing.T) {
	h := newRenderHarness(t, RendererConfig{Level: PersonalityMachine})
	got := h.close(conversation.CloseTransportFailed, "server error (503)")

	if got != "ERROR: Sorry, an error occurred: server error (503)\n" {
		t.Errorf("unexpected machine output %q", got)
	}
}

// =============================================================================
// Full Mode Tests
// =============================================================================

func TestRenderer_Full_RendersMarkdownOnClose(t *testing.T) {
	h := newRenderHarness(t, RendererConfig{Level: PersonalityFull, ShowSteps: true, MarkdownStyle: "notty"})

	h.apply(stream.NewEvent(stream.EventAnswerChunk, "**X** is Y."))
	if strings.Contains(h.out.String(), "is Y.") {
		t.Fatalf("full mode should hold the answer until close: %q", h.out.String())
	}

	h.apply(stream.NewEvent(stream.EventFinalAnswer, "**X** is Y."))
	got := h.close(conversation.CloseCompleted, "")
	assertContains(t, got, "is Y.")
}

func TestRenderer_Full_ErrorBox(t *testing.T) {
	h := newRenderHarness(t, RendererConfig{Level: PersonalityFull, MarkdownStyle: "notty"})
	h.apply(stream.NewEvent(stream.EventError, "agent crashed"))
	got := h.close(conversation.CloseErrored, "")

	assertContains(t, got, "Error: agent crashed", "╭")
}

func TestPaint_StylesEachLine(t *testing.T) {
	got := paint(Styles.Muted, "a\n\nb\n")
	if strings.Count(got, "\n") != 3 {
		t.Errorf("paint changed line structure: %q", got)
	}
	assertContains(t, got, "a", "b")
}
