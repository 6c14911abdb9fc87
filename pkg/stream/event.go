// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream turns an agent chat response body into typed events.
//
// The agent streams newline-delimited JSON (NDJSON). Each line is one
// event object keyed by a "type" discriminator:
//
//	{"type":"thought","content":"Look up X","tool":"search","tool_input":{"q":"X"}}
//	{"type":"observation","content":"X is Y"}
//	{"type":"answer_chunk","content":"X is"}
//	{"type":"final_answer","content":"X is Y."}
//
// Two pieces live here:
//
//   - LineReader: reassembles lines from arbitrarily chunked bytes.
//   - Parser: decodes one line into an Event or reports why it could not.
//
// Neither piece touches conversation state. That is the job of the
// conversation package.
package stream

import "encoding/json"

// =============================================================================
// Event Types
// =============================================================================

// EventType is the "type" discriminator of a streamed agent event.
type EventType string

const (
	// EventThought starts a new reasoning step.
	EventThought EventType = "thought"

	// EventThoughtChunk extends the thought of the current step.
	EventThoughtChunk EventType = "thought_chunk"

	// EventObservation attaches a tool result to the current step.
	EventObservation EventType = "observation"

	// EventAnswerChunk appends to the answer buffer.
	EventAnswerChunk EventType = "answer_chunk"

	// EventFinalAnswer replaces the answer buffer and ends the turn.
	EventFinalAnswer EventType = "final_answer"

	// EventError ends the turn in an error state.
	EventError EventType = "error"
)

// knownEventTypes is the closed set of tags this client understands.
var knownEventTypes = map[EventType]struct{}{
	EventThought:      {},
	EventThoughtChunk: {},
	EventObservation:  {},
	EventAnswerChunk:  {},
	EventFinalAnswer:  {},
	EventError:        {},
}

// Known reports whether t is one of the event types this client handles.
func (t EventType) Known() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// IsTerminal reports whether an event of this type closes the turn.
func (t EventType) IsTerminal() bool {
	return t == EventFinalAnswer || t == EventError
}

// String returns the wire name of the type.
func (t EventType) String() string {
	return string(t)
}

// =============================================================================
// Event
// =============================================================================

// Event is one decoded line of the agent stream.
//
// Tool and ToolInput are only meaningful for EventThought. A nil Tool
// means the field was absent (or JSON null). ToolInput holds the raw JSON
// value verbatim so that structured tool arguments survive unchanged.
type Event struct {
	Type      EventType       `json:"type"`
	Content   string          `json:"content"`
	Tool      *string         `json:"tool,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

// HasTool reports whether the event named a tool.
func (e Event) HasTool() bool {
	return e.Tool != nil
}

// HasToolInput reports whether the event carried a tool_input value.
func (e Event) HasToolInput() bool {
	return len(e.ToolInput) > 0
}

// NewEvent builds an event with only a type and content.
func NewEvent(t EventType, content string) Event {
	return Event{Type: t, Content: content}
}

// NewThought builds a thought event. An empty tool leaves Tool unset and a
// nil input leaves ToolInput unset.
func NewThought(content, tool string, input json.RawMessage) Event {
	ev := Event{Type: EventThought, Content: content, ToolInput: input}
	if tool != "" {
		ev.Tool = &tool
	}
	return ev
}
