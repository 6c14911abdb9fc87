// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation holds the chat transcript and the rules for folding
// streamed agent events into it.
//
// The package has two halves:
//
//   - Reduce: a pure function from (Turn, Event) to the next Turn.
//   - Store: the single mutable owner of the ordered turn list. It hands out
//     deep copies only, so readers never observe a half-applied event.
//
// Invariant: at most one assistant turn is open (streaming), and when one
// is open it is the last turn in the list.
package conversation

import (
	"bytes"
	"encoding/json"
	"time"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// CloseReason records how an assistant turn stopped streaming.
type CloseReason string

const (
	// CloseNone marks a turn that is still open, or a user turn.
	CloseNone CloseReason = ""

	// CloseCompleted follows a final_answer event.
	CloseCompleted CloseReason = "completed"

	// CloseErrored follows an error event sent by the agent.
	CloseErrored CloseReason = "errored"

	// CloseSilent means the stream ended without a terminal event.
	CloseSilent CloseReason = "silent"

	// CloseAborted means the caller cancelled the exchange. Content is kept
	// exactly as for CloseSilent.
	CloseAborted CloseReason = "aborted"

	// CloseTransportFailed means the connection failed before or during
	// streaming. The turn is marked as an error.
	CloseTransportFailed CloseReason = "transport_failed"
)

// IsError reports whether turns closed for this reason carry IsError.
func (r CloseReason) IsError() bool {
	return r == CloseErrored || r == CloseTransportFailed
}

// DefaultTool is the tool name given to reasoning steps that did not name one.
const DefaultTool = "think"

// Step is one reasoning or tool step inside an assistant turn.
//
// ToolInput keeps the agent's raw JSON value. An empty ToolInput stands for
// the empty string.
type Step struct {
	Thought     string          `json:"thought"`
	Tool        string          `json:"tool"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`
	Observation string          `json:"observation"`
}

// ToolInputText renders ToolInput for display. JSON strings are unquoted;
// structured values are returned as compact JSON.
func (s Step) ToolInputText() string {
	if len(s.ToolInput) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(s.ToolInput, &str); err == nil {
		return str
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, s.ToolInput); err != nil {
		return string(s.ToolInput)
	}
	return buf.String()
}

func (s Step) clone() Step {
	if s.ToolInput != nil {
		s.ToolInput = append(json.RawMessage(nil), s.ToolInput...)
	}
	return s
}

// Turn is one entry of the conversation.
type Turn struct {
	ID          string      `json:"id"`
	Role        Role        `json:"role"`
	Content     string      `json:"content"`
	Steps       []Step      `json:"steps,omitempty"`
	IsStreaming bool        `json:"is_streaming"`
	IsError     bool        `json:"is_error"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	ClosedAt    time.Time   `json:"closed_at,omitzero"`
}

// IsOpen reports whether the turn is an assistant turn still streaming.
func (t Turn) IsOpen() bool {
	return t.Role == RoleAssistant && t.IsStreaming
}

// LastStep returns the most recent step, if any.
func (t Turn) LastStep() (Step, bool) {
	if len(t.Steps) == 0 {
		return Step{}, false
	}
	return t.Steps[len(t.Steps)-1], true
}

// Clone returns a deep copy that shares no memory with t.
func (t Turn) Clone() Turn {
	if t.Steps != nil {
		steps := make([]Step, len(t.Steps))
		for i, s := range t.Steps {
			steps[i] = s.clone()
		}
		t.Steps = steps
	}
	return t
}

// CloneTurns deep-copies a list of turns.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}
