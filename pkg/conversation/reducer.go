// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"encoding/json"

	"github.com/AleutianAI/docqa/pkg/stream"
)

// ErrorPrefix is prepended to the content of an agent error event.
const ErrorPrefix = "Error: "

// Reduce returns the turn that results from applying ev to turn.
//
// Reduce is pure: turn is never modified, and the result shares no
// mutable step storage with it. Merge policy per event type:
//
//   - thought: append a step unless a step with the exact same thought text
//     already exists. Tool defaults to "think" when absent.
//   - thought_chunk: extend the last step's thought, or start a "think"
//     step when there are none.
//   - observation: overwrite the last step's observation. No-op without steps.
//   - answer_chunk: append to Content.
//   - final_answer: replace Content and stop streaming.
//   - error: set Content to "Error: <content>", mark IsError, stop streaming.
//
// Unknown event types leave the turn unchanged. Steps are never reordered
// or removed.
func Reduce(turn Turn, ev stream.Event) Turn {
	next := turn

	switch ev.Type {
	case stream.EventThought:
		for _, s := range turn.Steps {
			if s.Thought == ev.Content {
				return turn
			}
		}
		step := Step{Thought: ev.Content, Tool: DefaultTool}
		if ev.Tool != nil {
			step.Tool = *ev.Tool
		}
		if ev.HasToolInput() {
			step.ToolInput = append(json.RawMessage(nil), ev.ToolInput...)
		}
		next.Steps = appendStep(turn.Steps, step)

	case stream.EventThoughtChunk:
		if len(turn.Steps) == 0 {
			next.Steps = []Step{{Thought: ev.Content, Tool: DefaultTool}}
			break
		}
		next.Steps = copySteps(turn.Steps)
		next.Steps[len(next.Steps)-1].Thought += ev.Content

	case stream.EventObservation:
		if len(turn.Steps) == 0 {
			return turn
		}
		next.Steps = copySteps(turn.Steps)
		next.Steps[len(next.Steps)-1].Observation = ev.Content

	case stream.EventAnswerChunk:
		next.Content += ev.Content

	case stream.EventFinalAnswer:
		next.Content = ev.Content
		next.IsStreaming = false

	case stream.EventError:
		next.Content = ErrorPrefix + ev.Content
		next.IsError = true
		next.IsStreaming = false

	default:
		return turn
	}

	return next
}

// ReduceAll folds events into turn in order.
func ReduceAll(turn Turn, events ...stream.Event) Turn {
	for _, ev := range events {
		turn = Reduce(turn, ev)
	}
	return turn
}

// CheckEvent reports a *ProtocolViolation when ev cannot apply to turn in
// any meaningful way. Reduce tolerates every such case as a no-op; this is
// for diagnostics only.
func CheckEvent(turn Turn, ev stream.Event) error {
	if ev.Type == stream.EventObservation && len(turn.Steps) == 0 {
		return &ProtocolViolation{Event: ev.Type, Reason: "observation without a preceding step"}
	}
	return nil
}

func appendStep(steps []Step, s Step) []Step {
	out := make([]Step, len(steps), len(steps)+1)
	copy(out, steps)
	return append(out, s)
}

func copySteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}
