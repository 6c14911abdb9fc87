// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

// DefaultContextPairs is how many recent question/answer pairs are sent
// with each request.
const DefaultContextPairs = 3

// Pair is one prior exchange sent to the agent as context.
type Pair struct {
	Question string `json:"question" validate:"required"`
	Answer   string `json:"answer" validate:"required"`
}

// BuildContext returns up to maxPairs of the most recent complete
// exchanges, oldest first.
//
// A user turn is paired with the assistant turn directly after it. Pairs
// are skipped when the assistant turn is missing, still streaming, marked
// as an error, or has no answer text. A non-positive maxPairs yields nil.
func BuildContext(turns []Turn, maxPairs int) []Pair {
	if maxPairs <= 0 {
		return nil
	}

	var pairs []Pair
	for i := len(turns) - 1; i > 0 && len(pairs) < maxPairs; i-- {
		answer := turns[i]
		question := turns[i-1]
		if answer.Role != RoleAssistant || question.Role != RoleUser {
			continue
		}
		if answer.IsStreaming || answer.IsError || answer.Content == "" || question.Content == "" {
			continue
		}
		pairs = append(pairs, Pair{Question: question.Content, Answer: answer.Content})
		i--
	}

	for l, r := 0, len(pairs)-1; l < r; l, r = l+1, r-1 {
		pairs[l], pairs[r] = pairs[r], pairs[l]
	}
	return pairs
}

// ContextWindow is a convenience that builds the context from the store's
// current snapshot.
func (s *Store) ContextWindow(maxPairs int) []Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return BuildContext(s.turns, maxPairs)
}
