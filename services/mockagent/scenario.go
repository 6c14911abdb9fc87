// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mockagent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/docqa/pkg/conversation"
	"github.com/AleutianAI/docqa/pkg/stream"
)

// QueryPlaceholder in event content is replaced with the user's query.
const QueryPlaceholder = "{{query}}"

var scenarioValidate = validator.New()

// ScenarioFile is the YAML document loaded by LoadScenarios.
type ScenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios" validate:"required,min=1,dive"`
}

// Scenario scripts one streamed response.
type Scenario struct {
	// Name identifies the scenario in logs.
	Name string `yaml:"name" validate:"required"`

	// Match selects the scenario when the query contains it, ignoring case.
	// An empty Match matches every query.
	Match string `yaml:"match"`

	// Events are emitted in order.
	Events []ScenarioEvent `yaml:"events" validate:"dive"`

	// ChunkSize splits the encoded stream into writes of this many bytes,
	// each flushed separately. Zero writes one line per flush.
	ChunkSize int `yaml:"chunk_size" validate:"gte=0"`

	// Delay is slept between writes.
	Delay time.Duration `yaml:"delay" validate:"gte=0"`

	// FailStatus, when set, answers with this HTTP status and FailBody
	// instead of streaming.
	FailStatus int    `yaml:"fail_status" validate:"omitempty,gte=400,lte=599"`
	FailBody   string `yaml:"fail_body"`

	// CutAfter closes the connection after this many bytes without
	// finishing the stream. Zero streams everything.
	CutAfter int `yaml:"cut_after" validate:"gte=0"`
}

// ScenarioEvent is one line of a scenario.
type ScenarioEvent struct {
	Type      string      `yaml:"type" validate:"omitempty,oneof=thought thought_chunk observation answer_chunk final_answer error"`
	Content   string      `yaml:"content"`
	Tool      string      `yaml:"tool"`
	ToolInput interface{} `yaml:"tool_input"`

	// Raw is written verbatim instead of an encoded event.
	Raw string `yaml:"raw"`
}

// LoadScenarios reads and validates a scenario file.
func LoadScenarios(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return ParseScenarios(data)
}

// ParseScenarios decodes and validates scenario YAML.
func ParseScenarios(data []byte) ([]Scenario, error) {
	var file ScenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse scenario file: %w", err)
	}
	if err := scenarioValidate.Struct(file); err != nil {
		return nil, fmt.Errorf("invalid scenario file: %w", err)
	}
	for _, s := range file.Scenarios {
		for i, ev := range s.Events {
			if (ev.Type == "") == (ev.Raw == "") {
				return nil, fmt.Errorf("invalid scenario file: scenario %q event %d needs exactly one of type or raw", s.Name, i)
			}
		}
	}
	return file.Scenarios, nil
}

// DefaultScenarios answers every query by echoing it back.
func DefaultScenarios() []Scenario {
	return []Scenario{{
		Name:      "echo",
		ChunkSize: 16,
		Events: []ScenarioEvent{
			{Type: string(stream.EventThought), Content: "Reading the question", Tool: "search", ToolInput: QueryPlaceholder},
			{Type: string(stream.EventObservation), Content: "No documents matched; echoing the query."},
			{Type: string(stream.EventAnswerChunk), Content: "You asked: "},
			{Type: string(stream.EventAnswerChunk), Content: QueryPlaceholder},
			{Type: string(stream.EventFinalAnswer), Content: "You asked: " + QueryPlaceholder},
		},
	}}
}

// Select returns the first scenario matching query.
func Select(scenarios []Scenario, query string) (Scenario, bool) {
	q := strings.ToLower(query)
	for _, s := range scenarios {
		if s.Match == "" || strings.Contains(q, strings.ToLower(s.Match)) {
			return s, true
		}
	}
	return Scenario{}, false
}

// StreamEvents builds the scenario's stream events for query. Raw lines are
// skipped.
func (s Scenario) StreamEvents(query string) ([]stream.Event, error) {
	var out []stream.Event
	for _, se := range s.Events {
		if se.Raw != "" {
			continue
		}
		ev, err := se.event(query)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Encode renders the scenario as NDJSON for query.
func (s Scenario) Encode(query string) ([]byte, error) {
	var buf bytes.Buffer
	for _, se := range s.Events {
		if se.Raw != "" {
			buf.WriteString(se.Raw)
			buf.WriteByte('\n')
			continue
		}
		ev, err := se.event(query)
		if err != nil {
			return nil, err
		}
		line, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Reasoning folds the scenario into a finished assistant turn, the shape
// the non-streaming endpoint reports.
func (s Scenario) Reasoning(query string) (conversation.Turn, error) {
	events, err := s.StreamEvents(query)
	if err != nil {
		return conversation.Turn{}, err
	}
	turn := conversation.Turn{Role: conversation.RoleAssistant, IsStreaming: true}
	return conversation.ReduceAll(turn, events...), nil
}

func (se ScenarioEvent) event(query string) (stream.Event, error) {
	content := strings.ReplaceAll(se.Content, QueryPlaceholder, query)
	t := stream.EventType(se.Type)
	if t != stream.EventThought {
		return stream.NewEvent(t, content), nil
	}

	var input json.RawMessage
	if se.ToolInput != nil {
		raw, err := json.Marshal(substitute(se.ToolInput, query))
		if err != nil {
			return stream.Event{}, fmt.Errorf("encode tool_input: %w", err)
		}
		input = raw
	}
	return stream.NewThought(content, se.Tool, input), nil
}

// substitute replaces QueryPlaceholder in every string within v.
func substitute(v interface{}, query string) interface{} {
	switch x := v.(type) {
	case string:
		return strings.ReplaceAll(x, QueryPlaceholder, query)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = substitute(val, query)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = substitute(val, query)
		}
		return out
	default:
		return v
	}
}
