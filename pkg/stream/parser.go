// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"bytes"
	"encoding/json"
	"strings"
)

// =============================================================================
// Parser Interface
// =============================================================================

// Parser decodes one NDJSON line into an Event.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use. The default
//	implementation keeps no state.
//
// Example:
//
//	p := NewNDJSONParser()
//	ev, err := p.ParseLine(`{"type":"answer_chunk","content":"Hi"}`)
//	if err != nil {
//	    logger.Warn("skipping line", "error", err)
//	    return
//	}
//	fmt.Println(ev.Content) // "Hi"
type Parser interface {
	// ParseLine decodes a single non-blank line.
	//
	// Returns a *MalformedEventError when the line is not a JSON object,
	// has no string "type", carries an unknown type, lacks a string
	// "content", or has a badly typed optional field. Callers must skip
	// blank lines before calling; a blank line is reported as invalid JSON.
	ParseLine(line string) (Event, error)
}

// =============================================================================
// NDJSON Parser Implementation
// =============================================================================

type ndjsonParser struct{}

// NewNDJSONParser returns the stateless NDJSON event parser.
func NewNDJSONParser() Parser {
	return &ndjsonParser{}
}

// ParseLine implements Parser.
//
// Decoding goes through a map of raw fields so that a missing key can be
// told apart from an empty string. JSON null counts as absent.
func (p *ndjsonParser) ParseLine(line string) (Event, error) {
	trimmed := strings.TrimSpace(line)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return Event{}, malformed(line, ErrInvalidJSON, err.Error())
	}
	if fields == nil {
		// Literal "null".
		return Event{}, malformed(line, ErrInvalidJSON, "not an object")
	}

	var typ string
	if !decodeString(fields["type"], &typ) {
		return Event{}, malformed(line, ErrMissingType, "")
	}
	ev := Event{Type: EventType(typ)}
	if !ev.Type.Known() {
		return Event{}, malformed(line, ErrUnknownEventType, typ)
	}

	if !decodeString(fields["content"], &ev.Content) {
		return Event{}, malformed(line, ErrMissingContent, "")
	}

	if ev.Type != EventThought {
		return ev, nil
	}

	if raw, ok := fields["tool"]; ok && !isNull(raw) {
		var tool string
		if err := json.Unmarshal(raw, &tool); err != nil {
			return Event{}, malformed(line, ErrInvalidField, "tool must be a string")
		}
		ev.Tool = &tool
	}
	if raw, ok := fields["tool_input"]; ok && !isNull(raw) {
		ev.ToolInput = append(json.RawMessage(nil), raw...)
	}

	return ev, nil
}

// decodeString decodes raw into dst. It fails on absent, null, or
// non-string values.
func decodeString(raw json.RawMessage, dst *string) bool {
	if len(raw) == 0 || isNull(raw) {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func malformed(line string, reason error, detail string) *MalformedEventError {
	return &MalformedEventError{Line: line, Reason: reason, Detail: detail}
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ Parser = (*ndjsonParser)(nil)
