// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Sentinel reasons for a malformed line. Use errors.Is against a
// *MalformedEventError to tell them apart.
var (
	ErrInvalidJSON      = errors.New("invalid json object")
	ErrMissingType      = errors.New("missing or non-string type")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingContent   = errors.New("missing or non-string content")
	ErrInvalidField     = errors.New("invalid optional field")
)

// maxErrorLineLen bounds how much of the offending line is echoed in
// error messages and logs.
const maxErrorLineLen = 120

// MalformedEventError reports a single line that could not be decoded.
//
// The stream keeps going after one of these. Callers log it and move on
// to the next line.
type MalformedEventError struct {
	// Line is the raw line as received, without its terminator.
	Line string

	// Reason is one of the Err* sentinels above.
	Reason error

	// Detail is the underlying decoder message, if any.
	Detail string
}

// Error implements error.
func (e *MalformedEventError) Error() string {
	msg := fmt.Sprintf("malformed event: %v", e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return fmt.Sprintf("%s: %q", msg, truncate(e.Line, maxErrorLineLen))
}

// Unwrap returns the sentinel reason.
func (e *MalformedEventError) Unwrap() error {
	return e.Reason
}

// IsUnknownType reports whether err is a malformed-event error caused by a
// tag this client does not know. Such lines come from newer servers and
// are expected, so they are usually logged at a lower level.
func IsUnknownType(err error) bool {
	return errors.Is(err, ErrUnknownEventType)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
