// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agentchat

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/docqa/pkg/conversation"
)

var (
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrExchangeInProgress is returned by Send while another exchange is
	// open. The new message is rejected, not queued.
	ErrExchangeInProgress = conversation.ErrExchangeInProgress

	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid chat request")
)

// Transport operations reported in TransportError.Op.
const (
	OpOpen   = "open"
	OpStatus = "status"
	OpRead   = "read"
)

// maxBodySnippet bounds how much of an error response body is kept.
const maxBodySnippet = 512

// TransportError is a network or HTTP failure before or during streaming.
//
// It is the only failure that marks an assistant turn as an error.
type TransportError struct {
	// Op is OpOpen, OpStatus, or OpRead.
	Op string

	// StatusCode is set for OpStatus.
	StatusCode int

	// Body is a trimmed snippet of the error response, for OpStatus.
	Body string

	// Err is the underlying error, if any.
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	if e.Op == OpStatus {
		if e.Body == "" {
			return fmt.Sprintf("server error (%d)", e.StatusCode)
		}
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
