// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/docqa/pkg/stream"
)

var (
	// ErrExchangeInProgress is returned when a new exchange is started
	// while an assistant turn is still open.
	ErrExchangeInProgress = errors.New("an exchange is already in progress")

	// ErrInvalidCloseReason is returned for CloseNone or unknown reasons.
	ErrInvalidCloseReason = errors.New("invalid close reason")
)

// ProtocolViolation describes an event that is well formed but does not
// fit the current turn. It is never surfaced to users.
type ProtocolViolation struct {
	Event  stream.EventType
	Reason string
}

// Error implements error.
func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation on %s: %s", e.Event, e.Reason)
}
