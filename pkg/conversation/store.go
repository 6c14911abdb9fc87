// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/docqa/pkg/stream"
)

// TransportFailurePrefix starts the message shown on a turn whose
// connection failed.
const TransportFailurePrefix = "Sorry, an error occurred: "

// =============================================================================
// Collaborators
// =============================================================================

// Clock supplies wall-clock timestamps for turns.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// IDFunc generates turn identifiers.
type IDFunc func() string

// =============================================================================
// Change Notifications
// =============================================================================

// ChangeKind classifies a store mutation.
type ChangeKind string

const (
	ChangeStarted ChangeKind = "started"
	ChangeUpdated ChangeKind = "updated"
	ChangeClosed  ChangeKind = "closed"
	ChangeReset   ChangeKind = "reset"
)

// Change describes one mutation. Turn is a private copy of the affected
// assistant turn (zero for ChangeReset).
type Change struct {
	Kind ChangeKind
	Turn Turn
}

// Listener is notified after each mutation, outside the store lock.
// Listeners run on the mutating goroutine and should return quickly.
type Listener func(Change)

// =============================================================================
// Store
// =============================================================================

// ExchangeIDs identifies the two turns created by StartExchange.
type ExchangeIDs struct {
	UserTurnID      string
	AssistantTurnID string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the timestamp source. Defaults to SystemClock.
func WithClock(c Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// WithIDFunc sets the turn id generator. Defaults to random UUIDs.
func WithIDFunc(f IDFunc) StoreOption {
	return func(s *Store) { s.newID = f }
}

// Store owns the ordered conversation.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Reads return deep copies and
//	every mutation happens under a single lock, so a reader sees a turn
//	either before or after an event, never in between.
type Store struct {
	mu      sync.RWMutex
	turns   []Turn
	openIdx int

	clock Clock
	newID IDFunc

	listenerMu   sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

// NewStore creates an empty conversation.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		openIdx:   -1,
		clock:     SystemClock{},
		newID:     func() string { return uuid.NewString() },
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartExchange atomically appends a user turn and an empty, streaming
// assistant turn. It fails with ErrExchangeInProgress when an assistant
// turn is already open.
func (s *Store) StartExchange(userText string) (ExchangeIDs, error) {
	s.mu.Lock()
	if s.openIdx >= 0 {
		s.mu.Unlock()
		return ExchangeIDs{}, ErrExchangeInProgress
	}

	now := s.clock.Now()
	user := Turn{
		ID:        s.newID(),
		Role:      RoleUser,
		Content:   userText,
		CreatedAt: now,
	}
	assistant := Turn{
		ID:          s.newID(),
		Role:        RoleAssistant,
		IsStreaming: true,
		CreatedAt:   now,
	}
	s.turns = append(s.turns, user, assistant)
	s.openIdx = len(s.turns) - 1
	snapshot := assistant.Clone()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeStarted, Turn: snapshot})
	return ExchangeIDs{UserTurnID: user.ID, AssistantTurnID: assistant.ID}, nil
}

// ApplyEvent folds ev into the open assistant turn.
//
// The call is silently ignored, returning false, when assistantID is not
// the open turn (a late event from a superseded exchange) or when the turn
// already processed a terminal event.
func (s *Store) ApplyEvent(assistantID string, ev stream.Event) (Turn, bool) {
	s.mu.Lock()
	if !s.isOpenLocked(assistantID) || !s.turns[s.openIdx].IsStreaming {
		s.mu.Unlock()
		return Turn{}, false
	}
	next := Reduce(s.turns[s.openIdx], ev)
	s.turns[s.openIdx] = next
	snapshot := next.Clone()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeUpdated, Turn: snapshot})
	return snapshot, true
}

// CloseExchange force-closes the open assistant turn.
//
// detail is only used with CloseTransportFailed, where it describes the
// failure. Closing is idempotent: a second call, or a call with a stale id,
// returns false and changes nothing.
func (s *Store) CloseExchange(assistantID string, reason CloseReason, detail string) (Turn, bool, error) {
	switch reason {
	case CloseCompleted, CloseErrored, CloseSilent, CloseAborted, CloseTransportFailed:
	default:
		return Turn{}, false, fmt.Errorf("%w: %q", ErrInvalidCloseReason, reason)
	}

	s.mu.Lock()
	if !s.isOpenLocked(assistantID) {
		s.mu.Unlock()
		return Turn{}, false, nil
	}
	turn := s.turns[s.openIdx]
	turn.IsStreaming = false
	turn.CloseReason = reason
	turn.ClosedAt = s.clock.Now()
	if reason == CloseTransportFailed {
		turn.IsError = true
		turn.Content = TransportFailureContent(turn.Content, detail)
	}
	s.turns[s.openIdx] = turn
	s.openIdx = -1
	snapshot := turn.Clone()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeClosed, Turn: snapshot})
	return snapshot, true, nil
}

// TransportFailureContent builds the content of a turn whose connection
// failed, keeping any partial answer above the failure message.
func TransportFailureContent(partial, detail string) string {
	msg := TransportFailurePrefix + detail
	if partial == "" {
		return msg
	}
	return partial + "\n\n" + msg
}

// Snapshot returns a deep copy of every turn in order.
func (s *Store) Snapshot() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CloneTurns(s.turns)
}

// Turn returns a copy of the turn with the given id.
func (s *Store) Turn(id string) (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].ID == id {
			return s.turns[i].Clone(), true
		}
	}
	return Turn{}, false
}

// InProgress reports whether an assistant turn is open.
func (s *Store) InProgress() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openIdx >= 0
}

// OpenTurnID returns the id of the open assistant turn, or "".
func (s *Store) OpenTurnID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.openIdx < 0 {
		return ""
	}
	return s.turns[s.openIdx].ID
}

// Len returns the number of turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Reset clears the conversation. It is refused while an exchange is open.
func (s *Store) Reset() error {
	s.mu.Lock()
	if s.openIdx >= 0 {
		s.mu.Unlock()
		return ErrExchangeInProgress
	}
	s.turns = nil
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReset})
	return nil
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.listenerMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenerMu.Lock()
			delete(s.listeners, id)
			s.listenerMu.Unlock()
		})
	}
}

func (s *Store) isOpenLocked(id string) bool {
	return s.openIdx >= 0 && s.turns[s.openIdx].ID == id
}

func (s *Store) notify(c Change) {
	s.listenerMu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextListener; i++ {
		if fn, ok := s.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.listenerMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
