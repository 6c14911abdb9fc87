// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/docqa/pkg/conversation"
)

// DefaultRedrawRate is the maximum redraws per second for streaming output.
const DefaultRedrawRate = 30

// CoalescingObserver rate-limits ChangeUpdated notifications to a
// downstream listener. Updates over the limit are held and only the newest
// is delivered, when the limiter next allows it. Started, closed and reset
// changes are always delivered immediately and discard any held update.
//
// Because every change carries a full snapshot, skipping intermediate
// updates never loses content. Delivery is serialized.
type CoalescingObserver struct {
	next    conversation.Listener
	limiter *rate.Limiter

	mu      sync.Mutex
	pending *conversation.Change
	timer   *time.Timer
	stopped bool
}

// NewCoalescingObserver wraps next. perSecond <= 0 uses DefaultRedrawRate.
func NewCoalescingObserver(next conversation.Listener, perSecond float64) *CoalescingObserver {
	if perSecond <= 0 {
		perSecond = DefaultRedrawRate
	}
	return &CoalescingObserver{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Observe is a conversation.Listener.
func (c *CoalescingObserver) Observe(change conversation.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	if change.Kind != conversation.ChangeUpdated {
		c.dropPendingLocked()
		c.next(change)
		return
	}

	if c.pending == nil && c.limiter.Allow() {
		c.next(change)
		return
	}

	c.pending = &change
	if c.timer == nil {
		delay := c.limiter.Reserve().Delay()
		c.timer = time.AfterFunc(delay, c.flush)
	}
}

// Flush delivers a held update now, if there is one.
func (c *CoalescingObserver) Flush() {
	c.flush()
}

// Stop discards any held update; later changes are ignored.
func (c *CoalescingObserver) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropPendingLocked()
	c.stopped = true
}

func (c *CoalescingObserver) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.pending == nil || c.stopped {
		return
	}
	change := *c.pending
	c.pending = nil
	c.next(change)
}

func (c *CoalescingObserver) dropPendingLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
}
