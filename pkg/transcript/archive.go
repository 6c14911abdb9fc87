// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package transcript archives closed chat exchanges in an embedded BadgerDB.
//
// Each record holds the user turn and the closed assistant turn of one
// exchange, JSON encoded, under
//
//	exchange/{created, UTC, fixed-width nanoseconds}/{assistant turn id}
//
// so a reverse prefix scan yields exchanges newest first. A secondary key
// id/{assistant turn id} points at the primary key for lookups by id.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/docqa/pkg/conversation"
)

const (
	exchangePrefix = "exchange/"
	idPrefix       = "id/"

	// keyTimeLayout sorts lexically in time order.
	keyTimeLayout = "20060102T150405.000000000Z"
)

var (
	// ErrNotFound is returned by Get for an unknown id.
	ErrNotFound = errors.New("exchange not found")

	// ErrOpenTurn is returned when recording a turn that is still streaming.
	ErrOpenTurn = errors.New("assistant turn is still open")

	// ErrInvalidExchange is returned when the turns do not form an exchange.
	ErrInvalidExchange = errors.New("invalid exchange")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transcript archive is closed")
)

// Exchange is one archived question and answer.
type Exchange struct {
	User       conversation.Turn `json:"user"`
	Assistant  conversation.Turn `json:"assistant"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// ID returns the assistant turn id, which identifies the exchange.
func (e Exchange) ID() string {
	return e.Assistant.ID
}

// Question returns the user's message.
func (e Exchange) Question() string {
	return e.User.Content
}

// Answer returns the assistant's final content.
func (e Exchange) Answer() string {
	return e.Assistant.Content
}

// Archive stores exchanges. It is safe for concurrent use and implements
// the recorder the chat orchestrator calls after each exchange closes.
type Archive struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates an archive.
func Open(cfg Config) (*Archive, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Archive{db: db, logger: logger, now: time.Now}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		a.gc = runner
		runner.start()
	}
	return a, nil
}

// OpenInMemory opens an archive that is discarded on Close.
func OpenInMemory() (*Archive, error) {
	return Open(InMemoryConfig())
}

// Close stops garbage collection and closes the database. Safe to call
// more than once.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.gc != nil {
		a.gc.stop()
	}
	return a.db.Close()
}

// RecordExchange stores a closed exchange. Re-recording the same assistant
// turn overwrites the earlier record.
func (a *Archive) RecordExchange(ctx context.Context, user, assistant conversation.Turn) error {
	if user.Role != conversation.RoleUser || assistant.Role != conversation.RoleAssistant {
		return fmt.Errorf("%w: roles %q and %q", ErrInvalidExchange, user.Role, assistant.Role)
	}
	if assistant.ID == "" {
		return fmt.Errorf("%w: assistant turn has no id", ErrInvalidExchange)
	}
	if assistant.IsOpen() {
		return ErrOpenTurn
	}

	ex := Exchange{User: user, Assistant: assistant, RecordedAt: a.now().UTC()}
	value, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("marshal exchange: %w", err)
	}
	key := exchangeKey(assistant)

	err = a.update(ctx, func(txn *badger.Txn) error {
		// Drop a previous record whose primary key differs.
		if prev, err := lookupKey(txn, assistant.ID); err == nil && string(prev) != string(key) {
			if err := txn.Delete(prev); err != nil {
				return err
			}
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(idKey(assistant.ID), key)
	})
	if err != nil {
		return fmt.Errorf("record exchange %s: %w", assistant.ID, err)
	}

	a.logger.Debug("exchange archived",
		slog.String("assistant_turn_id", assistant.ID),
		slog.String("close_reason", string(assistant.CloseReason)),
	)
	return nil
}

// Get returns the exchange whose assistant turn has id.
func (a *Archive) Get(ctx context.Context, id string) (Exchange, error) {
	var ex Exchange
	err := a.view(ctx, func(txn *badger.Txn) error {
		key, err := lookupKey(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ex)
		})
	})
	if err != nil {
		return Exchange{}, err
	}
	return ex, nil
}

// List returns up to limit exchanges, newest first. limit <= 0 returns all.
func (a *Archive) List(ctx context.Context, limit int) ([]Exchange, error) {
	var out []Exchange
	err := a.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(exchangePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode Seek finds the largest key <= the seek key.
		seek := append([]byte(exchangePrefix), 0xFF)
		for it.Seek(seek); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var ex Exchange
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ex)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, ex)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of archived exchanges.
func (a *Archive) Count(ctx context.Context) (int, error) {
	n := 0
	err := a.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(exchangePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (a *Archive) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return a.db.Update(fn)
}

func (a *Archive) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return a.db.View(fn)
}

func lookupKey(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get(idKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func exchangeKey(assistant conversation.Turn) []byte {
	ts := assistant.CreatedAt.UTC().Format(keyTimeLayout)
	return []byte(exchangePrefix + ts + "/" + assistant.ID)
}

func idKey(id string) []byte {
	return []byte(idPrefix + id)
}
