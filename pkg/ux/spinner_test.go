// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a bytes.Buffer safe for the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// =============================================================================
// NewSpinner Tests
// =============================================================================

func TestNewSpinnerWithWriter_Defaults(t *testing.T) {
	spin := NewSpinnerWithWriter(nil, PersonalityFull, "Loading...")
	if spin.message != "Loading..." {
		t.Errorf("expected message 'Loading...', got %q", spin.message)
	}
	if spin.spinType != SpinnerDots {
		t.Errorf("expected SpinnerDots, got %v", spin.spinType)
	}
	if spin.writer == nil {
		t.Error("nil writer should default to stdout")
	}
}

func TestSpinner_WithType(t *testing.T) {
	spin := NewSpinnerWithWriter(&syncBuffer{}, PersonalityFull, "x").WithType(SpinnerCompass)
	if spin.spinType != SpinnerCompass {
		t.Errorf("expected SpinnerCompass, got %v", spin.spinType)
	}
}

func TestSpinnerFrames_AllTypesHaveFrames(t *testing.T) {
	for _, st := range []SpinnerType{SpinnerDots, SpinnerWave, SpinnerCompass} {
		if len(spinnerFrames[st]) == 0 {
			t.Errorf("spinner type %d has no frames", st)
		}
	}
}

// =============================================================================
// Start / Stop Tests
// =============================================================================

func TestSpinner_MachineModePrintsOnce(t *testing.T) {
	var buf syncBuffer
	spin := NewSpinnerWithWriter(&buf, PersonalityMachine, "Waiting for agent")

	spin.Start()
	spin.Start()
	spin.Stop()

	if got := buf.String(); got != "PROGRESS: Waiting for agent\n" {
		t.Errorf("unexpected machine output %q", got)
	}
}

func TestSpinner_AnimatesAndClears(t *testing.T) {
	var buf syncBuffer
	spin := NewSpinnerWithWriter(&buf, PersonalityFull, "Thinking")

	spin.Start()
	if !spin.IsRunning() {
		t.Fatal("expected spinner to be running")
	}
	time.Sleep(3 * spinnerInterval)
	spin.UpdateMessage("Searching")
	time.Sleep(2 * spinnerInterval)
	spin.Stop()

	if spin.IsRunning() {
		t.Error("expected spinner to be stopped")
	}
	got := buf.String()
	if !strings.Contains(got, "Thinking") {
		t.Errorf("expected initial message in output: %q", got)
	}
	if !strings.HasSuffix(got, "\r\033[K") {
		t.Errorf("expected output to end with a line clear: %q", got)
	}
}

func TestSpinner_StopIsIdempotent(t *testing.T) {
	spin := NewSpinnerWithWriter(&syncBuffer{}, PersonalityFull, "x")
	spin.Stop()
	spin.Start()
	spin.Stop()
	spin.Stop()
}

func TestSpinner_Restart(t *testing.T) {
	var buf syncBuffer
	spin := NewSpinnerWithWriter(&buf, PersonalityStandard, "x")
	for i := 0; i < 3; i++ {
		spin.Start()
		spin.Stop()
	}
	if spin.IsRunning() {
		t.Error("expected stopped spinner")
	}
}

// =============================================================================
// WithSpinner Tests
// =============================================================================

func TestWithSpinner_Success(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinter(&out, &errOut, PersonalityMachine)

	called := false
	err := WithSpinner(p, "Checking agent", func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("fn was not called")
	}
	if got := out.String(); got != "PROGRESS: Checking agent\nOK: Checking agent\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestWithSpinner_Error(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinter(&out, &errOut, PersonalityMachine)
	boom := errors.New("unreachable")

	err := WithSpinner(p, "Checking agent", func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got := errOut.String(); got != "ERROR: Checking agent: unreachable\n" {
		t.Errorf("unexpected stderr %q", got)
	}
}
