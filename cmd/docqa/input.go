// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// =============================================================================
// InputReader Interface
// =============================================================================

// InputReader abstracts user input reading for testability.
//
// # Outputs
//
// ReadLine returns the line read, trimmed, and any error. It returns io.EOF
// when input is exhausted or the user asked to leave (Ctrl+C or Ctrl+D at
// the prompt).
type InputReader interface {
	ReadLine() (string, error)
}

// =============================================================================
// StdinReader
// =============================================================================

// StdinReader reads lines from a plain reader. Used when stdin is not a
// terminal, e.g. when questions are piped in.
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader reads from os.Stdin.
func NewStdinReader() *StdinReader {
	return NewLineReader(os.Stdin)
}

// NewLineReader reads from r.
func NewLineReader(r io.Reader) *StdinReader {
	return &StdinReader{reader: bufio.NewReader(r)}
}

// ReadLine reads one line. A final line without a newline is returned
// before io.EOF.
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// =============================================================================
// InteractiveInputReader
// =============================================================================

// InteractiveInputReader uses charmbracelet/bubbletea to provide a line
// editor with history on Up/Down.
type InteractiveInputReader struct {
	history *lineHistory
	prompt  string
}

// inputModel is the bubbletea model for one prompt.
type inputModel struct {
	textInput textinput.Model
	history   *lineHistory
	done      bool
	cancelled bool
}

// NewInteractiveInputReader returns an InteractiveInputReader when stdin is
// a terminal and a StdinReader otherwise.
func NewInteractiveInputReader(prompt string, maxHistory int) InputReader {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader()
	}
	return &InteractiveInputReader{
		history: newLineHistory(maxHistory),
		prompt:  prompt,
	}
}

// ReadLine runs a bubbletea program until Enter, Ctrl+C or Ctrl+D.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 8192
	ti.Width = 80

	r.history.rewind()
	m := inputModel{textInput: ti, history: r.history}

	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	result, ok := finalModel.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}
	if result.cancelled {
		return "", io.EOF
	}

	input := strings.TrimSpace(result.textInput.Value())
	r.history.add(input)
	return input, nil
}

// =============================================================================
// Line history
// =============================================================================

// lineHistory holds submitted lines and a browsing position. pos equals
// len(entries) when the user is not browsing. draft is what was typed
// before browsing started.
type lineHistory struct {
	entries []string
	limit   int
	pos     int
	draft   string
}

func newLineHistory(limit int) *lineHistory {
	return &lineHistory{limit: limit}
}

// add appends line unless it is empty or repeats the newest entry, and
// drops the oldest entries beyond the limit.
func (h *lineHistory) add(line string) {
	if line != "" && (len(h.entries) == 0 || h.entries[len(h.entries)-1] != line) {
		h.entries = append(h.entries, line)
		if h.limit > 0 && len(h.entries) > h.limit {
			h.entries = h.entries[len(h.entries)-h.limit:]
		}
	}
	h.rewind()
}

// rewind stops browsing.
func (h *lineHistory) rewind() {
	h.pos = len(h.entries)
	h.draft = ""
}

// older steps back one entry. current is saved as the draft when browsing
// starts. It stays on the oldest entry once reached.
func (h *lineHistory) older(current string) (string, bool) {
	if len(h.entries) == 0 {
		return "", false
	}
	if h.pos == len(h.entries) {
		h.draft = current
	}
	if h.pos > 0 {
		h.pos--
	}
	return h.entries[h.pos], true
}

// newer steps forward one entry, returning the draft after the newest.
func (h *lineHistory) newer() (string, bool) {
	if h.pos >= len(h.entries) {
		return "", false
	}
	h.pos++
	if h.pos == len(h.entries) {
		return h.draft, true
	}
	return h.entries[h.pos], true
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.cancelled = true
			m.done = true
			return m, tea.Quit

		case tea.KeyUp:
			if line, ok := m.history.older(m.textInput.Value()); ok {
				m.showLine(line)
			}
			return m, nil

		case tea.KeyDown:
			if line, ok := m.history.newer(); ok {
				m.showLine(line)
			}
			return m, nil
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *inputModel) showLine(line string) {
	m.textInput.SetValue(line)
	m.textInput.CursorEnd()
}

func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}

// =============================================================================
// MockInputReader
// =============================================================================

// MockInputReader returns predetermined lines, then io.EOF.
type MockInputReader struct {
	inputs []string
	index  int
}

func NewMockInputReader(inputs []string) *MockInputReader {
	return &MockInputReader{inputs: inputs}
}

func (m *MockInputReader) ReadLine() (string, error) {
	if m.index >= len(m.inputs) {
		return "", io.EOF
	}
	line := m.inputs[m.index]
	m.index++
	return strings.TrimSpace(line), nil
}
