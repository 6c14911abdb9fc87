// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/docqa/pkg/conversation"
)

const (
	noticeSilent      = "(stream ended without a final answer)"
	noticeInterrupted = "(interrupted)"
)

// RendererConfig configures a Renderer.
type RendererConfig struct {
	// Writer receives all output. Defaults to os.Stdout.
	Writer io.Writer

	// Level selects the output style.
	Level PersonalityLevel

	// ShowSteps prints reasoning steps. Machine mode always prints them.
	ShowSteps bool

	// Spinner animates while waiting for output. Ignored in machine mode.
	Spinner bool

	// WordWrap is the markdown wrap width in full mode. Defaults to 80.
	WordWrap int

	// MarkdownStyle is a glamour style name. Empty selects the terminal's
	// style, or "notty" when NO_COLOR is set.
	MarkdownStyle string
}

// Renderer turns the stream of assistant turn snapshots published by a
// conversation.Store into incremental terminal output.
//
// Each snapshot is diffed against what has already been printed, so
// dropped or coalesced intermediate snapshots lose nothing. In full mode the
// answer is held back and rendered as markdown when the turn closes; other
// modes stream answer text as it grows. Machine mode prints one line per
// step followed by ANSWER or ERROR once the turn closes.
//
// Renderer is safe for concurrent use. Observe is a conversation.Listener.
type Renderer struct {
	mu        sync.Mutex
	w         io.Writer
	level     PersonalityLevel
	showSteps bool
	markdown  *glamour.TermRenderer
	spinner   *Spinner

	turnID    string
	steps     []stepState
	printed   string
	composing bool
	midLine   bool
	closed    bool
}

// stepState records how much of one step has been printed.
type stepState struct {
	thought     string
	observation string
}

// NewRenderer creates a Renderer. A markdown renderer is only built for
// full mode; if glamour cannot be initialized answers print as plain text.
func NewRenderer(cfg RendererConfig) *Renderer {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	r := &Renderer{
		w:         cfg.Writer,
		level:     cfg.Level,
		showSteps: cfg.ShowSteps || cfg.Level == PersonalityMachine,
	}
	if cfg.Level == PersonalityFull {
		r.markdown = newMarkdownRenderer(cfg.MarkdownStyle, cfg.WordWrap)
	}
	if cfg.Spinner && cfg.Level != PersonalityMachine {
		r.spinner = NewSpinnerWithWriter(cfg.Writer, cfg.Level, "Thinking...")
	}
	return r
}

func newMarkdownRenderer(style string, wrap int) *glamour.TermRenderer {
	if wrap <= 0 {
		wrap = 80
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(wrap)}
	switch {
	case style != "":
		opts = append(opts, glamour.WithStylePath(style))
	case os.Getenv("NO_COLOR") != "":
		opts = append(opts, glamour.WithStylePath("notty"))
	default:
		opts = append(opts, glamour.WithAutoStyle())
	}
	md, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil
	}
	return md
}

// Observe handles one store change.
func (r *Renderer) Observe(c conversation.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch c.Kind {
	case conversation.ChangeStarted:
		r.begin(c.Turn.ID)
		r.startSpinner("Thinking...")
	case conversation.ChangeUpdated:
		if c.Turn.ID != r.turnID {
			r.begin(c.Turn.ID)
		}
		if r.closed {
			return
		}
		r.renderProgress(c.Turn)
	case conversation.ChangeClosed:
		if c.Turn.ID != r.turnID {
			r.begin(c.Turn.ID)
		}
		if r.closed {
			return
		}
		r.renderProgress(c.Turn)
		r.renderClose(c.Turn)
		r.closed = true
	case conversation.ChangeReset:
		r.stopSpinner()
		r.turnID = ""
		r.closed = true
	}
}

// Close stops the spinner if one is running.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopSpinner()
}

func (r *Renderer) begin(id string) {
	r.turnID = id
	r.steps = nil
	r.printed = ""
	r.composing = false
	r.midLine = false
	r.closed = false
}

// renderProgress prints everything in turn not yet printed, except the
// held-back answer in full mode and all of machine mode.
func (r *Renderer) renderProgress(turn conversation.Turn) {
	if r.level == PersonalityMachine {
		return
	}

	if r.showSteps {
		for i, step := range turn.Steps {
			r.renderStep(i, step)
		}
	}

	if turn.Content == r.printed || turn.IsError {
		return
	}
	if r.level == PersonalityFull {
		if !r.composing && turn.IsStreaming {
			r.composing = true
			r.stopSpinner()
			r.startSpinner("Writing answer...")
		}
		return
	}
	r.streamContent(turn.Content)
}

func (r *Renderer) renderStep(i int, step conversation.Step) {
	if i >= len(r.steps) {
		r.stopSpinner()
		r.endLine()
		r.steps = append(r.steps, stepState{})
		label := IconArrow.Render() + " " + Styles.Subtitle.Render(step.Tool)
		if input := step.ToolInputText(); input != "" {
			label += " " + Styles.Muted.Render(input)
		}
		r.write(label + "\n")
	}
	st := &r.steps[i]

	if step.Thought != st.thought {
		r.stopSpinner()
		delta := step.Thought
		if strings.HasPrefix(step.Thought, st.thought) && st.thought != "" {
			delta = step.Thought[len(st.thought):]
		} else {
			r.endLine()
			r.write("  ")
		}
		r.write(paint(Styles.Muted, delta))
		st.thought = step.Thought
		r.midLine = !strings.HasSuffix(delta, "\n")
	}

	if step.Observation != "" && step.Observation != st.observation {
		r.stopSpinner()
		r.endLine()
		r.write("  " + paint(Styles.Muted, "↳ "+step.Observation) + "\n")
		st.observation = step.Observation
	}
}

// streamContent prints the part of content beyond what has been printed.
// When content no longer extends the printed text it is printed again in
// full on a new line.
func (r *Renderer) streamContent(content string) {
	r.stopSpinner()
	if strings.HasPrefix(content, r.printed) && r.printed != "" {
		r.write(content[len(r.printed):])
	} else {
		r.endLine()
		r.write(content)
	}
	r.printed = content
	r.midLine = !strings.HasSuffix(content, "\n")
}

func (r *Renderer) renderClose(turn conversation.Turn) {
	r.stopSpinner()

	if r.level == PersonalityMachine {
		r.renderMachine(turn)
		return
	}

	switch {
	case turn.IsError:
		r.renderError(turn.Content)
	case r.level == PersonalityFull && turn.Content != "":
		r.endLine()
		r.write(r.renderMarkdown(turn.Content))
	case turn.Content != r.printed && turn.Content != "":
		r.streamContent(turn.Content)
	}
	r.endLine()

	switch turn.CloseReason {
	case conversation.CloseSilent:
		r.write(Styles.Muted.Render(noticeSilent) + "\n")
	case conversation.CloseAborted:
		r.write(Styles.Muted.Render(noticeInterrupted) + "\n")
	}
}

func (r *Renderer) renderError(content string) {
	if r.level == PersonalityFull {
		r.endLine()
		r.write(Styles.ErrorBox.Render(content) + "\n")
		return
	}
	if r.printed != "" && strings.HasPrefix(content, r.printed) {
		r.write(paint(Styles.Error, content[len(r.printed):]))
		r.midLine = true
		return
	}
	r.endLine()
	r.write(IconError.Render() + " " + paint(Styles.Error, content) + "\n")
}

func (r *Renderer) renderMarkdown(content string) string {
	if r.markdown == nil {
		return content + "\n"
	}
	out, err := r.markdown.Render(content)
	if err != nil {
		return content + "\n"
	}
	return out
}

func (r *Renderer) renderMachine(turn conversation.Turn) {
	for _, step := range turn.Steps {
		tool := step.Tool
		if input := step.ToolInputText(); input != "" {
			tool = fmt.Sprintf("%s(%s)", tool, input)
		}
		r.write(fmt.Sprintf("STEP: %s: %s\n", tool, step.Thought))
		if step.Observation != "" {
			r.write(fmt.Sprintf("OBSERVATION: %s\n", step.Observation))
		}
	}
	switch {
	case turn.IsError:
		r.write(fmt.Sprintf("ERROR: %s\n", turn.Content))
	case turn.Content != "":
		r.write(fmt.Sprintf("ANSWER: %s\n", turn.Content))
	}
}

// paint styles each line separately so multi-line text is not padded.
func paint(style lipgloss.Style, s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = style.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) endLine() {
	if r.midLine {
		r.write("\n")
		r.midLine = false
	}
}

func (r *Renderer) startSpinner(msg string) {
	if r.spinner == nil {
		return
	}
	r.spinner.UpdateMessage(msg)
	r.spinner.Start()
}

func (r *Renderer) stopSpinner() {
	if r.spinner != nil {
		r.spinner.Stop()
	}
}

func (r *Renderer) write(s string) {
	// Terminal write errors are non-recoverable; ignore them.
	_, _ = io.WriteString(r.w, s)
}
