// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

// defaultBufferSize is the initial read buffer. Lines longer than this
// are still returned whole; the buffer only sets the chunk size pulled
// from the underlying reader.
const defaultBufferSize = 4096

// LineFunc receives each line produced by LineReader.Each. Returning an
// error stops iteration and Each returns that error. Returning ErrStop
// stops iteration and Each returns nil.
type LineFunc func(line string) error

// ErrStop can be returned from a LineFunc to end iteration early without
// reporting an error.
var ErrStop = errors.New("stop iteration")

// =============================================================================
// LineReader
// =============================================================================

// LineReader yields newline-terminated lines from a byte stream whose chunk
// boundaries are arbitrary.
//
// An incomplete trailing fragment is held back until the next chunk
// completes it. When the source reports io.EOF, any non-empty leftover is
// yielded as a final line. Multi-byte UTF-8 characters split across chunks
// are reassembled intact since '\n' never occurs inside a UTF-8 sequence.
//
// Each line is returned without its "\n" (or "\r\n") terminator. Empty lines
// are returned as "" so callers see the stream exactly as sent.
//
// Cancellation:
//
//	Next checks ctx before every pull. A pull that is already blocked is
//	released by closing the source, which is what cancelling an
//	http.Request context does to its response body.
//
// Thread Safety:
//
//	Not safe for concurrent use. One goroutine drains one reader.
type LineReader struct {
	br    *bufio.Reader
	src   *countingReader
	lines int64
	done  bool
}

// NewLineReader wraps r. The caller keeps ownership of r and closes it.
func NewLineReader(r io.Reader) *LineReader {
	src := &countingReader{r: r}
	return &LineReader{
		br:  bufio.NewReaderSize(src, defaultBufferSize),
		src: src,
	}
}

// Next returns the next complete line.
//
// Returns io.EOF once the stream is exhausted and the leftover buffer has
// been flushed. Any other error comes from ctx or the underlying reader;
// an unterminated fragment pending at that point is discarded since the
// line it belonged to was never completed.
func (lr *LineReader) Next(ctx context.Context) (string, error) {
	if lr.done {
		return "", io.EOF
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	line, err := lr.br.ReadString('\n')
	switch {
	case err == nil:
		lr.lines++
		return trimTerminator(line), nil
	case errors.Is(err, io.EOF):
		lr.done = true
		if line == "" {
			return "", io.EOF
		}
		lr.lines++
		return trimTerminator(line), nil
	default:
		lr.done = true
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", err
	}
}

// Each calls fn for every line until the stream ends, fn returns an error,
// or ctx is cancelled. A clean end of stream returns nil.
func (lr *LineReader) Each(ctx context.Context, fn LineFunc) error {
	for {
		line, err := lr.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(line); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// Lines returns how many lines have been yielded so far.
func (lr *LineReader) Lines() int64 {
	return lr.lines
}

// BytesRead returns how many bytes have been pulled from the source.
func (lr *LineReader) BytesRead() int64 {
	return lr.src.n
}

// ReadLines drains r and returns every line. Intended for tests and small
// fixtures.
func ReadLines(ctx context.Context, r io.Reader) ([]string, error) {
	var lines []string
	err := NewLineReader(r).Each(ctx, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	return lines, err
}

func trimTerminator(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
