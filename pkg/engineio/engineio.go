// Package engineio carries the line-delimited protocol between the game engine
// and the algo: one JSON message per inbound line, one command per outbound line.
package engineio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// DefaultMaxLineBytes bounds a single inbound message. Action-phase frames on a
// full board run to a few hundred kilobytes.
const DefaultMaxLineBytes = 16 << 20

var (
	// ErrClosed is returned once the inbound stream has ended.
	ErrClosed = errors.New("engineio: inbound stream closed")
	// ErrLineTooLong is returned for a line over the size limit. The line is
	// discarded up to its terminator and reading can continue.
	ErrLineTooLong = errors.New("engineio: line too long")
)

// Reader is the inbound half of the transport.
type Reader interface {
	// ReadLine blocks until the next line arrives or ctx is cancelled.
	ReadLine(ctx context.Context) ([]byte, error)
}

// Writer is the outbound half of the transport.
type Writer interface {
	WriteLine(line string) error
}

type lineResult struct {
	line []byte
	err  error
}

// LineReader reads newline-terminated messages. The read itself has no
// timeout; cancellation abandons the wait without losing the line, which is
// delivered to the next ReadLine call. A LineReader has a single consumer.
type LineReader struct {
	br  *bufio.Reader
	max int
	err error

	once     sync.Once
	results  chan lineResult
	pending  chan struct{}
	inflight bool
}

// NewLineReader wraps r. maxLineBytes <= 0 selects DefaultMaxLineBytes.
func NewLineReader(r io.Reader, maxLineBytes int) *LineReader {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	return &LineReader{
		br:      bufio.NewReaderSize(r, min(64*1024, max(maxLineBytes, 16))),
		max:     maxLineBytes,
		results: make(chan lineResult),
		pending: make(chan struct{}, 1),
	}
}

// readLoop reads one line per request so that lines are never read ahead
// of demand.
func (r *LineReader) readLoop() {
	for range r.pending {
		line, err := r.next()
		r.results <- lineResult{line: line, err: err}
	}
}

// next reads one line. Read failures are sticky; an oversized line is not.
func (r *LineReader) next() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}

	var line []byte
	size := 0
	tooLong := false
	for {
		chunk, err := r.br.ReadSlice('\n')
		size += len(chunk)
		if !tooLong {
			// Leave room for a CRLF terminator.
			if len(line)+len(chunk) > r.max+2 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if size == 0 {
				r.err = ErrClosed
				return nil, r.err
			}
			break
		}
		if err != nil {
			r.err = fmt.Errorf("engineio: read: %w", err)
			return nil, r.err
		}
		break
	}

	line = dropTerminator(line)
	if tooLong || len(line) > r.max {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrLineTooLong, size, r.max)
	}
	return line, nil
}

func dropTerminator(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}

// ReadLine returns the next line without its terminator.
func (r *LineReader) ReadLine(ctx context.Context) ([]byte, error) {
	r.once.Do(func() { go r.readLoop() })

	// A scan abandoned by cancellation is still in flight; wait for it
	// instead of requesting another.
	if !r.inflight {
		r.pending <- struct{}{}
		r.inflight = true
	}

	select {
	case res := <-r.results:
		r.inflight = false
		return res.line, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LineWriter writes one command per line and flushes after every line.
type LineWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewLineWriter wraps w.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: bufio.NewWriter(w)}
}

// WriteLine writes line followed by a newline. Embedded newlines would split
// one command into two protocol lines, so they are rejected.
func (w *LineWriter) WriteLine(line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("engineio: command contains a line break")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.WriteString(line); err != nil {
		return fmt.Errorf("engineio: write: %w", err)
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("engineio: write: %w", err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("engineio: flush: %w", err)
	}
	return nil
}

// Discard is a Writer that drops every line.
type Discard struct{}

// WriteLine implements Writer.
func (Discard) WriteLine(string) error { return nil }
