// Package diag provides logging and fatal-error helpers shared across the
// analysis core.
package diag

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Logger writes trace output for the analysis engines. A nil *Logger is
// valid and silently drops every call, mirroring the "a.log != nil" guard
// the reference pointer-analysis constraint generator uses throughout.
type Logger struct {
	w io.Writer
}

// NewLogger wraps w. Passing a nil io.Writer returns a nil *Logger, which
// is silent.
func NewLogger(w io.Writer) *Logger {
	if w == nil {
		return nil
	}
	return &Logger{w: w}
}

// Printf writes a formatted trace line. No-op on a nil *Logger.
func (l *Logger) Printf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	fmt.Fprintf(l.w, format, args...)
}

// Count writes a trace line with a human-readable count, e.g. for
// worklist-size or node-count progress reports.
func (l *Logger) Count(label string, n int) {
	if l == nil {
		return
	}
	fmt.Fprintf(l.w, "\t%s: %s\n", label, humanize.Comma(int64(n)))
}

// InvariantError marks a fatal, unrecoverable violation of a documented
// precondition — a programming bug, never something a caller should
// retry past.
type InvariantError struct {
	cause error
}

func (e *InvariantError) Error() string { return e.cause.Error() }
func (e *InvariantError) Unwrap() error { return e.cause }

// Fatalf builds an *InvariantError carrying a formatted message and panics
// with it. Callers that embed this core may recover and translate the
// panic into their own error channel; the core itself never calls
// os.Exit.
func Fatalf(format string, args ...interface{}) {
	panic(&InvariantError{cause: errors.Errorf(format, args...)})
}

// MismatchCounter counts silently-absorbed variant mismatches on
// join/meet/widen/narrow. It is incremented via sync/atomic even though the core
// is single-threaded, so that an embedder sharing a counter across
// concurrently-run analyses never races on it.
type MismatchCounter struct {
	n int64
}

// Inc records one absorbed mismatch.
func (c *MismatchCounter) Inc() {
	if c == nil {
		return
	}
	atomic.AddInt64(&c.n, 1)
}

// Count returns the number of absorbed mismatches so far.
func (c *MismatchCounter) Count() int64 {
	if c == nil {
		return 0
	}
	return atomic.LoadInt64(&c.n)
}
