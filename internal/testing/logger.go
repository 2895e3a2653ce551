// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/juju/loggo/v2"
)

const (
	// ShortWait is how long a test waits to make sure something does
	// not happen.
	ShortWait = 50 * time.Millisecond

	// LongWait is how long a test waits for something that should
	// happen before giving up.
	LongWait = 10 * time.Second
)

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) Criticalf(string, ...any) {}
func (NoopLogger) Errorf(string, ...any)    {}
func (NoopLogger) Warningf(string, ...any)  {}
func (NoopLogger) Infof(string, ...any)     {}
func (NoopLogger) Debugf(string, ...any)    {}
func (NoopLogger) Tracef(string, ...any)    {}

func (NoopLogger) IsTraceEnabled() bool { return false }

// CheckLog is an interface that can be used to log messages to a
// *testing.T or *check.C.
type CheckLog interface {
	Logf(string, ...any)
}

// CheckLogger logs to a *testing.T or *check.C, so the output is only
// shown for failing tests.
type CheckLogger struct {
	Log CheckLog
}

// NewCheckLogger returns a CheckLogger that logs to the given CheckLog.
func NewCheckLogger(log CheckLog) CheckLogger {
	return CheckLogger{Log: log}
}

func (c CheckLogger) Criticalf(msg string, args ...any) { c.logf(loggo.CRITICAL, msg, args...) }
func (c CheckLogger) Errorf(msg string, args ...any)    { c.logf(loggo.ERROR, msg, args...) }
func (c CheckLogger) Warningf(msg string, args ...any)  { c.logf(loggo.WARNING, msg, args...) }
func (c CheckLogger) Infof(msg string, args ...any)     { c.logf(loggo.INFO, msg, args...) }
func (c CheckLogger) Debugf(msg string, args ...any)    { c.logf(loggo.DEBUG, msg, args...) }
func (c CheckLogger) Tracef(msg string, args ...any)    { c.logf(loggo.TRACE, msg, args...) }

func (c CheckLogger) IsTraceEnabled() bool { return true }

func (c CheckLogger) logf(level loggo.Level, msg string, args ...any) {
	c.Log.Logf(fmt.Sprintf("%s: %s", level.String(), msg), args...)
}

// Entry is a message captured by a RecordingLogger.
type Entry struct {
	Level   loggo.Level
	Message string
}

// RecordingLogger keeps every message so tests can assert on what was
// logged. It is safe for concurrent use.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *RecordingLogger) Criticalf(msg string, args ...any) { r.record(loggo.CRITICAL, msg, args...) }
func (r *RecordingLogger) Errorf(msg string, args ...any)    { r.record(loggo.ERROR, msg, args...) }
func (r *RecordingLogger) Warningf(msg string, args ...any)  { r.record(loggo.WARNING, msg, args...) }
func (r *RecordingLogger) Infof(msg string, args ...any)     { r.record(loggo.INFO, msg, args...) }
func (r *RecordingLogger) Debugf(msg string, args ...any)    { r.record(loggo.DEBUG, msg, args...) }
func (r *RecordingLogger) Tracef(msg string, args ...any)    { r.record(loggo.TRACE, msg, args...) }

func (r *RecordingLogger) IsTraceEnabled() bool { return true }

func (r *RecordingLogger) record(level loggo.Level, msg string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Message: fmt.Sprintf(msg, args...)})
}

// Entries returns a copy of everything logged so far.
func (r *RecordingLogger) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Contains reports whether any message at level contains substr.
func (r *RecordingLogger) Contains(level loggo.Level, substr string) bool {
	for _, e := range r.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
