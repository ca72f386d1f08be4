package observability

import (
	"context"
	"sync"
	"time"
)

// TestLogger records entries in memory. Loggers derived with With* append to
// the same record.
type TestLogger struct {
	rec *testRecord

	fields map[string]any
	runID  string
	stack  string
	layer  string
}

type testRecord struct {
	mu      sync.Mutex
	entries []LogEntry
	flushes int
}

var _ StructuredLogger = (*TestLogger)(nil)

func NewTestLogger() *TestLogger {
	return &TestLogger{rec: &testRecord{}}
}

// Entries returns a copy of everything logged so far.
func (l *TestLogger) Entries() []LogEntry {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	return append([]LogEntry(nil), l.rec.entries...)
}

// Messages returns the logged messages in order.
func (l *TestLogger) Messages() []string {
	entries := l.Entries()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

// Flushes counts Flush calls across derived loggers.
func (l *TestLogger) Flushes() int {
	l.rec.mu.Lock()
	defer l.rec.mu.Unlock()
	return l.rec.flushes
}

func (l *TestLogger) Debug(message string, fields ...map[string]any) { l.add("debug", message, fields) }
func (l *TestLogger) Info(message string, fields ...map[string]any)  { l.add("info", message, fields) }
func (l *TestLogger) Warn(message string, fields ...map[string]any)  { l.add("warn", message, fields) }
func (l *TestLogger) Error(message string, fields ...map[string]any) { l.add("error", message, fields) }

func (l *TestLogger) WithField(key string, value any) StructuredLogger {
	return l.WithFields(map[string]any{key: value})
}

func (l *TestLogger) WithFields(fields map[string]any) StructuredLogger {
	next := l.derive()
	for k, v := range fields {
		next.fields[k] = v
	}
	return next
}

func (l *TestLogger) WithRunID(runID string) StructuredLogger {
	next := l.derive()
	next.runID = runID
	return next
}

func (l *TestLogger) WithStack(stack string) StructuredLogger {
	next := l.derive()
	next.stack = stack
	return next
}

func (l *TestLogger) WithLayer(layer string) StructuredLogger {
	next := l.derive()
	next.layer = layer
	return next
}

func (l *TestLogger) Flush(ctx context.Context) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	l.rec.mu.Lock()
	l.rec.flushes++
	l.rec.mu.Unlock()
	return nil
}

func (l *TestLogger) derive() *TestLogger {
	fields := make(map[string]any, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &TestLogger{rec: l.rec, fields: fields, runID: l.runID, stack: l.stack, layer: l.layer}
}

func (l *TestLogger) add(level, message string, fields []map[string]any) {
	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   SanitizeLogString(message),
		Fields:    SanitizeFields(l.fields, fields...),
		RunID:     l.runID,
		Stack:     l.stack,
		Layer:     l.layer,
	}
	l.rec.mu.Lock()
	l.rec.entries = append(l.rec.entries, entry)
	l.rec.mu.Unlock()
}
