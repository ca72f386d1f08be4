package observability

import (
	"context"
	"time"
)

// LogEntry represents a structured log entry.
//
// RunID identifies one synth or inspect invocation; Stack and Layer scope the
// entry to the construct being processed.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`

	RunID string `json:"run_id,omitempty"`
	Stack string `json:"stack,omitempty"`
	Layer string `json:"layer,omitempty"`
}

// ErrorNotifier delivers the error entries collected during a run.
type ErrorNotifier interface {
	Notify(ctx context.Context, entries []LogEntry) error
}

// StructuredLogger is the logging surface shared by the constructs, the
// manifest loader and the CLI.
type StructuredLogger interface {
	Debug(message string, fields ...map[string]any)
	Info(message string, fields ...map[string]any)
	Warn(message string, fields ...map[string]any)
	Error(message string, fields ...map[string]any)

	WithField(key string, value any) StructuredLogger
	WithFields(fields map[string]any) StructuredLogger

	WithRunID(runID string) StructuredLogger
	WithStack(stack string) StructuredLogger
	WithLayer(layer string) StructuredLogger

	// Flush writes buffered output and hands any collected errors to the
	// run's notifier. Loggers derived with With* share one run.
	Flush(ctx context.Context) error
}

// LoggerConfig is the `log:` block of a manifest.
type LoggerConfig struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string `yaml:"level"`
	// Format is json or console. Empty picks json in CI and console otherwise.
	Format string `yaml:"format"`
}
