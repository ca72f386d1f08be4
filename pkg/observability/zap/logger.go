// Package zap backs observability.StructuredLogger with go.uber.org/zap.
//
// A root logger from New and every logger derived from it share one run.
// Error entries logged during the run are held back and handed to the run's
// notifier as a single batch when Flush is called, which the CLI does once on
// exit.
package zap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	ubzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/theory-cloud/layertheory/pkg/observability"
)

// maxCollectedErrors bounds the entries held for one notification.
const maxCollectedErrors = 50

type Option func(*options)

type options struct {
	core     zapcore.Core
	notifier observability.ErrorNotifier
}

// WithCore writes through core instead of stderr. The configured level is
// then left to the core.
func WithCore(core zapcore.Core) Option {
	return func(o *options) { o.core = core }
}

// WithNotifier delivers the run's error entries on Flush. A nil notifier
// disables delivery.
func WithNotifier(notifier observability.ErrorNotifier) Option {
	return func(o *options) { o.notifier = notifier }
}

type run struct {
	base     *ubzap.Logger
	notifier observability.ErrorNotifier

	mu      sync.Mutex
	pending []observability.LogEntry
	dropped int
}

type Logger struct {
	run *run
	log *ubzap.Logger

	fields map[string]any
	runID  string
	stack  string
	layer  string
}

var _ observability.StructuredLogger = (*Logger)(nil)

// New builds a root logger writing to stderr.
func New(cfg observability.LoggerConfig, opts ...Option) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	encoder, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	core := o.core
	if core == nil {
		core = zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	}

	base := ubzap.New(core)
	return &Logger{
		run: &run{base: base, notifier: o.notifier},
		log: base,
	}, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("layertheory/zap: unsupported log level %q", level)
	}
}

func newEncoder(format string) (zapcore.Encoder, error) {
	enc := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "console"
		if isCI() {
			format = "json"
		}
	}
	switch format {
	case "json":
		return zapcore.NewJSONEncoder(enc), nil
	case "console":
		return zapcore.NewConsoleEncoder(enc), nil
	default:
		return nil, fmt.Errorf("layertheory/zap: unsupported log format %q", format)
	}
}

// isCI reports whether the process runs in a pipeline where machine-readable
// logs are preferred.
func isCI() bool {
	return strings.TrimSpace(os.Getenv("CI")) != "" || strings.TrimSpace(os.Getenv("CODEBUILD_BUILD_ID")) != ""
}

func (l *Logger) Debug(message string, fields ...map[string]any) {
	l.write(zapcore.DebugLevel, message, fields)
}
func (l *Logger) Info(message string, fields ...map[string]any) {
	l.write(zapcore.InfoLevel, message, fields)
}
func (l *Logger) Warn(message string, fields ...map[string]any) {
	l.write(zapcore.WarnLevel, message, fields)
}
func (l *Logger) Error(message string, fields ...map[string]any) {
	l.write(zapcore.ErrorLevel, message, fields)
}

func (l *Logger) WithField(key string, value any) observability.StructuredLogger {
	return l.WithFields(map[string]any{key: value})
}

func (l *Logger) WithFields(fields map[string]any) observability.StructuredLogger {
	next := l.derive()
	for k, v := range fields {
		next.fields[k] = v
	}
	next.log = l.log.With(zapFields(observability.SanitizeFields(fields))...)
	return next
}

func (l *Logger) WithRunID(runID string) observability.StructuredLogger {
	next := l.derive()
	next.runID = observability.SanitizeLogString(runID)
	next.log = l.log.With(ubzap.String("run_id", next.runID))
	return next
}

func (l *Logger) WithStack(stack string) observability.StructuredLogger {
	next := l.derive()
	next.stack = observability.SanitizeLogString(stack)
	next.log = l.log.With(ubzap.String("stack", next.stack))
	return next
}

func (l *Logger) WithLayer(layer string) observability.StructuredLogger {
	next := l.derive()
	next.layer = observability.SanitizeLogString(layer)
	next.log = l.log.With(ubzap.String("layer", next.layer))
	return next
}

// Flush syncs the zap core and delivers the errors collected since the last
// flush.
func (l *Logger) Flush(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	if err := l.run.base.Sync(); err != nil && !ignorableSyncError(err) {
		errs = append(errs, fmt.Errorf("layertheory/zap: sync: %w", err))
	}
	if err := l.run.deliver(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Stderr attached to a terminal or pipe cannot be fsynced.
func ignorableSyncError(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}

func (l *Logger) derive() *Logger {
	fields := make(map[string]any, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{run: l.run, log: l.log, fields: fields, runID: l.runID, stack: l.stack, layer: l.layer}
}

func (l *Logger) write(level zapcore.Level, message string, fields []map[string]any) {
	message = observability.SanitizeLogString(message)
	if ce := l.log.Check(level, message); ce != nil {
		ce.Write(zapFields(observability.SanitizeFields(nil, fields...))...)
	}
	if level >= zapcore.ErrorLevel {
		l.run.collect(observability.LogEntry{
			Timestamp: time.Now().UTC(),
			Level:     level.String(),
			Message:   message,
			Fields:    observability.SanitizeFields(l.fields, fields...),
			RunID:     l.runID,
			Stack:     l.stack,
			Layer:     l.layer,
		})
	}
}

func (r *run) collect(entry observability.LogEntry) {
	if r.notifier == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) >= maxCollectedErrors {
		r.dropped++
		return
	}
	r.pending = append(r.pending, entry)
}

func (r *run) deliver(ctx context.Context) error {
	r.mu.Lock()
	pending, dropped := r.pending, r.dropped
	r.pending, r.dropped = nil, 0
	r.mu.Unlock()

	if r.notifier == nil || len(pending) == 0 {
		return nil
	}
	if dropped > 0 {
		pending = append(pending, observability.LogEntry{
			Timestamp: time.Now().UTC(),
			Level:     zapcore.ErrorLevel.String(),
			Message:   fmt.Sprintf("%d more error(s) omitted", dropped),
			RunID:     pending[0].RunID,
		})
	}
	if err := r.notifier.Notify(ctx, pending); err != nil {
		return fmt.Errorf("layertheory/zap: notify: %w", err)
	}
	return nil
}

func zapFields(fields map[string]any) []ubzap.Field {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ubzap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, ubzap.Any(k, fields[k]))
	}
	return out
}
