package logger

import (
	"sync"

	"github.com/theory-cloud/layertheory/pkg/observability"
)

var (
	globalMu     sync.RWMutex
	globalLogger observability.StructuredLogger = observability.NewNoOpLogger()
)

// Logger returns the global structured logger singleton.
//
// Constructs log through it so that library callers stay silent unless the
// CLI (or a test) installs a real logger.
func Logger() observability.StructuredLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetLogger replaces the global structured logger singleton and returns the
// previous one.
//
// Passing nil resets the logger to a no-op implementation.
func SetLogger(next observability.StructuredLogger) observability.StructuredLogger {
	globalMu.Lock()
	defer globalMu.Unlock()
	prev := globalLogger
	if next == nil {
		globalLogger = observability.NewNoOpLogger()
		return prev
	}
	globalLogger = next
	return prev
}
