package goroutine

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// ErrPanicked is wrapped by SafeCall when the called function panicked
var ErrPanicked = errors.New("panic recovered")

// Recover recovers from panics in goroutines and logs them.
// Use as `defer goroutine.Recover("worker", logger)`.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logPanic(name, r, logger)
	}
}

// SafeCall runs fn and converts a panic into an error wrapping ErrPanicked.
// Errors returned by fn are passed through unchanged.
func SafeCall(name string, logger *zap.SugaredLogger, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(name, r, logger)
			err = fmt.Errorf("%s: %w: %v", name, ErrPanicked, r)
		}
	}()
	return fn()
}

func logPanic(name string, r interface{}, logger *zap.SugaredLogger) {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)

	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(buf[:n]))
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n",
		name, r, string(buf[:n]))
}
