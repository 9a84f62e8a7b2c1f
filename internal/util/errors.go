package util

import (
	"fmt"
	"log/slog"
)

// WrapError wraps an error with a descriptive operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// LogPanic recovers a panic in the calling goroutine and logs it.
// It must be called directly with defer.
func LogPanic(where string) {
	if r := recover(); r != nil {
		slog.Error("recovered from panic", "where", where, "panic", r)
	}
}
