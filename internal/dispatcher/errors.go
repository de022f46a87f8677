package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/local/questionextractor/internal/converter"
	"github.com/local/questionextractor/internal/source"
)

// RetryableError marks a job failure worth another attempt.
type RetryableError struct {
	Stage string
	Err   error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s (retryable): %v", e.Stage, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err unless it is nil.
func Retryable(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Stage: stage, Err: err}
}

// isFatalError reports failures that no retry can fix.
func isFatalError(err error) bool {
	switch {
	case errors.Is(err, source.ErrUnsupported),
		errors.Is(err, source.ErrInvalidPDF),
		errors.Is(err, source.ErrNotFound),
		errors.Is(err, converter.ErrProtected):
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "nosuchkey") ||
		strings.Contains(errStr, "nosuchbucket") ||
		strings.Contains(errStr, "access denied") ||
		strings.Contains(errStr, "invalid s3 url")
}

// isTransientError reports failures that are worth a delayed retry.
func isTransientError(err error) bool {
	if err == nil || isFatalError(err) {
		return false
	}
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "http 5") ||
		strings.Contains(errStr, "http 429") ||
		strings.Contains(errStr, "slowdown")
}
