package enrich

import (
	"context"
	"errors"
	"strings"
)

// IsTransient reports errors that should move the call to the next target.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsContentRefused(err) || IsRateLimited(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == 429
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "timeout", "network", "eof"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsFatal reports errors that no other target will fix.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"invalid request", "bad request", "malformed"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// result labels an outcome for metrics.
func result(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsRateLimited(err):
		return "rate_limited"
	case IsContentRefused(err):
		return "content_refused"
	case IsTransient(err):
		return "transient"
	case IsFatal(err):
		return "fatal"
	}
	return "unknown"
}
