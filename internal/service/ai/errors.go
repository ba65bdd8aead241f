package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrModelUnavailable is a transient upstream failure; the whole invocation may be retried.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrModelError is a persistent or semantic upstream failure.
	ErrModelError = errors.New("model error")
)

var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"rate limit",
	"ratelimit",
	"too many requests",
	"429",
	"502",
	"503",
	"504",
	"temporarily unavailable",
	"service unavailable",
	"connection reset",
	"connection refused",
	"server overloaded",
}

// Classify maps a raw model error onto ErrModelUnavailable or ErrModelError.
// Errors already classified pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrModelUnavailable) || errors.Is(err, ErrModelError) {
		return err
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return fmt.Errorf("%w: %w", ErrModelError, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
