package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/mosiko1234/cfa/console/internal/logger"
)

// RetryConfig defines configuration for retry behavior
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the retry policy used for opening local resources at startup
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryWithBackoff executes fn with exponential backoff until it succeeds, the attempts
// run out, or ctx is done. Telemetry calls never go through here; their retry policy is
// the next scheduled tick.
func RetryWithBackoff(ctx context.Context, operation string, config RetryConfig, fn func() error) error {
	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info("Operation '%s' succeeded after %d attempts", operation, attempt)
			}
			return nil
		}

		lastErr = err

		if attempt == config.MaxAttempts {
			logger.Error("Operation '%s' failed after %d attempts: %v", operation, config.MaxAttempts, err)
			break
		}

		logger.Warn("Operation '%s' failed (attempt %d/%d): %v. Retrying in %v...",
			operation, attempt, config.MaxAttempts, err, delay)

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation '%s' cancelled: %w", operation, ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return fmt.Errorf("operation '%s' failed after %d attempts: %w", operation, config.MaxAttempts, lastErr)
}

// Wrap wraps an error with additional context
func Wrap(err error, context string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(context, args...), err)
}

// ComponentError represents an error from a specific component
type ComponentError struct {
	Component string
	Operation string
	Err       error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Component, e.Operation, e.Err)
}

func (e *ComponentError) Unwrap() error {
	return e.Err
}

// NewComponentError creates a new component-specific error
func NewComponentError(component, operation string, err error) error {
	return &ComponentError{
		Component: component,
		Operation: operation,
		Err:       err,
	}
}

// As is errors.As, re-exported so callers importing this package need not alias the stdlib one
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Is is errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// New is errors.New
func New(text string) error {
	return stderrors.New(text)
}

// SafeClose closes a resource and logs any error
func SafeClose(closer interface{ Close() error }, resourceName string) {
	if closer == nil {
		return
	}

	if err := closer.Close(); err != nil {
		logger.Warn("Failed to close %s: %v", resourceName, err)
	}
}
