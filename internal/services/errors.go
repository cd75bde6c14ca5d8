package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrExternalTool marks failures of one-shot external processes
	// (non-zero exit, missing or truncated output).
	ErrExternalTool = errors.New("external tool error")
	// ErrValidation marks precondition violations rejected before any
	// state mutation. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or inconsistent configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks lookups of unknown entities.
	ErrNotFound = errors.New("not found")
	// ErrWorkerTerminated marks jobs failed because the AI worker process
	// exited before responding. All pending jobs fail with this uniformly.
	ErrWorkerTerminated = errors.New("worker terminated")
	// ErrTransient marks retryable failures without a more specific class.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes pipeline context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsPrecondition reports whether an error was rejected before any state
// mutation and therefore must not transition the entity.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrConfiguration) || errors.Is(err, ErrNotFound)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
