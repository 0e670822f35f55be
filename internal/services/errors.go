package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks a bad submission rejected before any state exists.
	ErrValidation = errors.New("validation error")
	// ErrProtocol marks a poll that found a job missing its required prior state.
	ErrProtocol = errors.New("stage protocol error")
	// ErrTimeout marks a stage that exceeded its configured budget.
	ErrTimeout = errors.New("stage timeout")
	// ErrExternalTool marks a failure raised by a remote transform or render engine.
	ErrExternalTool = errors.New("external service error")
	// ErrNotFound marks a lookup for a job or artifact that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks invalid or missing operator configuration.
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
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
