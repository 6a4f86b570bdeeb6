package utils

import (
	"errors"
	"strings"
)

var ErrorRecordNotFound = errors.New("record not found")

// ValidationError is a request-level error the submitting user can fix
// (wrong amounts, currency mismatch, missing proof).
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConfigurationError means a required account mapping is missing. Only an
// operator can fix it, so it must be kept distinct from ValidationError and
// must block both submission and approval.
type ConfigurationError struct {
	Missing []string `json:"missing"`
}

func (e *ConfigurationError) Error() string {
	return "missing account configuration: " + strings.Join(e.Missing, ", ")
}

func NewConfigurationError(missing ...string) *ConfigurationError {
	return &ConfigurationError{Missing: missing}
}

func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ConsistencyError is raised inside a transactional write when records no
// longer satisfy an invariant (e.g. an item already settled by another
// transaction). Callers should not retry without re-reading state.
type ConsistencyError struct {
	Message string `json:"message"`
}

func (e *ConsistencyError) Error() string { return e.Message }

func NewConsistencyError(message string) *ConsistencyError {
	return &ConsistencyError{Message: message}
}

func IsConsistencyError(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
