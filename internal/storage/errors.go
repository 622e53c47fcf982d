// Package storage holds the configuration reader and errors shared by the
// state store backends and the off-chain content stores.
package storage

import "fmt"

// ConfigError reports a bad or unusable backend setting.
type ConfigError struct {
	Backend string
	Field   string
	Value   string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	switch {
	case e.Field == "":
		return fmt.Sprintf("%s: %s", e.Backend, msg)
	case e.Value == "":
		return fmt.Sprintf("%s: %s: %s", e.Backend, e.Field, msg)
	default:
		return fmt.Sprintf("%s: %s=%q: %s", e.Backend, e.Field, e.Value, msg)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError reports a problem with field that has no underlying error.
func NewConfigError(backend, field, message string) *ConfigError {
	return &ConfigError{Backend: backend, Field: field, Message: message}
}

// Failed reports that acting on field failed with cause, for example
// opening the database named by a path.
func Failed(backend, field, message string, cause error) *ConfigError {
	return &ConfigError{Backend: backend, Field: field, Message: message, Cause: cause}
}
