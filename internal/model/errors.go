package model

import (
	"errors"
	"fmt"
)

// RetriableError is implemented by errors that may succeed on retry.
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable.
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError wraps a failed REST or transport operation.
type NetworkError struct {
	Op        string // e.g. "fetch bars", "dial"
	Err       error
	Retriable bool
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool { return e.Retriable }
func (e *NetworkError) Unwrap() error     { return e.Err }

// NewNetworkError creates a retriable network error.
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// ConfigError is a bad or unsupported setting. Never retriable.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool { return false }
func (e *ConfigError) Unwrap() error     { return e.Err }

// CredentialError means no usable provider keys exist for the user.
type CredentialError struct {
	UserID string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("no credentials for user %q", e.UserID)
	}
	return fmt.Sprintf("credentials for user %q: %v", e.UserID, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// ProtocolError is a malformed live-feed message. Dropped, never fatal.
type ProtocolError struct {
	Raw []byte
	Err error
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IndicatorError records one indicator that failed to compute.
type IndicatorError struct {
	Indicator string
	Err       error
}

func (e *IndicatorError) Error() string {
	return "indicator " + e.Indicator + ": " + e.Err.Error()
}

func (e *IndicatorError) Unwrap() error { return e.Err }

var (
	// ErrNotFound is returned by a bars provider that has no data for a symbol.
	ErrNotFound = errors.New("not found")

	// ErrConnectionLost is reported when the live transport closes or errors.
	ErrConnectionLost = errors.New("connection lost")

	// ErrUnsupportedTimeframe is wrapped in a ConfigError.
	ErrUnsupportedTimeframe = errors.New("unsupported timeframe")

	// ErrUnknownIndicator is returned for indicator names outside the known set.
	ErrUnknownIndicator = errors.New("unknown indicator")

	// ErrInvalidSymbol is returned for empty or malformed symbols.
	ErrInvalidSymbol = errors.New("invalid symbol")
)
