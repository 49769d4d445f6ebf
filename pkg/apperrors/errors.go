package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrBadRequest             = errors.New("bad request")
	ErrValidation             = errors.New("validation failed")
	ErrUnsupportedConnector   = errors.New("unsupported connector")
	ErrConnectivity           = errors.New("connectivity failure")
	ErrConflict               = errors.New("conflict")
	ErrCredentialsKeyMismatch = errors.New("connection credentials were encrypted with a different key")
)

// NotFoundError reports one or more missing resources at once.
type NotFoundError struct {
	Resource string
	IDs      []string
}

func (e *NotFoundError) Error() string {
	switch len(e.IDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.IDs[0])
	default:
		return fmt.Sprintf("%s(s) with ID(s) '%s' not found", e.Resource, strings.Join(e.IDs, ", "))
	}
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError for the given resource kind.
func NotFound(resource string, ids ...string) error {
	return &NotFoundError{Resource: resource, IDs: ids}
}

// ItemError describes a validation problem with a single element of a batch.
type ItemError struct {
	Index   int    `json:"index"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationError collects every per-item failure of a batch.
type ValidationError struct {
	Items []ItemError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		msgs = append(msgs, fmt.Sprintf("item %d: %s", item.Index, item.Message))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validation builds a single-item ValidationError.
func Validation(message string) error {
	return &ValidationError{Items: []ItemError{{Message: message}}}
}

// Connectivity categories reported to callers instead of raw driver text.
const (
	CategoryTimeout     = "timeout"
	CategoryAuth        = "auth"
	CategoryUnreachable = "unreachable"
	CategoryRemote      = "remote_error"
)

// ConnectivityError wraps a transient failure talking to an external system.
// Callers may retry it.
type ConnectivityError struct {
	Category string
	Message  string
	Err      error
}

func (e *ConnectivityError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "connectivity failure: " + e.Category
}

func (e *ConnectivityError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConnectivity}
	}
	return []error{ErrConnectivity, e.Err}
}

// IsRetryable marks connectivity failures as transient for the retry package.
// Authentication failures will not fix themselves.
func (e *ConnectivityError) IsRetryable() bool {
	return e.Category != CategoryAuth
}

// Connectivity builds a ConnectivityError.
func Connectivity(category, message string, err error) error {
	return &ConnectivityError{Category: category, Message: message, Err: err}
}

// BadRequest wraps ErrBadRequest with a caller-facing message.
func BadRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// Conflict wraps ErrConflict with a caller-facing message.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Unsupported reports a connector type that no strategy is registered for.
func Unsupported(connectorType string) error {
	return fmt.Errorf("%w: connector type %q is not supported", ErrUnsupportedConnector, connectorType)
}

// Message strips the sentinel prefix so handlers can show the human part only.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ce *ConnectivityError
	if errors.As(err, &ce) && ce.Message != "" {
		return ce.Message
	}
	msg := err.Error()
	for _, sentinel := range []error{ErrBadRequest, ErrConflict, ErrUnsupportedConnector} {
		prefix := sentinel.Error() + ": "
		if errors.Is(err, sentinel) && strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}
