// Package blaze defines the error taxonomy shared by the persistence
// and query packages.
package blaze

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("blaze: record not found")

	// ErrNoTransaction is returned when commit or rollback is called
	// with no open transaction frame.
	ErrNoTransaction = errors.New("blaze: no active transaction")

	// ErrSavepointsUnsupported is returned when a nested begin is issued
	// against a dialect without savepoint support.
	ErrSavepointsUnsupported = errors.New("blaze: dialect does not support savepoints")

	// ErrDestructiveNotConfirmed is returned when a destructive migration
	// operation runs without explicit confirmation.
	ErrDestructiveNotConfirmed = errors.New("blaze: destructive operation not confirmed")
)

// ConfigurationError reports invalid configuration detected before any I/O:
// a missing driver, a malformed DSN, or an unresolved relation target.
type ConfigurationError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("blaze: configuration: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error { return e.wrap }

// NewConfigurationError returns a new ConfigurationError with the given message.
func NewConfigurationError(msg string, wrap error) error {
	return &ConfigurationError{msg: msg, wrap: wrap}
}

// IsConfiguration returns true if the error is a ConfigurationError.
func IsConfiguration(err error) bool {
	if err == nil {
		return false
	}
	var e *ConfigurationError
	return errors.As(err, &e)
}

// ConnectionError reports a failure establishing or using a connection.
// The session never retries; a closed connection is reopened lazily on
// the next use.
type ConnectionError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("blaze: connection: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error { return e.wrap }

// NewConnectionError returns a new ConnectionError with the given message.
func NewConnectionError(msg string, wrap error) error {
	return &ConnectionError{msg: msg, wrap: wrap}
}

// IsConnection returns true if the error is a ConnectionError.
func IsConnection(err error) bool {
	if err == nil {
		return false
	}
	var e *ConnectionError
	return errors.As(err, &e)
}

// ExecutionError reports a failed statement. Parameter/placeholder count
// mismatches are raised as ExecutionError before the statement is ever
// dispatched to the backend.
type ExecutionError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("blaze: execution: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error { return e.wrap }

// NewExecutionError returns a new ExecutionError with the given message.
func NewExecutionError(msg string, wrap error) error {
	return &ExecutionError{msg: msg, wrap: wrap}
}

// IsExecution returns true if the error is an ExecutionError.
func IsExecution(err error) bool {
	if err == nil {
		return false
	}
	var e *ExecutionError
	return errors.As(err, &e)
}

// TransactionError reports misuse of the transaction frame stack:
// commit/rollback with no open frame, or a nested begin on a dialect
// without savepoint support.
type TransactionError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e *TransactionError) Error() string {
	return fmt.Sprintf("blaze: transaction: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e *TransactionError) Unwrap() error { return e.wrap }

// NewTransactionError returns a new TransactionError wrapping an optional sentinel.
func NewTransactionError(msg string, wrap error) error {
	return &TransactionError{msg: msg, wrap: wrap}
}

// IsTransaction returns true if the error is a TransactionError.
func IsTransaction(err error) bool {
	if err == nil {
		return false
	}
	var e *TransactionError
	return errors.As(err, &e)
}

// ValidationError aggregates per-field validation failures for one record.
// The key "__all__" carries record-level messages.
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError returns a ValidationError over the given field messages.
func NewValidationError(fields map[string][]string) *ValidationError {
	copied := make(map[string][]string, len(fields))
	for name, msgs := range fields {
		copied[name] = append([]string(nil), msgs...)
	}
	return &ValidationError{Fields: copied}
}

// Error returns the error string with fields in stable order.
func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	segments := make([]string, 0, len(names))
	for _, name := range names {
		label := name
		if name == "__all__" {
			label = "non-field"
		}
		segments = append(segments, fmt.Sprintf("%s: %s", label, strings.Join(e.Fields[name], "; ")))
	}
	return "blaze: validation failed: " + strings.Join(segments, "; ")
}

// Add appends a message for the given field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// Merge folds another ValidationError into this one.
func (e *ValidationError) Merge(other *ValidationError) {
	for name, msgs := range other.Fields {
		for _, msg := range msgs {
			e.Add(name, msg)
		}
	}
}

// Empty reports whether no messages have been recorded.
func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

// IsValidation returns true if the error is a ValidationError.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// DestructiveError reports a destructive migration operation that was
// refused because it lacked explicit confirmation. Fail-closed.
type DestructiveError struct {
	Operation string
}

// Error returns the error string.
func (e *DestructiveError) Error() string {
	return fmt.Sprintf("blaze: destructive operation %q requires explicit confirmation", e.Operation)
}

// Is reports whether the target matches ErrDestructiveNotConfirmed.
func (e *DestructiveError) Is(err error) bool {
	return err == ErrDestructiveNotConfirmed
}

// IsDestructive returns true if the error is a DestructiveError.
func IsDestructive(err error) bool {
	if err == nil {
		return false
	}
	var e *DestructiveError
	return errors.As(err, &e)
}

// NotFoundError reports a missing record for a specific type and key.
type NotFoundError struct {
	label string
	id    any
}

// NewNotFoundError returns a new NotFoundError for the given record type.
func NewNotFoundError(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("blaze: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("blaze: %s not found", e.label)
}

// Is reports whether the target error matches ErrNotFound.
func (e *NotFoundError) Is(err error) bool { return err == ErrNotFound }

// Label returns the record type label.
func (e *NotFoundError) Label() string { return e.label }

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}
