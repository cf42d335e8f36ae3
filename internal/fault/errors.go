// Package fault classifies the failures meshtrace components can report.
//
// Fatal conditions are returned as *Error values carrying a Kind, so callers
// branch with KindOf or Is instead of inspecting message text. Non-fatal
// conditions are Warning values accumulated in a component's result.
package fault

import (
	"errors"
	"fmt"
)

// Kind categorizes a fatal error.
type Kind string

const (
	// KindConfiguration indicates missing or unreadable settings.
	KindConfiguration Kind = "configuration"

	// KindConnectivity indicates the store or a source database could not be opened.
	KindConnectivity Kind = "connectivity"

	// KindConsistency indicates an invariant of the stored data is violated.
	KindConsistency Kind = "consistency"

	// KindNotFound indicates a referenced table or record does not exist.
	KindNotFound Kind = "not_found"

	// KindInsufficientData indicates there is not enough data to build a result.
	KindInsufficientData Kind = "insufficient_data"

	// KindNoInput indicates an input tree contained no usable files.
	KindNoInput Kind = "no_input"
)

// Error is a classified fatal error.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Op names the operation that failed (e.g. "reconcile", "store.open").
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error without an underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
// Returns "" if err is nil or unclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsFatalData reports whether err signals bad data rather than a bad environment.
// Consistency and insufficient-data failures depend on the store contents;
// everything else depends on configuration or connectivity.
func IsFatalData(err error) bool {
	switch KindOf(err) {
	case KindConsistency, KindInsufficientData:
		return true
	}
	return false
}
