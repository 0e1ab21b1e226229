// Package npmerr implements the tagged error taxonomy shared by every
// component of the resolver core.
package npmerr

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Kind tags the category of failure. The ten kinds are exhaustive: every
// error produced by this module carries exactly one.
type Kind string

const (
	ENotFound    Kind = "ENOTFOUND"
	EFetch       Kind = "EFETCH"
	EInstall     Kind = "EINSTALL"
	EExec        Kind = "EEXEC"
	ESecurity    Kind = "ESECURITY"
	EValidation  Kind = "EVALIDATION"
	ETimeout     Kind = "ETIMEOUT"
	EResolution  Kind = "ERESOLUTION"
	ETarball     Kind = "ETARBALL"
	EParse       Kind = "EPARSE"
)

// Error is the structured error type used throughout the core. It is
// JSON round-trippable and supports errors.Is/errors.As via Unwrap.
type Error struct {
	Kind    Kind                   `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
	Stack   string                 `json:"stack,omitempty"`

	cause error
}

// New builds a fresh Error of the given kind with a formatted message.
// The call site's stack is captured via github.com/pkg/errors so that
// wrapped causes keep their original frame, matching the teacher's
// practice of wrapping rather than discarding lower-level errors.
func New(kind Kind, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	withStack := errors.New(msg)
	return &Error{
		Kind:    kind,
		Message: msg,
		Stack:   fmt.Sprintf("%+v", withStack),
		cause:   withStack,
	}
}

// Wrap tags an existing error with a Kind, defaulting to defaultCode when
// err is not already an *Error. An err that is (or wraps) an *Error is
// returned as that *Error, keeping its own kind; wrapping nil returns nil.
func Wrap(err error, defaultCode Kind) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	wrapped := errors.WithStack(err)
	return &Error{
		Kind:    defaultCode,
		Message: err.Error(),
		Stack:   fmt.Sprintf("%+v", wrapped),
		cause:   wrapped,
	}
}

// With attaches a context key/value pair and returns the same Error for
// chaining, e.g. npmerr.New(npmerr.EFetch, "boom").With("package", name).
func (e *Error) With(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause so errors.Is/errors.As keep working
// through the chain.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Cause returns the deepest non-wrapped error, via github.com/pkg/errors.
func (e *Error) Cause() error {
	if e == nil || e.cause == nil {
		return nil
	}
	return errors.Cause(e.cause)
}

// Is reports whether err is an *Error with the same Kind. Lets callers do
// errors.Is(err, npmerr.New(npmerr.ENotFound, "")) style kind checks.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// IsNpmError is the type guard mentioned in the spec: reports whether err
// is (or wraps) a tagged *Error and returns it.
func IsNpmError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is a tagged error, or "" otherwise.
func KindOf(err error) Kind {
	if e, ok := IsNpmError(err); ok {
		return e.Kind
	}
	return ""
}

// jsonError is the wire shape for MarshalJSON/UnmarshalJSON; it drops the
// unexported cause so round-tripping never panics on a nil interface.
type jsonError struct {
	Name    string                 `json:"name"`
	Kind    Kind                   `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
	Stack   string                 `json:"stack,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonError{
		Name:    "NpmError",
		Kind:    e.Kind,
		Message: e.Message,
		Context: e.Context,
		Stack:   e.Stack,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var je jsonError
	if err := json.Unmarshal(data, &je); err != nil {
		return err
	}
	e.Kind = je.Kind
	e.Message = je.Message
	e.Context = je.Context
	e.Stack = je.Stack
	e.cause = errors.New(je.Message)
	return nil
}
