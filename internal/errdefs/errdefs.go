// Package errdefs defines the stable error codes surfaced by the engine.
// Every failure that reaches a caller is wrapped in an *Error carrying the
// code, the resource address when the failure is scoped to one, and the
// operation that was running.
package errdefs

import (
	"errors"
	"fmt"
)

// Code classifies a failure. Codes are part of the CLI contract and must
// stay stable.
type Code string

const (
	ValidationError        Code = "ValidationError"
	CyclicDependency       Code = "CyclicDependency"
	UnresolvedReference    Code = "UnresolvedReference"
	TransientProviderError Code = "TransientProviderError"
	ExternalTaskFailed     Code = "ExternalTaskFailed"
	ExternalTaskTimeout    Code = "ExternalTaskTimeout"
	ResourceCreateFailed   Code = "ResourceCreateFailed"
	ResourceDeleteFailed   Code = "ResourceDeleteFailed"
	OutputUnavailable      Code = "OutputUnavailable"
	StateCorruption        Code = "StateCorruption"
)

// Error is the uniform failure record.
type Error struct {
	Code     Code
	Resource string // canonical address, empty when not scoped to one resource
	Op       string // "plan", "apply", "destroy", "output", ...
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Resource != "" {
		msg += ": " + e.Resource
	}
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error with a formatted message as its cause.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a code and resource address to an underlying error.
func Wrap(code Code, resource string, err error) *Error {
	return &Error{Code: code, Resource: resource, Err: err}
}

// WithOp returns a copy of e with the operation set.
func (e *Error) WithOp(op string) *Error {
	out := *e
	out.Op = op
	return &out
}

// CodeOf returns the code of the outermost *Error in err's chain, or the
// empty string.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether any error in err's chain carries the code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// IsTransient reports whether err is classified as a transient provider
// failure, the only class the engine retries.
func IsTransient(err error) bool {
	return HasCode(err, TransientProviderError)
}
