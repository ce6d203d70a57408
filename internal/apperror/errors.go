// Package apperror classifies failures so callers can decide whether to
// surface them to the cashier, retry later, or just log them.
package apperror

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindConnectivity Kind = "connectivity"
	KindHardware     Kind = "hardware"
	KindLookupMiss   Kind = "lookup_miss"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Error struct {
	Kind    Kind         `json:"kind"`
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
	Err     error        `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation errors are user-actionable and abort without mutating state.
func Validation(code, message string, fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message, Fields: fields}
}

func Connectivity(err error, message string) *Error {
	return &Error{Kind: KindConnectivity, Code: "connectivity", Message: message, Err: err}
}

func Hardware(err error, message string) *Error {
	return &Error{Kind: KindHardware, Code: "hardware", Message: message, Err: err}
}

func LookupMiss(err error, message string) *Error {
	return &Error{Kind: KindLookupMiss, Code: "lookup_miss", Message: message, Err: err}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
