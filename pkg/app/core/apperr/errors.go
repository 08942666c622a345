// Package apperr defines the error kinds returned by the trading core.
//
// Every rejected operation returns an *Error carrying one of the kinds below, so
// callers can branch on the failure class with errors.Is against the sentinels
// or with KindOf, while the Reason stays human-readable.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindUnauthorized
	KindState
	KindSlippage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindState:
		return "state"
	case KindSlippage:
		return "slippage"
	default:
		return "unknown"
	}
}

// Error is a classified failure with a reason
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrState) works
// regardless of the reason text.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrValidation   = &Error{Kind: KindValidation, Reason: "invalid input"}
	ErrNotFound     = &Error{Kind: KindNotFound, Reason: "not found"}
	ErrUnauthorized = &Error{Kind: KindUnauthorized, Reason: "unauthorized"}
	ErrState        = &Error{Kind: KindState, Reason: "invalid state"}
	ErrSlippage     = &Error{Kind: KindSlippage, Reason: "slippage exceeded"}
)

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Reason: fmt.Sprintf(format, args...)}
}

func Unauthorizedf(format string, args ...any) error {
	return &Error{Kind: KindUnauthorized, Reason: fmt.Sprintf(format, args...)}
}

func Statef(format string, args ...any) error {
	return &Error{Kind: KindState, Reason: fmt.Sprintf(format, args...)}
}

func Slippagef(format string, args ...any) error {
	return &Error{Kind: KindSlippage, Reason: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
