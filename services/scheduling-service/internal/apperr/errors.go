// Package apperr defines the typed rejections and failures returned by the scheduling core.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation       Kind = "validation"
	KindLeadTimeTooShort Kind = "lead_time_too_short"
	KindCancelTooLate    Kind = "cancel_too_late"
	KindSlotUnavailable  Kind = "slot_unavailable"
	KindOverlap          Kind = "overlap"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindStorage          Kind = "storage"
)

type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrOverlap) works for
// rejections carrying a specific message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrLeadTimeTooShort = &Error{Kind: KindLeadTimeTooShort}
	ErrCancelTooLate    = &Error{Kind: KindCancelTooLate}
	ErrSlotUnavailable  = &Error{Kind: KindSlotUnavailable}
	ErrOverlap          = &Error{Kind: KindOverlap}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrStorage          = &Error{Kind: KindStorage}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// Storage wraps an infrastructure failure. Already classified errors pass through unchanged.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	msg := op + " failed"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = op + " timed out"
	}
	return &Error{Kind: KindStorage, Message: msg, Cause: err}
}

// KindOf returns the kind of err, or KindStorage for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindStorage
}

// Retryable reports whether the same request may be retried verbatim.
// Only infrastructure failures qualify; business rejections need a changed request.
func Retryable(err error) bool {
	return err != nil && KindOf(err) == KindStorage
}

// Rejection reports whether err is a business decision rather than a failure.
func Rejection(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindStorage:
		return false
	default:
		return true
	}
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindLeadTimeTooShort, KindCancelTooLate:
		return http.StatusUnprocessableEntity
	case KindSlotUnavailable, KindOverlap, KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}
