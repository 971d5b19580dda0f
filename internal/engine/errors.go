package engine

import (
	"errors"
	"fmt"
)

// Error is a failure detected by the engine itself rather than by the
// remote store or the access policy.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// EventID identifies the affected event, if any.
	EventID string

	// MutationID identifies the affected mutation, if any.
	MutationID string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeNotRunning means the engine has not been initialized or was torn down.
	ErrCodeNotRunning ErrorCode = "NOT_RUNNING"

	// ErrCodeUnknownEvent means the event id is not in the local cache.
	ErrCodeUnknownEvent ErrorCode = "UNKNOWN_EVENT"

	// ErrCodeDuplicateEvent means a create reused an id already cached.
	ErrCodeDuplicateEvent ErrorCode = "DUPLICATE_EVENT"

	// ErrCodeInvalidEvent means the record failed local validation.
	ErrCodeInvalidEvent ErrorCode = "INVALID_EVENT"

	// ErrCodeParked means a mutation exhausted its retries and was parked.
	ErrCodeParked ErrorCode = "PARKED"

	// ErrCodeDiscarded means a mutation was dropped because an earlier
	// mutation for the same event was rejected or cleared.
	ErrCodeDiscarded ErrorCode = "DISCARDED"

	// ErrCodeNoQuery means an update check ran before any fetch.
	ErrCodeNoQuery ErrorCode = "NO_QUERY"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.EventID != "" {
		msg += fmt.Sprintf(" (event=%s)", e.EventID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsParked returns true if the error reports a parked mutation.
// Uses errors.As to handle wrapped errors.
func IsParked(err error) bool {
	return hasCode(err, ErrCodeParked)
}

// IsUnknownEvent returns true if the error reports an id missing from the cache.
func IsUnknownEvent(err error) bool {
	return hasCode(err, ErrCodeUnknownEvent)
}

// IsNotRunning returns true if the engine was not running.
func IsNotRunning(err error) bool {
	return hasCode(err, ErrCodeNotRunning)
}

func hasCode(err error, code ErrorCode) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

var errNotRunning = &Error{Code: ErrCodeNotRunning, Message: "engine is not running"}
