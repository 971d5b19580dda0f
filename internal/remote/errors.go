package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes remote failures.
type Kind string

const (
	// KindNetwork means the request never got a response.
	KindNetwork Kind = "NETWORK"

	// KindServer covers 5xx responses and 429 rate limiting.
	KindServer Kind = "SERVER"

	// KindValidation covers 4xx responses other than auth and not-found.
	KindValidation Kind = "VALIDATION"

	// KindNotFound means the record does not exist remotely.
	KindNotFound Kind = "NOT_FOUND"

	// KindAuthentication covers 401 and 403 responses.
	KindAuthentication Kind = "AUTHENTICATION"
)

// Error is a classified remote store failure.
//
// Network and server errors are retryable. Validation, not-found and
// authentication errors are terminal and are surfaced to the caller as is.
type Error struct {
	// Kind identifies the failure class.
	Kind Kind

	// Status is the HTTP status code, zero for network errors.
	Status int

	// Message is the server's explanation or a short description.
	Message string

	// Err is the underlying transport error, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure class may succeed on a later attempt.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindServer
}

// Classify maps an HTTP status code to a failure kind.
func Classify(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuthentication
	case status == http.StatusNotFound, status == http.StatusGone:
		return KindNotFound
	case status == http.StatusTooManyRequests, status >= 500:
		return KindServer
	default:
		return KindValidation
	}
}

// NewStatusError builds an Error for an unsuccessful HTTP response.
func NewStatusError(status int, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: Classify(status), Status: status, Message: message}
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(message string, err error) *Error {
	return &Error{Kind: KindNetwork, Message: message, Err: err}
}

// KindOf returns the kind of a remote error, or "" for anything else.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// IsRetryable returns true for network and server failures.
// Errors that are not remote errors are treated as terminal.
func IsRetryable(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}

// IsAuthentication returns true if the error is an authentication failure.
func IsAuthentication(err error) bool {
	return KindOf(err) == KindAuthentication
}

// IsNotFound returns true if the error is a not-found failure.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
