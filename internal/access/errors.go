package access

import (
	"errors"
	"fmt"
)

// Reason categorizes a denial.
type Reason string

const (
	ReasonCapability Reason = "CAPABILITY"
	ReasonOwnership  Reason = "OWNERSHIP"
	ReasonQuota      Reason = "QUOTA_EXCEEDED"
	ReasonRadius     Reason = "RADIUS"
	ReasonDateWindow Reason = "DATE_WINDOW"
	ReasonReadOnly   Reason = "READ_ONLY"
)

// PermissionError is returned when the actor's tier or ownership does not
// allow an action. It is terminal: retrying without changing the actor or the
// request gives the same answer.
type PermissionError struct {
	Reason  Reason
	Tier    Tier
	Message string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied (%s, tier=%s): %s", e.Reason, e.Tier, e.Message)
}

// IsPermissionError reports whether err wraps a PermissionError.
func IsPermissionError(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// HasReason reports whether err wraps a PermissionError with reason r.
func HasReason(err error, r Reason) bool {
	var pe *PermissionError
	if errors.As(err, &pe) {
		return pe.Reason == r
	}
	return false
}

// Deny builds a PermissionError with the user-facing message for tier and
// reason.
func (p *Policy) Deny(tier Tier, reason Reason) *PermissionError {
	return &PermissionError{
		Reason:  reason,
		Tier:    tier,
		Message: p.DenialMessage(tier, reason),
	}
}
