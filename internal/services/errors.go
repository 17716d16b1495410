package services

import (
	"errors"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/abuse"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient credit balance")
	ErrDuplicateAction     = errors.New("duplicate action")
	ErrProviderFailure     = errors.New("backend failure, try again")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("not allowed")
	ErrTerminalUser        = errors.New("user account is closed")
	ErrUnlockInFlight      = errors.New("unlock already in progress")
	ErrAddressBanned       = errors.New("address is banned from registration")
	ErrAdSessionUnknown    = errors.New("ad session unknown or already used")
	ErrSelfReferral        = errors.New("cannot refer yourself")
)

// validationError wraps a guard violation so callers can match both
// ErrValidation (or ErrDuplicateAction) and the concrete *abuse.Violation.
type validationError struct {
	kind      error
	violation *abuse.Violation
}

func (e *validationError) Error() string {
	return e.violation.Message
}

func (e *validationError) Is(target error) bool {
	return target == e.kind
}

func (e *validationError) Unwrap() error {
	return e.violation
}

// classify maps a guard error onto the service error taxonomy. Quota and
// duplicate violations are DuplicateAction, everything else ValidationFailure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var v *abuse.Violation
	if !errors.As(err, &v) {
		return err
	}
	kind := ErrValidation
	if v.Reason == abuse.ReasonDailyLimit || v.Reason == abuse.ReasonDuplicateRecent {
		kind = ErrDuplicateAction
	}
	return &validationError{kind: kind, violation: v}
}
