// Package apperr holds the error taxonomy shared by every marketplace component.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrNotFound              = errors.New("not found")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrMissingBankingDetails = errors.New("missing banking details")
	ErrDuplicateLedgerEntry  = errors.New("duplicate ledger entry")
	ErrInvalidTransition     = errors.New("invalid status transition")
)

// Validation builds an ErrValidation with a readable reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound builds an ErrNotFound naming the missing entity.
func NotFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
}

// InvalidTransition builds an ErrInvalidTransition for a from/to pair.
func InvalidTransition(entity string, from, to fmt.Stringer) error {
	return fmt.Errorf("%w: %s cannot move from %s to %s", ErrInvalidTransition, entity, from, to)
}

// IsDuplicate reports whether err is an idempotency hit that callers treat as success.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateLedgerEntry)
}
