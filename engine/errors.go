/*
errors.go - Typed domain errors for the reservation and settlement engine

PURPOSE:
  Domain failures are expected, recoverable-by-caller outcomes: the enclosing
  transaction rolls back and the machine-readable code is surfaced unchanged
  to the boundary, which maps it to a 4xx-equivalent. Anything that is not a
  DomainError (storage failure, missing allocation, broken invariant) is
  fatal: rolled back, logged, surfaced as a generic 5xx-equivalent.

USAGE:
  if derr, ok := engine.AsDomainError(err); ok {
      // client error, use derr.Code
  }

SEE ALSO:
  - booking.go, settlement.go, slots.go: Producers of these errors
  - api/handlers.go: Maps codes to HTTP statuses
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// DOMAIN ERROR CODES
// =============================================================================

type ErrorCode string

const (
	ErrInvalidKwh                ErrorCode = "INVALID_KWH"
	ErrInvalidHour               ErrorCode = "INVALID_HOUR"
	ErrSlotNotBookable24h        ErrorCode = "SLOT_NOT_BOOKABLE_24H"
	ErrConsumerNotFound          ErrorCode = "CONSUMER_NOT_FOUND"
	ErrSlotNotFound              ErrorCode = "SLOT_NOT_FOUND"
	ErrInsufficientCredit        ErrorCode = "INSUFFICIENT_CREDIT"
	ErrReservationNotFound       ErrorCode = "RESERVATION_NOT_FOUND"
	ErrForbidden                 ErrorCode = "FORBIDDEN"
	ErrReservationNotEditable    ErrorCode = "RESERVATION_NOT_EDITABLE"
	ErrModificationNotAllowed24h ErrorCode = "MODIFICATION_NOT_ALLOWED_24H"
)

// DomainError carries a short machine-readable code plus a human message.
type DomainError struct {
	Code    ErrorCode
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewDomainError builds a DomainError with a formatted message.
func NewDomainError(code ErrorCode, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// AsDomainError unwraps err to a DomainError if one is in the chain.
func AsDomainError(err error) (*DomainError, bool) {
	var derr *DomainError
	if errors.As(err, &derr) {
		return derr, true
	}
	return nil, false
}

// IsDomainError reports whether err is an expected client-facing failure.
func IsDomainError(err error) bool {
	_, ok := AsDomainError(err)
	return ok
}

// IsNotFound reports whether err indicates a missing account, slot, or
// reservation.
func IsNotFound(err error) bool {
	derr, ok := AsDomainError(err)
	if !ok {
		return false
	}
	switch derr.Code {
	case ErrConsumerNotFound, ErrSlotNotFound, ErrReservationNotFound:
		return true
	}
	return false
}
