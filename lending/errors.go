/*
errors.go - Centralized error types for the lending engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  These are typed business outcomes, never transport codes: the api
  package maps them to HTTP statuses at the boundary.

ERROR CATEGORIES:
  1. Lookup errors   - missing book/reservation/wallet
  2. Validation errors - deterministic business rejections, never retried
  3. Concurrency errors - optimistic-lock races, retried a bounded number
     of times by the services before surfacing
  4. Infrastructure errors - storage failures/timeouts, surfaced as-is

USAGE:
  if errors.Is(err, lending.ErrInsufficientFunds) { ... }

  var tooMany *lending.TooManyActiveReservationsError
  if errors.As(err, &tooMany) { ... tooMany.Active ... }

SEE ALSO:
  - wallet.go, reservation.go: Producers of these errors
  - api/handlers.go: Maps them to HTTP statuses
*/
package lending

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a book, reservation, or wallet is absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a concurrent update wins the race.
	// Retryable: services retry a bounded number of times before surfacing it.
	ErrConflict = errors.New("conflict: concurrent update detected")

	// ErrInsufficientFunds is returned when a debit would drive a wallet
	// balance below zero. The debit is rejected entirely.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTooManyActiveReservations is returned when a user already holds the
	// maximum number of RESERVED/BORROWED reservations.
	ErrTooManyActiveReservations = errors.New("too many active reservations")

	// ErrBookUnavailable is returned when the referenced book does not exist
	// in the catalog.
	ErrBookUnavailable = errors.New("book unavailable")

	// ErrInvalidAmount is returned for amounts that are not finite decimal
	// numbers.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAlreadyFinalized is returned when transitioning a reservation that
	// is already in a terminal state.
	ErrAlreadyFinalized = errors.New("reservation already finalized")

	// ErrStorage is returned for underlying persistence failures. The engine
	// performs no implicit retry; retry policy belongs to the caller.
	ErrStorage = errors.New("storage error")

	// ErrUnavailable is returned when storage does not answer within the
	// caller's time budget.
	ErrUnavailable = errors.New("storage unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports a rejected debit.
type InsufficientFundsError struct {
	UserID    uuid.UUID
	Balance   Money
	Requested Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %s, requested %s", e.Balance, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// TooManyActiveReservationsError reports a full borrow quota.
type TooManyActiveReservationsError struct {
	UserID uuid.UUID
	Active int
	Max    int
}

func (e *TooManyActiveReservationsError) Error() string {
	return fmt.Sprintf("too many active reservations: %d of %d in use", e.Active, e.Max)
}

func (e *TooManyActiveReservationsError) Unwrap() error {
	return ErrTooManyActiveReservations
}

// AlreadyFinalizedError reports a transition attempt on a terminal reservation.
type AlreadyFinalizedError struct {
	ReservationID uuid.UUID
	Status        Status
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("reservation %s already finalized with status %s", e.ReservationID, e.Status)
}

func (e *AlreadyFinalizedError) Unwrap() error {
	return ErrAlreadyFinalized
}

// InvalidAmountError reports an unparseable or non-finite amount.
type InvalidAmountError struct {
	Input string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %q", e.Input)
}

func (e *InvalidAmountError) Unwrap() error {
	return ErrInvalidAmount
}

// StorageError wraps a persistence failure with its cause.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return ErrStorage
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true for deterministic business rejections.
// These are never retried.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrTooManyActiveReservations) ||
		errors.Is(err, ErrBookUnavailable) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrAlreadyFinalized)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
