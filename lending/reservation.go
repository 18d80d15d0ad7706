/*
reservation.go - Reservation state machine

PURPOSE:
  Governs the reservation lifecycle and orchestrates the wallet charges
  tied to transitions:

    RESERVED ──▶ BORROWED ──▶ RETURNED   (on time, no fee)
        │            │
        │            ├───────▶ LATE      (late, fee below buy-out)
        │            └───────▶ BOUGHT    (fee reached retail price)
        └──── may return without pickup (same three outcomes)

  RETURNED, LATE, and BOUGHT are terminal. There is no un-return.

ATOMICITY:
  Create and Return run their read-check-write unit inside one store
  transaction: the quota check, the wallet debit, and the reservation
  write either all happen or none do. Reservation records carry a
  version; status updates are compare-and-swap.

RETRIES:
  A lost optimistic-concurrency race surfaces from the store as
  ErrConflict and is retried up to maxConflictRetries attempts.
  Validation outcomes (quota full, insufficient funds, already finalized)
  and storage failures are surfaced immediately, never retried.

SEE ALSO:
  - fees.go: Due-date and late-fee computation
  - wallet.go: The ledger charged by these transitions
  - store.go: Transaction and compare-and-swap contract
*/
package lending

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maxConflictRetries bounds how often a lost concurrent race is retried
// before ErrConflict surfaces to the caller.
const maxConflictRetries = 3

// ReturnResult reports the outcome of processing a return.
type ReturnResult struct {
	Reservation *Reservation
	DaysLate    int
	LateFee     Money
}

// =============================================================================
// RESERVATION SERVICE
// =============================================================================

// ReservationService drives reservations through their lifecycle.
type ReservationService struct {
	store TxStore
	fees  FeeSchedule
	clock Clock
	log   *logrus.Logger
}

// NewReservationService creates the state machine over the given store.
func NewReservationService(store TxStore, fees FeeSchedule, clock Clock, log *logrus.Logger) *ReservationService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ReservationService{store: store, fees: fees, clock: clock, log: log}
}

// Create reserves a book for a user.
//
// Preconditions: the book exists in the catalog, the user holds fewer than
// MaxActiveReservations active reservations, and the wallet covers the
// reservation fee. The fee debit and the reservation insert are atomic as a
// unit - a failed precondition leaves no partial state.
func (s *ReservationService) Create(ctx context.Context, userID uuid.UUID, referenceID string) (*Reservation, error) {
	book, err := s.store.FindBook(ctx, referenceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrBookUnavailable
		}
		return nil, err
	}

	var created *Reservation
	err = s.withRetry(ctx, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			active, err := tx.FindActiveReservationsForUser(ctx, userID)
			if err != nil {
				return err
			}
			if len(active) >= s.fees.MaxActiveReservations {
				return &TooManyActiveReservationsError{
					UserID: userID,
					Active: len(active),
					Max:    s.fees.MaxActiveReservations,
				}
			}

			fee := s.fees.ReservationFee
			if _, err := tx.AtomicAdjustBalance(ctx, userID, fee.Neg()); err != nil {
				return err
			}

			now := s.clock.Now()
			r := Reservation{
				ID:          uuid.New(),
				UserID:      userID,
				ReferenceID: book.ID,
				ReservedAt:  now,
				DueDate:     s.fees.DueDate(now),
				Status:      StatusReserved,
				FeeCharged:  &fee,
				Version:     1,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.InsertReservation(ctx, r); err != nil {
				return err
			}
			created = &r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"reservation_id": created.ID,
		"user_id":        userID,
		"reference_id":   referenceID,
		"due_date":       created.DueDate,
		"fee":            created.FeeCharged.String(),
	}).Info("reservation created")
	return created, nil
}

// Borrow marks a reserved book as picked up (RESERVED → BORROWED).
// Borrowing an already-borrowed reservation is a no-op; a finalized one
// fails with AlreadyFinalizedError.
func (s *ReservationService) Borrow(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	var borrowed *Reservation
	err := s.withRetry(ctx, func() error {
		r, err := s.store.FindReservation(ctx, id)
		if err != nil {
			return err
		}
		if r.Status.Terminal() {
			return &AlreadyFinalizedError{ReservationID: id, Status: r.Status}
		}
		if r.Status == StatusBorrowed {
			borrowed = r
			return nil
		}
		borrowed, err = s.store.UpdateReservationStatus(ctx, id, r.Version, StatusBorrowed, StatusChange{})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"reservation_id": id,
		"user_id":        borrowed.UserID,
	}).Info("reservation picked up")
	return borrowed, nil
}

// Return processes a return. On time the reservation finalizes as RETURNED
// with no fee. Past due, the capped late fee is debited from the wallet and
// the reservation finalizes as LATE, or as BOUGHT once the fee reached the
// book's retail price. The debit and the transition are atomic as a unit.
func (s *ReservationService) Return(ctx context.Context, id uuid.UUID) (*ReturnResult, error) {
	var result *ReturnResult
	err := s.withRetry(ctx, func() error {
		return s.store.WithTx(ctx, func(tx Store) error {
			r, err := tx.FindReservation(ctx, id)
			if err != nil {
				return err
			}
			if r.Status.Terminal() {
				return &AlreadyFinalizedError{ReservationID: id, Status: r.Status}
			}

			now := s.clock.Now()
			daysLate := DaysLate(r.DueDate, now)
			status := StatusReturned
			change := StatusChange{ReturnedAt: &now, DaysLate: daysLate}
			fee := NewMoneyFromCents(0)

			if daysLate > 0 {
				book, err := tx.FindBook(ctx, r.ReferenceID)
				if err != nil {
					if errors.Is(err, ErrNotFound) {
						return ErrBookUnavailable
					}
					return err
				}
				fee = s.fees.LateFee(daysLate, book.Price)
				if fee.IsPositive() {
					if _, err := tx.AtomicAdjustBalance(ctx, r.UserID, fee.Neg()); err != nil {
						return err
					}
				}
				if s.fees.IsBuyOut(fee, book.Price) {
					status = StatusBought
				} else {
					status = StatusLate
				}
				change.LateFee = &fee
			}

			updated, err := tx.UpdateReservationStatus(ctx, id, r.Version, status, change)
			if err != nil {
				return err
			}
			result = &ReturnResult{Reservation: updated, DaysLate: daysLate, LateFee: fee}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"reservation_id": id,
		"user_id":        result.Reservation.UserID,
		"status":         result.Reservation.Status,
		"days_late":      result.DaysLate,
		"late_fee":       result.LateFee.String(),
	}).Info("reservation returned")
	return result, nil
}

// History returns all of the user's reservations, newest first.
// No state mutation.
func (s *ReservationService) History(ctx context.Context, userID uuid.UUID) ([]Reservation, error) {
	return s.store.FindReservationsForUser(ctx, userID)
}

// withRetry runs fn, retrying only lost concurrency races.
func (s *ReservationService) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		s.log.WithField("attempt", attempt+1).Debug("retrying after conflict")
	}
	return err
}
