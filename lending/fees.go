/*
fees.go - Fee schedule and pure fee computations

PURPOSE:
  All monetary policy in one place, as pure functions on a FeeSchedule
  value. No storage, no clock, no side effects - every function here is
  deterministic and unit-testable in isolation.

THE RULES:
  Reservation fee:  fixed charge at reservation creation (default 3.00)
  Due date:         reservedAt + LoanPeriodDays (default 5 days)
  Late fee:         0 if daysLate <= 0,
                    else min(round(daysLate * LateFeePerDay, 2), retailPrice)
  Buy-out:          accumulated late fee >= retail price => the book is
                    treated as purchased; no further fees ever accrue

THE CAP:
  The retail-price cap guarantees a user is never charged more than the
  book's retail cost in late fees. Hitting the cap finalizes the
  reservation as BOUGHT.

SEE ALSO:
  - wallet.go: Applies late fees against a wallet
  - reservation.go: Uses due dates and the buy-out decision for transitions
*/
package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FEE SCHEDULE
// =============================================================================

// FeeSchedule holds the configured monetary policy.
type FeeSchedule struct {
	// ReservationFee is debited from the wallet at reservation creation.
	ReservationFee Money

	// LateFeePerDay accrues for each full day past the due date.
	LateFeePerDay Money

	// LoanPeriodDays is the loan period used to compute due dates.
	LoanPeriodDays int

	// MaxActiveReservations caps concurrent RESERVED/BORROWED reservations
	// per user.
	MaxActiveReservations int
}

// DefaultFeeSchedule returns the stock policy: 3.00 reservation fee,
// 0.20/day late fee, 5-day loans, 3 concurrent reservations.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		ReservationFee:        NewMoney(3.00),
		LateFeePerDay:         NewMoney(0.20),
		LoanPeriodDays:        5,
		MaxActiveReservations: 3,
	}
}

// =============================================================================
// PURE COMPUTATIONS
// =============================================================================

// DueDate computes when a reservation made at reservedAt must be returned.
func (f FeeSchedule) DueDate(reservedAt time.Time) time.Time {
	return reservedAt.AddDate(0, 0, f.LoanPeriodDays)
}

// LateFee computes the fee for a return daysLate days past due, capped at
// the book's retail price.
func (f FeeSchedule) LateFee(daysLate int, retailPrice Money) Money {
	if daysLate <= 0 {
		return NewMoneyFromCents(0)
	}
	raw := Money{Value: f.LateFeePerDay.Value.Mul(decimal.NewFromInt(int64(daysLate))).Round(2)}
	return raw.Min(retailPrice)
}

// IsBuyOut reports whether the accumulated late fee has reached the retail
// price, at which point the book is treated as purchased.
func (f FeeSchedule) IsBuyOut(accumulatedLateFee, retailPrice Money) bool {
	return accumulatedLateFee.GreaterThanOrEqual(retailPrice)
}

// DaysLate returns the number of full days returnedAt is past dueDate,
// never negative.
func DaysLate(dueDate, returnedAt time.Time) int {
	if !returnedAt.After(dueDate) {
		return 0
	}
	return int(returnedAt.Sub(dueDate).Hours() / 24)
}
