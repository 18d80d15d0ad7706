/*
Package lending provides the core library-lending engine.

PURPOSE:
  This package contains the domain types and services for the lending
  lifecycle: a book catalog, reservations that move through
  RESERVED → BORROWED → RETURNED/LATE/BOUGHT, and per-user wallets that
  are charged reservation and late-return fees.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A 2-decimal-place monetary amount backed by decimal.Decimal
  - Book: Catalog entry; Price doubles as the late-fee buy-out ceiling
  - Reservation: A loan with status, due date, and an optimistic version
  - Wallet: A user's balance; debits below zero are rejected

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, never float64
  2. Type Safety: uuid.UUID identities for users and reservations
  3. Optimistic Concurrency: Reservations and wallets carry a version
     field; status updates are compare-and-swap

SEE ALSO:
  - fees.go: Fee schedule and pure fee computations
  - wallet.go: Wallet ledger service
  - reservation.go: Reservation state machine
*/
package lending

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - 2-decimal-place monetary amount
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value).Round(2)}
}

func NewMoneyFromCents(cents int64) Money {
	return Money{Value: decimal.New(cents, -2)}
}

// ParseMoney parses a decimal string like "3.00". Returns ErrInvalidAmount
// for anything that is not a finite decimal number.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, &InvalidAmountError{Input: s}
	}
	return Money{Value: d.Round(2)}, nil
}

func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(b Money) Money      { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money      { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) Neg() Money             { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool           { return m.Value.IsZero() }
func (m Money) IsNegative() bool       { return m.Value.IsNegative() }
func (m Money) IsPositive() bool       { return m.Value.IsPositive() }
func (m Money) LessThan(b Money) bool  { return m.Value.LessThan(b.Value) }
func (m Money) GreaterThanOrEqual(b Money) bool { return m.Value.GreaterThanOrEqual(b.Value) }

func (m Money) Min(b Money) Money {
	if m.LessThan(b) {
		return m
	}
	return b
}

// Cents returns the amount in integer cents. Storage implementations keep
// balances in cents so increments can be applied atomically in SQL.
func (m Money) Cents() int64 {
	return m.Value.Round(2).Shift(2).IntPart()
}

// String renders with the fixed 2-decimal-place display convention.
func (m Money) String() string {
	return m.Value.StringFixed(2)
}

// =============================================================================
// RESERVATION STATUS
// =============================================================================

type Status string

const (
	StatusReserved Status = "RESERVED"
	StatusBorrowed Status = "BORROWED"
	StatusReturned Status = "RETURNED"
	StatusLate     Status = "LATE"
	StatusBought   Status = "BOUGHT"
)

// Active reports whether the reservation still occupies one of the user's
// concurrent-borrow slots.
func (s Status) Active() bool {
	return s == StatusReserved || s == StatusBorrowed
}

// Terminal reports whether no further transition is allowed.
// LATE is terminal: once a late return is processed, no more fees accrue.
func (s Status) Terminal() bool {
	return s == StatusReturned || s == StatusLate || s == StatusBought
}

// =============================================================================
// AGGREGATES
// =============================================================================

// Book is a catalog entry. Price is the retail price and serves as the
// cumulative late-fee ceiling: once fees reach it, the book is bought out.
type Book struct {
	ID              string // opaque, e.g. ISBN
	Title           string
	Author          string
	PublicationYear int
	Publisher       string
	Price           Money
	CreatedAt       time.Time
}

// Reservation is a loan of one book by one user.
//
// INVARIANT: at most one reservation per (UserID, ReferenceID) is active
// at any time, and a user never holds more active reservations than the
// configured maximum.
type Reservation struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	ReferenceID string // book id
	ReservedAt  time.Time
	DueDate     time.Time
	Status      Status

	// FeeCharged is the reservation fee debited at creation.
	FeeCharged *Money

	// Set when the reservation is finalized by a return.
	ReturnedAt *time.Time
	LateFee    *Money
	DaysLate   int

	// Version supports compare-and-swap status updates.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Wallet holds a user's balance. One wallet per user.
type Wallet struct {
	UserID    uuid.UUID
	Balance   Money
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}
