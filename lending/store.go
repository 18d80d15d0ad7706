/*
store.go - Persistence contract for the lending engine

PURPOSE:
  Defines the interface between the domain services and the database.
  Different implementations can use SQLite or in-memory storage; the
  services never see a concrete store.

ERROR CONTRACT:
  Every method reports failures distinctly:
  - ErrNotFound:  the referenced record does not exist
  - ErrConflict:  a concurrent update won (version mismatch, busy writer,
                  uniqueness violation) - callers may retry
  - StorageError: the underlying engine failed - callers must not retry
  - ErrUnavailable: the operation exceeded the caller's time budget

ATOMICITY:
  AtomicAdjustBalance applies the delta as a single storage-level
  conditional increment: it must never be implemented as read-then-write,
  and must reject (whole) any debit that would drive the balance negative.

  TxStore.WithTx provides the combined read-check-write unit that
  reservation creation and return require: the quota check, the wallet
  debit, and the reservation write either all happen or none do.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - lending/store: in-memory store for tests and dev mode

SEE ALSO:
  - wallet.go, reservation.go: Consumers of this contract
*/
package lending

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// STORE - Repository contract
// =============================================================================

// StatusChange carries the finalization details written alongside a status
// transition.
type StatusChange struct {
	ReturnedAt *time.Time
	LateFee    *Money
	DaysLate   int
}

// Store handles persistence for books, reservations, and wallets.
type Store interface {
	// --- Catalog ---

	// FindBook returns the catalog entry or ErrNotFound.
	FindBook(ctx context.Context, id string) (*Book, error)

	// InsertBook adds a catalog entry. ErrConflict if the id exists.
	InsertBook(ctx context.Context, book Book) error

	// DeleteBook removes a catalog entry. ErrNotFound if absent.
	DeleteBook(ctx context.Context, id string) error

	// ListBooks returns the catalog ordered by title.
	ListBooks(ctx context.Context) ([]Book, error)

	// --- Reservations ---

	// FindReservation returns the reservation or ErrNotFound.
	FindReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// FindActiveReservationsForUser returns the user's RESERVED/BORROWED
	// reservations.
	FindActiveReservationsForUser(ctx context.Context, userID uuid.UUID) ([]Reservation, error)

	// FindReservationsForUser returns all of the user's reservations,
	// ordered by ReservedAt descending.
	FindReservationsForUser(ctx context.Context, userID uuid.UUID) ([]Reservation, error)

	// InsertReservation persists a new reservation. ErrConflict if the user
	// already has an active reservation for the same book.
	InsertReservation(ctx context.Context, r Reservation) error

	// UpdateReservationStatus transitions a reservation, compare-and-swap on
	// the version field. Returns the updated record, ErrNotFound if absent,
	// or ErrConflict on version mismatch.
	UpdateReservationStatus(ctx context.Context, id uuid.UUID, expectedVersion int, newStatus Status, change StatusChange) (*Reservation, error)

	// --- Wallets ---

	// FindWallet returns the wallet or ErrNotFound.
	FindWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error)

	// InsertWallet provisions a wallet. ErrConflict if one exists.
	InsertWallet(ctx context.Context, w Wallet) error

	// AtomicAdjustBalance applies delta (positive = credit, negative = debit)
	// as a single atomic increment. Returns the post-adjustment wallet,
	// ErrNotFound if no wallet exists, or ErrInsufficientFunds if the debit
	// would drive the balance negative (in which case nothing is applied).
	AtomicAdjustBalance(ctx context.Context, userID uuid.UUID, delta Money) (*Wallet, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
// Use this when an operation spans multiple reads and writes that must be
// atomic as a unit (e.g. quota check + wallet debit + reservation insert).
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, every write made inside it is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
