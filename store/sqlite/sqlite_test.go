package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/lending"
	"github.com/warp/lending-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleBook(id string) lending.Book {
	return lending.Book{
		ID:              id,
		Title:           "The Go Programming Language",
		Author:          "Donovan & Kernighan",
		PublicationYear: 2015,
		Publisher:       "Addison-Wesley",
		Price:           lending.NewMoney(36.00),
		CreatedAt:       time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
	}
}

func sampleReservation(userID uuid.UUID, referenceID string) lending.Reservation {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	fee := lending.NewMoney(3.00)
	return lending.Reservation{
		ID:          uuid.New(),
		UserID:      userID,
		ReferenceID: referenceID,
		ReservedAt:  now,
		DueDate:     now.AddDate(0, 0, 5),
		Status:      lending.StatusReserved,
		FeeCharged:  &fee,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func TestBooks_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	book := sampleBook("978-0134190440")

	require.NoError(t, s.InsertBook(ctx, book))

	got, err := s.FindBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, book.Title, got.Title)
	assert.Equal(t, book.Author, got.Author)
	assert.Equal(t, book.PublicationYear, got.PublicationYear)
	assert.Equal(t, "36.00", got.Price.String())
	assert.True(t, got.CreatedAt.Equal(book.CreatedAt))

	books, err := s.ListBooks(ctx)
	require.NoError(t, err)
	assert.Len(t, books, 1)

	require.NoError(t, s.DeleteBook(ctx, book.ID))
	_, err = s.FindBook(ctx, book.ID)
	assert.ErrorIs(t, err, lending.ErrNotFound)
	assert.ErrorIs(t, s.DeleteBook(ctx, book.ID), lending.ErrNotFound)
}

func TestBooks_DuplicateInsertConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertBook(ctx, sampleBook("book-1")))
	err := s.InsertBook(ctx, sampleBook("book-1"))
	assert.ErrorIs(t, err, lending.ErrConflict)
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func TestReservations_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := uuid.New()
	r := sampleReservation(userID, "book-1")

	require.NoError(t, s.InsertReservation(ctx, r))

	got, err := s.FindReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.UserID, got.UserID)
	assert.Equal(t, r.ReferenceID, got.ReferenceID)
	assert.Equal(t, lending.StatusReserved, got.Status)
	require.NotNil(t, got.FeeCharged)
	assert.Equal(t, "3.00", got.FeeCharged.String())
	assert.Nil(t, got.ReturnedAt)
	assert.Nil(t, got.LateFee)
	assert.Equal(t, 1, got.Version)
}

func TestReservations_ActiveUniquePerUserAndBook(t *testing.T) {
	// The partial unique index rejects a second active reservation for the
	// same (user, book) pair but allows one once the first is finalized.

	s := newTestStore(t)
	ctx := context.Background()
	userID := uuid.New()

	first := sampleReservation(userID, "book-1")
	require.NoError(t, s.InsertReservation(ctx, first))

	err := s.InsertReservation(ctx, sampleReservation(userID, "book-1"))
	assert.ErrorIs(t, err, lending.ErrConflict)

	// Finalize the first, then a fresh reservation is allowed again.
	returnedAt := first.DueDate
	_, err = s.UpdateReservationStatus(ctx, first.ID, first.Version, lending.StatusReturned, lending.StatusChange{
		ReturnedAt: &returnedAt,
	})
	require.NoError(t, err)

	assert.NoError(t, s.InsertReservation(ctx, sampleReservation(userID, "book-1")))
}

func TestUpdateReservationStatus_CompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := sampleReservation(uuid.New(), "book-1")
	require.NoError(t, s.InsertReservation(ctx, r))

	updated, err := s.UpdateReservationStatus(ctx, r.ID, r.Version, lending.StatusBorrowed, lending.StatusChange{})
	require.NoError(t, err)
	assert.Equal(t, lending.StatusBorrowed, updated.Status)
	assert.Equal(t, r.Version+1, updated.Version)

	_, err = s.UpdateReservationStatus(ctx, r.ID, r.Version, lending.StatusReturned, lending.StatusChange{})
	assert.ErrorIs(t, err, lending.ErrConflict)

	_, err = s.UpdateReservationStatus(ctx, uuid.New(), 1, lending.StatusReturned, lending.StatusChange{})
	assert.ErrorIs(t, err, lending.ErrNotFound)
}

func TestUpdateReservationStatus_PersistsReturnDetails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := sampleReservation(uuid.New(), "book-1")
	require.NoError(t, s.InsertReservation(ctx, r))

	returnedAt := r.DueDate.Add(72 * time.Hour)
	fee := lending.NewMoney(0.60)
	updated, err := s.UpdateReservationStatus(ctx, r.ID, r.Version, lending.StatusLate, lending.StatusChange{
		ReturnedAt: &returnedAt,
		LateFee:    &fee,
		DaysLate:   3,
	})
	require.NoError(t, err)
	assert.Equal(t, lending.StatusLate, updated.Status)
	require.NotNil(t, updated.ReturnedAt)
	assert.True(t, updated.ReturnedAt.Equal(returnedAt))
	require.NotNil(t, updated.LateFee)
	assert.Equal(t, "0.60", updated.LateFee.String())
	assert.Equal(t, 3, updated.DaysLate)
}

func TestFindReservationsForUser_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := uuid.New()

	older := sampleReservation(userID, "book-1")
	newer := sampleReservation(userID, "book-2")
	newer.ReservedAt = older.ReservedAt.Add(time.Hour)
	require.NoError(t, s.InsertReservation(ctx, older))
	require.NoError(t, s.InsertReservation(ctx, newer))
	require.NoError(t, s.InsertReservation(ctx, sampleReservation(uuid.New(), "book-1")))

	got, err := s.FindReservationsForUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "book-2", got[0].ReferenceID)
	assert.Equal(t, "book-1", got[1].ReferenceID)

	active, err := s.FindActiveReservationsForUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

// =============================================================================
// WALLETS
// =============================================================================

func TestWallets_AtomicAdjustBalance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertWallet(ctx, lending.Wallet{
		UserID: userID, Balance: lending.NewMoney(10.00), Version: 1, CreatedAt: now, UpdatedAt: now,
	}))

	w, err := s.AtomicAdjustBalance(ctx, userID, lending.NewMoney(-3.00))
	require.NoError(t, err)
	assert.Equal(t, "7.00", w.Balance.String())

	// Overdraft applies nothing.
	_, err = s.AtomicAdjustBalance(ctx, userID, lending.NewMoney(-8.00))
	assert.ErrorIs(t, err, lending.ErrInsufficientFunds)

	var detailed *lending.InsufficientFundsError
	require.ErrorAs(t, err, &detailed)
	assert.Equal(t, "7.00", detailed.Balance.String())
	assert.Equal(t, "8.00", detailed.Requested.String())

	w, err = s.FindWallet(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "7.00", w.Balance.String())

	// Down to exactly zero is allowed.
	w, err = s.AtomicAdjustBalance(ctx, userID, lending.NewMoney(-7.00))
	require.NoError(t, err)
	assert.Equal(t, "0.00", w.Balance.String())
}

func TestWallets_AdjustMissingWallet_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AtomicAdjustBalance(context.Background(), uuid.New(), lending.NewMoney(-1.00))
	assert.ErrorIs(t, err, lending.ErrNotFound)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A transaction that debits a wallet and inserts a reservation
	// WHEN: The transaction function fails afterwards
	// THEN: Both writes are rolled back

	s := newTestStore(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertWallet(ctx, lending.Wallet{
		UserID: userID, Balance: lending.NewMoney(10.00), Version: 1, CreatedAt: now, UpdatedAt: now,
	}))

	r := sampleReservation(userID, "book-1")
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx lending.Store) error {
		if _, err := tx.AtomicAdjustBalance(ctx, userID, lending.NewMoney(-3.00)); err != nil {
			return err
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	w, err := s.FindWallet(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", w.Balance.String())
	_, err = s.FindReservation(ctx, r.ID)
	assert.ErrorIs(t, err, lending.ErrNotFound)
}

func TestWithTx_Commits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

	err := s.WithTx(ctx, func(tx lending.Store) error {
		return tx.InsertWallet(ctx, lending.Wallet{
			UserID: userID, Balance: lending.NewMoney(5.00), Version: 1, CreatedAt: now, UpdatedAt: now,
		})
	})
	require.NoError(t, err)

	w, err := s.FindWallet(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "5.00", w.Balance.String())
}
