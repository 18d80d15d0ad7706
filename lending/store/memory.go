// Package store provides an in-memory lending.TxStore implementation
// (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/lending-engine/lending"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu           sync.Mutex
	books        map[string]lending.Book
	reservations map[uuid.UUID]lending.Reservation
	wallets      map[uuid.UUID]lending.Wallet
}

func NewMemory() *Memory {
	return &Memory{
		books:        make(map[string]lending.Book),
		reservations: make(map[uuid.UUID]lending.Reservation),
		wallets:      make(map[uuid.UUID]lending.Wallet),
	}
}

// WithTx executes fn within a transaction.
// For the memory store this is simulated with the global lock plus a
// snapshot that is restored if fn fails.
func (m *Memory) WithTx(_ context.Context, fn func(lending.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

func (m *Memory) snapshot() memorySnapshot {
	books := make(map[string]lending.Book, len(m.books))
	for k, v := range m.books {
		books[k] = v
	}
	reservations := make(map[uuid.UUID]lending.Reservation, len(m.reservations))
	for k, v := range m.reservations {
		reservations[k] = v
	}
	wallets := make(map[uuid.UUID]lending.Wallet, len(m.wallets))
	for k, v := range m.wallets {
		wallets[k] = v
	}
	return memorySnapshot{books: books, reservations: reservations, wallets: wallets}
}

func (m *Memory) restore(s memorySnapshot) {
	m.books = s.books
	m.reservations = s.reservations
	m.wallets = s.wallets
}

type memorySnapshot struct {
	books        map[string]lending.Book
	reservations map[uuid.UUID]lending.Reservation
	wallets      map[uuid.UUID]lending.Wallet
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) FindBook(_ context.Context, id string) (*lending.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findBookLocked(id)
}

func (m *Memory) findBookLocked(id string) (*lending.Book, error) {
	b, ok := m.books[id]
	if !ok {
		return nil, lending.ErrNotFound
	}
	return &b, nil
}

func (m *Memory) InsertBook(_ context.Context, book lending.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertBookLocked(book)
}

func (m *Memory) insertBookLocked(book lending.Book) error {
	if _, ok := m.books[book.ID]; ok {
		return lending.ErrConflict
	}
	m.books[book.ID] = book
	return nil
}

func (m *Memory) DeleteBook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteBookLocked(id)
}

func (m *Memory) deleteBookLocked(id string) error {
	if _, ok := m.books[id]; !ok {
		return lending.ErrNotFound
	}
	delete(m.books, id)
	return nil
}

func (m *Memory) ListBooks(_ context.Context) ([]lending.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listBooksLocked()
}

func (m *Memory) listBooksLocked() ([]lending.Book, error) {
	books := make([]lending.Book, 0, len(m.books))
	for _, b := range m.books {
		books = append(books, b)
	}
	sort.Slice(books, func(i, j int) bool { return books[i].Title < books[j].Title })
	return books, nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (m *Memory) FindReservation(_ context.Context, id uuid.UUID) (*lending.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findReservationLocked(id)
}

func (m *Memory) findReservationLocked(id uuid.UUID) (*lending.Reservation, error) {
	r, ok := m.reservations[id]
	if !ok {
		return nil, lending.ErrNotFound
	}
	return &r, nil
}

func (m *Memory) FindActiveReservationsForUser(_ context.Context, userID uuid.UUID) ([]lending.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findActiveLocked(userID)
}

func (m *Memory) findActiveLocked(userID uuid.UUID) ([]lending.Reservation, error) {
	var result []lending.Reservation
	for _, r := range m.reservations {
		if r.UserID == userID && r.Status.Active() {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *Memory) FindReservationsForUser(_ context.Context, userID uuid.UUID) ([]lending.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findForUserLocked(userID)
}

func (m *Memory) findForUserLocked(userID uuid.UUID) ([]lending.Reservation, error) {
	var result []lending.Reservation
	for _, r := range m.reservations {
		if r.UserID == userID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ReservedAt.After(result[j].ReservedAt) })
	return result, nil
}

func (m *Memory) InsertReservation(_ context.Context, r lending.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertReservationLocked(r)
}

func (m *Memory) insertReservationLocked(r lending.Reservation) error {
	if _, ok := m.reservations[r.ID]; ok {
		return lending.ErrConflict
	}
	// One active reservation per (user, book).
	for _, existing := range m.reservations {
		if existing.UserID == r.UserID && existing.ReferenceID == r.ReferenceID && existing.Status.Active() {
			return lending.ErrConflict
		}
	}
	m.reservations[r.ID] = r
	return nil
}

func (m *Memory) UpdateReservationStatus(_ context.Context, id uuid.UUID, expectedVersion int, newStatus lending.Status, change lending.StatusChange) (*lending.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateReservationStatusLocked(id, expectedVersion, newStatus, change)
}

func (m *Memory) updateReservationStatusLocked(id uuid.UUID, expectedVersion int, newStatus lending.Status, change lending.StatusChange) (*lending.Reservation, error) {
	r, ok := m.reservations[id]
	if !ok {
		return nil, lending.ErrNotFound
	}
	if r.Version != expectedVersion {
		return nil, lending.ErrConflict
	}
	r.Status = newStatus
	r.Version++
	r.UpdatedAt = time.Now().UTC()
	if change.ReturnedAt != nil {
		r.ReturnedAt = change.ReturnedAt
		r.UpdatedAt = *change.ReturnedAt
	}
	if change.LateFee != nil {
		r.LateFee = change.LateFee
	}
	r.DaysLate = change.DaysLate
	m.reservations[id] = r
	return &r, nil
}

// =============================================================================
// WALLETS
// =============================================================================

func (m *Memory) FindWallet(_ context.Context, userID uuid.UUID) (*lending.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findWalletLocked(userID)
}

func (m *Memory) findWalletLocked(userID uuid.UUID) (*lending.Wallet, error) {
	w, ok := m.wallets[userID]
	if !ok {
		return nil, lending.ErrNotFound
	}
	return &w, nil
}

func (m *Memory) InsertWallet(_ context.Context, w lending.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertWalletLocked(w)
}

func (m *Memory) insertWalletLocked(w lending.Wallet) error {
	if _, ok := m.wallets[w.UserID]; ok {
		return lending.ErrConflict
	}
	m.wallets[w.UserID] = w
	return nil
}

func (m *Memory) AtomicAdjustBalance(_ context.Context, userID uuid.UUID, delta lending.Money) (*lending.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.atomicAdjustBalanceLocked(userID, delta)
}

func (m *Memory) atomicAdjustBalanceLocked(userID uuid.UUID, delta lending.Money) (*lending.Wallet, error) {
	w, ok := m.wallets[userID]
	if !ok {
		return nil, lending.ErrNotFound
	}
	next := w.Balance.Add(delta)
	if next.IsNegative() {
		return nil, &lending.InsufficientFundsError{
			UserID:    userID,
			Balance:   w.Balance,
			Requested: delta.Neg(),
		}
	}
	w.Balance = next
	w.Version++
	w.UpdatedAt = time.Now().UTC()
	m.wallets[userID] = w
	return &w, nil
}

// =============================================================================
// TRANSACTIONAL VIEW - Store methods without re-locking
// =============================================================================

type txView struct {
	parent *Memory
}

func (tv *txView) FindBook(_ context.Context, id string) (*lending.Book, error) {
	return tv.parent.findBookLocked(id)
}

func (tv *txView) InsertBook(_ context.Context, book lending.Book) error {
	return tv.parent.insertBookLocked(book)
}

func (tv *txView) DeleteBook(_ context.Context, id string) error {
	return tv.parent.deleteBookLocked(id)
}

func (tv *txView) ListBooks(_ context.Context) ([]lending.Book, error) {
	return tv.parent.listBooksLocked()
}

func (tv *txView) FindReservation(_ context.Context, id uuid.UUID) (*lending.Reservation, error) {
	return tv.parent.findReservationLocked(id)
}

func (tv *txView) FindActiveReservationsForUser(_ context.Context, userID uuid.UUID) ([]lending.Reservation, error) {
	return tv.parent.findActiveLocked(userID)
}

func (tv *txView) FindReservationsForUser(_ context.Context, userID uuid.UUID) ([]lending.Reservation, error) {
	return tv.parent.findForUserLocked(userID)
}

func (tv *txView) InsertReservation(_ context.Context, r lending.Reservation) error {
	return tv.parent.insertReservationLocked(r)
}

func (tv *txView) UpdateReservationStatus(_ context.Context, id uuid.UUID, expectedVersion int, newStatus lending.Status, change lending.StatusChange) (*lending.Reservation, error) {
	return tv.parent.updateReservationStatusLocked(id, expectedVersion, newStatus, change)
}

func (tv *txView) FindWallet(_ context.Context, userID uuid.UUID) (*lending.Wallet, error) {
	return tv.parent.findWalletLocked(userID)
}

func (tv *txView) InsertWallet(_ context.Context, w lending.Wallet) error {
	return tv.parent.insertWalletLocked(w)
}

func (tv *txView) AtomicAdjustBalance(_ context.Context, userID uuid.UUID, delta lending.Money) (*lending.Wallet, error) {
	return tv.parent.atomicAdjustBalanceLocked(userID, delta)
}
