/*
Package sqlite provides the SQLite-backed implementation of lending.TxStore.

PURPOSE:
  Production persistence for books, reservations, and wallets. The same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

MONEY:
  All monetary columns are INTEGER cents. That keeps arithmetic exact and
  lets wallet debits run as a single conditional UPDATE:

    UPDATE wallets SET balance_cents = balance_cents + ?
    WHERE user_id = ? AND balance_cents + ? >= 0

  Zero rows affected means the wallet is missing or the debit would go
  negative; nothing is applied in either case.

CONCURRENCY:
  - WAL mode: multiple readers, single writer at a time
  - _txlock=immediate: WithTx transactions take the write lock up front,
    so concurrent units serialize instead of deadlocking
  - SQLITE_BUSY and constraint violations surface as lending.ErrConflict,
    which the services retry a bounded number of times
  - Reservation status updates are compare-and-swap on the version column

INVARIANT ENFORCEMENT:
  A partial unique index over active statuses guarantees at most one
  RESERVED/BORROWED reservation per (user, book) even under racing inserts.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - lending/store.go: Interface contract and error semantics
  - lending/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/warp/lending-engine/lending"
)

// Store implements lending.TxStore using SQLite.
type Store struct {
	*queries
	db *sql.DB
}

// New creates a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, &lending.StorageError{Op: "open", Err: err}
	}

	store := &Store{queries: &queries{db: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		publication_year INTEGER NOT NULL,
		publisher TEXT NOT NULL,
		price_cents INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		reserved_at TEXT NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL,
		fee_charged_cents INTEGER,
		returned_at TEXT,
		late_fee_cents INTEGER,
		days_late INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One active reservation per (user, book), enforced under racing inserts.
	CREATE UNIQUE INDEX IF NOT EXISTS uq_active_reservation
		ON reservations(user_id, reference_id)
		WHERE status IN ('RESERVED', 'BORROWED');

	CREATE INDEX IF NOT EXISTS idx_reservations_user
		ON reservations(user_id, reserved_at);

	CREATE TABLE IF NOT EXISTS wallets (
		user_id TEXT PRIMARY KEY,
		balance_cents INTEGER NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return &lending.StorageError{Op: "migrate", Err: err}
	}
	return nil
}

// WithTx executes fn within an immediate transaction.
func (s *Store) WithTx(ctx context.Context, fn func(lending.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("begin", err)
	}
	if err := fn(&queries{db: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr("commit", err)
	}
	return nil
}

// =============================================================================
// QUERIES - Store methods over either *sql.DB or *sql.Tx
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

// --- Catalog ---

func (q *queries) FindBook(ctx context.Context, id string) (*lending.Book, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, title, author, publication_year, publisher, price_cents, created_at
		FROM books WHERE id = ?`, id)
	return scanBook(row)
}

func (q *queries) InsertBook(ctx context.Context, book lending.Book) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO books (id, title, author, publication_year, publisher, price_cents, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		book.ID, book.Title, book.Author, book.PublicationYear, book.Publisher,
		book.Price.Cents(), formatTime(book.CreatedAt))
	if err != nil {
		return mapErr("insert book", err)
	}
	return nil
}

func (q *queries) DeleteBook(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return mapErr("delete book", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lending.ErrNotFound
	}
	return nil
}

func (q *queries) ListBooks(ctx context.Context) ([]lending.Book, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, title, author, publication_year, publisher, price_cents, created_at
		FROM books ORDER BY title`)
	if err != nil {
		return nil, mapErr("list books", err)
	}
	defer rows.Close()

	var books []lending.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list books", err)
	}
	return books, nil
}

// --- Reservations ---

const reservationColumns = `id, user_id, reference_id, reserved_at, due_date, status,
	fee_charged_cents, returned_at, late_fee_cents, days_late, version, created_at, updated_at`

func (q *queries) FindReservation(ctx context.Context, id uuid.UUID) (*lending.Reservation, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id.String())
	return scanReservation(row)
}

func (q *queries) FindActiveReservationsForUser(ctx context.Context, userID uuid.UUID) ([]lending.Reservation, error) {
	return q.queryReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE user_id = ? AND status IN ('RESERVED', 'BORROWED')
		ORDER BY reserved_at DESC`, userID.String())
}

func (q *queries) FindReservationsForUser(ctx context.Context, userID uuid.UUID) ([]lending.Reservation, error) {
	return q.queryReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE user_id = ?
		ORDER BY reserved_at DESC`, userID.String())
}

func (q *queries) queryReservations(ctx context.Context, query string, args ...any) ([]lending.Reservation, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("query reservations", err)
	}
	defer rows.Close()

	var result []lending.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("query reservations", err)
	}
	return result, nil
}

func (q *queries) InsertReservation(ctx context.Context, r lending.Reservation) error {
	var feeCents any
	if r.FeeCharged != nil {
		feeCents = r.FeeCharged.Cents()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO reservations (id, user_id, reference_id, reserved_at, due_date, status,
			fee_charged_cents, days_late, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.UserID.String(), r.ReferenceID,
		formatTime(r.ReservedAt), formatTime(r.DueDate), string(r.Status),
		feeCents, r.DaysLate, r.Version, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return mapErr("insert reservation", err)
	}
	return nil
}

func (q *queries) UpdateReservationStatus(ctx context.Context, id uuid.UUID, expectedVersion int, newStatus lending.Status, change lending.StatusChange) (*lending.Reservation, error) {
	var returnedAt any
	if change.ReturnedAt != nil {
		returnedAt = formatTime(*change.ReturnedAt)
	}
	var lateFeeCents any
	if change.LateFee != nil {
		lateFeeCents = change.LateFee.Cents()
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE reservations
		SET status = ?, version = version + 1, updated_at = ?,
			returned_at = COALESCE(?, returned_at),
			late_fee_cents = COALESCE(?, late_fee_cents),
			days_late = ?
		WHERE id = ? AND version = ?`,
		string(newStatus), formatTime(time.Now().UTC()),
		returnedAt, lateFeeCents, change.DaysLate,
		id.String(), expectedVersion)
	if err != nil {
		return nil, mapErr("update reservation status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Missing record and lost race must report distinctly.
		if _, err := q.FindReservation(ctx, id); err != nil {
			return nil, err
		}
		return nil, lending.ErrConflict
	}
	return q.FindReservation(ctx, id)
}

// --- Wallets ---

func (q *queries) FindWallet(ctx context.Context, userID uuid.UUID) (*lending.Wallet, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT user_id, balance_cents, version, created_at, updated_at
		FROM wallets WHERE user_id = ?`, userID.String())
	return scanWallet(row)
}

func (q *queries) InsertWallet(ctx context.Context, w lending.Wallet) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance_cents, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		w.UserID.String(), w.Balance.Cents(), w.Version,
		formatTime(w.CreatedAt), formatTime(w.UpdatedAt))
	if err != nil {
		return mapErr("insert wallet", err)
	}
	return nil
}

func (q *queries) AtomicAdjustBalance(ctx context.Context, userID uuid.UUID, delta lending.Money) (*lending.Wallet, error) {
	cents := delta.Cents()
	res, err := q.db.ExecContext(ctx, `
		UPDATE wallets
		SET balance_cents = balance_cents + ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND balance_cents + ? >= 0`,
		cents, formatTime(time.Now().UTC()), userID.String(), cents)
	if err != nil {
		return nil, mapErr("adjust balance", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		w, err := q.FindWallet(ctx, userID)
		if err != nil {
			return nil, err
		}
		return nil, &lending.InsufficientFundsError{
			UserID:    userID,
			Balance:   w.Balance,
			Requested: delta.Neg(),
		}
	}
	return q.FindWallet(ctx, userID)
}

// =============================================================================
// SCANNING / MAPPING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(row scanner) (*lending.Book, error) {
	var b lending.Book
	var priceCents int64
	var createdAt string
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.PublicationYear, &b.Publisher, &priceCents, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lending.ErrNotFound
	}
	if err != nil {
		return nil, mapErr("scan book", err)
	}
	b.Price = lending.NewMoneyFromCents(priceCents)
	b.CreatedAt = parseTime(createdAt)
	return &b, nil
}

func scanReservation(row scanner) (*lending.Reservation, error) {
	var r lending.Reservation
	var id, userID, reservedAt, dueDate, status, createdAt, updatedAt string
	var feeCents, lateFeeCents sql.NullInt64
	var returnedAt sql.NullString

	err := row.Scan(&id, &userID, &r.ReferenceID, &reservedAt, &dueDate, &status,
		&feeCents, &returnedAt, &lateFeeCents, &r.DaysLate, &r.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lending.ErrNotFound
	}
	if err != nil {
		return nil, mapErr("scan reservation", err)
	}

	r.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, &lending.StorageError{Op: "scan reservation", Err: err}
	}
	r.UserID, err = uuid.Parse(userID)
	if err != nil {
		return nil, &lending.StorageError{Op: "scan reservation", Err: err}
	}
	r.ReservedAt = parseTime(reservedAt)
	r.DueDate = parseTime(dueDate)
	r.Status = lending.Status(status)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	if feeCents.Valid {
		fee := lending.NewMoneyFromCents(feeCents.Int64)
		r.FeeCharged = &fee
	}
	if lateFeeCents.Valid {
		fee := lending.NewMoneyFromCents(lateFeeCents.Int64)
		r.LateFee = &fee
	}
	if returnedAt.Valid {
		t := parseTime(returnedAt.String)
		r.ReturnedAt = &t
	}
	return &r, nil
}

func scanWallet(row scanner) (*lending.Wallet, error) {
	var w lending.Wallet
	var userID, createdAt, updatedAt string
	var balanceCents int64
	err := row.Scan(&userID, &balanceCents, &w.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lending.ErrNotFound
	}
	if err != nil {
		return nil, mapErr("scan wallet", err)
	}
	w.UserID, err = uuid.Parse(userID)
	if err != nil {
		return nil, &lending.StorageError{Op: "scan wallet", Err: err}
	}
	w.Balance = lending.NewMoneyFromCents(balanceCents)
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return &w, nil
}

// mapErr translates driver errors into the lending error contract.
func mapErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return lending.ErrUnavailable
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrBusy ||
			sqliteErr.Code == sqlite3.ErrLocked ||
			sqliteErr.Code == sqlite3.ErrConstraint {
			return lending.ErrConflict
		}
	}
	return &lending.StorageError{Op: op, Err: err}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
