/*
handlers.go - HTTP API handlers for the lending engine

PURPOSE:
  Exposes the lending engine via REST API. Handles HTTP request/response,
  JSON serialization, input validation, and delegates to the domain
  services. The core never sees transport concerns; handlers map typed
  business errors to HTTP statuses.

ENDPOINTS:
  Catalog:
    POST   /api/books                      Create catalog entry
    GET    /api/books                      List catalog
    GET    /api/books/{id}                 Fetch catalog entry
    DELETE /api/books/{id}                 Remove catalog entry

  Reservations:
    POST   /api/reservations               Create reservation
    POST   /api/reservations/{id}/borrow   Mark picked up
    POST   /api/reservations/{id}/return   Process return

  Users:
    GET    /api/users/{id}/reservations    Reservation history
    GET    /api/users/{id}/wallet          Wallet snapshot
    POST   /api/users/{id}/wallet/adjust   Credit/debit wallet
    POST   /api/users/{id}/wallet/late-fee Standalone late-fee charge

ERROR HANDLING:
  - 400: Validation errors, invalid input, insufficient funds, quota full
  - 404: Book/reservation/wallet not found
  - 409: Conflict (lost race, duplicate)
  - 503: Storage unavailable/timeout
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/lending-engine/lending"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        lending.TxStore
	Reservations *lending.ReservationService
	Wallets      *lending.WalletLedger
	Cache        *Cache
	Clock        lending.Clock
	Log          *logrus.Logger
}

// NewHandler wires the handler with its services.
func NewHandler(store lending.TxStore, reservations *lending.ReservationService, wallets *lending.WalletLedger, cache *Cache, clock lending.Clock, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Store:        store,
		Reservations: reservations,
		Wallets:      wallets,
		Cache:        cache,
		Clock:        clock,
		Log:          log,
	}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// CreateBook adds a catalog entry.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "id and title are required", nil)
		return
	}
	price, err := lending.ParseMoney(req.Price)
	if err != nil || price.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}

	book := lending.Book{
		ID:              req.ID,
		Title:           req.Title,
		Author:          req.Author,
		PublicationYear: req.PublicationYear,
		Publisher:       req.Publisher,
		Price:           price,
		CreatedAt:       h.Clock.Now(),
	}
	if err := h.Store.InsertBook(r.Context(), book); err != nil {
		h.writeDomainError(w, "Failed to create book", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookDTO(book))
}

// ListBooks returns the catalog.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.Store.ListBooks(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list books", err)
		return
	}
	dtos := make([]BookDTO, len(books))
	for i, b := range books {
		dtos[i] = toBookDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBook fetches one catalog entry.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.Store.FindBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to fetch book", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(*book))
}

// DeleteBook removes a catalog entry.
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteBook(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, "Failed to delete book", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// CreateReservation reserves a book for a user and debits the reservation fee.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user_id", err)
		return
	}
	if req.ReferenceID == "" {
		writeError(w, http.StatusBadRequest, "reference_id is required", nil)
		return
	}

	reservation, err := h.Reservations.Create(r.Context(), userID, req.ReferenceID)
	if err != nil {
		h.writeDomainError(w, "Failed to create reservation", err)
		return
	}
	h.invalidateWallet(r, userID)
	writeJSON(w, http.StatusCreated, toReservationDTO(*reservation))
}

// BorrowReservation marks a reserved book as picked up.
func (h *Handler) BorrowReservation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reservation id", err)
		return
	}
	reservation, err := h.Reservations.Borrow(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to borrow", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*reservation))
}

// ReturnReservation processes a return, charging late fees when past due.
func (h *Handler) ReturnReservation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reservation id", err)
		return
	}
	result, err := h.Reservations.Return(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to return", err)
		return
	}
	h.invalidateWallet(r, result.Reservation.UserID)
	writeJSON(w, http.StatusOK, ReturnResponse{
		Reservation: toReservationDTO(*result.Reservation),
		DaysLate:    result.DaysLate,
		LateFee:     result.LateFee.String(),
	})
}

// GetHistory returns all reservations for a user, newest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id", err)
		return
	}
	history, err := h.Reservations.History(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, "Failed to fetch history", err)
		return
	}
	dtos := make([]ReservationDTO, len(history))
	for i, res := range history {
		dtos[i] = toReservationDTO(res)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// GetWallet returns the user's wallet snapshot, redis-cached when available.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id", err)
		return
	}

	key := walletKey(userID.String())
	var cached WalletDTO
	if found, err := h.Cache.Get(r.Context(), key, &cached); err == nil && found {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	wallet, err := h.Wallets.Wallet(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, "Failed to fetch wallet", err)
		return
	}
	dto := toWalletDTO(*wallet)
	if err := h.Cache.Set(r.Context(), key, dto); err != nil {
		h.Log.WithError(err).Warn("wallet cache write failed")
	}
	writeJSON(w, http.StatusOK, dto)
}

// AdjustBalance credits or debits the user's wallet.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id", err)
		return
	}
	var req AdjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	delta, err := lending.ParseMoney(req.Amount)
	if err != nil {
		h.writeDomainError(w, "Invalid amount", err)
		return
	}

	wallet, err := h.Wallets.AdjustBalance(r.Context(), userID, delta)
	if err != nil {
		h.writeDomainError(w, "Failed to adjust balance", err)
		return
	}
	h.invalidateWallet(r, userID)
	writeJSON(w, http.StatusOK, toWalletDTO(*wallet))
}

// ApplyLateFee charges a standalone late fee against a user's wallet,
// capped at the referenced book's retail price.
func (h *Handler) ApplyLateFee(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id", err)
		return
	}
	var req LateFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.DaysLate < 0 {
		writeError(w, http.StatusBadRequest, "days_late must not be negative", nil)
		return
	}

	book, err := h.Store.FindBook(r.Context(), req.ReferenceID)
	if err != nil {
		if lending.IsNotFound(err) {
			h.writeDomainError(w, "Unknown book", lending.ErrBookUnavailable)
			return
		}
		h.writeDomainError(w, "Failed to fetch book", err)
		return
	}

	fee, buyOut, err := h.Wallets.ApplyLateFee(r.Context(), userID, req.DaysLate, book.Price)
	if err != nil {
		h.writeDomainError(w, "Failed to apply late fee", err)
		return
	}
	h.invalidateWallet(r, userID)
	writeJSON(w, http.StatusOK, LateFeeResponse{Fee: fee.String(), BuyOut: buyOut})
}

// Health is the liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) invalidateWallet(r *http.Request, userID uuid.UUID) {
	if err := h.Cache.Invalidate(r.Context(), walletKey(userID.String())); err != nil {
		h.Log.WithError(err).Warn("wallet cache invalidation failed")
	}
}

// writeDomainError maps typed business errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case lending.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, lending.ErrBookUnavailable):
		writeError(w, http.StatusNotFound, message, err)
	case lending.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case lending.IsRetryable(err):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, lending.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		h.Log.WithError(err).Error("internal error")
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
