/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Requests are validated in handlers before the core is invoked; the core
  only ever sees typed, already-validated values. Monetary amounts travel
  as fixed 2-decimal-place strings.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/lending-engine/lending"
)

// =============================================================================
// CATALOG
// =============================================================================

type BookDTO struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	PublicationYear int    `json:"publication_year"`
	Publisher       string `json:"publisher"`
	Price           string `json:"price"`
	CreatedAt       string `json:"created_at,omitempty"`
}

type CreateBookRequest struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	PublicationYear int    `json:"publication_year"`
	Publisher       string `json:"publisher"`
	Price           string `json:"price"`
}

func toBookDTO(b lending.Book) BookDTO {
	return BookDTO{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		PublicationYear: b.PublicationYear,
		Publisher:       b.Publisher,
		Price:           b.Price.String(),
		CreatedAt:       formatTime(b.CreatedAt),
	}
}

// =============================================================================
// RESERVATIONS
// =============================================================================

type ReservationDTO struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	ReferenceID string  `json:"reference_id"`
	ReservedAt  string  `json:"reserved_at"`
	DueDate     string  `json:"due_date"`
	Status      string  `json:"status"`
	FeeCharged  *string `json:"fee_charged,omitempty"`
	ReturnedAt  *string `json:"returned_at,omitempty"`
	LateFee     *string `json:"late_fee,omitempty"`
	DaysLate    int     `json:"days_late"`
}

type CreateReservationRequest struct {
	UserID      string `json:"user_id"`
	ReferenceID string `json:"reference_id"`
}

type ReturnResponse struct {
	Reservation ReservationDTO `json:"reservation"`
	DaysLate    int            `json:"days_late"`
	LateFee     string         `json:"late_fee"`
}

func toReservationDTO(r lending.Reservation) ReservationDTO {
	dto := ReservationDTO{
		ID:          r.ID.String(),
		UserID:      r.UserID.String(),
		ReferenceID: r.ReferenceID,
		ReservedAt:  formatTime(r.ReservedAt),
		DueDate:     formatTime(r.DueDate),
		Status:      string(r.Status),
		DaysLate:    r.DaysLate,
	}
	if r.FeeCharged != nil {
		s := r.FeeCharged.String()
		dto.FeeCharged = &s
	}
	if r.ReturnedAt != nil {
		s := formatTime(*r.ReturnedAt)
		dto.ReturnedAt = &s
	}
	if r.LateFee != nil {
		s := r.LateFee.String()
		dto.LateFee = &s
	}
	return dto
}

// =============================================================================
// WALLETS
// =============================================================================

type WalletDTO struct {
	UserID    string `json:"user_id"`
	Balance   string `json:"balance"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type AdjustBalanceRequest struct {
	Amount string `json:"amount"`
}

type LateFeeRequest struct {
	ReferenceID string `json:"reference_id"`
	DaysLate    int    `json:"days_late"`
}

type LateFeeResponse struct {
	Fee    string `json:"fee"`
	BuyOut bool   `json:"buy_out"`
}

func toWalletDTO(w lending.Wallet) WalletDTO {
	return WalletDTO{
		UserID:    w.UserID.String(),
		Balance:   w.Balance.String(),
		UpdatedAt: formatTime(w.UpdatedAt),
	}
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
