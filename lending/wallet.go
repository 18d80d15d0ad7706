/*
wallet.go - Wallet ledger service

PURPOSE:
  Owns a user's balance. Applies signed adjustments and late-fee debits,
  and is the ONLY component that enforces the wallet invariants:

  1. NO NEGATIVE BALANCE: a debit that would drive the balance below
     zero is rejected entirely - no partial debit, ever.
  2. SERIALIZED WRITES: adjustments go through the store's atomic
     increment, never read-then-write, so concurrent adjustments for one
     user cannot lose updates.
  3. FEE CAP: a late-fee debit is capped at the book's retail price; when
     the cap is reached the ledger signals a buy-out to the caller. It
     does NOT touch reservation state - that is the state machine's job.

WALLET CREATION:
  Wallets are created lazily on first credit. Debits and reads against a
  missing wallet fail with ErrNotFound.

SEE ALSO:
  - store.go: AtomicAdjustBalance contract
  - reservation.go: Orchestrates wallet charges tied to transitions
*/
package lending

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// WALLET LEDGER
// =============================================================================

// WalletLedger applies monetary adjustments against user wallets.
type WalletLedger struct {
	store TxStore
	fees  FeeSchedule
	clock Clock
	log   *logrus.Logger
}

// NewWalletLedger creates a wallet ledger backed by the given store.
func NewWalletLedger(store TxStore, fees FeeSchedule, clock Clock, log *logrus.Logger) *WalletLedger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WalletLedger{store: store, fees: fees, clock: clock, log: log}
}

// Balance returns the user's current balance, or ErrNotFound if the user
// has no wallet.
func (l *WalletLedger) Balance(ctx context.Context, userID uuid.UUID) (Money, error) {
	w, err := l.store.FindWallet(ctx, userID)
	if err != nil {
		return Money{}, err
	}
	return w.Balance, nil
}

// Wallet returns the full wallet snapshot, or ErrNotFound.
func (l *WalletLedger) Wallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	return l.store.FindWallet(ctx, userID)
}

// AdjustBalance applies delta to the user's wallet: positive credits,
// negative debits. A debit below zero fails with InsufficientFundsError and
// applies nothing. A credit to a user without a wallet provisions one.
// Returns the post-adjustment wallet snapshot.
func (l *WalletLedger) AdjustBalance(ctx context.Context, userID uuid.UUID, delta Money) (*Wallet, error) {
	if delta.IsZero() {
		return nil, &InvalidAmountError{Input: delta.String()}
	}

	w, err := l.store.AtomicAdjustBalance(ctx, userID, delta)
	if err != nil && errors.Is(err, ErrNotFound) && delta.IsPositive() {
		w, err = l.provisionWallet(ctx, userID, delta)
	}
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			l.log.WithFields(logrus.Fields{
				"user_id": userID,
				"delta":   delta.String(),
			}).Warn("wallet debit rejected")
		}
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"user_id": userID,
		"delta":   delta.String(),
		"balance": w.Balance.String(),
	}).Info("wallet balance adjusted")
	return w, nil
}

// ApplyLateFee computes the capped late fee for a return daysLate days past
// due and debits it from the wallet. The returned buyOut flag tells the
// caller the cumulative fee reached the retail price; the ledger itself never
// mutates reservation state.
func (l *WalletLedger) ApplyLateFee(ctx context.Context, userID uuid.UUID, daysLate int, retailPrice Money) (Money, bool, error) {
	fee := l.fees.LateFee(daysLate, retailPrice)
	if fee.IsZero() {
		return fee, false, nil
	}

	if _, err := l.store.AtomicAdjustBalance(ctx, userID, fee.Neg()); err != nil {
		return Money{}, false, err
	}

	buyOut := l.fees.IsBuyOut(fee, retailPrice)
	l.log.WithFields(logrus.Fields{
		"user_id":   userID,
		"days_late": daysLate,
		"fee":       fee.String(),
		"buy_out":   buyOut,
	}).Info("late fee applied")
	return fee, buyOut, nil
}

// provisionWallet lazily creates a wallet holding the initial credit.
// A racing creation loses with ErrConflict; the adjustment is then retried
// against the winner's wallet.
func (l *WalletLedger) provisionWallet(ctx context.Context, userID uuid.UUID, initial Money) (*Wallet, error) {
	now := l.clock.Now()
	w := Wallet{
		UserID:    userID,
		Balance:   initial,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := l.store.InsertWallet(ctx, w)
	if err == nil {
		l.log.WithField("user_id", userID).Info("wallet provisioned")
		return &w, nil
	}
	if errors.Is(err, ErrConflict) {
		return l.store.AtomicAdjustBalance(ctx, userID, initial)
	}
	return nil, err
}
