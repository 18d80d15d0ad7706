package lending_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/lending"
	memstore "github.com/warp/lending-engine/lending/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*lending.WalletLedger, *memstore.Memory) {
	t.Helper()
	store := memstore.NewMemory()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	clock := lending.FixedClock(time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC))
	return lending.NewWalletLedger(store, lending.DefaultFeeSchedule(), clock, log), store
}

func fundWallet(t *testing.T, ledger *lending.WalletLedger, userID uuid.UUID, amount string) {
	t.Helper()
	_, err := ledger.AdjustBalance(context.Background(), userID, lending.MustParseMoney(amount))
	require.NoError(t, err)
}

// =============================================================================
// BALANCE ADJUSTMENTS
// =============================================================================

func TestAdjustBalance_CreditProvisionsWallet(t *testing.T) {
	// GIVEN: A user without a wallet
	// WHEN: Crediting 10.00
	// THEN: A wallet is created lazily holding the credit

	ledger, _ := newTestLedger(t)
	userID := uuid.New()

	w, err := ledger.AdjustBalance(context.Background(), userID, lending.NewMoney(10.00))
	require.NoError(t, err)
	assert.Equal(t, "10.00", w.Balance.String())

	balance, err := ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", balance.String())
}

func TestAdjustBalance_DebitBelowZero_RejectedEntirely(t *testing.T) {
	// GIVEN: A wallet holding 5.00
	// WHEN: Debiting 10.00
	// THEN: The debit fails with InsufficientFunds and nothing is applied

	ledger, _ := newTestLedger(t)
	userID := uuid.New()
	fundWallet(t, ledger, userID, "5.00")

	_, err := ledger.AdjustBalance(context.Background(), userID, lending.NewMoney(-10.00))
	assert.ErrorIs(t, err, lending.ErrInsufficientFunds)

	var detailed *lending.InsufficientFundsError
	require.ErrorAs(t, err, &detailed)
	assert.Equal(t, "5.00", detailed.Balance.String())
	assert.Equal(t, "10.00", detailed.Requested.String())

	balance, err := ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "5.00", balance.String())
}

func TestAdjustBalance_DebitToExactlyZero_Allowed(t *testing.T) {
	ledger, _ := newTestLedger(t)
	userID := uuid.New()
	fundWallet(t, ledger, userID, "5.00")

	w, err := ledger.AdjustBalance(context.Background(), userID, lending.NewMoney(-5.00))
	require.NoError(t, err)
	assert.Equal(t, "0.00", w.Balance.String())
}

func TestAdjustBalance_DebitWithoutWallet_NotFound(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.AdjustBalance(context.Background(), uuid.New(), lending.NewMoney(-1.00))
	assert.ErrorIs(t, err, lending.ErrNotFound)
}

func TestAdjustBalance_ZeroDelta_InvalidAmount(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.AdjustBalance(context.Background(), uuid.New(), lending.NewMoney(0))
	assert.ErrorIs(t, err, lending.ErrInvalidAmount)
}

func TestBalance_WithoutWallet_NotFound(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.Balance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, lending.ErrNotFound)
}

// =============================================================================
// LATE FEES
// =============================================================================

func TestApplyLateFee_DebitsCappedFee_SignalsBuyOut(t *testing.T) {
	// GIVEN: A wallet with 50.00, a book retailing at 10.00
	// WHEN: Applying a late fee for 100 days (raw fee 20.00)
	// THEN: Exactly the capped 10.00 is debited and buy-out is signalled

	ledger, _ := newTestLedger(t)
	userID := uuid.New()
	fundWallet(t, ledger, userID, "50.00")

	fee, buyOut, err := ledger.ApplyLateFee(context.Background(), userID, 100, lending.NewMoney(10.00))
	require.NoError(t, err)
	assert.Equal(t, "10.00", fee.String())
	assert.True(t, buyOut)

	balance, err := ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "40.00", balance.String())
}

func TestApplyLateFee_BelowCap_NoBuyOut(t *testing.T) {
	ledger, _ := newTestLedger(t)
	userID := uuid.New()
	fundWallet(t, ledger, userID, "50.00")

	fee, buyOut, err := ledger.ApplyLateFee(context.Background(), userID, 3, lending.NewMoney(36.00))
	require.NoError(t, err)
	assert.Equal(t, "0.60", fee.String())
	assert.False(t, buyOut)
}

func TestApplyLateFee_NotLate_NoDebit(t *testing.T) {
	ledger, _ := newTestLedger(t)
	userID := uuid.New()
	fundWallet(t, ledger, userID, "50.00")

	fee, buyOut, err := ledger.ApplyLateFee(context.Background(), userID, 0, lending.NewMoney(36.00))
	require.NoError(t, err)
	assert.True(t, fee.IsZero())
	assert.False(t, buyOut)

	balance, err := ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", balance.String())
}

func TestApplyLateFee_InsufficientFunds_NothingApplied(t *testing.T) {
	ledger, _ := newTestLedger(t)
	userID := uuid.New()
	fundWallet(t, ledger, userID, "0.50")

	_, _, err := ledger.ApplyLateFee(context.Background(), userID, 10, lending.NewMoney(36.00))
	assert.ErrorIs(t, err, lending.ErrInsufficientFunds)

	balance, err := ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "0.50", balance.String())
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestAdjustBalance_ConcurrentDebits_NeverNegative(t *testing.T) {
	// GIVEN: A wallet with 10.00
	// WHEN: 50 goroutines each try to debit 1.00
	// THEN: Exactly 10 succeed and the balance ends at 0.00

	ledger, _ := newTestLedger(t)
	userID := uuid.New()
	fundWallet(t, ledger, userID, "10.00")

	const attempts = 50
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			_, err := ledger.AdjustBalance(context.Background(), userID, lending.NewMoney(-1.00))
			results <- err
		}()
	}

	succeeded := 0
	for i := 0; i < attempts; i++ {
		if err := <-results; err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, lending.ErrInsufficientFunds)
		}
	}
	assert.Equal(t, 10, succeeded)

	balance, err := ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", balance.String())
}
