package issuer

import (
	"testing"
	"time"

	"github.com/alovak/vcard/issuer/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func credit(t *testing.T, card *models.Card, amount string) {
	t.Helper()
	_, err := Apply(card, Entry{Type: models.TransactionTypeCredit, Amount: dec(amount), Merchant: "TorCOIN Wallet"}, issuedAt)
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	card := activeTestCard(t)
	credit(t, card, "1500")

	tests := []struct {
		name   string
		amount string
		want   error
	}{
		{"ok", "30", nil},
		{"exactly daily limit", "1000", nil},
		{"zero", "0", ErrInvalidAmount},
		{"negative", "-5", ErrInvalidAmount},
		{"over balance", "1500.01", ErrInsufficientBalance},
		{"over daily limit", "1000.01", ErrDailyLimitExceeded},
	}
	for _, tt := range tests {
		err := Validate(card, dec(tt.amount), issuedAt)
		if tt.want == nil && err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if tt.want != nil {
			require.ErrorIs(t, err, tt.want, tt.name)
		}
	}
}

func TestValidate_Order(t *testing.T) {
	pending := newTestCard(t)
	require.ErrorIs(t, Validate(pending, dec("-1"), issuedAt), ErrNotActive)

	active := activeTestCard(t)
	expired := active.ExpiresAt.Add(time.Hour)
	require.ErrorIs(t, Validate(active, dec("-1"), expired), ErrExpired)

	// the amount is checked before the balance
	require.ErrorIs(t, Validate(active, dec("0"), issuedAt), ErrInvalidAmount)

	// the balance is checked before the limits
	active.DailyLimit = dec("10")
	require.ErrorIs(t, Validate(active, dec("50"), issuedAt), ErrInsufficientBalance)

	credit(t, active, "100")
	active.MonthlyLimit = dec("5")
	require.ErrorIs(t, Validate(active, dec("50"), issuedAt), ErrDailyLimitExceeded)
	require.ErrorIs(t, Validate(active, dec("8"), issuedAt), ErrMonthlyLimitExceeded)

	require.ErrorIs(t, Validate(nil, dec("1"), issuedAt), ErrCardNotFound)
}

func TestValidate_InsufficientBalanceMessage(t *testing.T) {
	card := activeTestCard(t)
	credit(t, card, "70")

	err := Validate(card, dec("100"), issuedAt)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Contains(t, err.Error(), "available $70.00")
	require.Contains(t, err.Error(), "short $30.00")
}

func TestApply(t *testing.T) {
	card := activeTestCard(t)

	txn, err := Apply(card, Entry{Type: models.TransactionTypeCredit, Amount: dec("100"), Merchant: "TorCOIN Wallet", Description: "Funds loaded from TorCOIN Wallet"}, issuedAt)
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusCompleted, txn.Status)
	require.Equal(t, "100.00", txn.Balance.StringFixed(2))
	require.Equal(t, "Visa", txn.Network)
	require.Len(t, txn.ID, 16)

	txn, err = Apply(card, Entry{Type: models.TransactionTypeDebit, Amount: dec("30.004"), Merchant: "Coffee"}, issuedAt)
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusApproved, txn.Status)
	require.Equal(t, "30.00", txn.Amount.StringFixed(2))
	require.Equal(t, "70.00", card.Balance.StringFixed(2))

	// a rejected debit changes nothing
	_, err = Apply(card, Entry{Type: models.TransactionTypeDebit, Amount: dec("9999"), Merchant: "Yacht"}, issuedAt)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Len(t, card.Transactions, 2)
	require.Equal(t, "70.00", card.Balance.StringFixed(2))

	require.True(t, Replay(card.Transactions).Equal(card.Balance))
}

func TestApply_CreditRules(t *testing.T) {
	pending := newTestCard(t)
	_, err := Apply(pending, Entry{Type: models.TransactionTypeCredit, Amount: dec("10")}, issuedAt)
	require.ErrorIs(t, err, ErrNotActive)

	card := activeTestCard(t)
	_, err = Apply(card, Entry{Type: models.TransactionTypeCredit, Amount: dec("-10")}, issuedAt)
	require.ErrorIs(t, err, ErrInvalidAmount)

	// limits bound debits only
	credit(t, card, "2500")
	require.Equal(t, "2500.00", card.Balance.StringFixed(2))

	_, err = Apply(card, Entry{Type: "refund", Amount: dec("1")}, issuedAt)
	require.Error(t, err)
}

func TestReplay(t *testing.T) {
	card := activeTestCard(t)
	credit(t, card, "0.10")
	credit(t, card, "0.20")
	for i := 0; i < 3; i++ {
		_, err := Apply(card, Entry{Type: models.TransactionTypeDebit, Amount: dec("0.05"), Merchant: "m"}, issuedAt)
		require.NoError(t, err)
	}

	require.Equal(t, "0.15", Replay(card.Transactions).StringFixed(2))
	require.True(t, Replay(card.Transactions).Equal(card.Balance))
}
