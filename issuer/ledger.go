package issuer

import (
	"fmt"
	"strings"
	"time"

	"github.com/alovak/vcard/issuer/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entry describes a balance mutation to apply to a card.
type Entry struct {
	Type        models.TransactionType
	Amount      decimal.Decimal
	Merchant    string
	Description string
}

// Validate runs the debit checks in order: card present, active, not
// expired, positive amount, enough balance, within the daily and monthly
// limits. Limits apply to the single transaction amount.
func Validate(card *models.Card, amount decimal.Decimal, now time.Time) error {
	if err := checkUsable(card, now); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, amount.String())
	}
	if amount.GreaterThan(card.Balance) {
		return fmt.Errorf("%w: available $%s, requested $%s, short $%s",
			ErrInsufficientBalance,
			card.Balance.StringFixed(2),
			amount.StringFixed(2),
			amount.Sub(card.Balance).StringFixed(2))
	}
	if amount.GreaterThan(card.DailyLimit) {
		return fmt.Errorf("%w: limit $%s", ErrDailyLimitExceeded, card.DailyLimit.StringFixed(2))
	}
	if amount.GreaterThan(card.MonthlyLimit) {
		return fmt.Errorf("%w: limit $%s", ErrMonthlyLimitExceeded, card.MonthlyLimit.StringFixed(2))
	}
	return nil
}

// Apply is the only place a card balance changes. Debits are fully
// re-validated; credits only need a usable card and a positive amount.
// The returned transaction has already been appended to the card.
func Apply(card *models.Card, e Entry, now time.Time) (*models.Transaction, error) {
	amount := e.Amount.Round(2)

	var (
		balance decimal.Decimal
		status  models.TransactionStatus
	)
	switch e.Type {
	case models.TransactionTypeDebit:
		if err := Validate(card, amount, now); err != nil {
			return nil, err
		}
		balance = card.Balance.Sub(amount)
		status = models.TransactionStatusApproved
	case models.TransactionTypeCredit:
		if err := checkUsable(card, now); err != nil {
			return nil, err
		}
		if !amount.IsPositive() {
			return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount.String())
		}
		balance = card.Balance.Add(amount)
		status = models.TransactionStatusCompleted
	default:
		return nil, fmt.Errorf("unknown transaction type %q", e.Type)
	}

	txn := models.Transaction{
		ID:          "txn_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12],
		Date:        now,
		Type:        e.Type,
		Amount:      amount,
		Balance:     balance,
		Merchant:    e.Merchant,
		Description: e.Description,
		Network:     card.Network,
		Status:      status,
	}
	card.Balance = balance
	card.Transactions = append(card.Transactions, txn)
	return &txn, nil
}

// Replay recomputes the balance from the ledger alone.
func Replay(txns []models.Transaction) decimal.Decimal {
	balance := decimal.Zero
	for _, t := range txns {
		switch t.Type {
		case models.TransactionTypeCredit:
			balance = balance.Add(t.Amount)
		case models.TransactionTypeDebit:
			balance = balance.Sub(t.Amount)
		}
	}
	return balance
}

func checkUsable(card *models.Card, now time.Time) error {
	if card == nil {
		return ErrCardNotFound
	}
	if card.Status != models.CardStatusActive {
		return fmt.Errorf("%w: status %s", ErrNotActive, card.Status)
	}
	if IsExpired(card, now) {
		return ErrExpired
	}
	return nil
}
