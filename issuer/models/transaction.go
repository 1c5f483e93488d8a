package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
)

type TransactionStatus string

const (
	TransactionStatusApproved  TransactionStatus = "approved"
	TransactionStatusCompleted TransactionStatus = "completed"
)

// Transaction is one immutable entry of a card's ledger. Balance is the
// card balance right after the entry was applied.
type Transaction struct {
	ID          string            `json:"id"`
	Date        time.Time         `json:"date"`
	Type        TransactionType   `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Balance     decimal.Decimal   `json:"balance"`
	Merchant    string            `json:"merchant,omitempty"`
	Description string            `json:"description"`
	Network     string            `json:"network,omitempty"`
	Status      TransactionStatus `json:"status"`
}

// Replacement records one card superseding another.
type Replacement struct {
	Date      time.Time `json:"date"`
	OldCardID string    `json:"old_card_id"`
	NewCardID string    `json:"new_card_id"`
	// Month is the calendar month of Date as YYYY-MM; quotas count by it.
	Month string `json:"month"`
}
