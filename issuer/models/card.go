package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CardStatus string

const (
	CardStatusPendingActivation CardStatus = "pending_activation"
	CardStatusActive            CardStatus = "active"
	CardStatusReplaced          CardStatus = "replaced"
	// CardStatusExpired is never stored; it is derived from the expiry instant.
	CardStatusExpired CardStatus = "expired"
)

const (
	VerificationSMS   = "sms"
	VerificationEmail = "email"
	VerificationApp   = "app"
)

var VerificationMethods = []string{VerificationSMS, VerificationEmail, VerificationApp}

type Card struct {
	ID             string `json:"card_id"`
	AccountID      string `json:"account_id"`
	Number         string `json:"card_number"`
	CardholderName string `json:"card_holder"`
	// ExpirationDate is the MM/YY card face value.
	ExpirationDate        string          `json:"expiry_date"`
	ExpiresAt             *time.Time      `json:"expiry_datetime,omitempty"`
	CardVerificationValue string          `json:"cvv"`
	Status                CardStatus      `json:"status"`
	ActivationCode        string          `json:"activation_code,omitempty"`
	Balance               decimal.Decimal `json:"balance"`
	DailyLimit            decimal.Decimal `json:"daily_limit"`
	MonthlyLimit          decimal.Decimal `json:"monthly_limit"`
	CreatedAt             time.Time       `json:"created_at"`
	ActivatedAt           *time.Time      `json:"activated_at"`
	VerificationMethods   []string        `json:"verification_methods"`
	VerificationMethod    string          `json:"verification_method,omitempty"`
	Transactions          []Transaction   `json:"transactions"`
	ReplacedBy            string          `json:"replaced_by,omitempty"`
	ReplacedAt            *time.Time      `json:"replaced_date,omitempty"`
	CardType              string          `json:"card_type"`
	Network               string          `json:"network"`
	Issuer                string          `json:"issuer"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (c *Card) Clone() *Card {
	if c == nil {
		return nil
	}
	out := *c
	out.ExpiresAt = cloneTime(c.ExpiresAt)
	out.ActivatedAt = cloneTime(c.ActivatedAt)
	out.ReplacedAt = cloneTime(c.ReplacedAt)
	out.VerificationMethods = append([]string(nil), c.VerificationMethods...)
	out.Transactions = append([]Transaction(nil), c.Transactions...)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
