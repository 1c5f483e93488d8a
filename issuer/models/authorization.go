package models

import (
	"github.com/shopspring/decimal"
)

// ApprovalCode is the ISO 8583 response code (DE39).
type ApprovalCode string

const (
	ApprovalCodeApproved          ApprovalCode = "00"
	ApprovalCodeInvalidAmount     ApprovalCode = "13"
	ApprovalCodeInvalidCard       ApprovalCode = "14"
	ApprovalCodeFormatError       ApprovalCode = "30"
	ApprovalCodeInsufficientFunds ApprovalCode = "51"
	ApprovalCodeExpiredCard       ApprovalCode = "54"
	ApprovalCodeNotPermitted      ApprovalCode = "57"
	ApprovalCodeLimitExceeded     ApprovalCode = "61"
	ApprovalCodeSystemError       ApprovalCode = "96"
)

type AuthorizationRequest struct {
	CardNumber string
	// ExpiryYYMM is optional; when set it must match the card.
	ExpiryYYMM string
	Amount     decimal.Decimal
	Merchant   string
	STAN       string
}

type AuthorizationResponse struct {
	AuthorizationCode string
	ApprovalCode      ApprovalCode
	TransactionID     string
}
