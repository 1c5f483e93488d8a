package issuer

import (
	"errors"

	"github.com/alovak/vcard/internal/cardgen"
	"github.com/alovak/vcard/internal/pool"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrCardNotFound    = errors.New("card not found")
	ErrConflict        = errors.New("conflict")

	ErrAlreadyActive = errors.New("card is already active")
	ErrInvalidCode   = errors.New("invalid verification code")
	ErrCardReplaced  = errors.New("card has been replaced")
	ErrInvalidHolder = errors.New("invalid card holder name")
	ErrInvalidMethod = errors.New("invalid verification method")

	ErrNotActive            = errors.New("card is not active")
	ErrExpired              = errors.New("card has expired")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrDailyLimitExceeded   = errors.New("exceeds daily limit")
	ErrMonthlyLimitExceeded = errors.New("exceeds monthly limit")
	ErrQuotaExceeded        = errors.New("monthly card replacement limit reached")
	ErrPersistence          = errors.New("persistence failure")
	ErrPoolExhausted        = pool.ErrPoolExhausted
	ErrMalformedIdentifier  = cardgen.ErrMalformedIdentifier
)
