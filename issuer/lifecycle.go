package issuer

import (
	"fmt"
	"strings"
	"time"

	"github.com/alovak/vcard/internal/cardgen"
	"github.com/alovak/vcard/internal/expiry"
	"github.com/alovak/vcard/issuer/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	activationCodeLen = 6
	cvvLen            = 3
	maxHolderLen      = 26
)

// CardDefaults are the product attributes stamped on every new card.
type CardDefaults struct {
	ValidityYears int
	DailyLimit    decimal.Decimal
	MonthlyLimit  decimal.Decimal
	CardType      string
	Network       string
	IssuerName    string
}

// NormalizeHolderName trims, collapses inner whitespace, upper-cases and
// cuts the name to what fits on a card face.
func NormalizeHolderName(name string) (string, error) {
	normalized := strings.ToUpper(strings.Join(strings.Fields(name), " "))
	if normalized == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidHolder)
	}
	if r := []rune(normalized); len(r) > maxHolderLen {
		normalized = strings.TrimSpace(string(r[:maxHolderLen]))
	}
	return normalized, nil
}

// NewCard builds a card in pending_activation with a fresh activation code
// and CVV. number must come from the identifier pool.
func NewCard(accountID, number, holder string, now time.Time, d CardDefaults) (*models.Card, error) {
	if err := cardgen.ValidateIdentifier(number); err != nil {
		return nil, err
	}
	name, err := NormalizeHolderName(holder)
	if err != nil {
		return nil, err
	}
	code, err := cardgen.RandomDigits(activationCodeLen)
	if err != nil {
		return nil, fmt.Errorf("generating activation code: %w", err)
	}
	cvv, err := cardgen.RandomDigits(cvvLen)
	if err != nil {
		return nil, fmt.Errorf("generating cvv: %w", err)
	}

	years := expiry.YearsForProduct("virtual", d.ValidityYears)
	expiresAt := expiry.Expiry(now, years)

	return &models.Card{
		ID:                    "vc_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
		AccountID:             accountID,
		Number:                number,
		CardholderName:        name,
		ExpirationDate:        expiry.CardFace(now, years),
		ExpiresAt:             &expiresAt,
		CardVerificationValue: cvv,
		Status:                models.CardStatusPendingActivation,
		ActivationCode:        code,
		Balance:               decimal.Zero,
		DailyLimit:            d.DailyLimit,
		MonthlyLimit:          d.MonthlyLimit,
		CreatedAt:             now,
		VerificationMethods:   append([]string(nil), models.VerificationMethods...),
		Transactions:          []models.Transaction{},
		CardType:              d.CardType,
		Network:               d.Network,
		Issuer:                d.IssuerName,
	}, nil
}

// Activate moves a pending card to active when code matches exactly.
// A failed attempt leaves the card untouched.
func Activate(card *models.Card, code, method string, now time.Time) error {
	if card == nil {
		return ErrCardNotFound
	}
	switch card.Status {
	case models.CardStatusActive:
		return ErrAlreadyActive
	case models.CardStatusReplaced:
		return ErrCardReplaced
	}
	if IsExpired(card, now) {
		return ErrExpired
	}
	if !validMethod(method) {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	if card.ActivationCode == "" || code != card.ActivationCode {
		return ErrInvalidCode
	}

	at := now
	card.Status = models.CardStatusActive
	card.ActivatedAt = &at
	card.VerificationMethod = method
	card.ActivationCode = ""
	return nil
}

// ResendCode replaces the pending activation code and returns the new one.
func ResendCode(card *models.Card, method string) (string, error) {
	if card == nil {
		return "", ErrCardNotFound
	}
	switch card.Status {
	case models.CardStatusActive:
		return "", ErrAlreadyActive
	case models.CardStatusReplaced:
		return "", ErrCardReplaced
	}
	if !validMethod(method) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	code, err := cardgen.RandomDigits(activationCodeLen)
	if err != nil {
		return "", fmt.Errorf("generating activation code: %w", err)
	}
	card.ActivationCode = code
	return code, nil
}

// MarkReplaced supersedes old with the card newID. Balance and ledger stay
// on old.
func MarkReplaced(old *models.Card, newID string, now time.Time) error {
	if old == nil {
		return ErrCardNotFound
	}
	if old.Status == models.CardStatusReplaced {
		return ErrCardReplaced
	}
	at := now
	old.Status = models.CardStatusReplaced
	old.ReplacedBy = newID
	old.ReplacedAt = &at
	old.ActivationCode = ""
	return nil
}

// IsExpired checks the expiry instant, falling back to the end of the
// MM/YY face month for records written without one.
func IsExpired(card *models.Card, now time.Time) bool {
	if card.ExpiresAt != nil {
		return expiry.IsExpiredAt(*card.ExpiresAt, now)
	}
	return expiry.IsFaceExpired(card.ExpirationDate, now)
}

// EffectiveStatus is the status shown to users: expired wins over the
// stored status unless the card was already replaced.
func EffectiveStatus(card *models.Card, now time.Time) models.CardStatus {
	if card.Status != models.CardStatusReplaced && IsExpired(card, now) {
		return models.CardStatusExpired
	}
	return card.Status
}

func validMethod(method string) bool {
	for _, m := range models.VerificationMethods {
		if m == method {
			return true
		}
	}
	return false
}
