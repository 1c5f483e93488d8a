package issuer

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alovak/vcard/internal/cardgen"
	"github.com/alovak/vcard/internal/events"
	"github.com/alovak/vcard/internal/expiry"
	"github.com/alovak/vcard/internal/pool"
	"github.com/alovak/vcard/issuer/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

// IdentifierSource hands out never-used card numbers.
type IdentifierSource interface {
	Issue(ctx context.Context) (string, error)
	Stats() pool.Stats
}

type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}

// CodeNotifier delivers activation codes out of band.
type CodeNotifier interface {
	SendActivationCode(ctx context.Context, card *models.Card, method, code string) error
}

// LogNotifier "delivers" activation codes by logging them.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) SendActivationCode(_ context.Context, card *models.Card, method, code string) error {
	n.Logger.Info("activation code sent",
		slog.String("card_id", card.ID),
		slog.String("method", method),
		slog.String("code", code))
	return nil
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func WithEventPublisher(p EventPublisher) ServiceOption {
	return func(s *Service) { s.events = p }
}

func WithCodeNotifier(n CodeNotifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// Service is the single owner of card state: every mutation runs under its
// lock and is persisted before the call returns.
type Service struct {
	mu       sync.Mutex
	repo     Repository
	ids      IdentifierSource
	cfg      *Config
	quota    *QuotaTracker
	defaults CardDefaults
	logger   *slog.Logger
	now      func() time.Time
	events   EventPublisher
	notifier CodeNotifier
}

func NewService(repo Repository, ids IdentifierSource, cfg *Config, opts ...ServiceOption) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Service{
		repo:     repo,
		ids:      ids,
		cfg:      cfg,
		defaults: cfg.CardDefaults(),
		logger:   slog.Default(),
		now:      time.Now,
		events:   events.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "service"))
	s.quota = NewQuotaTracker(cfg.ReplacementsPerMonth, s.now)
	if s.notifier == nil {
		s.notifier = LogNotifier{Logger: s.logger}
	}
	return s
}

// Now is the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) CreateAccount(ctx context.Context, req models.CreateAccount) (*models.Account, error) {
	address := req.Address
	if address == "" {
		var err error
		if address, err = walletAddress(); err != nil {
			return nil, fmt.Errorf("deriving wallet address: %w", err)
		}
	}
	account := &models.Account{
		ID:        uuid.New().String(),
		Address:   address,
		CreatedAt: s.now(),
		Cards:     make(map[string]*models.Card),
	}

	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}
	s.publish(ctx, events.AccountCreated, map[string]string{"account_id": account.ID})
	return account, nil
}

func (s *Service) GetAccount(ctx context.Context, accountID string) (*models.AccountSummary, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("finding account: %w", err)
	}
	q := s.quota.Status(account.Replacements)
	return &models.AccountSummary{
		ID:                    account.ID,
		Address:               account.Address,
		CreatedAt:             account.CreatedAt,
		Cards:                 len(account.Cards),
		ReplacementsThisMonth: q.Used,
		ReplacementsRemaining: q.Remaining,
	}, nil
}

// IssueCard creates a pending card for the account. The returned card
// carries the activation code; later reads do not.
func (s *Service) IssueCard(ctx context.Context, accountID, holder string) (*models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.repo.GetAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("finding account: %w", err)
	}
	if _, err := NormalizeHolderName(holder); err != nil {
		return nil, err
	}

	card, err := s.createCard(ctx, accountID, holder, func(c *models.Card) error {
		return s.repo.CreateCard(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("card issued",
		slog.String("account_id", accountID),
		slog.String("card_id", card.ID),
		slog.String("number", cardgen.MaskPAN(card.Number)))
	s.publish(ctx, events.CardIssued, cardEvent(card))
	return card, nil
}

// createCard draws a number, builds the card and stores it with store.
// A conflicting id or number is retried with fresh values.
func (s *Service) createCard(ctx context.Context, accountID, holder string, store func(*models.Card) error) (*models.Card, error) {
	for attempt := 0; attempt < 5; attempt++ {
		number, err := s.ids.Issue(ctx)
		if err != nil {
			return nil, fmt.Errorf("drawing card number: %w", err)
		}
		card, err := NewCard(accountID, number, holder, s.now(), s.defaults)
		if err != nil {
			return nil, err
		}
		err = store(card)
		if err == nil {
			return card, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("creating card: %w", err)
		}
		s.logger.Warn("card conflict, retrying", slog.Int("attempt", attempt+1), "err", err)
	}
	return nil, fmt.Errorf("could not create unique card after retries: %w", ErrConflict)
}

// GetCard returns the card with its effective status and without the
// pending activation code.
func (s *Service) GetCard(ctx context.Context, accountID, cardID string) (*models.Card, error) {
	card, err := s.repo.GetCard(ctx, accountID, cardID)
	if err != nil {
		return nil, fmt.Errorf("finding card: %w", err)
	}
	return s.view(card), nil
}

func (s *Service) ListCards(ctx context.Context, accountID string) ([]*models.Card, error) {
	cards, err := s.repo.ListCards(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	for i, c := range cards {
		cards[i] = s.view(c)
	}
	return cards, nil
}

func (s *Service) view(card *models.Card) *models.Card {
	card.Status = EffectiveStatus(card, s.now())
	card.ActivationCode = ""
	return card
}

func (s *Service) ActivateCard(ctx context.Context, accountID, cardID, code, method string) (*models.Card, error) {
	card, err := s.mutateCard(ctx, accountID, cardID, func(card *models.Card) error {
		return Activate(card, code, method, s.now())
	})
	if err != nil {
		return nil, fmt.Errorf("activating card: %w", err)
	}

	s.logger.Info("card activated", slog.String("card_id", card.ID), slog.String("method", method))
	s.publish(ctx, events.CardActivated, cardEvent(card))
	return card, nil
}

// ResendActivationCode issues a new code and hands it to the notifier.
func (s *Service) ResendActivationCode(ctx context.Context, accountID, cardID, method string) error {
	var code string
	card, err := s.mutateCard(ctx, accountID, cardID, func(card *models.Card) error {
		var err error
		code, err = ResendCode(card, method)
		return err
	})
	if err != nil {
		return fmt.Errorf("resending activation code: %w", err)
	}

	if err := s.notifier.SendActivationCode(ctx, card, method, code); err != nil {
		return fmt.Errorf("sending activation code: %w", err)
	}
	s.publish(ctx, events.CardCodeResent, map[string]string{"card_id": card.ID, "method": method})
	return nil
}

// ValidateTransaction reports whether a debit of amount would be accepted.
func (s *Service) ValidateTransaction(ctx context.Context, accountID, cardID string, amount decimal.Decimal) error {
	card, err := s.repo.GetCard(ctx, accountID, cardID)
	if err != nil {
		return fmt.Errorf("finding card: %w", err)
	}
	return Validate(card, amount.Round(2), s.now())
}

// ProcessTransaction debits the card for a purchase at merchant.
func (s *Service) ProcessTransaction(ctx context.Context, accountID, cardID string, amount decimal.Decimal, merchant, description string) (*models.Transaction, error) {
	merchant = strings.TrimSpace(merchant)
	if description == "" {
		description = "Purchase at " + merchant
	}
	return s.apply(ctx, accountID, cardID, Entry{
		Type:        models.TransactionTypeDebit,
		Amount:      amount,
		Merchant:    merchant,
		Description: description,
	})
}

// LoadFunds credits the card from source.
func (s *Service) LoadFunds(ctx context.Context, accountID, cardID string, amount decimal.Decimal, source string) (*models.Transaction, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		source = s.cfg.FundingSource
	}
	return s.apply(ctx, accountID, cardID, Entry{
		Type:        models.TransactionTypeCredit,
		Amount:      amount,
		Merchant:    source,
		Description: "Funds loaded from " + source,
	})
}

func (s *Service) apply(ctx context.Context, accountID, cardID string, e Entry) (*models.Transaction, error) {
	var txn *models.Transaction
	card, err := s.mutateCard(ctx, accountID, cardID, func(card *models.Card) error {
		var err error
		txn, err = Apply(card, e, s.now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s transaction: %w", e.Type, err)
	}

	s.logger.Info("transaction applied",
		slog.String("card_id", card.ID),
		slog.String("type", string(txn.Type)),
		slog.String("amount", txn.Amount.StringFixed(2)),
		slog.String("balance", txn.Balance.StringFixed(2)))
	s.publish(ctx, events.CardTransaction, map[string]any{
		"account_id": card.AccountID,
		"card_id":    card.ID,
		"id":         txn.ID,
		"type":       txn.Type,
		"amount":     txn.Amount,
		"balance":    txn.Balance,
	})
	return txn, nil
}

func (s *Service) ListTransactions(ctx context.Context, accountID, cardID string) ([]models.Transaction, error) {
	card, err := s.repo.GetCard(ctx, accountID, cardID)
	if err != nil {
		return nil, fmt.Errorf("finding card: %w", err)
	}
	return card.Transactions, nil
}

// ReplaceCard supersedes cardID with a fresh card, subject to the monthly
// replacement quota. The old balance is not carried over.
func (s *Service) ReplaceCard(ctx context.Context, accountID, cardID, holder string) (*models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.repo.ListReplacements(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing replacements: %w", err)
	}
	if err := s.quota.Check(records); err != nil {
		return nil, err
	}

	old, err := s.repo.GetCard(ctx, accountID, cardID)
	if err != nil {
		return nil, fmt.Errorf("finding card: %w", err)
	}
	if old.Status == models.CardStatusReplaced {
		return nil, fmt.Errorf("card %s: %w by %s", old.ID, ErrCardReplaced, old.ReplacedBy)
	}
	if strings.TrimSpace(holder) == "" {
		holder = old.CardholderName
	}

	newCard, err := s.createCard(ctx, accountID, holder, func(c *models.Card) error {
		superseded := old.Clone()
		if err := MarkReplaced(superseded, c.ID, s.now()); err != nil {
			return err
		}
		rec := s.quota.Record(superseded.ID, c.ID)
		if err := s.repo.CommitReplacement(ctx, superseded, c, rec); err != nil {
			return err
		}
		old = superseded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replacing card: %w", err)
	}

	s.logger.Info("card replaced",
		slog.String("account_id", accountID),
		slog.String("old_card_id", old.ID),
		slog.String("new_card_id", newCard.ID))
	s.publish(ctx, events.CardReplaced, map[string]string{
		"account_id":  accountID,
		"old_card_id": old.ID,
		"new_card_id": newCard.ID,
	})
	return newCard, nil
}

// ReplacementQuota returns this month's allowance and the full history.
func (s *Service) ReplacementQuota(ctx context.Context, accountID string) (Quota, []models.Replacement, error) {
	records, err := s.repo.ListReplacements(ctx, accountID)
	if err != nil {
		return Quota{}, nil, fmt.Errorf("listing replacements: %w", err)
	}
	return s.quota.Status(records), records, nil
}

func (s *Service) ExportCard(ctx context.Context, accountID, cardID string) (*models.CardExport, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("finding account: %w", err)
	}
	card, ok := account.Cards[cardID]
	if !ok {
		return nil, fmt.Errorf("finding card: %w", ErrCardNotFound)
	}
	return &models.CardExport{
		CardID:        card.ID,
		CardData:      s.view(card),
		WalletAddress: account.Address,
		ExportedAt:    s.now(),
	}, nil
}

// AuthorizeByNumber debits the card identified by its number, the way a
// card network presents a purchase. Declines are reported through the
// approval code; err is only set for system failures.
func (s *Service) AuthorizeByNumber(ctx context.Context, req models.AuthorizationRequest) (models.AuthorizationResponse, error) {
	number := cardgen.NormalizePAN(req.CardNumber)
	if !cardgen.IsWellFormed(number) {
		return models.AuthorizationResponse{ApprovalCode: models.ApprovalCodeInvalidCard}, nil
	}
	card, err := s.repo.FindCardByNumber(ctx, number)
	if errors.Is(err, ErrCardNotFound) {
		return models.AuthorizationResponse{ApprovalCode: models.ApprovalCodeInvalidCard}, nil
	}
	if err != nil {
		return models.AuthorizationResponse{}, fmt.Errorf("finding card: %w", err)
	}
	if req.ExpiryYYMM != "" && card.ExpiresAt != nil && req.ExpiryYYMM != expiry.YYMM(*card.ExpiresAt, 0) {
		return models.AuthorizationResponse{ApprovalCode: models.ApprovalCodeInvalidCard}, nil
	}

	txn, err := s.ProcessTransaction(ctx, card.AccountID, card.ID, req.Amount, req.Merchant, "")
	if err != nil {
		code := ApprovalCodeFor(err)
		if code == models.ApprovalCodeSystemError {
			return models.AuthorizationResponse{ApprovalCode: code}, err
		}
		s.logger.Info("authorization declined",
			slog.String("card_id", card.ID),
			slog.String("stan", req.STAN),
			slog.String("code", string(code)),
			"err", err)
		return models.AuthorizationResponse{ApprovalCode: code}, nil
	}

	authCode, err := cardgen.RandomDigits(6)
	if err != nil {
		return models.AuthorizationResponse{}, fmt.Errorf("generating authorization code: %w", err)
	}
	return models.AuthorizationResponse{
		AuthorizationCode: authCode,
		ApprovalCode:      models.ApprovalCodeApproved,
		TransactionID:     txn.ID,
	}, nil
}

// ApprovalCodeFor maps a ledger error to its ISO 8583 response code.
func ApprovalCodeFor(err error) models.ApprovalCode {
	switch {
	case err == nil:
		return models.ApprovalCodeApproved
	case errors.Is(err, ErrCardNotFound), errors.Is(err, ErrAccountNotFound):
		return models.ApprovalCodeInvalidCard
	case errors.Is(err, ErrInvalidAmount):
		return models.ApprovalCodeInvalidAmount
	case errors.Is(err, ErrNotActive):
		return models.ApprovalCodeNotPermitted
	case errors.Is(err, ErrExpired):
		return models.ApprovalCodeExpiredCard
	case errors.Is(err, ErrInsufficientBalance):
		return models.ApprovalCodeInsufficientFunds
	case errors.Is(err, ErrDailyLimitExceeded), errors.Is(err, ErrMonthlyLimitExceeded):
		return models.ApprovalCodeLimitExceeded
	default:
		return models.ApprovalCodeSystemError
	}
}

func (s *Service) PoolStats() pool.Stats {
	return s.ids.Stats()
}

// Ping checks the card record store.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// mutateCard loads a card, applies fn and stores the result. Nothing is
// written when fn fails.
func (s *Service) mutateCard(ctx context.Context, accountID, cardID string, fn func(*models.Card) error) (*models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, err := s.repo.GetCard(ctx, accountID, cardID)
	if err != nil {
		return nil, err
	}
	if err := fn(card); err != nil {
		return nil, err
	}
	if err := s.repo.SaveCard(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

func (s *Service) publish(ctx context.Context, eventType string, data any) {
	if err := s.events.Publish(ctx, eventType, data); err != nil {
		s.logger.Error("publishing event", slog.String("type", eventType), "err", err)
	}
}

func cardEvent(card *models.Card) map[string]any {
	return map[string]any{
		"account_id": card.AccountID,
		"card_id":    card.ID,
		"number":     cardgen.MaskPAN(card.Number),
		"status":     card.Status,
	}
}

// walletAddress derives a TOR address from a fresh random key.
func walletAddress() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(hex.EncodeToString(key)))
	return "TOR" + strings.ToUpper(hex.EncodeToString(sum[:])[:40]), nil
}
