package issuer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/alovak/vcard/internal/storage"
	"github.com/alovak/vcard/issuer/models"
)

// Repository stores accounts with their cards and replacement history.
// Reads return copies; writes are durable when they return nil.
type Repository interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)

	// CreateCard inserts a new card; ErrConflict when its id or number is taken.
	CreateCard(ctx context.Context, card *models.Card) error
	SaveCard(ctx context.Context, card *models.Card) error
	GetCard(ctx context.Context, accountID, cardID string) (*models.Card, error)
	FindCardByNumber(ctx context.Context, number string) (*models.Card, error)
	ListCards(ctx context.Context, accountID string) ([]*models.Card, error)

	// CommitReplacement stores the new card, the superseded old card and the
	// replacement record as one unit.
	CommitReplacement(ctx context.Context, oldCard, newCard *models.Card, rec models.Replacement) error
	ListReplacements(ctx context.Context, accountID string) ([]models.Replacement, error)

	// IssuedNumbers lists every card number ever stored.
	IssuedNumbers(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

type cardRef struct {
	accountID string
	cardID    string
}

// MemoryRepository keeps accounts in memory. With a directory set, every
// account is also written as <dir>/<account_id>.json before a write returns.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	numbers  map[string]cardRef
	dir      string
}

func NewRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string]*models.Account),
		numbers:  make(map[string]cardRef),
	}
}

// NewFileRepository loads every account document found in dir.
func NewFileRepository(dir string) (*MemoryRepository, error) {
	r := NewRepository()
	r.dir = dir

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating data dir: %v", ErrPersistence, err)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("listing account documents: %w", err)
	}
	for _, path := range paths {
		var acc models.Account
		if _, err := storage.ReadJSON(path, &acc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if acc.ID == "" {
			continue
		}
		if acc.Cards == nil {
			acc.Cards = make(map[string]*models.Card)
		}
		r.accounts[acc.ID] = &acc
		for _, c := range acc.Cards {
			r.numbers[c.Number] = cardRef{accountID: acc.ID, cardID: c.ID}
		}
	}
	return r, nil
}

func (r *MemoryRepository) CreateAccount(_ context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[account.ID]; ok {
		return fmt.Errorf("account %s exists: %w", account.ID, ErrConflict)
	}
	acc := account.Clone()
	if err := r.persist(acc); err != nil {
		return err
	}
	r.accounts[acc.ID] = acc
	return nil
}

func (r *MemoryRepository) GetAccount(_ context.Context, accountID string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (r *MemoryRepository) ListAccounts(_ context.Context) ([]*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		out = append(out, acc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) CreateCard(_ context.Context, card *models.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.numbers[card.Number]; ok {
		return fmt.Errorf("card number exists: %w", ErrConflict)
	}
	return r.mutate(card.AccountID, func(acc *models.Account) error {
		if _, ok := acc.Cards[card.ID]; ok {
			return fmt.Errorf("card id %s exists: %w", card.ID, ErrConflict)
		}
		acc.Cards[card.ID] = card.Clone()
		return nil
	}, func() {
		r.numbers[card.Number] = cardRef{accountID: card.AccountID, cardID: card.ID}
	})
}

func (r *MemoryRepository) SaveCard(_ context.Context, card *models.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.mutate(card.AccountID, func(acc *models.Account) error {
		if _, ok := acc.Cards[card.ID]; !ok {
			return ErrCardNotFound
		}
		acc.Cards[card.ID] = card.Clone()
		return nil
	}, nil)
}

func (r *MemoryRepository) GetCard(_ context.Context, accountID, cardID string) (*models.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	card, ok := acc.Cards[cardID]
	if !ok {
		return nil, ErrCardNotFound
	}
	return card.Clone(), nil
}

func (r *MemoryRepository) FindCardByNumber(_ context.Context, number string) (*models.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.numbers[number]
	if !ok {
		return nil, ErrCardNotFound
	}
	return r.accounts[ref.accountID].Cards[ref.cardID].Clone(), nil
}

func (r *MemoryRepository) ListCards(_ context.Context, accountID string) ([]*models.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	out := make([]*models.Card, 0, len(acc.Cards))
	for _, c := range acc.Cards {
		out = append(out, c.Clone())
	}
	sortCards(out)
	return out, nil
}

func (r *MemoryRepository) CommitReplacement(_ context.Context, oldCard, newCard *models.Card, rec models.Replacement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.numbers[newCard.Number]; ok {
		return fmt.Errorf("card number exists: %w", ErrConflict)
	}
	return r.mutate(oldCard.AccountID, func(acc *models.Account) error {
		if _, ok := acc.Cards[oldCard.ID]; !ok {
			return ErrCardNotFound
		}
		if _, ok := acc.Cards[newCard.ID]; ok {
			return fmt.Errorf("card id %s exists: %w", newCard.ID, ErrConflict)
		}
		acc.Cards[oldCard.ID] = oldCard.Clone()
		acc.Cards[newCard.ID] = newCard.Clone()
		acc.Replacements = append(acc.Replacements, rec)
		return nil
	}, func() {
		r.numbers[newCard.Number] = cardRef{accountID: newCard.AccountID, cardID: newCard.ID}
	})
}

func (r *MemoryRepository) ListReplacements(_ context.Context, accountID string) ([]models.Replacement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return append([]models.Replacement(nil), acc.Replacements...), nil
}

func (r *MemoryRepository) IssuedNumbers(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.numbers))
	for n := range r.numbers {
		out = append(out, n)
	}
	return out, nil
}

func (r *MemoryRepository) Ping(_ context.Context) error {
	if r.dir == "" {
		return nil
	}
	if _, err := os.Stat(r.dir); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// mutate applies fn to a copy of the account, persists the copy and only
// then swaps it in, so memory never runs ahead of disk. after runs once the
// swap happened.
func (r *MemoryRepository) mutate(accountID string, fn func(*models.Account) error, after func()) error {
	cur, ok := r.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := r.persist(next); err != nil {
		return err
	}
	r.accounts[accountID] = next
	if after != nil {
		after()
	}
	return nil
}

func (r *MemoryRepository) persist(acc *models.Account) error {
	if r.dir == "" {
		return nil
	}
	path := filepath.Join(r.dir, accountFileName(acc.ID))
	if err := storage.WriteJSON(path, acc); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func accountFileName(accountID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, accountID)
	return safe + ".json"
}

func sortCards(cards []*models.Card) {
	sort.Slice(cards, func(i, j int) bool {
		if cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].ID < cards[j].ID
		}
		return cards[i].CreatedAt.Before(cards[j].CreatedAt)
	})
}
