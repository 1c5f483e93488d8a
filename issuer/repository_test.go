package issuer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alovak/vcard/issuer/models"
	"github.com/stretchr/testify/require"
)

func newAccount(id string) *models.Account {
	return &models.Account{
		ID:        id,
		Address:   "TOR0000000000000000000000000000000000000000",
		CreatedAt: issuedAt,
		Cards:     make(map[string]*models.Card),
	}
}

func TestFileRepository_Reload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := NewFileRepository(dir)
	require.NoError(t, err)
	require.NoError(t, repo.CreateAccount(ctx, newAccount("acc-1")))

	card := newTestCard(t)
	card.AccountID = "acc-1"
	require.NoError(t, repo.CreateCard(ctx, card))

	card.Status = models.CardStatusActive
	_, err = Apply(card, Entry{Type: models.TransactionTypeCredit, Amount: dec("12.34"), Merchant: "w"}, issuedAt)
	require.NoError(t, err)
	require.NoError(t, repo.SaveCard(ctx, card))

	next := newTestCard(t)
	next.AccountID = "acc-1"
	old := card.Clone()
	require.NoError(t, MarkReplaced(old, next.ID, issuedAt))
	rec := models.Replacement{Date: issuedAt, OldCardID: old.ID, NewCardID: next.ID, Month: "2026-03"}
	require.NoError(t, repo.CommitReplacement(ctx, old, next, rec))

	_, err = os.Stat(filepath.Join(dir, "acc-1.json"))
	require.NoError(t, err)

	reloaded, err := NewFileRepository(dir)
	require.NoError(t, err)

	got, err := reloaded.GetCard(ctx, "acc-1", card.ID)
	require.NoError(t, err)
	require.Equal(t, models.CardStatusReplaced, got.Status)
	require.Equal(t, next.ID, got.ReplacedBy)
	require.Equal(t, "12.34", got.Balance.StringFixed(2))
	require.Len(t, got.Transactions, 1)

	byNumber, err := reloaded.FindCardByNumber(ctx, next.Number)
	require.NoError(t, err)
	require.Equal(t, next.ID, byNumber.ID)

	records, err := reloaded.ListReplacements(ctx, "acc-1")
	require.NoError(t, err)
	require.Equal(t, []models.Replacement{rec}, records)

	numbers, err := reloaded.IssuedNumbers(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{card.Number, next.Number}, numbers)

	cards, err := reloaded.ListCards(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, cards, 2)
	require.NoError(t, reloaded.Ping(ctx))
}

func TestMemoryRepository_Conflicts(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	require.NoError(t, repo.CreateAccount(ctx, newAccount("acc-1")))
	require.ErrorIs(t, repo.CreateAccount(ctx, newAccount("acc-1")), ErrConflict)

	card := newTestCard(t)
	card.AccountID = "acc-1"
	require.NoError(t, repo.CreateCard(ctx, card))

	dup := newTestCard(t)
	dup.AccountID = "acc-1"
	dup.Number = card.Number
	require.ErrorIs(t, repo.CreateCard(ctx, dup), ErrConflict)

	orphan := newTestCard(t)
	orphan.AccountID = "nope"
	require.ErrorIs(t, repo.CreateCard(ctx, orphan), ErrAccountNotFound)

	_, err := repo.GetCard(ctx, "acc-1", "vc_missing")
	require.ErrorIs(t, err, ErrCardNotFound)
	_, err = repo.FindCardByNumber(ctx, "8948000000002241")
	require.ErrorIs(t, err, ErrCardNotFound)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	require.NoError(t, repo.CreateAccount(ctx, newAccount("acc-1")))

	card := newTestCard(t)
	card.AccountID = "acc-1"
	require.NoError(t, repo.CreateCard(ctx, card))

	got, err := repo.GetCard(ctx, "acc-1", card.ID)
	require.NoError(t, err)
	got.Status = models.CardStatusActive
	got.Balance = dec("1000000")

	again, err := repo.GetCard(ctx, "acc-1", card.ID)
	require.NoError(t, err)
	require.Equal(t, models.CardStatusPendingActivation, again.Status)
	require.True(t, again.Balance.IsZero())
}

func TestFileRepository_FailedWriteKeepsState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := NewFileRepository(dir)
	require.NoError(t, err)
	require.NoError(t, repo.CreateAccount(ctx, newAccount("acc-1")))

	card := newTestCard(t)
	card.AccountID = "acc-1"
	require.NoError(t, repo.CreateCard(ctx, card))

	// make the account document unwritable by replacing the directory
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("not a directory"), 0o600))

	changed := card.Clone()
	changed.Status = models.CardStatusActive
	now := time.Now()
	changed.ActivatedAt = &now
	require.ErrorIs(t, repo.SaveCard(ctx, changed), ErrPersistence)

	got, err := repo.GetCard(ctx, "acc-1", card.ID)
	require.NoError(t, err)
	require.Equal(t, models.CardStatusPendingActivation, got.Status)
}
