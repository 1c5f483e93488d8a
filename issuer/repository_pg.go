package issuer

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alovak/vcard/internal/cardgen"
	"github.com/alovak/vcard/issuer/models"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// PGRepository stores card records as jsonb next to an HMAC of the card
// number, so the raw number is never indexed.
type PGRepository struct {
	db      *sql.DB
	hashKey []byte
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB, hashKey []byte) *PGRepository {
	return &PGRepository{db: db, hashKey: hashKey}
}

// Migrate creates the schema if it does not exist yet.
func (r *PGRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (r *PGRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO vcard.accounts(account_id, address, created_at)
        VALUES ($1,$2,$3)
    `, account.ID, account.Address, account.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("account %s exists: %w", account.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (r *PGRepository) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	acc := &models.Account{Cards: make(map[string]*models.Card)}
	err := r.db.QueryRowContext(ctx, `SELECT account_id, address, created_at FROM vcard.accounts WHERE account_id=$1`, accountID).
		Scan(&acc.ID, &acc.Address, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	cards, err := r.ListCards(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, c := range cards {
		acc.Cards[c.ID] = c
	}
	if acc.Replacements, err = r.ListReplacements(ctx, accountID); err != nil {
		return nil, err
	}
	return acc, nil
}

func (r *PGRepository) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT account_id FROM vcard.accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	out := make([]*models.Account, 0, len(ids))
	for _, id := range ids {
		acc, err := r.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}

func (r *PGRepository) CreateCard(ctx context.Context, card *models.Card) error {
	return r.insertCard(ctx, r.db, card)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *PGRepository) insertCard(ctx context.Context, db execer, card *models.Card) error {
	record, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("encoding card: %w", err)
	}
	_, err = db.ExecContext(ctx, `
        INSERT INTO vcard.cards(card_id, account_id, pan_hash, last4, status, record, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
    `, card.ID, card.AccountID, cardgen.HashPANHMAC(card.Number, r.hashKey), cardgen.LastN(card.Number, 4),
		string(card.Status), string(record), card.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("card exists: %w", ErrConflict)
	}
	if err != nil {
		if pqErr := (*pq.Error)(nil); errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return ErrAccountNotFound
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (r *PGRepository) SaveCard(ctx context.Context, card *models.Card) error {
	return r.updateCard(ctx, r.db, card)
}

func (r *PGRepository) updateCard(ctx context.Context, db execer, card *models.Card) error {
	record, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("encoding card: %w", err)
	}
	res, err := db.ExecContext(ctx, `
        UPDATE vcard.cards
           SET status=$3, record=$4, updated_at=now()
         WHERE card_id=$1 AND account_id=$2
    `, card.ID, card.AccountID, string(card.Status), string(record))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCardNotFound
	}
	return nil
}

func (r *PGRepository) GetCard(ctx context.Context, accountID, cardID string) (*models.Card, error) {
	row := r.db.QueryRowContext(ctx, `SELECT record FROM vcard.cards WHERE card_id=$1 AND account_id=$2`, cardID, accountID)
	card, err := scanCard(row)
	if errors.Is(err, ErrCardNotFound) {
		if _, accErr := r.accountExists(ctx, accountID); accErr != nil {
			return nil, accErr
		}
	}
	return card, err
}

func (r *PGRepository) FindCardByNumber(ctx context.Context, number string) (*models.Card, error) {
	row := r.db.QueryRowContext(ctx, `SELECT record FROM vcard.cards WHERE pan_hash=$1`, cardgen.HashPANHMAC(number, r.hashKey))
	return scanCard(row)
}

func (r *PGRepository) ListCards(ctx context.Context, accountID string) ([]*models.Card, error) {
	if _, err := r.accountExists(ctx, accountID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT record FROM vcard.cards WHERE account_id=$1 ORDER BY created_at, card_id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var out []*models.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return out, nil
}

func (r *PGRepository) CommitReplacement(ctx context.Context, oldCard, newCard *models.Card, rec models.Replacement) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `set local statement_timeout = '3s'`); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if err := r.insertCard(ctx, tx, newCard); err != nil {
		return err
	}
	if err := r.updateCard(ctx, tx, oldCard); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO vcard.replacements(account_id, old_card_id, new_card_id, month, replaced_at)
        VALUES ($1,$2,$3,$4,$5)
    `, oldCard.AccountID, rec.OldCardID, rec.NewCardID, rec.Month, rec.Date); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (r *PGRepository) ListReplacements(ctx context.Context, accountID string) ([]models.Replacement, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT replaced_at, old_card_id, new_card_id, month
          FROM vcard.replacements WHERE account_id=$1 ORDER BY id
    `, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var out []models.Replacement
	for rows.Next() {
		var rec models.Replacement
		if err := rows.Scan(&rec.Date, &rec.OldCardID, &rec.NewCardID, &rec.Month); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return out, nil
}

func (r *PGRepository) IssuedNumbers(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT record->>'card_number' FROM vcard.cards`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Ping returns DB readiness
func (r *PGRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PGRepository) accountExists(ctx context.Context, accountID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM vcard.accounts WHERE account_id=$1`, accountID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrAccountNotFound
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*models.Card, error) {
	var record []byte
	if err := row.Scan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	var card models.Card
	if err := json.Unmarshal(record, &card); err != nil {
		return nil, fmt.Errorf("decoding card: %w", err)
	}
	return &card, nil
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
