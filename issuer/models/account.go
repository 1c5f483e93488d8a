package models

import (
	"time"
)

// Account is the owner of virtual cards and of the replacement history.
// Its JSON form is the per-account document of the file store.
type Account struct {
	ID           string           `json:"account_id"`
	Address      string           `json:"address"`
	CreatedAt    time.Time        `json:"created_at"`
	Cards        map[string]*Card `json:"virtual_cards"`
	Replacements []Replacement    `json:"card_replacements"`
}

func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.Cards = make(map[string]*Card, len(a.Cards))
	for id, c := range a.Cards {
		out.Cards[id] = c.Clone()
	}
	out.Replacements = append([]Replacement(nil), a.Replacements...)
	return &out
}

type CreateAccount struct {
	// Address is optional; a wallet address is derived when empty.
	Address string `json:"address" validate:"omitempty,startswith=TOR,len=43"`
}

// AccountSummary is the API view of an account.
type AccountSummary struct {
	ID                    string    `json:"account_id"`
	Address               string    `json:"address"`
	CreatedAt             time.Time `json:"created_at"`
	Cards                 int       `json:"cards"`
	ReplacementsThisMonth int       `json:"replacements_this_month"`
	ReplacementsRemaining int       `json:"replacements_remaining"`
}

// CardExport is the bundle handed to the user when exporting a card.
type CardExport struct {
	CardID        string    `json:"card_id"`
	CardData      *Card     `json:"card_data"`
	WalletAddress string    `json:"wallet_address"`
	ExportedAt    time.Time `json:"exported_at"`
}
