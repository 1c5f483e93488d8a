// Package issuerclient talks to a running issuer over HTTP.
package issuerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alovak/vcard/internal/pool"
	"github.com/alovak/vcard/issuer/models"
	"github.com/alovak/vcard/issuer/network"
	"github.com/shopspring/decimal"
)

type Client struct {
	Base string
	HTTP *http.Client
}

func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{Base: strings.TrimRight(base, "/"), HTTP: hc}
}

// APIError is a non-2xx answer from the issuer.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("issuer status=%d body=%s", e.Status, e.Message)
	}
	return fmt.Sprintf("issuer status=%d code=%s: %s", e.Status, e.Code, e.Message)
}

// Card is a card as returned by the issuer, with its face line.
type Card struct {
	models.Card
	CardFace string `json:"card_face"`
}

type Quota struct {
	Month     string    `json:"month"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

type Replacements struct {
	Quota        Quota                `json:"quota"`
	Replacements []models.Replacement `json:"replacements"`
}

// Validation is the answer of the validate endpoint; declines are not errors.
type Validation struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (c *Client) CreateAccount(ctx context.Context, address string) (*models.Account, error) {
	var out models.Account
	err := c.do(ctx, http.MethodPost, "/accounts", models.CreateAccount{Address: address}, &out)
	return &out, err
}

func (c *Client) GetAccount(ctx context.Context, accountID string) (*models.AccountSummary, error) {
	var out models.AccountSummary
	err := c.do(ctx, http.MethodGet, accountPath(accountID), nil, &out)
	return &out, err
}

func (c *Client) IssueCard(ctx context.Context, accountID, holder string) (*Card, error) {
	var out Card
	err := c.do(ctx, http.MethodPost, accountPath(accountID)+"/cards", map[string]string{"card_holder": holder}, &out)
	return &out, err
}

func (c *Client) ListCards(ctx context.Context, accountID string) ([]Card, error) {
	var out []Card
	err := c.do(ctx, http.MethodGet, accountPath(accountID)+"/cards", nil, &out)
	return out, err
}

func (c *Client) GetCard(ctx context.Context, accountID, cardID string) (*Card, error) {
	var out Card
	err := c.do(ctx, http.MethodGet, cardPath(accountID, cardID), nil, &out)
	return &out, err
}

func (c *Client) Activate(ctx context.Context, accountID, cardID, code, method string) (*Card, error) {
	var out Card
	err := c.do(ctx, http.MethodPost, cardPath(accountID, cardID)+"/activate", map[string]string{"code": code, "method": method}, &out)
	return &out, err
}

func (c *Client) ResendCode(ctx context.Context, accountID, cardID, method string) error {
	return c.do(ctx, http.MethodPost, cardPath(accountID, cardID)+"/activation-code", map[string]string{"method": method}, nil)
}

func (c *Client) Validate(ctx context.Context, accountID, cardID string, amount decimal.Decimal) (*Validation, error) {
	var out Validation
	err := c.do(ctx, http.MethodPost, cardPath(accountID, cardID)+"/validate", map[string]any{"amount": amount}, &out)
	return &out, err
}

func (c *Client) LoadFunds(ctx context.Context, accountID, cardID string, amount decimal.Decimal, source string) (*models.Transaction, error) {
	var out models.Transaction
	err := c.do(ctx, http.MethodPost, cardPath(accountID, cardID)+"/funds", map[string]any{"amount": amount, "source": source}, &out)
	return &out, err
}

func (c *Client) Pay(ctx context.Context, accountID, cardID string, amount decimal.Decimal, merchant, description string) (*models.Transaction, error) {
	var out models.Transaction
	body := map[string]any{"amount": amount, "merchant": merchant, "description": description}
	err := c.do(ctx, http.MethodPost, cardPath(accountID, cardID)+"/transactions", body, &out)
	return &out, err
}

func (c *Client) Transactions(ctx context.Context, accountID, cardID string) ([]models.Transaction, error) {
	var out []models.Transaction
	err := c.do(ctx, http.MethodGet, cardPath(accountID, cardID)+"/transactions", nil, &out)
	return out, err
}

func (c *Client) Replace(ctx context.Context, accountID, cardID, holder string) (*Card, error) {
	var out Card
	err := c.do(ctx, http.MethodPost, cardPath(accountID, cardID)+"/replace", map[string]string{"card_holder": holder}, &out)
	return &out, err
}

func (c *Client) Replacements(ctx context.Context, accountID string) (*Replacements, error) {
	var out Replacements
	err := c.do(ctx, http.MethodGet, accountPath(accountID)+"/replacements", nil, &out)
	return &out, err
}

func (c *Client) Export(ctx context.Context, accountID, cardID string) (*models.CardExport, error) {
	var out models.CardExport
	err := c.do(ctx, http.MethodGet, cardPath(accountID, cardID)+"/export", nil, &out)
	return &out, err
}

func (c *Client) PoolStats(ctx context.Context) (*pool.Stats, error) {
	var out pool.Stats
	err := c.do(ctx, http.MethodGet, "/pool", nil, &out)
	return &out, err
}

// Authorize sends a packed 0100 to the network endpoint and decodes the 0110.
func (c *Client) Authorize(ctx context.Context, req network.Request) (network.Response, error) {
	packed, err := network.PackRequest(req)
	if err != nil {
		return network.Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+"/network/authorizations", bytes.NewReader(packed))
	if err != nil {
		return network.Response{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return network.Response{}, fmt.Errorf("authorize: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return network.Response{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return network.Response{}, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return network.UnpackResponse(body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func accountPath(accountID string) string {
	return "/accounts/" + url.PathEscape(accountID)
}

func cardPath(accountID, cardID string) string {
	return accountPath(accountID) + "/cards/" + url.PathEscape(cardID)
}
