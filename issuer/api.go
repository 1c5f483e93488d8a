package issuer

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/alovak/vcard/internal/middleware"
	"github.com/alovak/vcard/issuer/models"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// API is a HTTP API for the issuer service
type API struct {
	issuer *Service
}

func NewAPI(issuer *Service) *API {
	return &API{
		issuer: issuer,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", a.createAccount)
		r.Route("/{accountID}", func(r chi.Router) {
			r.Get("/", a.getAccount)
			r.Get("/replacements", a.getReplacements)
			r.Route("/cards", func(r chi.Router) {
				r.Get("/", a.listCards)
				r.Post("/", a.issueCard)
				r.Route("/{cardID}", func(r chi.Router) {
					r.Get("/", a.getCard)
					r.Post("/activate", a.activateCard)
					r.Post("/activation-code", a.resendActivationCode)
					r.Post("/validate", a.validateTransaction)
					r.Get("/transactions", a.listTransactions)
					r.Post("/transactions", a.processTransaction)
					r.Post("/funds", a.loadFunds)
					r.Post("/replace", a.replaceCard)
					r.Get("/export", a.exportCard)
				})
			})
		})
	})
	r.Get("/pool", a.poolStats)
}

type issueCardRequest struct {
	CardHolder string `json:"card_holder" validate:"required,max=64"`
}

type activateCardRequest struct {
	Code   string `json:"code" validate:"required,max=16"`
	Method string `json:"method" validate:"omitempty,oneof=sms email app"`
}

type resendCodeRequest struct {
	Method string `json:"method" validate:"omitempty,oneof=sms email app"`
}

type validateRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type debitRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Merchant    string          `json:"merchant" validate:"required,max=128"`
	Description string          `json:"description" validate:"max=256"`
}

type creditRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Source string          `json:"source" validate:"max=128"`
}

type replaceCardRequest struct {
	CardHolder string `json:"card_holder" validate:"max=64"`
}

// cardResponse adds the card face line ("MM/YY NAME") to a card.
type cardResponse struct {
	*models.Card
	CardFace string `json:"card_face"`
}

func newCardResponse(card *models.Card) cardResponse {
	return cardResponse{Card: card, CardFace: formatCardFace(card.ExpirationDate, card.CardholderName)}
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	create := models.CreateAccount{}
	if !decode(w, r, &create, true) {
		return
	}

	account, err := a.issuer.CreateAccount(r.Context(), create)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := a.issuer.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func (a *API) listCards(w http.ResponseWriter, r *http.Request) {
	cards, err := a.issuer.ListCards(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]cardResponse, 0, len(cards))
	for _, c := range cards {
		out = append(out, newCardResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) issueCard(w http.ResponseWriter, r *http.Request) {
	var req issueCardRequest
	if !decode(w, r, &req, false) {
		return
	}

	card, err := a.issuer.IssueCard(r.Context(), chi.URLParam(r, "accountID"), req.CardHolder)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newCardResponse(card))
}

func (a *API) getCard(w http.ResponseWriter, r *http.Request) {
	card, err := a.issuer.GetCard(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "cardID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newCardResponse(card))
}

func (a *API) activateCard(w http.ResponseWriter, r *http.Request) {
	var req activateCardRequest
	if !decode(w, r, &req, false) {
		return
	}
	if req.Method == "" {
		req.Method = models.VerificationSMS
	}

	card, err := a.issuer.ActivateCard(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "cardID"), req.Code, req.Method)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newCardResponse(card))
}

func (a *API) resendActivationCode(w http.ResponseWriter, r *http.Request) {
	var req resendCodeRequest
	if !decode(w, r, &req, true) {
		return
	}
	if req.Method == "" {
		req.Method = models.VerificationSMS
	}

	err := a.issuer.ResendActivationCode(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "cardID"), req.Method)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent", "method": req.Method})
}

func (a *API) validateTransaction(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decode(w, r, &req, false) {
		return
	}

	err := a.issuer.ValidateTransaction(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "cardID"), req.Amount)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"valid": true, "message": "Transaction validated"})
	case statusFor(err) == http.StatusUnprocessableEntity, statusFor(err) == http.StatusBadRequest:
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error(), "code": codeFor(err)})
	default:
		writeError(w, err)
	}
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := a.issuer.ListTransactions(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "cardID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if txns == nil {
		txns = []models.Transaction{}
	}

	writeJSON(w, http.StatusOK, txns)
}

func (a *API) processTransaction(w http.ResponseWriter, r *http.Request) {
	var req debitRequest
	if !decode(w, r, &req, false) {
		return
	}

	txn, err := a.issuer.ProcessTransaction(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "cardID"), req.Amount, req.Merchant, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, txn)
}

func (a *API) loadFunds(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if !decode(w, r, &req, false) {
		return
	}

	txn, err := a.issuer.LoadFunds(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "cardID"), req.Amount, req.Source)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, txn)
}

func (a *API) replaceCard(w http.ResponseWriter, r *http.Request) {
	var req replaceCardRequest
	if !decode(w, r, &req, true) {
		return
	}

	card, err := a.issuer.ReplaceCard(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "cardID"), req.CardHolder)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newCardResponse(card))
}

func (a *API) exportCard(w http.ResponseWriter, r *http.Request) {
	export, err := a.issuer.ExportCard(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "cardID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, export)
}

func (a *API) getReplacements(w http.ResponseWriter, r *http.Request) {
	quota, history, err := a.issuer.ReplacementQuota(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []models.Replacement{}
	}

	writeJSON(w, http.StatusOK, struct {
		Quota        Quota                `json:"quota"`
		Replacements []models.Replacement `json:"replacements"`
	}{quota, history})
}

func (a *API) poolStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.issuer.PoolStats())
}

// formatCardFace returns "MM/YY NAME", or just the expiry when no name is set.
func formatCardFace(exp, name string) string {
	face := exp
	if name != "" {
		if face != "" {
			face += " "
		}
		face += name
	}
	return face
}

// decode reads a JSON body into v and validates it. Optional bodies may be
// empty. It writes the error response itself and reports whether to go on.
func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !(optional && errors.Is(err, io.EOF)) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "bad_request"})
		return false
	}
	if verrs := middleware.ValidateRequest(v); verrs != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "invalid request data",
			Code:    "validation_failed",
			Details: verrs,
		})
		return false
	}
	return true
}

type errorResponse struct {
	Error   string                       `json:"error"`
	Code    string                       `json:"code"`
	Details []middleware.ValidationError `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Code: codeFor(err)})
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
	{ErrCardNotFound, http.StatusNotFound, "card_not_found"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrAlreadyActive, http.StatusConflict, "already_active"},
	{ErrCardReplaced, http.StatusConflict, "card_replaced"},
	{ErrConflict, http.StatusConflict, "conflict"},
	{ErrInvalidHolder, http.StatusBadRequest, "invalid_holder"},
	{ErrInvalidMethod, http.StatusBadRequest, "invalid_method"},
	{ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{ErrMalformedIdentifier, http.StatusBadRequest, "malformed_identifier"},
	{ErrInvalidCode, http.StatusUnprocessableEntity, "invalid_code"},
	{ErrNotActive, http.StatusUnprocessableEntity, "not_active"},
	{ErrExpired, http.StatusUnprocessableEntity, "expired"},
	{ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{ErrDailyLimitExceeded, http.StatusUnprocessableEntity, "daily_limit_exceeded"},
	{ErrMonthlyLimitExceeded, http.StatusUnprocessableEntity, "monthly_limit_exceeded"},
	{ErrQuotaExceeded, http.StatusTooManyRequests, "quota_exceeded"},
	{ErrPoolExhausted, http.StatusServiceUnavailable, "pool_exhausted"},
	{ErrPersistence, http.StatusInternalServerError, "persistence_failure"},
}

func statusFor(err error) int {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func codeFor(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "internal"
}
