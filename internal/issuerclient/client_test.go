package issuerclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alovak/vcard/internal/pool"
	"github.com/alovak/vcard/issuer"
	"github.com/alovak/vcard/issuer/models"
	"github.com/alovak/vcard/issuer/network"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func newTestIssuer(t *testing.T) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p, err := pool.New(pool.Config{
		TargetSize:         50,
		MinSize:            10,
		TopUpIncrement:     20,
		EmergencyThreshold: 1,
		LowWatermark:       1,
		BatchSize:          10,
	}, nil, pool.WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, p.EnsureFresh(context.Background()))
	t.Cleanup(p.Wait)

	svc := issuer.NewService(issuer.NewRepository(), p, issuer.DefaultConfig(), issuer.WithLogger(logger))
	router := chi.NewRouter()
	issuer.NewAPI(svc).AppendRoutes(router)
	router.Method(http.MethodPost, "/network/authorizations", network.NewHandler(svc, logger))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", nil)
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	c := newTestIssuer(t)

	acc, err := c.CreateAccount(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, acc.ID)

	card, err := c.IssueCard(ctx, acc.ID, "Jane Doe")
	require.NoError(t, err)
	require.Equal(t, "JANE DOE", card.CardholderName)
	require.NotEmpty(t, card.CardFace)

	_, err = c.Activate(ctx, acc.ID, card.ID, card.ActivationCode, models.VerificationApp)
	require.NoError(t, err)

	_, err = c.LoadFunds(ctx, acc.ID, card.ID, decimal.NewFromInt(60), "")
	require.NoError(t, err)

	txn, err := c.Pay(ctx, acc.ID, card.ID, decimal.RequireFromString("12.5"), "Cinema", "")
	require.NoError(t, err)
	require.Equal(t, "47.50", txn.Balance.StringFixed(2))

	v, err := c.Validate(ctx, acc.ID, card.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.False(t, v.Valid)
	require.Equal(t, "insufficient_balance", v.Code)

	resp, err := c.Authorize(ctx, network.Request{
		CardNumber: card.Number,
		Amount:     decimal.RequireFromString("7.50"),
		STAN:       "123",
		Merchant:   "Kiosk",
	})
	require.NoError(t, err)
	require.Equal(t, models.ApprovalCodeApproved, resp.ApprovalCode)
	require.Equal(t, "000123", resp.STAN)

	txns, err := c.Transactions(ctx, acc.ID, card.ID)
	require.NoError(t, err)
	require.Len(t, txns, 3)

	next, err := c.Replace(ctx, acc.ID, card.ID, "")
	require.NoError(t, err)
	require.NotEqual(t, card.Number, next.Number)

	reps, err := c.Replacements(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, 1, reps.Quota.Used)
	require.Len(t, reps.Replacements, 1)

	cards, err := c.ListCards(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, cards, 2)

	export, err := c.Export(ctx, acc.ID, card.ID)
	require.NoError(t, err)
	require.Equal(t, acc.Address, export.WalletAddress)

	summary, err := c.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Cards)

	stats, err := c.PoolStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Issued)
}

func TestClient_APIError(t *testing.T) {
	ctx := context.Background()
	c := newTestIssuer(t)

	_, err := c.GetCard(ctx, "missing", "vc_missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, "account_not_found", apiErr.Code)

	acc, err := c.CreateAccount(ctx, "")
	require.NoError(t, err)
	card, err := c.IssueCard(ctx, acc.ID, "Jane")
	require.NoError(t, err)

	err = c.ResendCode(ctx, acc.ID, card.ID, "fax")
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.Equal(t, "validation_failed", apiErr.Code)

	require.NoError(t, c.ResendCode(ctx, acc.ID, card.ID, models.VerificationEmail))
}
