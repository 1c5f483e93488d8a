package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alovak/vcard/internal/cardgen"
	"github.com/alovak/vcard/internal/pool"
	"github.com/alovak/vcard/issuer"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

// executeCommand runs the command tree with args and returns what it printed.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestIDCheck(t *testing.T) {
	out, err := executeCommand(t, "id", "check", "8948 1234 5678 2241")
	require.NoError(t, err)
	require.Contains(t, out, "**** **** **** 2241 well-formed")

	_, err = executeCommand(t, "id", "check", "4111111111111111")
	require.ErrorIs(t, err, cardgen.ErrMalformedIdentifier)
}

func TestIDGenerate(t *testing.T) {
	out, err := executeCommand(t, "id", "generate", "5")
	require.NoError(t, err)

	lines := strings.Fields(out)
	require.Len(t, lines, 5)
	for _, id := range lines {
		require.True(t, cardgen.IsWellFormed(id), id)
	}

	_, err = executeCommand(t, "id", "generate", "0")
	require.Error(t, err)
}

func TestClientCommands(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := pool.New(pool.Config{TargetSize: 20, MinSize: 5, TopUpIncrement: 10, EmergencyThreshold: 1, LowWatermark: 1, BatchSize: 5}, nil, pool.WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, p.EnsureFresh(context.Background()))
	t.Cleanup(p.Wait)

	router := chi.NewRouter()
	issuer.NewAPI(issuer.NewService(issuer.NewRepository(), p, issuer.DefaultConfig(), issuer.WithLogger(logger))).AppendRoutes(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	out, err := executeCommand(t, "--issuer", srv.URL, "account", "create")
	require.NoError(t, err)
	var acc struct {
		ID string `json:"account_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &acc))

	out, err = executeCommand(t, "--issuer", srv.URL, "card", "issue", acc.ID, "Jane Doe")
	require.NoError(t, err)
	var card struct {
		ID   string `json:"card_id"`
		Code string `json:"activation_code"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &card))
	require.Len(t, card.Code, 6)

	_, err = executeCommand(t, "--issuer", srv.URL, "card", "activate", acc.ID, card.ID, card.Code)
	require.NoError(t, err)

	_, err = executeCommand(t, "--issuer", srv.URL, "card", "fund", acc.ID, card.ID, "20")
	require.NoError(t, err)

	out, err = executeCommand(t, "--issuer", srv.URL, "card", "pay", acc.ID, card.ID, "50", "Shop", "--dry-run")
	require.NoError(t, err)
	require.Contains(t, out, `"valid": false`)

	_, err = executeCommand(t, "--issuer", srv.URL, "card", "pay", acc.ID, card.ID, "50", "Shop")
	require.ErrorContains(t, err, "insufficient_balance")

	out, err = executeCommand(t, "--issuer", srv.URL, "pool", "stats")
	require.NoError(t, err)
	require.Contains(t, out, `"issued": 1`)
}
