package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := NewStructuredLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/pool", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusTeapot, w.Code)
	require.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
	line := buf.String()
	require.Contains(t, line, `"request_id":"req-1"`)
	require.Contains(t, line, `"status":418`)
	require.Contains(t, line, `"path":"/pool"`)
}

func TestStructuredLogger_GeneratesRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := NewStructuredLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestValidateRequest(t *testing.T) {
	type req struct {
		Holder string `json:"card_holder" validate:"required,max=8"`
		Method string `json:"method" validate:"omitempty,oneof=sms email app"`
	}

	require.Nil(t, ValidateRequest(req{Holder: "JANE"}))

	errs := ValidateRequest(req{Method: "fax"})
	require.Len(t, errs, 2)
	require.Equal(t, "Holder", errs[0].Field)
	require.Equal(t, "required", errs[0].Type)
	require.Equal(t, "oneof", errs[1].Type)
	require.True(t, strings.Contains(errs[1].Message, "sms email app"))
}
