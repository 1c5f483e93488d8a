// Package network adapts ISO 8583 (1987) authorization messages to the
// issuer's debit flow.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/alovak/vcard/issuer/models"
	"github.com/moov-io/iso8583"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
)

const (
	MTIAuthorizationRequest  = "0100"
	MTIAuthorizationResponse = "0110"

	processingCodePurchase = "000000"
	maxMessageSize         = 8 << 10
)

// Authorizer debits a card identified by its number.
type Authorizer interface {
	AuthorizeByNumber(ctx context.Context, req models.AuthorizationRequest) (models.AuthorizationResponse, error)
}

// Request is an authorization request in domain terms.
type Request struct {
	CardNumber string
	ExpiryYYMM string
	Amount     decimal.Decimal
	STAN       string
	Merchant   string
}

// Response is a decoded 0110.
type Response struct {
	ApprovalCode      models.ApprovalCode
	AuthorizationCode string
	STAN              string
}

// PackRequest builds a packed 0100 message.
func PackRequest(req Request) ([]byte, error) {
	msg := iso8583.NewMessage(iso8583.Spec87)
	msg.MTI(MTIAuthorizationRequest)

	fields := map[int]string{
		2:  req.CardNumber,
		3:  processingCodePurchase,
		4:  fmt.Sprintf("%012d", req.Amount.Shift(2).Round(0).IntPart()),
		11: leftPad(req.STAN, 6),
		43: fmt.Sprintf("%-40.40s", req.Merchant),
	}
	if req.ExpiryYYMM != "" {
		fields[14] = req.ExpiryYYMM
	}
	for id, val := range fields {
		if err := msg.Field(id, val); err != nil {
			return nil, fmt.Errorf("setting field %d: %w", id, err)
		}
	}

	packed, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("packing message: %w", err)
	}
	return packed, nil
}

// UnpackResponse decodes a packed 0110 message.
func UnpackResponse(packed []byte) (Response, error) {
	msg := iso8583.NewMessage(iso8583.Spec87)
	if err := msg.Unpack(packed); err != nil {
		return Response{}, fmt.Errorf("unpacking message: %w", err)
	}
	mti, err := msg.GetMTI()
	if err != nil {
		return Response{}, fmt.Errorf("reading mti: %w", err)
	}
	if mti != MTIAuthorizationResponse {
		return Response{}, fmt.Errorf("unexpected mti %s", mti)
	}

	code, err := msg.GetString(39)
	if err != nil {
		return Response{}, fmt.Errorf("reading field 39: %w", err)
	}
	resp := Response{ApprovalCode: models.ApprovalCode(code)}
	resp.AuthorizationCode, _ = msg.GetString(38)
	if stan, err := msg.GetString(11); err == nil {
		resp.STAN = leftPad(stan, 6)
	}
	return resp, nil
}

// Handler serves 0100 requests posted as raw packed bytes and answers
// with a packed 0110.
type Handler struct {
	auth   Authorizer
	logger *slog.Logger
}

func NewHandler(auth Authorizer, logger *slog.Logger) *Handler {
	return &Handler{auth: auth, logger: logger.With(slog.String("component", "network"))}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.Authorize(r.Context(), body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(resp)
}

// Authorize handles one packed 0100 and returns the packed 0110. An error
// is returned only when the input cannot be decoded at all.
func (h *Handler) Authorize(ctx context.Context, packed []byte) ([]byte, error) {
	msg := iso8583.NewMessage(iso8583.Spec87)
	if err := msg.Unpack(packed); err != nil {
		return nil, fmt.Errorf("unpacking message: %w", err)
	}

	stan, _ := msg.GetString(11)
	reply := func(code models.ApprovalCode, authCode string) ([]byte, error) {
		return packResponse(msg, code, authCode)
	}

	mti, err := msg.GetMTI()
	if err != nil || mti != MTIAuthorizationRequest {
		h.logger.Info("unsupported message", slog.String("mti", mti))
		return reply(models.ApprovalCodeFormatError, "")
	}

	req, err := requestFromMessage(msg)
	if err != nil {
		h.logger.Info("malformed authorization request", slog.String("stan", stan), "err", err)
		return reply(models.ApprovalCodeFormatError, "")
	}

	res, err := h.auth.AuthorizeByNumber(ctx, req)
	if err != nil {
		h.logger.Error("authorizing", slog.String("stan", req.STAN), "err", err)
		return reply(models.ApprovalCodeSystemError, "")
	}
	return reply(res.ApprovalCode, res.AuthorizationCode)
}

func requestFromMessage(msg *iso8583.Message) (models.AuthorizationRequest, error) {
	pan, err := msg.GetString(2)
	if err != nil || pan == "" {
		return models.AuthorizationRequest{}, errors.New("field 2 is required")
	}
	rawAmount, err := msg.GetString(4)
	if err != nil || rawAmount == "" {
		return models.AuthorizationRequest{}, errors.New("field 4 is required")
	}
	minor, err := strconv.ParseInt(strings.TrimSpace(rawAmount), 10, 64)
	if err != nil {
		return models.AuthorizationRequest{}, fmt.Errorf("field 4: %w", err)
	}

	req := models.AuthorizationRequest{
		CardNumber: pan,
		Amount:     decimal.New(minor, -2),
	}
	if stan, err := msg.GetString(11); err == nil {
		req.STAN = leftPad(stan, 6)
	}
	if exp, err := msg.GetString(14); err == nil && exp != "" {
		req.ExpiryYYMM = leftPad(exp, 4)
	}
	if merchant, err := msg.GetString(43); err == nil {
		req.Merchant = strings.TrimSpace(merchant)
	}
	if req.Merchant == "" {
		req.Merchant = "Card network merchant"
	}
	return req, nil
}

func packResponse(in *iso8583.Message, code models.ApprovalCode, authCode string) ([]byte, error) {
	out := iso8583.NewMessage(iso8583.Spec87)
	out.MTI(MTIAuthorizationResponse)

	// echo the identifying fields of the request; numeric fields come back
	// without their leading zeros
	for _, f := range []struct{ id, width int }{{2, 0}, {3, 6}, {4, 12}, {11, 6}} {
		if v, err := in.GetString(f.id); err == nil && v != "" {
			if err := out.Field(f.id, leftPad(v, f.width)); err != nil {
				return nil, fmt.Errorf("setting field %d: %w", f.id, err)
			}
		}
	}
	if authCode != "" {
		if err := out.Field(38, authCode); err != nil {
			return nil, fmt.Errorf("setting field 38: %w", err)
		}
	}
	if err := out.Field(39, string(code)); err != nil {
		return nil, fmt.Errorf("setting field 39: %w", err)
	}

	packed, err := out.Pack()
	if err != nil {
		return nil, fmt.Errorf("packing response: %w", err)
	}
	return packed, nil
}

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}
