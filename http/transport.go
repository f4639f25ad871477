package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	x402 "github.com/ismail-169/cronos-mcp"
	"github.com/ismail-169/cronos-mcp/budget"
	"github.com/ismail-169/cronos-mcp/http/internal/helpers"
)

// X402Transport is a RoundTripper that answers 402 Payment Required
// responses automatically. It wraps an existing http.RoundTripper, and on
// a 402 it reserves budget, signs a payment against the challenge, and
// retries the request with the X-PAYMENT header attached.
type X402Transport struct {
	// Base is the underlying RoundTripper (typically http.DefaultTransport).
	Base http.RoundTripper

	// Signers is the list of available payment signers. The first signer
	// that can serve the challenge is used.
	Signers []x402.Signer

	// Budget caps total spend across the transport's lifetime. Nil means
	// unlimited.
	Budget *budget.Guard

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (t *X402Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *X402Transport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// RoundTrip implements http.RoundTripper. It makes the initial request,
// and if a 402 Payment Required response is received it signs a payment
// and retries the request once. The budget is reserved before the key
// ever signs: a request that would overspend is refused without
// producing a signed authorization.
func (t *X402Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Buffer the body so the request can be replayed after a challenge.
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
	}

	resp, err := t.base().RoundTrip(cloneRequest(req, body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	challenge, err := helpers.ParsePaymentRequirements(resp)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	requirements := helpers.Requirements(challenge)

	signer, err := t.selectSigner(requirements)
	if err != nil {
		return nil, err
	}

	amount := requirements.MaxAmountRequired

	// Claim budget before signing. A signed authorization is live value:
	// it must never exist for a spend the budget would refuse.
	if t.Budget != nil {
		if err := t.Budget.TryReserve(amount); err != nil {
			return nil, err
		}
	}

	respRetry, err := t.payAndRetry(req, body, signer, requirements)
	if err != nil {
		t.releaseBudget(amount)
		return nil, err
	}

	settlement := helpers.ParseSettlement(respRetry.Header.Get("X-PAYMENT-RESPONSE"))
	switch {
	case settlement.Settled():
		// The settlement header is authoritative: money moved even if the
		// operation behind it then failed.
		t.commitBudget(req, amount, settlement.TxHash)
		t.logger().Info("payment settled",
			"url", req.URL.String(), "amount", amount, "tx", settlement.TxHash)
	case respRetry.StatusCode >= 200 && respRetry.StatusCode < 300:
		// Some servers report settlement only in the success body. A 2xx on
		// the paid attempt means the server accepted the payment, so the
		// spend is committed either way.
		txHash := settlementTxHashFromBody(respRetry)
		t.commitBudget(req, amount, txHash)
		t.logger().Info("payment settled",
			"url", req.URL.String(), "amount", amount, "tx", txHash)
	default:
		t.releaseBudget(amount)
		t.logger().Warn("payment did not settle",
			"url", req.URL.String(), "status", respRetry.StatusCode)
	}

	return respRetry, nil
}

func (t *X402Transport) selectSigner(requirements *x402.PaymentRequirements) (x402.Signer, error) {
	if requirements == nil {
		return nil, fmt.Errorf("%w: challenge carries no requirements", x402.ErrInvalidRequirements)
	}
	for _, signer := range t.Signers {
		if signer.CanSign(requirements) {
			return signer, nil
		}
	}
	return nil, fmt.Errorf("%w: scheme %q network %q",
		x402.ErrNoValidSigner, requirements.Scheme, requirements.Network)
}

func (t *X402Transport) payAndRetry(req *http.Request, body []byte, signer x402.Signer, requirements *x402.PaymentRequirements) (*http.Response, error) {
	payment, err := signer.Sign(requirements)
	if err != nil {
		return nil, err
	}
	paymentHeader, err := helpers.BuildPaymentHeader(payment)
	if err != nil {
		return nil, err
	}

	reqRetry := cloneRequest(req, body)
	reqRetry.Header.Set("X-PAYMENT", paymentHeader)

	return t.base().RoundTrip(reqRetry)
}

func (t *X402Transport) commitBudget(req *http.Request, amount, txHash string) {
	if t.Budget == nil {
		return
	}
	err := t.Budget.Commit(budget.Transaction{
		ToolName:  toolNameFromPath(req.URL.Path),
		ServerURL: req.URL.Scheme + "://" + req.URL.Host,
		Amount:    amount,
		TxHash:    txHash,
	})
	if err != nil {
		t.logger().Error("failed to commit budget", "error", err)
	}
}

// settlementTxHashFromBody pulls the transaction hash from a success
// body's payment field, restoring the body for the caller. Returns ""
// when the body carries no payment details.
func settlementTxHashFromBody(resp *http.Response) string {
	if resp.Body == nil {
		return ""
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var parsed struct {
		Payment *x402.PaymentInfo `json:"payment"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Payment != nil {
		return parsed.Payment.TxHash
	}
	return ""
}

func (t *X402Transport) releaseBudget(amount string) {
	if t.Budget != nil {
		t.Budget.Release(amount)
	}
}

func cloneRequest(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
	}
	return clone
}

func toolNameFromPath(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
