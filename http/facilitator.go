// Package http provides the HTTP surfaces of the payment protocol: the
// facilitator client, server-side payment middleware and tool handlers,
// and a caller-side client that answers 402 challenges automatically.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/ismail-169/cronos-mcp"
	"github.com/ismail-169/cronos-mcp/facilitator"
	"github.com/ismail-169/cronos-mcp/retry"
)

// VersionHeader is sent on every facilitator request.
const VersionHeader = "X402-Version"

// FacilitatorClient talks to an x402 facilitator over HTTPS.
//
// Transport faults (connection errors, timeouts, 5xx) are retried per the
// configured policy and surfaced as ErrFacilitatorUnavailable once the
// attempt budget is spent. Protocol rejections are never retried: a
// well-formed isValid=false or payment.failed answer propagates
// immediately with its reason.
type FacilitatorClient struct {
	// BaseURL is the facilitator endpoint (e.g. "https://facilitator.cronos.org").
	BaseURL string

	// Client is the HTTP client to use. Nil means http.DefaultClient.
	Client *http.Client

	// Timeouts bounds each individual attempt.
	Timeouts x402.TimeoutConfig

	// Retry is the transport-fault retry policy.
	Retry retry.Policy
}

// Verify that FacilitatorClient implements facilitator.Interface.
var _ facilitator.Interface = (*FacilitatorClient)(nil)

// NewFacilitatorClient creates a client with default timeouts and retry
// policy.
func NewFacilitatorClient(baseURL string) *FacilitatorClient {
	return &FacilitatorClient{
		BaseURL:  baseURL,
		Timeouts: x402.DefaultTimeouts,
		Retry:    retry.DefaultPolicy,
	}
}

func (c *FacilitatorClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

// Verify asks the facilitator to validate a payment without settling it.
func (c *FacilitatorClient) Verify(ctx context.Context, paymentHeader string, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	body, err := json.Marshal(facilitator.VerifyRequest{
		X402Version:         x402.X402Version,
		PaymentHeader:       paymentHeader,
		PaymentRequirements: requirements,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	return retry.Do(ctx, c.Retry, isTransient, func(ctx context.Context) (*x402.VerifyResponse, error) {
		respBody, err := c.post(ctx, "/verify", body, c.Timeouts.VerifyTimeout)
		if err != nil {
			return nil, err
		}

		var verify x402.VerifyResponse
		if err := json.Unmarshal(respBody, &verify); err != nil {
			return nil, fmt.Errorf("%w: verify: %v", x402.ErrProtocolDecode, err)
		}
		return &verify, nil
	})
}

// Settle asks the facilitator to execute the authorized transfer
// on-chain. A payment.failed response is returned, not retried: the
// payload is spent either way, and only a freshly signed payment can
// retry the purchase.
func (c *FacilitatorClient) Settle(ctx context.Context, paymentHeader string, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	body, err := json.Marshal(facilitator.SettleRequest{
		X402Version:         x402.X402Version,
		PaymentHeader:       paymentHeader,
		PaymentRequirements: requirements,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settle request: %w", err)
	}

	return retry.Do(ctx, c.Retry, isTransient, func(ctx context.Context) (*x402.SettleResponse, error) {
		respBody, err := c.post(ctx, "/settle", body, c.Timeouts.SettleTimeout)
		if err != nil {
			return nil, err
		}

		var settle x402.SettleResponse
		if err := json.Unmarshal(respBody, &settle); err != nil {
			return nil, fmt.Errorf("%w: settle: %v", x402.ErrProtocolDecode, err)
		}
		if settle.Event == "" {
			return nil, fmt.Errorf("%w: settle response carries no event", x402.ErrProtocolDecode)
		}
		return &settle, nil
	})
}

// Health reports best-effort facilitator liveness: any 2xx within the
// health timeout is healthy, every error is unhealthy.
func (c *FacilitatorClient) Health(ctx context.Context) bool {
	timeout := c.Timeouts.HealthTimeout
	if timeout <= 0 {
		timeout = x402.DefaultTimeouts.HealthTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthcheck", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// post performs one attempt against a facilitator endpoint and returns
// the raw response body. Each attempt is independent: its own request,
// its own timeout, no state carried from earlier attempts.
func (c *FacilitatorClient) post(ctx context.Context, path string, body []byte, timeout time.Duration) ([]byte, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(VersionHeader, "1")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", x402.ErrFacilitatorUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s returned status %d", x402.ErrFacilitatorUnavailable, path, resp.StatusCode)
	default:
		// 4xx is a protocol-level rejection of our request, not a
		// transient fault. Surface any carried reason and do not retry.
		return nil, rejectionError(path, resp.StatusCode, respBody)
	}
}

// rejectionError builds the non-retryable error for a 4xx response.
func rejectionError(path string, status int, body []byte) error {
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, key := range []string{"invalidReason", "errorReason", "error"} {
			if reason, ok := parsed[key].(string); ok && reason != "" {
				return x402.NewPaymentError(x402.ErrCodeVerificationRejected,
					fmt.Sprintf("facilitator %s returned status %d", path, status),
					x402.ErrVerificationRejected).WithReason(reason)
			}
		}
	}
	if len(body) > 0 && len(body) < 500 {
		return fmt.Errorf("%w: %s status %d: %s", x402.ErrVerificationRejected, path, status, body)
	}
	return fmt.Errorf("%w: %s status %d", x402.ErrVerificationRejected, path, status)
}

// isTransient reports whether an error should consume retry budget.
func isTransient(err error) bool {
	return errors.Is(err, x402.ErrFacilitatorUnavailable)
}
