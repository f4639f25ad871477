package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	x402 "github.com/ismail-169/cronos-mcp"
	"github.com/ismail-169/cronos-mcp/budget"
)

// Client calls paid tools on resource servers, paying 402 challenges
// automatically through an X402Transport.
type Client struct {
	httpClient *http.Client
	transport  *X402Transport
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSigner adds a payment signer to the client.
func WithSigner(signer x402.Signer) ClientOption {
	return func(c *Client) {
		c.transport.Signers = append(c.transport.Signers, signer)
	}
}

// WithBudget caps the client's total spend.
func WithBudget(guard *budget.Guard) ClientOption {
	return func(c *Client) {
		c.transport.Budget = guard
	}
}

// WithHTTPClient sets the underlying HTTP client. Its transport becomes
// the base the payment transport wraps.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.transport.Base = httpClient.Transport
		c.httpClient = httpClient
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.transport.Logger = logger
	}
}

// NewClient creates a payment-capable HTTP client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		transport: &X402Transport{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	c.httpClient.Transport = c.transport
	return c
}

// HTTPClient exposes the wrapped http.Client for requests outside the
// tool-call convention. Its transport still pays 402 challenges.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Budget returns the client's budget guard, nil when unbounded.
func (c *Client) Budget() *budget.Guard {
	return c.transport.Budget
}

// CallTool invokes POST {serverURL}/tools/{toolName} with params as the
// JSON body, paying for the call if the server demands it. The decoded
// tool response carries the result and, for paid calls, the payment
// details.
func (c *Client) CallTool(ctx context.Context, serverURL, toolName string, params interface{}) (*x402.ToolResponse, error) {
	var body io.Reader
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding tool params: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	url := strings.TrimSuffix(serverURL, "/") + "/tools/" + toolName
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tool response: %w", err)
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		// The transport already tried to pay; a 402 surviving to here
		// means the payment was rejected or could not be made.
		var challenge x402.PaymentRequired
		if err := json.Unmarshal(respBody, &challenge); err == nil && challenge.Error != "" {
			return nil, fmt.Errorf("%w: %s", x402.ErrVerificationRejected, challenge.Error)
		}
		return nil, x402.ErrVerificationRejected
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tool %s returned status %d: %s", toolName, resp.StatusCode, respBody)
	}

	var toolResp x402.ToolResponse
	if err := json.Unmarshal(respBody, &toolResp); err != nil {
		return nil, fmt.Errorf("decoding tool response: %w", err)
	}
	return &toolResp, nil
}
