package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	x402 "github.com/ismail-169/cronos-mcp"
	"github.com/ismail-169/cronos-mcp/ledger"
)

func newMiddlewareServer(t *testing.T, config MiddlewareConfig, handlerCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	middleware := NewPaymentMiddleware(config)
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalls.Add(1)
		if payment := GetPaymentFromContext(r.Context()); payment != nil {
			w.Header().Set("X-Payer", payment.Payer)
		}
		w.Write([]byte("protected content"))
	}))
	return httptest.NewServer(handler)
}

func TestMiddleware_ChallengesUnpaidRequests(t *testing.T) {
	var handlerCalls atomic.Int32
	server := newMiddlewareServer(t, MiddlewareConfig{
		Facilitator: &fakeFacilitator{},
		Network:     x402.CronosTestnet,
		PayTo:       "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Operation: x402.Operation{
			Name:  "premium_data",
			Price: "1000",
		},
	}, &handlerCalls)
	defer server.Close()

	resp, err := http.Get(server.URL + "/premium")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d", resp.StatusCode)
	}
	if handlerCalls.Load() != 0 {
		t.Error("Expected the protected handler to not run without payment")
	}

	var challenge x402.PaymentRequired
	if err := json.NewDecoder(resp.Body).Decode(&challenge); err != nil {
		t.Fatalf("Failed to decode challenge: %v", err)
	}
	if challenge.PaymentRequirements == nil || challenge.PaymentRequirements.MaxAmountRequired != "1000" {
		t.Errorf("Expected requirements with amount 1000, got %+v", challenge.PaymentRequirements)
	}
}

func TestMiddleware_SettlesBeforeHandler(t *testing.T) {
	led := ledger.New()
	var handlerCalls atomic.Int32
	server := newMiddlewareServer(t, MiddlewareConfig{
		Facilitator: &fakeFacilitator{},
		Ledger:      led,
		Network:     x402.CronosTestnet,
		PayTo:       "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Operation: x402.Operation{
			Name:  "premium_data",
			Price: "1000",
		},
	}, &handlerCalls)
	defer server.Close()

	// Fetch the challenge, then pay it.
	resp, err := http.Get(server.URL + "/premium")
	if err != nil {
		t.Fatalf("Challenge request failed: %v", err)
	}
	var challenge x402.PaymentRequired
	if err := json.NewDecoder(resp.Body).Decode(&challenge); err != nil {
		t.Fatalf("Failed to decode challenge: %v", err)
	}
	resp.Body.Close()

	req, _ := http.NewRequest("GET", server.URL+"/premium", nil)
	req.Header.Set("X-PAYMENT", signedHeader(t, challenge.PaymentRequirements))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Paid request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for paid request, got %d", resp.StatusCode)
	}
	if handlerCalls.Load() != 1 {
		t.Errorf("Expected handler to run once, got %d", handlerCalls.Load())
	}
	if resp.Header.Get("X-PAYMENT-RESPONSE") == "" {
		t.Error("Expected X-PAYMENT-RESPONSE header")
	}
	if payer := resp.Header.Get("X-Payer"); payer == "" {
		t.Error("Expected verified payer available to the handler")
	}
	if led.Len() != 1 {
		t.Errorf("Expected one ledger record, got %d", led.Len())
	}
}

func TestMiddleware_RejectedPaymentBlocksHandler(t *testing.T) {
	var handlerCalls atomic.Int32
	server := newMiddlewareServer(t, MiddlewareConfig{
		Facilitator: &fakeFacilitator{rejectReason: x402.InvalidReasonNonceAlreadyUsed},
		Network:     x402.CronosTestnet,
		PayTo:       "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Operation: x402.Operation{
			Name:  "premium_data",
			Price: "1000",
		},
	}, &handlerCalls)
	defer server.Close()

	requirements := &x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkCronosTestnet,
		MaxAmountRequired: "1000",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 300,
		Asset:             x402.CronosTestnet.USDCAddress,
	}

	req, _ := http.NewRequest("GET", server.URL+"/premium", nil)
	req.Header.Set("X-PAYMENT", signedHeader(t, requirements))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("Expected 402 for rejected payment, got %d", resp.StatusCode)
	}
	if handlerCalls.Load() != 0 {
		t.Error("Expected handler to not run for a rejected payment")
	}
}

func TestMiddleware_SettlementFailureBlocksHandler(t *testing.T) {
	var handlerCalls atomic.Int32
	led := ledger.New()
	server := newMiddlewareServer(t, MiddlewareConfig{
		Facilitator: &fakeFacilitator{failSettle: true},
		Ledger:      led,
		Network:     x402.CronosTestnet,
		PayTo:       "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Operation: x402.Operation{
			Name:  "premium_data",
			Price: "1000",
		},
	}, &handlerCalls)
	defer server.Close()

	requirements := &x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkCronosTestnet,
		MaxAmountRequired: "1000",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 300,
		Asset:             x402.CronosTestnet.USDCAddress,
	}

	req, _ := http.NewRequest("GET", server.URL+"/premium", nil)
	req.Header.Set("X-PAYMENT", signedHeader(t, requirements))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("Expected 402 for failed settlement, got %d", resp.StatusCode)
	}
	if handlerCalls.Load() != 0 {
		t.Error("Expected handler to never run when settlement fails")
	}
	if led.Len() != 0 {
		t.Error("Expected no ledger record for a failed settlement")
	}
}

func TestMiddleware_FreeOperationPassesThrough(t *testing.T) {
	var handlerCalls atomic.Int32
	server := newMiddlewareServer(t, MiddlewareConfig{
		Facilitator: &fakeFacilitator{},
		Network:     x402.CronosTestnet,
		PayTo:       "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Operation: x402.Operation{
			Name: "free_data",
		},
	}, &handlerCalls)
	defer server.Close()

	resp, err := http.Get(server.URL + "/free")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for free operation, got %d", resp.StatusCode)
	}
	if handlerCalls.Load() != 1 {
		t.Errorf("Expected handler to run, got %d calls", handlerCalls.Load())
	}
}
