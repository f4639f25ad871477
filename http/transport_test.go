package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	x402 "github.com/ismail-169/cronos-mcp"
	"github.com/ismail-169/cronos-mcp/budget"
	"github.com/ismail-169/cronos-mcp/encoding"
	"github.com/ismail-169/cronos-mcp/signers/evm"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestSigner(t *testing.T) *evm.Signer {
	t.Helper()
	signer, err := evm.NewSigner(x402.CronosTestnet, testKeyHex)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	return signer
}

// paidServer responds 402 until a payment is attached, then settles it.
func paidServer(t *testing.T, price string, paidRequests *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paymentHeader := r.Header.Get("X-PAYMENT")
		if paymentHeader == "" {
			requirements := x402.PaymentRequirements{
				Scheme:            x402.SchemeExact,
				Network:           x402.NetworkCronosTestnet,
				MaxAmountRequired: price,
				Resource:          "http://" + r.Host + r.RequestURI,
				PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				MaxTimeoutSeconds: 300,
				Asset:             x402.CronosTestnet.USDCAddress,
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(x402.PaymentRequired{
				Error:               "Payment Required",
				PaymentRequirements: &requirements,
				Accepts:             []x402.PaymentRequirements{requirements},
			})
			return
		}

		if paidRequests != nil {
			paidRequests.Add(1)
		}

		payment, err := encoding.DecodePayment(paymentHeader)
		if err != nil {
			t.Errorf("Server received undecodable payment: %v", err)
			http.Error(w, "bad payment", http.StatusBadRequest)
			return
		}
		if payment.Payload.Asset == "" {
			t.Error("Server received payment without asset")
		}

		settlement := x402.SettleResponse{
			Event:   x402.EventPaymentSettled,
			TxHash:  "0xsettled",
			From:    payment.Payload.From,
			To:      payment.Payload.To,
			Value:   payment.Payload.Value,
			Network: payment.Network,
		}
		encoded, err := encoding.EncodeSettlement(settlement)
		if err != nil {
			t.Errorf("Failed to encode settlement: %v", err)
		}
		w.Header().Set("X-PAYMENT-RESPONSE", encoded)
		w.Write([]byte(`{"data":"paid content"}`))
	}))
}

func TestTransport_PaysChallenge(t *testing.T) {
	server := paidServer(t, "1000", nil)
	defer server.Close()

	guard, err := budget.NewGuard("5000")
	if err != nil {
		t.Fatalf("NewGuard failed: %v", err)
	}

	client := &http.Client{Transport: &X402Transport{
		Signers: []x402.Signer{newTestSigner(t)},
		Budget:  guard,
	}}

	resp, err := client.Get(server.URL + "/tools/get_ohlcv")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after payment, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"data":"paid content"}` {
		t.Errorf("Unexpected body: %s", body)
	}

	state := guard.Snapshot()
	if state.Spent != "1000" {
		t.Errorf("Expected 1000 spent, got %s", state.Spent)
	}
	if len(state.Transactions) != 1 {
		t.Fatalf("Expected 1 transaction, got %d", len(state.Transactions))
	}
	if state.Transactions[0].TxHash != "0xsettled" {
		t.Errorf("Expected committed tx hash from settlement, got %s", state.Transactions[0].TxHash)
	}
	if state.Transactions[0].ToolName != "get_ohlcv" {
		t.Errorf("Expected tool name from path, got %s", state.Transactions[0].ToolName)
	}
}

func TestTransport_CommitsOnBodyOnlySettlement(t *testing.T) {
	// The server honors the payment but reports settlement only in the
	// success body, never in the X-PAYMENT-RESPONSE header.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-PAYMENT") == "" {
			requirements := x402.PaymentRequirements{
				Scheme:            x402.SchemeExact,
				Network:           x402.NetworkCronosTestnet,
				MaxAmountRequired: "1000",
				PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				MaxTimeoutSeconds: 300,
				Asset:             x402.CronosTestnet.USDCAddress,
			}
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(x402.PaymentRequired{
				Error:               "Payment Required",
				PaymentRequirements: &requirements,
				Accepts:             []x402.PaymentRequirements{requirements},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"pair":"CRO/USD"},"payment":{"amount":"1000","txHash":"0xbody"}}`))
	}))
	defer server.Close()

	guard, err := budget.NewGuard("5000")
	if err != nil {
		t.Fatalf("NewGuard failed: %v", err)
	}

	client := &http.Client{Transport: &X402Transport{
		Signers: []x402.Signer{newTestSigner(t)},
		Budget:  guard,
	}}

	resp, err := client.Get(server.URL + "/tools/get_ohlcv")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 after payment, got %d", resp.StatusCode)
	}

	// The response body must survive the settlement sniffing.
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"pair":"CRO/USD"`)) {
		t.Errorf("Expected intact response body, got %s", body)
	}

	state := guard.Snapshot()
	if state.Spent != "1000" {
		t.Errorf("Expected 1000 committed on a headerless success, got %s spent", state.Spent)
	}
	if len(state.Transactions) != 1 || state.Transactions[0].TxHash != "0xbody" {
		t.Errorf("Expected tx hash from the body payment field, got %+v", state.Transactions)
	}
}

func TestTransport_CommitsWhenSettledToolFails(t *testing.T) {
	// The server settles the payment, then the tool behind it fails: the
	// 500 carries the settlement header and the spend is real.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-PAYMENT") == "" {
			requirements := x402.PaymentRequirements{
				Scheme:            x402.SchemeExact,
				Network:           x402.NetworkCronosTestnet,
				MaxAmountRequired: "1000",
				PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				MaxTimeoutSeconds: 300,
				Asset:             x402.CronosTestnet.USDCAddress,
			}
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(x402.PaymentRequired{
				Error:               "Payment Required",
				PaymentRequirements: &requirements,
				Accepts:             []x402.PaymentRequirements{requirements},
			})
			return
		}

		encoded, err := encoding.EncodeSettlement(x402.SettleResponse{
			Event:   x402.EventPaymentSettled,
			TxHash:  "0xsettled",
			Network: x402.NetworkCronosTestnet,
		})
		if err != nil {
			t.Errorf("Failed to encode settlement: %v", err)
		}
		w.Header().Set("X-PAYMENT-RESPONSE", encoded)
		http.Error(w, "tool execution failed", http.StatusInternalServerError)
	}))
	defer server.Close()

	guard, err := budget.NewGuard("5000")
	if err != nil {
		t.Fatalf("NewGuard failed: %v", err)
	}

	client := &http.Client{Transport: &X402Transport{
		Signers: []x402.Signer{newTestSigner(t)},
		Budget:  guard,
	}}

	resp, err := client.Get(server.URL + "/tools/get_ohlcv")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected the 500 passed through, got %d", resp.StatusCode)
	}

	state := guard.Snapshot()
	if state.Spent != "1000" {
		t.Errorf("Expected settled payment committed despite the tool failure, got %s spent", state.Spent)
	}
	if len(state.Transactions) != 1 || state.Transactions[0].TxHash != "0xsettled" {
		t.Errorf("Expected tx hash from the settlement header, got %+v", state.Transactions)
	}
}

func TestTransport_PassesThroughUnpaidResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-PAYMENT") != "" {
			t.Error("Expected no payment for a free endpoint")
		}
		w.Write([]byte("free content"))
	}))
	defer server.Close()

	client := &http.Client{Transport: &X402Transport{
		Signers: []x402.Signer{newTestSigner(t)},
	}}

	resp, err := client.Get(server.URL + "/free")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestTransport_BudgetRefusesBeforeSigning(t *testing.T) {
	var paidRequests atomic.Int32
	server := paidServer(t, "1000", &paidRequests)
	defer server.Close()

	guard, err := budget.NewGuard("500")
	if err != nil {
		t.Fatalf("NewGuard failed: %v", err)
	}

	client := &http.Client{Transport: &X402Transport{
		Signers: []x402.Signer{newTestSigner(t)},
		Budget:  guard,
	}}

	_, err = client.Get(server.URL + "/tools/get_ohlcv")
	if !errors.Is(err, x402.ErrBudgetExceeded) {
		t.Fatalf("Expected ErrBudgetExceeded, got %v", err)
	}

	if paidRequests.Load() != 0 {
		t.Error("Expected no paid request when the budget refuses the spend")
	}
	if state := guard.Snapshot(); state.Spent != "0" {
		t.Errorf("Expected no spend recorded, got %s", state.Spent)
	}
}

func TestTransport_NoMatchingSigner(t *testing.T) {
	server := paidServer(t, "1000", nil)
	defer server.Close()

	mainnetSigner, err := evm.NewSigner(x402.CronosMainnet, testKeyHex)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	client := &http.Client{Transport: &X402Transport{
		Signers: []x402.Signer{mainnetSigner},
	}}

	_, err = client.Get(server.URL + "/tools/get_ohlcv")
	if !errors.Is(err, x402.ErrNoValidSigner) {
		t.Errorf("Expected ErrNoValidSigner for network mismatch, got %v", err)
	}
}

func TestTransport_ReleasesBudgetOnRejectedPayment(t *testing.T) {
	// The server rejects every payment: 402 on the paid attempt too.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requirements := x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           x402.NetworkCronosTestnet,
			MaxAmountRequired: "1000",
			PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			MaxTimeoutSeconds: 300,
			Asset:             x402.CronosTestnet.USDCAddress,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(x402.PaymentRequired{
			Error:               "invalid_signature",
			PaymentRequirements: &requirements,
			Accepts:             []x402.PaymentRequirements{requirements},
		})
	}))
	defer server.Close()

	guard, err := budget.NewGuard("1000")
	if err != nil {
		t.Fatalf("NewGuard failed: %v", err)
	}

	client := &http.Client{Transport: &X402Transport{
		Signers: []x402.Signer{newTestSigner(t)},
		Budget:  guard,
	}}

	resp, err := client.Get(server.URL + "/tools/get_ohlcv")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("Expected the final 402 passed through, got %d", resp.StatusCode)
	}

	state := guard.Snapshot()
	if state.Spent != "0" {
		t.Errorf("Expected rejected payment to leave spent at 0, got %s", state.Spent)
	}
	if err := guard.TryReserve("1000"); err != nil {
		t.Errorf("Expected reservation released after rejection: %v", err)
	}
}

func TestTransport_ReplaysRequestBody(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))

		if r.Header.Get("X-PAYMENT") == "" {
			requirements := x402.PaymentRequirements{
				Scheme:            x402.SchemeExact,
				Network:           x402.NetworkCronosTestnet,
				MaxAmountRequired: "100",
				PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				MaxTimeoutSeconds: 300,
				Asset:             x402.CronosTestnet.USDCAddress,
			}
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(x402.PaymentRequired{
				Error:               "Payment Required",
				PaymentRequirements: &requirements,
				Accepts:             []x402.PaymentRequirements{requirements},
			})
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := &http.Client{Transport: &X402Transport{
		Signers: []x402.Signer{newTestSigner(t)},
	}}

	req, _ := http.NewRequestWithContext(context.Background(), "POST", server.URL+"/tools/echo", bytes.NewReader([]byte(`{"pair":"CRO/USD"}`)))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if len(bodies) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(bodies))
	}
	if bodies[0] != bodies[1] || bodies[1] != `{"pair":"CRO/USD"}` {
		t.Errorf("Expected identical bodies on both attempts, got %q and %q", bodies[0], bodies[1])
	}
}
