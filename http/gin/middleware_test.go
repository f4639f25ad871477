package gin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	x402 "github.com/ismail-169/cronos-mcp"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(op x402.Operation) *gin.Engine {
	r := gin.New()
	r.Use(NewPaymentMiddleware(Config{
		FacilitatorURL: "http://facilitator.invalid",
		Network:        x402.CronosTestnet,
		PayTo:          "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Operation:      op,
	}))
	r.GET("/tools/get_ohlcv", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pair": "CRO/USD"})
	})
	return r
}

func TestMiddleware_NoPaymentReturns402(t *testing.T) {
	r := newTestRouter(x402.Operation{Name: "get_ohlcv", Price: "1000"})

	req := httptest.NewRequest("GET", "/tools/get_ohlcv", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d", rec.Code)
	}

	var challenge x402.PaymentRequired
	if err := json.NewDecoder(rec.Body).Decode(&challenge); err != nil {
		t.Fatalf("Failed to decode challenge: %v", err)
	}
	if challenge.PaymentRequirements == nil || challenge.PaymentRequirements.MaxAmountRequired != "1000" {
		t.Errorf("Expected requirements with amount 1000, got %+v", challenge.PaymentRequirements)
	}
}

func TestMiddleware_MalformedPaymentReturns400(t *testing.T) {
	r := newTestRouter(x402.Operation{Name: "get_ohlcv", Price: "1000"})

	req := httptest.NewRequest("GET", "/tools/get_ohlcv", nil)
	req.Header.Set("X-PAYMENT", "not-base64!!!")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed payment, got %d", rec.Code)
	}
}

func TestMiddleware_InvalidRequirementsReturns500(t *testing.T) {
	// An unloadable output schema is a server misconfiguration, not a
	// payment rail outage: it must surface as 500, not 503.
	r := newTestRouter(x402.Operation{
		Name:         "get_ohlcv",
		Price:        "1000",
		OutputSchema: map[string]interface{}{"type": 42},
	})

	req := httptest.NewRequest("GET", "/tools/get_ohlcv", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500 for a misconfigured operation, got %d", rec.Code)
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Error != "Payment configuration error" {
		t.Errorf("Expected configuration error message, got %q", body.Error)
	}
}

func TestMiddleware_FreeOperationPassesThrough(t *testing.T) {
	r := newTestRouter(x402.Operation{Name: "get_ohlcv"})

	req := httptest.NewRequest("GET", "/tools/get_ohlcv", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for free operation, got %d", rec.Code)
	}
}
