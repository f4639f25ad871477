package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	x402 "github.com/ismail-169/cronos-mcp"
	"github.com/ismail-169/cronos-mcp/gate"
	"github.com/ismail-169/cronos-mcp/http/internal/helpers"
)

// ToolFunc executes a tool invocation. params is the raw JSON request
// body, empty for bodyless requests.
type ToolFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Tool is a priced operation plus the function that serves it.
type Tool struct {
	x402.Operation

	// Handler runs the tool. Invoked only after payment settles, or
	// immediately when the tool is free.
	Handler ToolFunc
}

// ToolHandler serves tool invocations at POST /tools/{name}, gating each
// call behind its payment.
type ToolHandler struct {
	gate   *gate.Gate
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolHandler creates a handler dispatching to registered tools
// through the given gate.
func NewToolHandler(g *gate.Gate, logger *slog.Logger) *ToolHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolHandler{
		gate:   g,
		logger: logger,
		tools:  make(map[string]Tool),
	}
}

// Register adds or replaces a tool by name.
func (h *ToolHandler) Register(tool Tool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[tool.Name] = tool
}

// Operations lists the registered operations, for discovery endpoints.
func (h *ToolHandler) Operations() []x402.Operation {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ops := make([]x402.Operation, 0, len(h.tools))
	for _, tool := range h.tools {
		ops = append(ops, tool.Operation)
	}
	return ops
}

func (h *ToolHandler) lookup(name string) (Tool, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	tool, ok := h.tools[name]
	return tool, ok
}

// ServeHTTP handles POST /tools/{name}. It works both mounted on a Go
// 1.22+ pattern ("POST /tools/{name}") and as a bare prefix handler.
func (h *ToolHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.PathValue("name")
	if name == "" {
		name = strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/tools/"), "/")
	}
	tool, ok := h.lookup(name)
	if !ok {
		http.Error(w, "unknown tool", http.StatusNotFound)
		return
	}

	params, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	op := gate.Operation{
		Operation: tool.Operation,
		Execute: func(ctx context.Context) (interface{}, error) {
			if tool.Handler == nil {
				return nil, nil
			}
			return tool.Handler(ctx, params)
		},
	}

	result, err := h.gate.Process(r.Context(), op, r.Header.Get("X-PAYMENT"), helpers.BuildResourceURL(r))
	if err != nil {
		if result != nil && result.State == gate.StateExecuted {
			h.writeExecutionFailure(w, result, err)
			return
		}
		WriteProtocolError(w, h.logger, err)
		return
	}

	switch result.State {
	case gate.StateChallenged:
		if err := helpers.SendPaymentRequired(w, result.Challenge); err != nil {
			h.logger.Error("failed to send payment required response", "error", err)
		}

	case gate.StateRejected:
		challenge := &x402.PaymentRequired{Error: result.Verify.InvalidReason}
		if err := helpers.SendPaymentRequired(w, challenge); err != nil {
			h.logger.Error("failed to send payment required response", "error", err)
		}

	case gate.StateSettlementFailed:
		challenge := &x402.PaymentRequired{Error: result.Settle.Error}
		if err := helpers.SendPaymentRequired(w, challenge); err != nil {
			h.logger.Error("failed to send payment required response", "error", err)
		}

	case gate.StateExecuted:
		if result.Settle != nil {
			if err := helpers.AddPaymentResponseHeader(w, result.Settle); err != nil {
				h.logger.Warn("failed to add payment response header", "error", err)
			}
		}
		h.writeResult(w, result)
	}
}

// writeExecutionFailure reports a tool failure that happened after the
// payment settled. The settlement stands: the response carries the
// settlement header and payment details so the caller can reconcile, and
// the status is a tool-level 500 rather than a payment-rail 503.
func (h *ToolHandler) writeExecutionFailure(w http.ResponseWriter, result *gate.Result, err error) {
	if result.Settle != nil {
		if headerErr := helpers.AddPaymentResponseHeader(w, result.Settle); headerErr != nil {
			h.logger.Warn("failed to add payment response header", "error", headerErr)
		}
	}
	h.logger.Error("tool execution failed after settlement", "error", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	if encErr := json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   "tool execution failed",
		"payment": result.Payment,
	}); encErr != nil {
		h.logger.Error("failed to encode tool response", "error", encErr)
	}
}

func (h *ToolHandler) writeResult(w http.ResponseWriter, result *gate.Result) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(x402.ToolResponse{
		Result:  result.Value,
		Payment: result.Payment,
	}); err != nil {
		h.logger.Error("failed to encode tool response", "error", err)
	}
}
