// Package gate drives the per-request payment protocol on the resource
// server: free pass, challenge, verify, settle, record, execute. It is
// transport-independent; the http package adapts it to request handlers.
package gate

import (
	"context"
	"fmt"
	"log/slog"

	x402 "github.com/ismail-169/cronos-mcp"
	"github.com/ismail-169/cronos-mcp/encoding"
	"github.com/ismail-169/cronos-mcp/facilitator"
	"github.com/ismail-169/cronos-mcp/ledger"
	"github.com/ismail-169/cronos-mcp/validation"
)

// State is the terminal state of one request's payment protocol.
type State string

const (
	// StateExecuted means the operation ran: either it was free, or its
	// payment settled first.
	StateExecuted State = "executed"

	// StateChallenged means payment is required but none was attached.
	// Not a failure: the caller is expected to retry with a payment.
	StateChallenged State = "challenged"

	// StateRejected means the facilitator judged the payment invalid.
	// The operation was never executed.
	StateRejected State = "rejected"

	// StateSettlementFailed means the payment verified but did not
	// settle. Terminal for that payload; the operation was not executed.
	StateSettlementFailed State = "settlement_failed"
)

// Operation is a priced operation plus the work it gates.
type Operation struct {
	x402.Operation

	// Execute runs the underlying operation. It is invoked exactly once,
	// after and only after settlement succeeds (or immediately when the
	// operation is free). Nil Execute yields a nil result.
	Execute func(ctx context.Context) (interface{}, error)
}

// Result is the outcome of processing one request.
type Result struct {
	// State is the terminal protocol state.
	State State

	// Challenge carries the 402 body when State is StateChallenged.
	Challenge *x402.PaymentRequired

	// Verify carries the facilitator's verify outcome, when one was made.
	Verify *x402.VerifyResponse

	// Settle carries the facilitator's settle outcome, when one was made.
	Settle *x402.SettleResponse

	// Record is the ledger record written for a settled payment.
	Record *ledger.Record

	// Payment describes the settled payment for the response body.
	Payment *x402.PaymentInfo

	// Value is what Execute returned, when State is StateExecuted.
	Value interface{}
}

// Gate composes the protocol pieces for one resource server.
type Gate struct {
	// Facilitator verifies and settles payments. Required.
	Facilitator facilitator.Interface

	// Ledger records settlement outcomes. Required.
	Ledger *ledger.Ledger

	// Network selects the chain and asset payments are requested on.
	Network x402.NetworkConfig

	// PayTo is the address that receives payments.
	PayTo string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (g *Gate) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// Process runs the payment state machine for one inbound invocation of op.
// paymentHeader is the raw X-PAYMENT header value, empty when absent, and
// resource is the URI of the invoked operation.
//
// Protocol rejections (invalid payment, failed settlement) are reported in
// the Result with their reasons, not as errors; the error return is
// reserved for malformed input and infrastructure faults. Under no state
// except StateExecuted does the underlying operation run.
func (g *Gate) Process(ctx context.Context, op Operation, paymentHeader, resource string) (*Result, error) {
	logger := g.logger()

	// Free operations pass straight through. No challenge, no facilitator
	// traffic, even when a stray payment header is attached.
	if op.Free() {
		value, err := g.execute(ctx, op)
		if err != nil {
			return nil, err
		}
		return &Result{State: StateExecuted, Value: value}, nil
	}

	requirements, err := x402.BuildRequirements(op.Operation, g.Network, g.PayTo, resource)
	if err != nil {
		return nil, err
	}

	if paymentHeader == "" {
		logger.Info("payment required", "tool", op.Name, "amount", requirements.MaxAmountRequired)
		return &Result{
			State: StateChallenged,
			Challenge: &x402.PaymentRequired{
				Error:               "Payment Required",
				PaymentRequirements: requirements,
				Accepts:             []x402.PaymentRequirements{*requirements},
			},
		}, nil
	}

	// Reject malformed payments before any network call.
	payment, err := encoding.DecodePayment(paymentHeader)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidatePayload(&payment); err != nil {
		return nil, err
	}

	verify, err := g.Facilitator.Verify(ctx, paymentHeader, *requirements)
	if err != nil {
		return nil, err
	}
	if !verify.IsValid {
		logger.Warn("payment rejected", "tool", op.Name, "reason", verify.InvalidReason)
		return &Result{State: StateRejected, Verify: verify}, nil
	}

	settle, err := g.Facilitator.Settle(ctx, paymentHeader, *requirements)
	if err != nil {
		return nil, err
	}
	if !settle.Settled() {
		logger.Warn("settlement failed", "tool", op.Name, "reason", settle.Error)
		return &Result{State: StateSettlementFailed, Verify: verify, Settle: settle}, nil
	}

	rec, err := g.Ledger.Record(settle, op.Name, requirements.MaxAmountRequired)
	if err != nil {
		return nil, fmt.Errorf("recording settlement: %w", err)
	}
	logger.Info("payment settled",
		"tool", op.Name, "payer", rec.Payer, "tx", rec.TxHash, "amount", rec.Amount)

	value, err := g.execute(ctx, op)
	if err != nil {
		// The payment already settled; surface the record so the caller
		// can reconcile.
		return &Result{
			State:   StateExecuted,
			Verify:  verify,
			Settle:  settle,
			Record:  &rec,
			Payment: &x402.PaymentInfo{Amount: rec.Amount, TxHash: rec.TxHash},
		}, err
	}

	return &Result{
		State:   StateExecuted,
		Verify:  verify,
		Settle:  settle,
		Record:  &rec,
		Payment: &x402.PaymentInfo{Amount: rec.Amount, TxHash: rec.TxHash},
		Value:   value,
	}, nil
}

func (g *Gate) execute(ctx context.Context, op Operation) (interface{}, error) {
	if op.Execute == nil {
		return nil, nil
	}
	return op.Execute(ctx)
}
