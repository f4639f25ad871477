// Package ledger keeps the resource server's append-only record of
// settled payments. Records are created once, after a successful
// settlement, and never edited or removed; reads return copies so callers
// cannot mutate the store behind its lock.
package ledger

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	x402 "github.com/ismail-169/cronos-mcp"
)

// Status of a payment record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

// Record is one settled payment. Immutable after creation.
type Record struct {
	// ID is a generated unique identifier.
	ID string `json:"id"`

	// ToolName is the priced operation the payment bought.
	ToolName string `json:"toolName"`

	// Amount is the settled price in smallest units, base-10 string.
	Amount string `json:"amount"`

	// Payer is the address that paid.
	Payer string `json:"payer"`

	// TxHash is the settlement transaction hash.
	TxHash string `json:"txHash"`

	// Timestamp is when the record was written.
	Timestamp time.Time `json:"timestamp"`

	// Status is always "settled" for records created by Record.
	Status Status `json:"status"`
}

// Ledger is an in-memory append-only payment log, safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	records []Record
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Record appends a record for a successful settlement. It must only be
// called with a settled outcome; a failed or nil outcome is rejected so a
// bug upstream cannot fabricate revenue.
func (l *Ledger) Record(outcome *x402.SettleResponse, toolName, amount string) (Record, error) {
	if !outcome.Settled() {
		return Record{}, fmt.Errorf("ledger: refusing to record unsettled outcome")
	}
	if _, ok := new(big.Int).SetString(amount, 10); !ok {
		return Record{}, fmt.Errorf("ledger: %w: %q", x402.ErrInvalidAmount, amount)
	}

	rec := Record{
		ID:        uuid.NewString(),
		ToolName:  toolName,
		Amount:    amount,
		Payer:     outcome.From,
		TxHash:    outcome.TxHash,
		Timestamp: time.Now(),
		Status:    StatusSettled,
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()

	return rec, nil
}

// List returns a copy of all records in append order.
func (l *Ledger) List() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// ListByPayer returns a copy of all records for one payer address.
func (l *Ledger) ListByPayer(payer string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Record
	for _, rec := range l.records {
		if rec.Payer == payer {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// TotalRevenue sums all recorded amounts. Amounts are smallest-unit
// integers that can exceed float precision, so the sum is exact big.Int
// arithmetic throughout.
func (l *Ledger) TotalRevenue() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := new(big.Int)
	for _, rec := range l.records {
		amount, ok := new(big.Int).SetString(rec.Amount, 10)
		if !ok {
			continue
		}
		total.Add(total, amount)
	}
	return total
}
