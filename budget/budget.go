// Package budget enforces a caller-side spending ceiling across a
// session of paid calls.
//
// A Guard is safe for concurrent use by multiple request handlers. The
// classic check-then-act pair (CanSpend followed by a later record) can
// overspend under concurrency, so the Guard's primary operation is the
// atomic TryReserve: check and reserve under one lock, then Commit the
// reservation once the payment settles or Release it when it does not.
package budget

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	x402 "github.com/ismail-169/cronos-mcp"
)

// Transaction records one committed spend.
type Transaction struct {
	// ToolName is the priced operation that was paid for.
	ToolName string `json:"toolName"`

	// ServerURL is the resource server that was paid.
	ServerURL string `json:"serverUrl"`

	// Amount is the spend in smallest units, base-10 string.
	Amount string `json:"amount"`

	// TxHash is the settlement transaction hash.
	TxHash string `json:"txHash"`

	// Timestamp is when the spend was committed.
	Timestamp time.Time `json:"timestamp"`
}

// State is a point-in-time snapshot of a Guard. Remaining is always
// total minus spent; it is computed, never stored.
type State struct {
	Total        string        `json:"total"`
	Spent        string        `json:"spent"`
	Remaining    string        `json:"remaining"`
	Transactions []Transaction `json:"transactions"`
}

// Guard tracks a spending ceiling and the spends committed against it.
type Guard struct {
	mu       sync.Mutex
	total    *big.Int
	spent    *big.Int
	reserved *big.Int
	txns     []Transaction
}

// NewGuard creates a guard with the given ceiling in smallest units.
func NewGuard(total string) (*Guard, error) {
	ceiling, err := parseAmount(total)
	if err != nil {
		return nil, err
	}
	return &Guard{
		total:    ceiling,
		spent:    new(big.Int),
		reserved: new(big.Int),
	}, nil
}

func parseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", x402.ErrInvalidAmount, s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount %q", x402.ErrInvalidAmount, s)
	}
	return amount, nil
}

// CanSpend reports whether amount fits within the remaining budget. This
// is an advisory read only: a concurrent caller may consume the headroom
// between CanSpend and a later reservation. Use TryReserve to actually
// claim budget.
func (g *Guard) CanSpend(amount string) bool {
	value, err := parseAmount(amount)
	if err != nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fits(value)
}

// fits must be called with mu held.
func (g *Guard) fits(value *big.Int) bool {
	used := new(big.Int).Add(g.spent, g.reserved)
	used.Add(used, value)
	return used.Cmp(g.total) <= 0
}

// TryReserve atomically checks the budget and claims amount from it.
// Returns ErrBudgetExceeded when the amount does not fit and
// ErrInvalidAmount for malformed amounts. A successful reservation must
// be completed with Commit or undone with Release.
func (g *Guard) TryReserve(amount string) error {
	value, err := parseAmount(amount)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.fits(value) {
		return fmt.Errorf("%w: spend %s with %s already used of %s",
			x402.ErrBudgetExceeded, value, new(big.Int).Add(g.spent, g.reserved), g.total)
	}

	g.reserved.Add(g.reserved, value)
	return nil
}

// Commit converts a prior reservation into a recorded spend, appending
// the transaction and increasing spent by its amount. Spent grows
// monotonically; it only resets with the session (Reset).
func (g *Guard) Commit(tx Transaction) error {
	value, err := parseAmount(tx.Amount)
	if err != nil {
		return err
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.reserved.Sub(g.reserved, value)
	if g.reserved.Sign() < 0 {
		g.reserved.SetInt64(0)
	}
	g.spent.Add(g.spent, value)
	g.txns = append(g.txns, tx)
	return nil
}

// Release undoes a reservation whose payment did not complete.
func (g *Guard) Release(amount string) {
	value, err := parseAmount(amount)
	if err != nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.reserved.Sub(g.reserved, value)
	if g.reserved.Sign() < 0 {
		g.reserved.SetInt64(0)
	}
}

// Reset clears spent, reservations, and transaction history. This marks a
// new session boundary and is caller-initiated only.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.spent.SetInt64(0)
	g.reserved.SetInt64(0)
	g.txns = nil
}

// Snapshot returns a copy of the guard's state. The transaction slice is
// copied; mutating it cannot affect the guard.
func (g *Guard) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	txns := make([]Transaction, len(g.txns))
	copy(txns, g.txns)

	remaining := new(big.Int).Sub(g.total, g.spent)
	return State{
		Total:        g.total.String(),
		Spent:        g.spent.String(),
		Remaining:    remaining.String(),
		Transactions: txns,
	}
}
