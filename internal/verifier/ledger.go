package verifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/ccoin/shieldpool/pkg/address"
)

// Ledger moves native value between ledger accounts. The real system's
// ledger provides atomic, ordered transfers as a platform guarantee (§5);
// this interface is the narrow seam the verifier needs from it, not a
// reimplementation of it.
type Ledger interface {
	Transfer(ctx context.Context, from, to address.Address, amount uint64) error
	Balance(ctx context.Context, account address.Address) (uint64, error)
}

// InMemoryLedger is a minimal Ledger for tests and local development: plain
// balances guarded by a mutex. It is a stand-in for the ledger this system
// treats as an external dependency, not a production transfer engine.
type InMemoryLedger struct {
	mu       sync.Mutex
	balances map[address.Address]uint64
}

// NewInMemoryLedger seeds balances from the given map (copied).
func NewInMemoryLedger(initial map[address.Address]uint64) *InMemoryLedger {
	l := &InMemoryLedger{balances: make(map[address.Address]uint64, len(initial))}
	for k, v := range initial {
		l.balances[k] = v
	}
	return l
}

func (l *InMemoryLedger) Transfer(_ context.Context, from, to address.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amount {
		return fmt.Errorf("verifier: insufficient balance: account %s has %d, needs %d", from, l.balances[from], amount)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

func (l *InMemoryLedger) Balance(_ context.Context, account address.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}
