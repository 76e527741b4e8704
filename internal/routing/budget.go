package routing

import (
	"sync"
)

// Budget tracks the per-session request allowance. It is an explicit object
// rather than package state so tests can inject one and concurrent fetch
// workers can share the accounting.
type Budget struct {
	mu    sync.Mutex
	limit int
	used  int
}

// NewBudget creates a Budget allowing limit requests. A non-positive limit
// means unlimited.
func NewBudget(limit int) *Budget {
	return &Budget{limit: limit}
}

// Take consumes one request slot, reporting false once the budget is spent.
func (b *Budget) Take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 && b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// Used returns the number of slots consumed so far.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Remaining returns the number of slots left, or -1 for unlimited budgets.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit <= 0 {
		return -1
	}
	return b.limit - b.used
}
