package domain

import "time"

// AccountState tracks the lock state of an account.
type AccountState uint8

const (
	// StateActive permits all operations.
	StateActive AccountState = 1
	// StateLost permits reads only. The transition is one-way.
	StateLost AccountState = 2
)

func (s AccountState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Account is the balance-bearing entity of the ledger. The balance is only
// mutated through a store hold, never directly.
type Account struct {
	ID         int64
	Currency   string
	Balance    int64
	OpenAmount int64
	OpenedAt   time.Time
	State      AccountState
	PlanID     int64
}

// NewAccount validates and builds an account opened with openAmount.
func NewAccount(id int64, currency string, planID, openAmount int64, openedAt time.Time) (*Account, error) {
	if id <= 0 {
		return nil, ErrInvalidAccountID
	}
	if !validCurrency(currency) {
		return nil, ErrInvalidCurrency
	}
	if openAmount < 0 {
		return nil, ErrAmountNotPositive
	}
	return &Account{
		ID:         id,
		Currency:   currency,
		Balance:    openAmount,
		OpenAmount: openAmount,
		OpenedAt:   openedAt,
		State:      StateActive,
		PlanID:     planID,
	}, nil
}

// ApplyDelta checks and commits a balance change as one step. It enforces the
// non-negative invariant; the lock-state check belongs to the store hold.
func (a *Account) ApplyDelta(delta int64) (int64, error) {
	next := a.Balance + delta
	if next < 0 {
		return 0, ErrInsufficientFunds
	}
	a.Balance = next
	return next, nil
}

// MarkLost transitions Active -> Lost. Marking a lost account again is a no-op.
func (a *Account) MarkLost() {
	a.State = StateLost
}

// Clone returns a copy safe to hand outside the critical section.
func (a *Account) Clone() *Account {
	cp := *a
	return &cp
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}
