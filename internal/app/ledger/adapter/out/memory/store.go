// Package memory is the in-process LedgerStore adapter. Each account carries
// its own lock so independent operations never contend; durability comes from
// the audit recorder's journal, replayed on startup.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/audit"
	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/domain"
	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/usecase"
)

// accountSlot pairs an account with its exclusive lock. The lock is a
// 1-buffered channel so acquisition can honor a context deadline. closed is
// written under the slot lock; a waiter that fetched the slot pointer before
// CloseAccount removed it from the map must re-check it after locking.
type accountSlot struct {
	lock   chan struct{}
	acct   *domain.Account
	closed bool
}

func newSlot(acct *domain.Account) *accountSlot {
	return &accountSlot{lock: make(chan struct{}, 1), acct: acct}
}

// Store holds per-account balances and the savings-plan catalogue. The outer
// mutex guards the maps only; balances are guarded by the per-account locks.
type Store struct {
	mu         sync.RWMutex
	accounts   map[int64]*accountSlot
	plans      map[int64]*domain.Plan
	nextPlanID int64
	trail      *audit.Recorder
}

// NewStore seeds accounts at their opening balances and replays the trail on
// top, rebuilding the state the journal recorded before the last shutdown.
func NewStore(accounts []*domain.Account, plans []*domain.Plan, trail *audit.Recorder) (*Store, error) {
	s := &Store{
		accounts:   make(map[int64]*accountSlot, len(accounts)),
		plans:      make(map[int64]*domain.Plan, len(plans)),
		nextPlanID: 1,
		trail:      trail,
	}
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		s.plans[p.ID] = p.Clone()
		if p.ID >= s.nextPlanID {
			s.nextPlanID = p.ID + 1
		}
	}
	for _, a := range accounts {
		if _, ok := s.accounts[a.ID]; ok {
			return nil, fmt.Errorf("%w: %d", domain.ErrAccountExists, a.ID)
		}
		s.accounts[a.ID] = newSlot(a.Clone())
	}

	err := trail.Replay(func(rec *domain.TransactionRecord) error {
		sl, ok := s.accounts[rec.AccountID]
		if !ok {
			return fmt.Errorf("journal references unknown account %d", rec.AccountID)
		}
		if _, err := sl.acct.ApplyDelta(rec.Signed()); err != nil {
			return fmt.Errorf("journal replay on account %d: %w", rec.AccountID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Acquire grants a hold on the given accounts, locking in ascending-id order
// regardless of argument order. Waiting is bounded by the context deadline.
func (s *Store) Acquire(ctx context.Context, ids ...int64) (usecase.Hold, error) {
	ordered := append([]int64(nil), ids...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	s.mu.RLock()
	slots := make([]*accountSlot, 0, len(ordered))
	for i, id := range ordered {
		if i > 0 && id == ordered[i-1] {
			continue
		}
		sl, ok := s.accounts[id]
		if !ok {
			s.mu.RUnlock()
			return nil, fmt.Errorf("%w: %d", domain.ErrAccountNotFound, id)
		}
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	held := make([]*accountSlot, 0, len(slots))
	for _, sl := range slots {
		select {
		case sl.lock <- struct{}{}:
			if sl.closed {
				<-sl.lock
				for i := len(held) - 1; i >= 0; i-- {
					<-held[i].lock
				}
				return nil, fmt.Errorf("%w: %d", domain.ErrAccountNotFound, sl.acct.ID)
			}
			held = append(held, sl)
		case <-ctx.Done():
			for i := len(held) - 1; i >= 0; i-- {
				<-held[i].lock
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrLockWait, ctx.Err())
		}
	}
	return &hold{held: held, trail: s.trail}, nil
}

// withSlot runs fn with exclusive access to one account.
func (s *Store) withSlot(ctx context.Context, id int64, fn func(acct *domain.Account) error) error {
	s.mu.RLock()
	sl, ok := s.accounts[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrAccountNotFound, id)
	}
	select {
	case sl.lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrLockWait, ctx.Err())
	}
	defer func() { <-sl.lock }()
	if sl.closed {
		return fmt.Errorf("%w: %d", domain.ErrAccountNotFound, id)
	}
	return fn(sl.acct)
}

// Account returns a snapshot copy of one account.
func (s *Store) Account(ctx context.Context, id int64) (*domain.Account, error) {
	var out *domain.Account
	err := s.withSlot(ctx, id, func(acct *domain.Account) error {
		out = acct.Clone()
		return nil
	})
	return out, err
}

// Balance returns the current balance. Permitted on lost accounts.
func (s *Store) Balance(ctx context.Context, id int64) (int64, error) {
	var balance int64
	err := s.withSlot(ctx, id, func(acct *domain.Account) error {
		balance = acct.Balance
		return nil
	})
	return balance, err
}

// Accounts returns snapshot copies of every account, ordered by id. Each
// account is locked only long enough to copy it.
func (s *Store) Accounts(ctx context.Context) ([]*domain.Account, error) {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*domain.Account, 0, len(ids))
	for _, id := range ids {
		acct, err := s.Account(ctx, id)
		if err != nil {
			continue // deleted since the id scan
		}
		out = append(out, acct)
	}
	return out, nil
}

// OpenAccount registers a new account.
func (s *Store) OpenAccount(ctx context.Context, acct *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct.PlanID != 0 {
		if _, ok := s.plans[acct.PlanID]; !ok {
			return fmt.Errorf("%w: %d", domain.ErrPlanNotFound, acct.PlanID)
		}
	}
	if _, ok := s.accounts[acct.ID]; ok {
		return fmt.Errorf("%w: %d", domain.ErrAccountExists, acct.ID)
	}
	s.accounts[acct.ID] = newSlot(acct.Clone())
	return nil
}

// MarkLost transitions the account Active -> Lost. Idempotent.
func (s *Store) MarkLost(ctx context.Context, id int64) error {
	return s.withSlot(ctx, id, func(acct *domain.Account) error {
		acct.MarkLost()
		return nil
	})
}

// CloseAccount deletes an account that no transaction record references.
func (s *Store) CloseAccount(ctx context.Context, id int64) error {
	s.mu.RLock()
	sl, ok := s.accounts[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrAccountNotFound, id)
	}
	select {
	case sl.lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrLockWait, ctx.Err())
	}
	defer func() { <-sl.lock }()

	if sl.closed {
		return fmt.Errorf("%w: %d", domain.ErrAccountNotFound, id)
	}
	if n := s.trail.CountForAccount(id); n > 0 {
		return fmt.Errorf("%w: %d records", domain.ErrAccountInUse, n)
	}
	sl.closed = true
	s.mu.Lock()
	delete(s.accounts, id)
	s.mu.Unlock()
	return nil
}

// hold is exclusive access to a set of already-locked accounts. All mutation
// and the matching audit recording happen inside it, so record and balance
// share fate.
type hold struct {
	held  []*accountSlot
	trail *audit.Recorder
	done  bool
}

func (h *hold) slot(id int64) *accountSlot {
	for _, sl := range h.held {
		if sl.acct.ID == id {
			return sl
		}
	}
	return nil
}

func (h *hold) ApplyDelta(accountID, delta int64, remark string, ref uuid.UUID) (int64, *domain.TransactionRecord, error) {
	sl := h.slot(accountID)
	if sl == nil {
		return 0, nil, fmt.Errorf("%w: %d not held", domain.ErrAccountNotFound, accountID)
	}
	acct := sl.acct
	if acct.State == domain.StateLost {
		return 0, nil, fmt.Errorf("%w: account %d", domain.ErrAccountLocked, accountID)
	}
	if delta == 0 {
		return acct.Balance, nil, nil
	}
	next := acct.Balance + delta
	if next < 0 {
		return 0, nil, domain.ErrInsufficientFunds
	}

	// Journal first: a record exists if and only if the balance change
	// commits, and the assignment below cannot fail.
	rec, err := h.trail.Record(accountID, delta, remark, ref)
	if err != nil {
		return 0, nil, err
	}
	acct.Balance = next
	return next, rec, nil
}

func (h *hold) Undo(rec *domain.TransactionRecord) error {
	if rec == nil {
		return nil
	}
	sl := h.slot(rec.AccountID)
	if sl == nil {
		return fmt.Errorf("%w: %d not held", domain.ErrAccountNotFound, rec.AccountID)
	}
	// Retract first. If the retraction cannot be journaled, the record
	// stands and the balance keeps the applied delta, matching replay.
	if err := h.trail.Retract(rec.ID); err != nil {
		return err
	}
	sl.acct.Balance -= rec.Signed()
	return nil
}

func (h *hold) RecordTransfer(fromID, toID, amount int64, remark string, ref uuid.UUID, fromRecordID, toRecordID int64) (*domain.TransferRecord, error) {
	return h.trail.RecordTransfer(fromID, toID, amount, remark, ref, fromRecordID, toRecordID)
}

func (h *hold) Release() error {
	h.release()
	return nil
}

func (h *hold) Discard() {
	h.release()
}

func (h *hold) release() {
	if h.done {
		return
	}
	h.done = true
	for i := len(h.held) - 1; i >= 0; i-- {
		<-h.held[i].lock
	}
}

var (
	_ usecase.LedgerStore = (*Store)(nil)
	_ usecase.PlanCatalog = (*Store)(nil)
	_ usecase.Hold        = (*hold)(nil)
	_ usecase.AuditTrail  = (*audit.Recorder)(nil)
)
