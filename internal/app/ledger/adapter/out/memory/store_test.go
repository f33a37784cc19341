package memory_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/adapter/out/memory"
	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/audit"
	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/domain"
	"github.com/kychen0817/go-bank-ledger/pkg/journal"
)

func mustAccount(t *testing.T, id int64, balance int64) *domain.Account {
	t.Helper()
	acct, err := domain.NewAccount(id, "USD", 0, balance, time.Now())
	require.NoError(t, err)
	return acct
}

func newStore(t *testing.T, accounts ...*domain.Account) (*memory.Store, *audit.Recorder) {
	t.Helper()
	trail, err := audit.NewRecorder(nil)
	require.NoError(t, err)
	s, err := memory.NewStore(accounts, nil, trail)
	require.NoError(t, err)
	return s, trail
}

func TestApplyDeltaThroughHold(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, mustAccount(t, 1001, 0))

	hold, err := s.Acquire(ctx, 1001)
	require.NoError(t, err)

	balance, rec, err := hold.ApplyDelta(1001, 100000, "deposit", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(100000), balance)
	require.NotNil(t, rec)
	assert.Equal(t, domain.KindDeposit, rec.Kind)
	require.NoError(t, hold.Release())

	got, err := s.Balance(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), got)
}

func TestInsufficientFundsLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	s, trail := newStore(t, mustAccount(t, 1001, 50000))

	hold, err := s.Acquire(ctx, 1001)
	require.NoError(t, err)
	_, _, err = hold.ApplyDelta(1001, -60000, "withdrawal", uuid.New())
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	hold.Discard()

	balance, err := s.Balance(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance)
	assert.Equal(t, 0, trail.CountForAccount(1001))
}

func TestLostAccountRejectsMutation(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, mustAccount(t, 1001, 50000))

	require.NoError(t, s.MarkLost(ctx, 1001))
	require.NoError(t, s.MarkLost(ctx, 1001), "marking lost twice is a no-op")

	hold, err := s.Acquire(ctx, 1001)
	require.NoError(t, err)
	defer hold.Discard()
	_, _, err = hold.ApplyDelta(1001, 100, "deposit", uuid.New())
	assert.ErrorIs(t, err, domain.ErrAccountLocked)

	// Reads stay permitted.
	balance, err := s.Balance(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance)
}

func TestAcquireTimesOutOnHeldAccount(t *testing.T) {
	s, _ := newStore(t, mustAccount(t, 1001, 0))

	hold, err := s.Acquire(context.Background(), 1001)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, 1001)
	assert.ErrorIs(t, err, domain.ErrLockWait)

	require.NoError(t, hold.Release())
	hold2, err := s.Acquire(context.Background(), 1001)
	require.NoError(t, err)
	hold2.Discard()
}

func TestAcquirePairReleasesOnTimeout(t *testing.T) {
	s, _ := newStore(t, mustAccount(t, 1, 0), mustAccount(t, 2, 0))

	// Hold the higher id so a pair acquire locks 1 then stalls on 2.
	blocker, err := s.Acquire(context.Background(), 2)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, 1, 2)
	require.ErrorIs(t, err, domain.ErrLockWait)

	// Account 1 must have been released on the way out.
	hold, err := s.Acquire(context.Background(), 1)
	require.NoError(t, err)
	hold.Discard()
	blocker.Discard()
}

func TestAcquireUnknownAccount(t *testing.T) {
	s, _ := newStore(t, mustAccount(t, 1, 0))
	_, err := s.Acquire(context.Background(), 1, 999)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestConcurrentDeposits(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, mustAccount(t, 1001, 0))

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			hold, err := s.Acquire(ctx, 1001)
			if err != nil {
				return
			}
			_, _, err = hold.ApplyDelta(1001, 100, "deposit", uuid.New())
			if err != nil {
				hold.Discard()
				return
			}
			_ = hold.Release()
		}()
	}
	wg.Wait()

	balance, err := s.Balance(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*100), balance)
}

func TestOpenAccount(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	acct := mustAccount(t, 1001, 100000)
	require.NoError(t, s.OpenAccount(ctx, acct))
	assert.ErrorIs(t, s.OpenAccount(ctx, acct), domain.ErrAccountExists)

	withPlan := mustAccount(t, 1002, 0)
	withPlan.PlanID = 42
	assert.ErrorIs(t, s.OpenAccount(ctx, withPlan), domain.ErrPlanNotFound)
}

func TestCloseAccount(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, mustAccount(t, 1001, 0), mustAccount(t, 1002, 0))

	hold, err := s.Acquire(ctx, 1001)
	require.NoError(t, err)
	_, _, err = hold.ApplyDelta(1001, 100, "deposit", uuid.New())
	require.NoError(t, err)
	require.NoError(t, hold.Release())

	assert.ErrorIs(t, s.CloseAccount(ctx, 1001), domain.ErrAccountInUse)

	require.NoError(t, s.CloseAccount(ctx, 1002))
	assert.ErrorIs(t, s.CloseAccount(ctx, 1002), domain.ErrAccountNotFound)
	_, err = s.Balance(ctx, 1002)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestCloseAccountBlocksStaleAcquire(t *testing.T) {
	ctx := context.Background()
	s, trail := newStore(t, mustAccount(t, 1001, 0))

	h, err := s.Acquire(ctx, 1001)
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- s.CloseAccount(ctx, 1001) }()
	time.Sleep(10 * time.Millisecond)

	// This acquirer looked up the slot while the account still existed and
	// now queues behind the close. It must never commit into the account.
	applied := make(chan error, 1)
	go func() {
		h2, err := s.Acquire(ctx, 1001)
		if err == nil {
			_, _, derr := h2.ApplyDelta(1001, 100, "deposit", uuid.New())
			h2.Discard()
			err = derr
		}
		applied <- err
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, h.Release())
	closeErr := <-closed
	applyErr := <-applied
	if closeErr == nil {
		assert.ErrorIs(t, applyErr, domain.ErrAccountNotFound)
		assert.Equal(t, 0, trail.CountForAccount(1001))
	} else {
		assert.ErrorIs(t, closeErr, domain.ErrAccountInUse)
		require.NoError(t, applyErr)
	}
}

func TestUndoRestoresBalanceAndTrail(t *testing.T) {
	ctx := context.Background()
	s, trail := newStore(t, mustAccount(t, 1001, 50000))

	hold, err := s.Acquire(ctx, 1001)
	require.NoError(t, err)
	_, rec, err := hold.ApplyDelta(1001, -20000, "transfer", uuid.New())
	require.NoError(t, err)
	require.NoError(t, hold.Undo(rec))
	require.NoError(t, hold.Release())

	balance, err := s.Balance(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance)
	assert.Equal(t, 0, trail.CountForAccount(1001))
}

func TestPlanCatalog(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	id, err := s.AddPlan(ctx, &domain.Plan{Name: "fixed-12m", TermMonths: 12})
	require.NoError(t, err)

	p, err := s.Plan(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "fixed-12m", p.Name)

	p.Description = "twelve months"
	require.NoError(t, s.UpdatePlan(ctx, p))

	acct := mustAccount(t, 1001, 0)
	acct.PlanID = id
	require.NoError(t, s.OpenAccount(ctx, acct))
	assert.ErrorIs(t, s.DeletePlan(ctx, id), domain.ErrPlanInUse)

	require.NoError(t, s.CloseAccount(ctx, 1001))
	require.NoError(t, s.DeletePlan(ctx, id))
	_, err = s.Plan(ctx, id)
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)
}

func TestJournalRecoveryRebuildsBalances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.journal")
	seed := func() []*domain.Account {
		return []*domain.Account{mustAccount(t, 1001, 100000), mustAccount(t, 1002, 50000)}
	}

	j, err := journal.Open(path)
	require.NoError(t, err)
	trail, err := audit.NewRecorder(j)
	require.NoError(t, err)
	s, err := memory.NewStore(seed(), nil, trail)
	require.NoError(t, err)

	hold, err := s.Acquire(ctx, 1001, 1002)
	require.NoError(t, err)
	_, fromRec, err := hold.ApplyDelta(1001, -30000, "transfer", uuid.New())
	require.NoError(t, err)
	_, toRec, err := hold.ApplyDelta(1002, 30000, "transfer", uuid.New())
	require.NoError(t, err)
	_, err = hold.RecordTransfer(1001, 1002, 30000, "transfer", uuid.New(), fromRec.ID, toRec.ID)
	require.NoError(t, err)
	require.NoError(t, hold.Release())
	require.NoError(t, j.Close())

	// Restart: fresh journal handle, fresh trail, opening balances again.
	j2, err := journal.Open(path)
	require.NoError(t, err)
	defer j2.Close()
	trail2, err := audit.NewRecorder(j2)
	require.NoError(t, err)
	s2, err := memory.NewStore(seed(), nil, trail2)
	require.NoError(t, err)

	b1, err := s2.Balance(ctx, 1001)
	require.NoError(t, err)
	b2, err := s2.Balance(ctx, 1002)
	require.NoError(t, err)
	assert.Equal(t, int64(70000), b1)
	assert.Equal(t, int64(80000), b2)

	tfs, err := trail2.Transfers(ctx, domain.RecordQuery{})
	require.NoError(t, err)
	assert.Len(t, tfs, 1)
}
