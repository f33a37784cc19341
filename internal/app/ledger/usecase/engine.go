package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/domain"
)

// Default remarks stamped on records when the caller supplies none.
const (
	remarkDeposit    = "deposit"
	remarkWithdrawal = "withdrawal"
	remarkTransfer   = "transfer"
)

// Config bounds lock acquisition. A single attempt waits at most
// AcquireTimeout; ErrLockWait attempts are retried up to MaxAttempts before
// ErrConcurrency is surfaced.
type Config struct {
	AcquireTimeout time.Duration
	MaxAttempts    int
}

func (c Config) withDefaults() Config {
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 250 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

// Engine orchestrates all money movement on top of a LedgerStore and the
// audit trail. It owns no account state, only transient holds for the
// duration of one operation.
type Engine struct {
	store LedgerStore
	trail AuditTrail
	log   zerolog.Logger
	cfg   Config
}

func NewEngine(store LedgerStore, trail AuditTrail, log zerolog.Logger, cfg Config) *Engine {
	return &Engine{
		store: store,
		trail: trail,
		log:   log.With().Str("component", "engine").Logger(),
		cfg:   cfg.withDefaults(),
	}
}

// Deposit credits amount to an account and returns the new balance with the
// audit record. A replayed ref returns the originally recorded outcome
// without applying the delta again.
func (e *Engine) Deposit(ctx context.Context, accountID, amount int64, remark string, ref uuid.UUID) (int64, *domain.TransactionRecord, error) {
	if remark == "" {
		remark = remarkDeposit
	}
	return e.applySingle(ctx, accountID, amount, remark, ref)
}

// Withdraw debits amount from an account. Fails with ErrInsufficientFunds
// when the balance would go negative; the balance is then untouched and no
// record is produced.
func (e *Engine) Withdraw(ctx context.Context, accountID, amount int64, remark string, ref uuid.UUID) (int64, *domain.TransactionRecord, error) {
	if remark == "" {
		remark = remarkWithdrawal
	}
	return e.applySingle(ctx, accountID, -amount, remark, ref)
}

func (e *Engine) applySingle(ctx context.Context, accountID, delta int64, remark string, ref uuid.UUID) (int64, *domain.TransactionRecord, error) {
	amount := delta
	if amount < 0 {
		amount = -amount
	}
	if amount <= 0 {
		return 0, nil, domain.ErrAmountNotPositive
	}
	if ref == uuid.Nil {
		ref = uuid.New()
	}

	hold, err := e.acquire(ctx, accountID)
	if err != nil {
		return 0, nil, err
	}

	if prev, err := e.trail.RecordByRef(ctx, ref); err != nil {
		hold.Discard()
		return 0, nil, err
	} else if prev != nil {
		hold.Discard()
		balance, err := e.store.Balance(ctx, accountID)
		return balance, prev, err
	}

	balance, rec, err := hold.ApplyDelta(accountID, delta, remark, ref)
	if err != nil {
		hold.Discard()
		return 0, nil, err
	}
	if err := hold.Release(); err != nil {
		return 0, nil, err
	}
	return balance, rec, nil
}

// Transfer atomically moves amount between two accounts: the withdrawal leg,
// the deposit leg, and the TransferRecord all commit, or none of them exist.
// Preconditions are checked before any lock is taken.
func (e *Engine) Transfer(ctx context.Context, fromID, toID, amount int64, remark string, ref uuid.UUID) (*domain.TransferRecord, error) {
	if amount <= 0 {
		return nil, domain.ErrAmountNotPositive
	}
	if fromID == toID {
		return nil, domain.ErrSameAccount
	}
	if remark == "" {
		remark = remarkTransfer
	}
	if ref == uuid.Nil {
		ref = uuid.New()
	}

	for _, id := range []int64{fromID, toID} {
		acct, err := e.store.Account(ctx, id)
		if err != nil {
			return nil, err
		}
		if acct.State == domain.StateLost {
			return nil, fmt.Errorf("%w: account %d", domain.ErrAccountLocked, id)
		}
	}

	hold, err := e.acquire(ctx, fromID, toID)
	if err != nil {
		return nil, err
	}

	if prev, err := e.trail.TransferByRef(ctx, ref); err != nil {
		hold.Discard()
		return nil, err
	} else if prev != nil {
		hold.Discard()
		return prev, nil
	}

	_, fromRec, err := hold.ApplyDelta(fromID, -amount, remark, ref)
	if err != nil {
		hold.Discard()
		return nil, err
	}

	_, toRec, err := hold.ApplyDelta(toID, amount, remark, ref)
	if err != nil {
		e.compensate(hold, fromRec)
		hold.Discard()
		return nil, err
	}

	tf, err := hold.RecordTransfer(fromID, toID, amount, remark, ref, fromRec.ID, toRec.ID)
	if err != nil {
		e.compensate(hold, toRec)
		e.compensate(hold, fromRec)
		hold.Discard()
		return nil, err
	}

	if err := hold.Release(); err != nil {
		return nil, err
	}
	return tf, nil
}

// compensate undoes one applied leg before the hold is released, so the
// caller never observes funds that left one account without arriving at the
// other.
func (e *Engine) compensate(hold Hold, rec *domain.TransactionRecord) {
	if err := hold.Undo(rec); err != nil {
		e.log.Error().Err(err).
			Int64("record_id", rec.ID).
			Int64("account_id", rec.AccountID).
			Msg("transfer compensation failed")
	}
}

// acquire obtains a hold with bounded waiting, retrying timed-out attempts.
func (e *Engine) acquire(ctx context.Context, ids ...int64) (Hold, error) {
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, e.cfg.AcquireTimeout)
		hold, err := e.store.Acquire(actx, ids...)
		cancel()
		if err == nil {
			return hold, nil
		}
		if !errors.Is(err, domain.ErrLockWait) {
			return nil, err
		}
		if ctx.Err() != nil {
			break
		}
		e.log.Debug().Ints64("accounts", ids).Int("attempt", attempt).Msg("lock wait timed out, retrying")
	}
	return nil, fmt.Errorf("%w: accounts %v", domain.ErrConcurrency, ids)
}

// Balance reads the current balance. Reads are permitted on lost accounts.
func (e *Engine) Balance(ctx context.Context, accountID int64) (int64, error) {
	return e.store.Balance(ctx, accountID)
}

// Account returns a snapshot of one account.
func (e *Engine) Account(ctx context.Context, accountID int64) (*domain.Account, error) {
	return e.store.Account(ctx, accountID)
}

// Accounts returns snapshots of all accounts, ordered by id.
func (e *Engine) Accounts(ctx context.Context) ([]*domain.Account, error) {
	return e.store.Accounts(ctx)
}

// OpenAccount registers a new account with its opening amount.
func (e *Engine) OpenAccount(ctx context.Context, id int64, currency string, planID, openAmount int64) (*domain.Account, error) {
	acct, err := domain.NewAccount(id, currency, planID, openAmount, time.Now())
	if err != nil {
		return nil, err
	}
	if err := e.store.OpenAccount(ctx, acct); err != nil {
		return nil, err
	}
	e.log.Info().Int64("account_id", id).Str("currency", currency).Msg("account opened")
	return acct, nil
}

// ReportLoss locks an account: one-way Active -> Lost.
func (e *Engine) ReportLoss(ctx context.Context, accountID int64) error {
	if err := e.store.MarkLost(ctx, accountID); err != nil {
		return err
	}
	e.log.Info().Int64("account_id", accountID).Msg("account reported lost")
	return nil
}

// CloseAccount deletes an account with no referencing records.
func (e *Engine) CloseAccount(ctx context.Context, accountID int64) error {
	return e.store.CloseAccount(ctx, accountID)
}

// Transactions lists audit records, most recent first.
func (e *Engine) Transactions(ctx context.Context, q domain.RecordQuery) ([]*domain.TransactionRecord, error) {
	return e.trail.Records(ctx, q)
}

// TransferHistory lists transfer records, most recent first.
func (e *Engine) TransferHistory(ctx context.Context, q domain.RecordQuery) ([]*domain.TransferRecord, error) {
	return e.trail.Transfers(ctx, q)
}

// DeleteTransaction is the privileged administrative record deletion.
func (e *Engine) DeleteTransaction(ctx context.Context, recordID int64) error {
	if err := e.trail.DeleteRecord(ctx, recordID); err != nil {
		return err
	}
	e.log.Warn().Int64("record_id", recordID).Msg("transaction record deleted by administrator")
	return nil
}
