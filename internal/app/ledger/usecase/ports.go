package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/domain"
)

// Hold is exclusive access to one or two accounts, granted by a LedgerStore.
// Every balance mutation goes through a hold so the invariant check, the
// write, and the audit record commit as one step. A hold ends with exactly
// one Release or Discard.
type Hold interface {
	// ApplyDelta atomically checks and commits a balance change on a held
	// account and records the matching audit entry. A zero delta returns the
	// current balance with a nil record.
	ApplyDelta(accountID, delta int64, remark string, ref uuid.UUID) (int64, *domain.TransactionRecord, error)

	// Undo compensates a delta applied earlier in this hold: the balance is
	// restored and the record retracted. Only the mid-transfer failure path
	// uses it.
	Undo(rec *domain.TransactionRecord) error

	// RecordTransfer links two legs applied in this hold into one
	// TransferRecord.
	RecordTransfer(fromID, toID, amount int64, remark string, ref uuid.UUID, fromRecordID, toRecordID int64) (*domain.TransferRecord, error)

	// Release commits the hold's work and relinquishes the accounts.
	Release() error

	// Discard relinquishes the accounts without committing anything beyond
	// deltas already compensated with Undo.
	Discard()
}

// LedgerStore owns account balance state. Acquire locks accounts in ascending
// id order regardless of argument order; that canonical order is the sole
// deadlock-prevention mechanism for two-account operations.
type LedgerStore interface {
	// Acquire grants a hold on the given accounts, honoring the context
	// deadline. It fails with ErrLockWait when the deadline expires and
	// ErrAccountNotFound when any id is unknown.
	Acquire(ctx context.Context, ids ...int64) (Hold, error)

	Account(ctx context.Context, id int64) (*domain.Account, error)
	Accounts(ctx context.Context) ([]*domain.Account, error)
	Balance(ctx context.Context, id int64) (int64, error)

	OpenAccount(ctx context.Context, acct *domain.Account) error
	// MarkLost is the one-way Active -> Lost transition. Reads stay permitted.
	MarkLost(ctx context.Context, id int64) error
	// CloseAccount deletes an account, rejected with ErrAccountInUse while
	// transaction records reference it.
	CloseAccount(ctx context.Context, id int64) error
}

// AuditTrail is the read and administrative side of the audit log.
type AuditTrail interface {
	// Records returns matching records, most recent first.
	Records(ctx context.Context, q domain.RecordQuery) ([]*domain.TransactionRecord, error)
	// Transfers returns matching transfer records, most recent first.
	Transfers(ctx context.Context, q domain.RecordQuery) ([]*domain.TransferRecord, error)
	// DeleteRecord is the explicitly privileged administrative deletion.
	DeleteRecord(ctx context.Context, id int64) error
	// RecordByRef returns the record committed under an idempotency
	// reference, or nil when the ref is new.
	RecordByRef(ctx context.Context, ref uuid.UUID) (*domain.TransactionRecord, error)
	// TransferByRef returns the committed transfer for ref, or nil.
	TransferByRef(ctx context.Context, ref uuid.UUID) (*domain.TransferRecord, error)
}

// PlanCatalog manages the savings products accounts are opened under.
type PlanCatalog interface {
	AddPlan(ctx context.Context, p *domain.Plan) (int64, error)
	Plan(ctx context.Context, id int64) (*domain.Plan, error)
	Plans(ctx context.Context) ([]*domain.Plan, error)
	UpdatePlan(ctx context.Context, p *domain.Plan) error
	// DeletePlan is rejected with ErrPlanInUse while accounts reference it.
	DeletePlan(ctx context.Context, id int64) error
}
