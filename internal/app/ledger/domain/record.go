package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecordKind classifies a transaction record.
type RecordKind uint8

const (
	KindDeposit    RecordKind = 1
	KindWithdrawal RecordKind = 2
)

func (k RecordKind) String() string {
	switch k {
	case KindDeposit:
		return "deposit"
	case KindWithdrawal:
		return "withdrawal"
	default:
		return "unknown"
	}
}

// TransactionRecord is one append-only audit entry, derived from a committed
// balance delta. Amount is always positive; Kind carries the sign.
type TransactionRecord struct {
	ID         int64
	AccountID  int64
	Amount     int64
	Kind       RecordKind
	Remark     string
	TransferID int64     // 0 unless the record is one leg of a transfer
	RefID      uuid.UUID // external idempotency reference
	CreatedAt  time.Time
}

// Signed returns the delta the record was derived from.
func (r *TransactionRecord) Signed() int64 {
	if r.Kind == KindWithdrawal {
		return -r.Amount
	}
	return r.Amount
}

// Clone returns a copy safe to hand outside the trail.
func (r *TransactionRecord) Clone() *TransactionRecord {
	cp := *r
	return &cp
}

// DeriveRecord builds the audit entry for a committed delta: amount is the
// absolute value, kind follows the sign. A zero delta yields no record.
func DeriveRecord(accountID, delta int64, remark string, ref uuid.UUID, at time.Time) *TransactionRecord {
	if delta == 0 {
		return nil
	}
	kind := KindDeposit
	amount := delta
	if delta < 0 {
		kind = KindWithdrawal
		amount = -delta
	}
	return &TransactionRecord{
		AccountID: accountID,
		Amount:    amount,
		Kind:      kind,
		Remark:    remark,
		RefID:     ref,
		CreatedAt: at,
	}
}

// TransferRecord links the two legs of a completed transfer. It exists if and
// only if both legs exist.
type TransferRecord struct {
	ID           int64
	FromID       int64
	ToID         int64
	Amount       int64
	Remark       string
	RefID        uuid.UUID
	FromRecordID int64
	ToRecordID   int64
	CreatedAt    time.Time
}

// Clone returns a copy safe to hand outside the trail.
func (t *TransferRecord) Clone() *TransferRecord {
	cp := *t
	return &cp
}

// RecordQuery filters trail reads. Zero values mean "no constraint".
type RecordQuery struct {
	AccountID int64
	From      time.Time
	To        time.Time
}

// Matches reports whether a record satisfies the query.
func (q RecordQuery) Matches(r *TransactionRecord) bool {
	if q.AccountID != 0 && r.AccountID != q.AccountID {
		return false
	}
	return q.inRange(r.CreatedAt)
}

// MatchesTransfer reports whether a transfer touches the queried account
// (either side) within the range.
func (q RecordQuery) MatchesTransfer(t *TransferRecord) bool {
	if q.AccountID != 0 && t.FromID != q.AccountID && t.ToID != q.AccountID {
		return false
	}
	return q.inRange(t.CreatedAt)
}

func (q RecordQuery) inRange(at time.Time) bool {
	if !q.From.IsZero() && at.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && at.After(q.To) {
		return false
	}
	return true
}
