// Package audit owns the transaction/transfer log. Every committed balance
// delta is turned into exactly one immutable record, journaled before it is
// visible, and replayable after a restart.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/domain"
)

// Journal is the durability sink for trail entries. A nil Journal keeps the
// trail volatile, which the tests and the pure in-memory mode use.
type Journal interface {
	Append(v any) error
	ReadAll(callback func(raw []byte) error) error
}

const (
	entryRecord   = "record"
	entryTransfer = "transfer"
	entryRetract  = "retract"
	entryPurge    = "purge"
)

// entry is the journal line format. Exactly one payload field is set,
// selected by Kind.
type entry struct {
	Kind     string                    `json:"kind"`
	Record   *domain.TransactionRecord `json:"record,omitempty"`
	Transfer *domain.TransferRecord    `json:"transfer,omitempty"`
	RecordID int64                     `json:"record_id,omitempty"`
}

// Recorder derives audit records from committed deltas and owns the
// append-only trail. Mutating methods are called from inside a store hold,
// so a record exists if and only if the matching balance change committed.
type Recorder struct {
	mu        sync.Mutex
	journal   Journal
	records   []*domain.TransactionRecord
	transfers []*domain.TransferRecord

	nextRecordID   int64
	nextTransferID int64

	// Now stamps new entries; tests override it for deterministic periods.
	Now func() time.Time
}

// NewRecorder builds a recorder, replaying the journal when one is given.
func NewRecorder(j Journal) (*Recorder, error) {
	r := &Recorder{
		journal:        j,
		nextRecordID:   1,
		nextTransferID: 1,
		Now:            time.Now,
	}
	if j != nil {
		if err := r.recover(); err != nil {
			return nil, fmt.Errorf("audit journal recovery: %w", err)
		}
	}
	return r, nil
}

func (r *Recorder) recover() error {
	return r.journal.ReadAll(func(raw []byte) error {
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		switch e.Kind {
		case entryRecord:
			if e.Record == nil {
				return fmt.Errorf("record entry without payload")
			}
			r.records = append(r.records, e.Record)
			if e.Record.ID >= r.nextRecordID {
				r.nextRecordID = e.Record.ID + 1
			}
		case entryTransfer:
			if e.Transfer == nil {
				return fmt.Errorf("transfer entry without payload")
			}
			r.transfers = append(r.transfers, e.Transfer)
			r.stampLegs(e.Transfer)
			if e.Transfer.ID >= r.nextTransferID {
				r.nextTransferID = e.Transfer.ID + 1
			}
		case entryRetract, entryPurge:
			r.removeRecord(e.RecordID)
		default:
			return fmt.Errorf("unknown journal entry kind %q", e.Kind)
		}
		return nil
	})
}

// Record derives and stores the audit entry for a committed delta. A zero
// delta returns (nil, nil): a no-op mutation must not pollute the trail.
// The journal write precedes trail visibility so both share fate with the
// balance change the caller is about to commit.
func (r *Recorder) Record(accountID, delta int64, remark string, ref uuid.UUID) (*domain.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := domain.DeriveRecord(accountID, delta, remark, ref, r.Now())
	if rec == nil {
		return nil, nil
	}
	rec.ID = r.nextRecordID

	if r.journal != nil {
		if err := r.journal.Append(entry{Kind: entryRecord, Record: rec}); err != nil {
			return nil, fmt.Errorf("%w: journal append: %v", domain.ErrPersistence, err)
		}
	}

	r.nextRecordID++
	r.records = append(r.records, rec)
	return rec.Clone(), nil
}

// RecordTransfer stores the transfer entry linking two already-recorded legs
// and stamps the transfer id back onto them.
func (r *Recorder) RecordTransfer(fromID, toID, amount int64, remark string, ref uuid.UUID, fromRecordID, toRecordID int64) (*domain.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tf := &domain.TransferRecord{
		ID:           r.nextTransferID,
		FromID:       fromID,
		ToID:         toID,
		Amount:       amount,
		Remark:       remark,
		RefID:        ref,
		FromRecordID: fromRecordID,
		ToRecordID:   toRecordID,
		CreatedAt:    r.Now(),
	}

	if r.journal != nil {
		if err := r.journal.Append(entry{Kind: entryTransfer, Transfer: tf}); err != nil {
			return nil, fmt.Errorf("%w: journal append: %v", domain.ErrPersistence, err)
		}
	}

	r.nextTransferID++
	r.transfers = append(r.transfers, tf)
	r.stampLegs(tf)
	return tf.Clone(), nil
}

// Retract removes a record whose balance change has just been compensated.
// It is the transfer rollback path, not the privileged admin deletion.
// The journal write precedes removal, mirroring Record: if the retraction
// cannot be journaled the record stands, so a restart replays the same trail.
func (r *Recorder) Retract(recordID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeJournaled(entryRetract, recordID)
}

// DeleteRecord is the explicitly privileged administrative deletion, outside
// normal append-only operation.
func (r *Recorder) DeleteRecord(ctx context.Context, recordID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeJournaled(entryPurge, recordID)
}

func (r *Recorder) removeJournaled(kind string, recordID int64) error {
	if !r.hasRecord(recordID) {
		return domain.ErrRecordNotFound
	}
	if r.journal != nil {
		if err := r.journal.Append(entry{Kind: kind, RecordID: recordID}); err != nil {
			return fmt.Errorf("%w: journal append: %v", domain.ErrPersistence, err)
		}
	}
	r.removeRecord(recordID)
	return nil
}

// Records returns matching records, most recent first.
func (r *Recorder) Records(ctx context.Context, q domain.RecordQuery) ([]*domain.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.TransactionRecord, 0, len(r.records))
	for i := len(r.records) - 1; i >= 0; i-- {
		if q.Matches(r.records[i]) {
			out = append(out, r.records[i].Clone())
		}
	}
	return out, nil
}

// Transfers returns matching transfer records, most recent first.
func (r *Recorder) Transfers(ctx context.Context, q domain.RecordQuery) ([]*domain.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.TransferRecord, 0, len(r.transfers))
	for i := len(r.transfers) - 1; i >= 0; i-- {
		if q.MatchesTransfer(r.transfers[i]) {
			out = append(out, r.transfers[i].Clone())
		}
	}
	return out, nil
}

// RecordByRef returns the committed record for an idempotency reference,
// or nil when the ref is new. Transfer refs live on the transfer entry, not
// the legs, so those resolve through TransferByRef instead.
func (r *Recorder) RecordByRef(ctx context.Context, ref uuid.UUID) (*domain.TransactionRecord, error) {
	if ref == uuid.Nil {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.RefID == ref {
			return rec.Clone(), nil
		}
	}
	return nil, nil
}

// TransferByRef returns the committed transfer for ref, or nil.
func (r *Recorder) TransferByRef(ctx context.Context, ref uuid.UUID) (*domain.TransferRecord, error) {
	if ref == uuid.Nil {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tf := range r.transfers {
		if tf.RefID == ref {
			return tf.Clone(), nil
		}
	}
	return nil, nil
}

// Replay iterates records oldest-first. The memory store uses it to rebuild
// balances from opening amounts after a restart.
func (r *Recorder) Replay(fn func(rec *domain.TransactionRecord) error) error {
	r.mu.Lock()
	recs := make([]*domain.TransactionRecord, len(r.records))
	for i, rec := range r.records {
		recs[i] = rec.Clone()
	}
	r.mu.Unlock()

	for _, rec := range recs {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// CountForAccount reports how many records reference an account. The store
// consults it before allowing account deletion.
func (r *Recorder) CountForAccount(accountID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.AccountID == accountID {
			n++
		}
	}
	return n
}

func (r *Recorder) stampLegs(tf *domain.TransferRecord) {
	for _, rec := range r.records {
		if rec.ID == tf.FromRecordID || rec.ID == tf.ToRecordID {
			rec.TransferID = tf.ID
		}
	}
}

func (r *Recorder) hasRecord(recordID int64) bool {
	for _, rec := range r.records {
		if rec.ID == recordID {
			return true
		}
	}
	return false
}

func (r *Recorder) removeRecord(recordID int64) bool {
	for i, rec := range r.records {
		if rec.ID == recordID {
			r.records = append(r.records[:i], r.records[i+1:]...)
			return true
		}
	}
	return false
}
