package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/audit"
	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/domain"
)

// memJournal is an in-memory audit.Journal. failAt makes the nth Append fail.
type memJournal struct {
	lines  [][]byte
	writes int
	failAt int
}

func (m *memJournal) Append(v any) error {
	m.writes++
	if m.failAt > 0 && m.writes == m.failAt {
		return errors.New("disk full")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.lines = append(m.lines, raw)
	return nil
}

func (m *memJournal) ReadAll(callback func(raw []byte) error) error {
	for _, line := range m.lines {
		if err := callback(line); err != nil {
			return err
		}
	}
	return nil
}

func newRecorder(t *testing.T, j audit.Journal) *audit.Recorder {
	t.Helper()
	r, err := audit.NewRecorder(j)
	require.NoError(t, err)
	return r
}

func TestRecordDerivesFromDelta(t *testing.T) {
	r := newRecorder(t, nil)

	rec, err := r.Record(1001, 50000, "salary", uuid.New())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, domain.KindDeposit, rec.Kind)
	assert.Equal(t, int64(50000), rec.Amount)

	rec, err = r.Record(1001, -20000, "rent", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.ID)
	assert.Equal(t, domain.KindWithdrawal, rec.Kind)
	assert.Equal(t, int64(20000), rec.Amount)
}

func TestZeroDeltaLeavesNoTrace(t *testing.T) {
	j := &memJournal{}
	r := newRecorder(t, j)

	rec, err := r.Record(1001, 0, "noop", uuid.New())
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, j.lines)

	recs, err := r.Records(context.Background(), domain.RecordQuery{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestJournalFailureKeepsTrailClean(t *testing.T) {
	j := &memJournal{failAt: 1}
	r := newRecorder(t, j)

	_, err := r.Record(1001, 100, "x", uuid.New())
	require.ErrorIs(t, err, domain.ErrPersistence)

	recs, err := r.Records(context.Background(), domain.RecordQuery{})
	require.NoError(t, err)
	assert.Empty(t, recs, "a record that never hit the journal must not be visible")

	// The id was not consumed.
	rec, err := r.Record(1001, 100, "x", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)
}

func TestRecordByRef(t *testing.T) {
	r := newRecorder(t, nil)
	ctx := context.Background()
	ref := uuid.New()

	got, err := r.RecordByRef(ctx, ref)
	require.NoError(t, err)
	assert.Nil(t, got)

	rec, err := r.Record(1001, 100, "x", ref)
	require.NoError(t, err)

	got, err = r.RecordByRef(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)

	// The nil ref never resolves.
	got, err = r.RecordByRef(ctx, uuid.Nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecordTransferStampsLegs(t *testing.T) {
	r := newRecorder(t, nil)
	ctx := context.Background()
	ref := uuid.New()

	fromRec, err := r.Record(1, -500, "transfer", ref)
	require.NoError(t, err)
	toRec, err := r.Record(2, 500, "transfer", ref)
	require.NoError(t, err)

	tf, err := r.RecordTransfer(1, 2, 500, "transfer", ref, fromRec.ID, toRec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tf.ID)
	assert.Equal(t, fromRec.ID, tf.FromRecordID)
	assert.Equal(t, toRec.ID, tf.ToRecordID)

	recs, err := r.Records(ctx, domain.RecordQuery{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, tf.ID, rec.TransferID)
	}

	got, err := r.TransferByRef(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tf.ID, got.ID)
}

func TestRetract(t *testing.T) {
	j := &memJournal{}
	r := newRecorder(t, j)
	ctx := context.Background()

	rec, err := r.Record(1, -500, "transfer", uuid.New())
	require.NoError(t, err)

	require.NoError(t, r.Retract(rec.ID))
	recs, err := r.Records(ctx, domain.RecordQuery{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	assert.ErrorIs(t, r.Retract(rec.ID), domain.ErrRecordNotFound)
}

func TestRetractJournalFailureKeepsRecord(t *testing.T) {
	j := &memJournal{}
	r := newRecorder(t, j)
	ctx := context.Background()

	rec, err := r.Record(1, -500, "transfer", uuid.New())
	require.NoError(t, err)

	j.failAt = 2
	require.ErrorIs(t, r.Retract(rec.ID), domain.ErrPersistence)

	// The record survives in memory and, because the retraction never hit
	// the journal, after a restart too.
	recs, err := r.Records(ctx, domain.RecordQuery{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)

	r2 := newRecorder(t, j)
	recs, err = r2.Records(ctx, domain.RecordQuery{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
}

func TestDeleteRecord(t *testing.T) {
	r := newRecorder(t, nil)
	ctx := context.Background()

	rec, err := r.Record(1, 100, "x", uuid.New())
	require.NoError(t, err)

	require.NoError(t, r.DeleteRecord(ctx, rec.ID))
	assert.ErrorIs(t, r.DeleteRecord(ctx, rec.ID), domain.ErrRecordNotFound)
}

func TestRecoverRebuildsState(t *testing.T) {
	j := &memJournal{}
	r := newRecorder(t, j)
	ctx := context.Background()
	ref := uuid.New()

	fromRec, err := r.Record(1, -500, "transfer", ref)
	require.NoError(t, err)
	toRec, err := r.Record(2, 500, "transfer", ref)
	require.NoError(t, err)
	_, err = r.RecordTransfer(1, 2, 500, "transfer", ref, fromRec.ID, toRec.ID)
	require.NoError(t, err)

	retracted, err := r.Record(2, 100, "oops", uuid.New())
	require.NoError(t, err)
	require.NoError(t, r.Retract(retracted.ID))

	// Same journal, fresh recorder: the crash-restart path.
	r2 := newRecorder(t, j)

	recs, err := r2.Records(ctx, domain.RecordQuery{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	prev, err := r2.RecordByRef(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, fromRec.ID, prev.ID)

	// Ids continue after the replayed maximum.
	rec, err := r2.Record(1, 100, "next", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, retracted.ID+1, rec.ID)
}

func TestRecordsFilterAndOrder(t *testing.T) {
	r := newRecorder(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	next := base
	r.Now = func() time.Time {
		at := next
		next = next.Add(24 * time.Hour)
		return at
	}

	for i := 0; i < 3; i++ {
		_, err := r.Record(1, 100, "a", uuid.New())
		require.NoError(t, err)
	}
	_, err := r.Record(2, 100, "b", uuid.New())
	require.NoError(t, err)

	recs, err := r.Records(ctx, domain.RecordQuery{AccountID: 1})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.True(t, recs[0].CreatedAt.After(recs[2].CreatedAt), "most recent first")

	recs, err = r.Records(ctx, domain.RecordQuery{From: base.Add(36 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestCountForAccount(t *testing.T) {
	r := newRecorder(t, nil)
	_, err := r.Record(1, 100, "", uuid.New())
	require.NoError(t, err)
	_, err = r.Record(1, 200, "", uuid.New())
	require.NoError(t, err)
	_, err = r.Record(2, 300, "", uuid.New())
	require.NoError(t, err)

	assert.Equal(t, 2, r.CountForAccount(1))
	assert.Equal(t, 1, r.CountForAccount(2))
	assert.Equal(t, 0, r.CountForAccount(3))
}
