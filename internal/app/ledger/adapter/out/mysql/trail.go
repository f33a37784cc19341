package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/domain"
	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/usecase"
)

// Records returns matching audit records, most recent first.
func (s *Store) Records(ctx context.Context, q domain.RecordQuery) ([]*domain.TransactionRecord, error) {
	db := s.client.DB().WithContext(ctx).Model(&sqlRecord{})
	if q.AccountID != 0 {
		db = db.Where("account_id = ?", q.AccountID)
	}
	if !q.From.IsZero() {
		db = db.Where("created_at >= ?", q.From)
	}
	if !q.To.IsZero() {
		db = db.Where("created_at <= ?", q.To)
	}
	var rows []sqlRecord
	if err := db.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	out := make([]*domain.TransactionRecord, len(rows))
	for i := range rows {
		out[i] = toDomainRecord(&rows[i])
	}
	return out, nil
}

// Transfers returns matching transfer records, most recent first. An account
// filter matches either side.
func (s *Store) Transfers(ctx context.Context, q domain.RecordQuery) ([]*domain.TransferRecord, error) {
	db := s.client.DB().WithContext(ctx).Model(&sqlTransfer{})
	if q.AccountID != 0 {
		db = db.Where("from_account_id = ? OR to_account_id = ?", q.AccountID, q.AccountID)
	}
	if !q.From.IsZero() {
		db = db.Where("created_at >= ?", q.From)
	}
	if !q.To.IsZero() {
		db = db.Where("created_at <= ?", q.To)
	}
	var rows []sqlTransfer
	if err := db.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	out := make([]*domain.TransferRecord, len(rows))
	for i := range rows {
		out[i] = toDomainTransfer(&rows[i])
	}
	return out, nil
}

// DeleteRecord is the privileged administrative deletion.
func (s *Store) DeleteRecord(ctx context.Context, id int64) error {
	res := s.client.DB().WithContext(ctx).Where("id = ?", id).Delete(&sqlRecord{})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", domain.ErrRecordNotFound, id)
	}
	return nil
}

// RecordByRef returns the record committed under an idempotency reference,
// or nil when the ref is new.
func (s *Store) RecordByRef(ctx context.Context, ref uuid.UUID) (*domain.TransactionRecord, error) {
	if ref == uuid.Nil {
		return nil, nil
	}
	var row sqlRecord
	err := s.client.DB().WithContext(ctx).
		Where("ref_id = ?", ref[:]).Order("id").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return toDomainRecord(&row), nil
}

// TransferByRef returns the committed transfer for ref, or nil.
func (s *Store) TransferByRef(ctx context.Context, ref uuid.UUID) (*domain.TransferRecord, error) {
	if ref == uuid.Nil {
		return nil, nil
	}
	var row sqlTransfer
	err := s.client.DB().WithContext(ctx).Where("ref_id = ?", ref[:]).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return toDomainTransfer(&row), nil
}

var _ usecase.AuditTrail = (*Store)(nil)
