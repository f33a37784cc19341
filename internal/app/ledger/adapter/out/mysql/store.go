// Package mysql is the durable LedgerStore adapter. A hold maps to one
// database transaction with the account rows locked FOR UPDATE in ascending
// id order, so balance change and audit record commit or roll back together.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/domain"
	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/usecase"
	"github.com/kychen0817/go-bank-ledger/pkg/mysql"
)

type sqlAccount struct {
	ID         int64 `gorm:"primaryKey"`
	Currency   string
	Balance    int64
	OpenAmount int64
	OpenedAt   time.Time
	State      uint8
	PlanID     int64 `gorm:"index"`
	UpdatedAt  int64 `gorm:"autoUpdateTime:milli"`
}

func (*sqlAccount) TableName() string { return "accounts" }

type sqlRecord struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	AccountID  int64  `gorm:"index"`
	RefID      []byte `gorm:"column:ref_id;type:binary(16);index"`
	Amount     int64
	Kind       uint8
	Remark     string
	TransferID int64     `gorm:"index"`
	CreatedAt  time.Time `gorm:"index"`
}

func (*sqlRecord) TableName() string { return "transaction_records" }

type sqlTransfer struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	FromAccountID int64  `gorm:"index"`
	ToAccountID   int64  `gorm:"index"`
	RefID         []byte `gorm:"column:ref_id;type:binary(16);uniqueIndex"`
	Amount        int64
	Remark        string
	FromRecordID  int64
	ToRecordID    int64
	CreatedAt     time.Time `gorm:"index"`
}

func (*sqlTransfer) TableName() string { return "transfer_records" }

type sqlPlan struct {
	ID          int64 `gorm:"primaryKey;autoIncrement"`
	Name        string
	Description string
	TermMonths  int
}

func (*sqlPlan) TableName() string { return "plans" }

// Store implements the ledger ports over MySQL.
type Store struct {
	client *mysql.Client
}

func NewStore(client *mysql.Client) *Store {
	return &Store{client: client}
}

// Migrate creates or updates the schema.
func (s *Store) Migrate() error {
	return s.client.DB().AutoMigrate(&sqlAccount{}, &sqlRecord{}, &sqlTransfer{}, &sqlPlan{})
}

// Acquire begins a transaction and locks the account rows FOR UPDATE in
// ascending id order. The context bounds only the lock wait; the hold itself
// stays open until Release or Discard.
func (s *Store) Acquire(ctx context.Context, ids ...int64) (usecase.Hold, error) {
	ordered := append([]int64(nil), ids...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	tx := s.client.DB().Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: begin: %v", domain.ErrPersistence, tx.Error)
	}

	var rows []sqlAccount
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ordered).
		Order("id").
		Find(&rows).Error
	if err != nil {
		tx.Rollback()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrLockWait, ctx.Err())
		}
		return nil, fmt.Errorf("%w: lock accounts: %v", domain.ErrPersistence, err)
	}

	accounts := make(map[int64]*sqlAccount, len(rows))
	for i := range rows {
		accounts[rows[i].ID] = &rows[i]
	}
	for i, id := range ordered {
		if i > 0 && id == ordered[i-1] {
			continue
		}
		if _, ok := accounts[id]; !ok {
			tx.Rollback()
			return nil, fmt.Errorf("%w: %d", domain.ErrAccountNotFound, id)
		}
	}
	return &sqlHold{tx: tx, accounts: accounts}, nil
}

func (s *Store) Account(ctx context.Context, id int64) (*domain.Account, error) {
	var row sqlAccount
	err := s.client.DB().WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", domain.ErrAccountNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return toDomainAccount(&row), nil
}

func (s *Store) Accounts(ctx context.Context) ([]*domain.Account, error) {
	var rows []sqlAccount
	if err := s.client.DB().WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	out := make([]*domain.Account, len(rows))
	for i := range rows {
		out[i] = toDomainAccount(&rows[i])
	}
	return out, nil
}

func (s *Store) Balance(ctx context.Context, id int64) (int64, error) {
	acct, err := s.Account(ctx, id)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func (s *Store) OpenAccount(ctx context.Context, acct *domain.Account) error {
	db := s.client.DB().WithContext(ctx)
	if acct.PlanID != 0 {
		var plan sqlPlan
		if err := db.Where("id = ?", acct.PlanID).First(&plan).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %d", domain.ErrPlanNotFound, acct.PlanID)
			}
			return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
	}
	var existing sqlAccount
	err := db.Where("id = ?", acct.ID).First(&existing).Error
	if err == nil {
		return fmt.Errorf("%w: %d", domain.ErrAccountExists, acct.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	row := sqlAccount{
		ID:         acct.ID,
		Currency:   acct.Currency,
		Balance:    acct.Balance,
		OpenAmount: acct.OpenAmount,
		OpenedAt:   acct.OpenedAt,
		State:      uint8(acct.State),
		PlanID:     acct.PlanID,
	}
	if err := db.Create(&row).Error; err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (s *Store) MarkLost(ctx context.Context, id int64) error {
	db := s.client.DB().WithContext(ctx)
	res := db.Model(&sqlAccount{}).Where("id = ?", id).
		Update("state", uint8(domain.StateLost))
	if res.Error != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		// MySQL reports changed rows, so an already-lost account also lands
		// here. MarkLost is idempotent; only a missing row is an error.
		var count int64
		if err := db.Model(&sqlAccount{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %d", domain.ErrAccountNotFound, id)
		}
	}
	return nil
}

func (s *Store) CloseAccount(ctx context.Context, id int64) error {
	db := s.client.DB().WithContext(ctx)
	var count int64
	if err := db.Model(&sqlRecord{}).Where("account_id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %d records", domain.ErrAccountInUse, count)
	}
	res := db.Where("id = ?", id).Delete(&sqlAccount{})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", domain.ErrAccountNotFound, id)
	}
	return nil
}

// sqlHold carries the open transaction with the locked rows.
type sqlHold struct {
	tx       *gorm.DB
	accounts map[int64]*sqlAccount
	done     bool
}

func (h *sqlHold) ApplyDelta(accountID, delta int64, remark string, ref uuid.UUID) (int64, *domain.TransactionRecord, error) {
	row, ok := h.accounts[accountID]
	if !ok {
		return 0, nil, fmt.Errorf("%w: %d not held", domain.ErrAccountNotFound, accountID)
	}
	if domain.AccountState(row.State) == domain.StateLost {
		return 0, nil, fmt.Errorf("%w: account %d", domain.ErrAccountLocked, accountID)
	}
	if delta == 0 {
		return row.Balance, nil, nil
	}
	next := row.Balance + delta
	if next < 0 {
		return 0, nil, domain.ErrInsufficientFunds
	}

	rec := domain.DeriveRecord(accountID, delta, remark, ref, time.Now())
	sqlRec := sqlRecord{
		AccountID: rec.AccountID,
		RefID:     ref[:],
		Amount:    rec.Amount,
		Kind:      uint8(rec.Kind),
		Remark:    rec.Remark,
		CreatedAt: rec.CreatedAt,
	}
	if err := h.tx.Create(&sqlRec).Error; err != nil {
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	err := h.tx.Model(&sqlAccount{}).Where("id = ?", accountID).
		Update("balance", next).Error
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	row.Balance = next
	rec.ID = sqlRec.ID
	return next, rec, nil
}

func (h *sqlHold) Undo(rec *domain.TransactionRecord) error {
	if rec == nil {
		return nil
	}
	row, ok := h.accounts[rec.AccountID]
	if !ok {
		return fmt.Errorf("%w: %d not held", domain.ErrAccountNotFound, rec.AccountID)
	}
	next := row.Balance - rec.Signed()
	err := h.tx.Model(&sqlAccount{}).Where("id = ?", rec.AccountID).
		Update("balance", next).Error
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	row.Balance = next
	if err := h.tx.Where("id = ?", rec.ID).Delete(&sqlRecord{}).Error; err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (h *sqlHold) RecordTransfer(fromID, toID, amount int64, remark string, ref uuid.UUID, fromRecordID, toRecordID int64) (*domain.TransferRecord, error) {
	row := sqlTransfer{
		FromAccountID: fromID,
		ToAccountID:   toID,
		RefID:         ref[:],
		Amount:        amount,
		Remark:        remark,
		FromRecordID:  fromRecordID,
		ToRecordID:    toRecordID,
		CreatedAt:     time.Now(),
	}
	if err := h.tx.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	err := h.tx.Model(&sqlRecord{}).
		Where("id IN ?", []int64{fromRecordID, toRecordID}).
		Update("transfer_id", row.ID).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return toDomainTransfer(&row), nil
}

func (h *sqlHold) Release() error {
	if h.done {
		return nil
	}
	h.done = true
	if err := h.tx.Commit().Error; err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (h *sqlHold) Discard() {
	if h.done {
		return
	}
	h.done = true
	h.tx.Rollback()
}

func toDomainAccount(row *sqlAccount) *domain.Account {
	return &domain.Account{
		ID:         row.ID,
		Currency:   row.Currency,
		Balance:    row.Balance,
		OpenAmount: row.OpenAmount,
		OpenedAt:   row.OpenedAt,
		State:      domain.AccountState(row.State),
		PlanID:     row.PlanID,
	}
}

func toDomainRecord(row *sqlRecord) *domain.TransactionRecord {
	ref, _ := uuid.FromBytes(row.RefID)
	return &domain.TransactionRecord{
		ID:         row.ID,
		AccountID:  row.AccountID,
		Amount:     row.Amount,
		Kind:       domain.RecordKind(row.Kind),
		Remark:     row.Remark,
		TransferID: row.TransferID,
		RefID:      ref,
		CreatedAt:  row.CreatedAt,
	}
}

func toDomainTransfer(row *sqlTransfer) *domain.TransferRecord {
	ref, _ := uuid.FromBytes(row.RefID)
	return &domain.TransferRecord{
		ID:           row.ID,
		FromID:       row.FromAccountID,
		ToID:         row.ToAccountID,
		Amount:       row.Amount,
		Remark:       row.Remark,
		RefID:        ref,
		FromRecordID: row.FromRecordID,
		ToRecordID:   row.ToRecordID,
		CreatedAt:    row.CreatedAt,
	}
}

var (
	_ usecase.LedgerStore = (*Store)(nil)
	_ usecase.Hold        = (*sqlHold)(nil)
)
