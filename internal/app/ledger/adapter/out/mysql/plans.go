package mysql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/domain"
	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/usecase"
)

// AddPlan registers a savings plan and returns its assigned id.
func (s *Store) AddPlan(ctx context.Context, p *domain.Plan) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	// A zero ID lets the database assign one; seeds carry explicit ids.
	row := sqlPlan{ID: p.ID, Name: p.Name, Description: p.Description, TermMonths: p.TermMonths}
	if err := s.client.DB().WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return row.ID, nil
}

func (s *Store) Plan(ctx context.Context, id int64) (*domain.Plan, error) {
	var row sqlPlan
	err := s.client.DB().WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", domain.ErrPlanNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return toDomainPlan(&row), nil
}

func (s *Store) Plans(ctx context.Context) ([]*domain.Plan, error) {
	var rows []sqlPlan
	if err := s.client.DB().WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	out := make([]*domain.Plan, len(rows))
	for i := range rows {
		out[i] = toDomainPlan(&rows[i])
	}
	return out, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *domain.Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	res := s.client.DB().WithContext(ctx).Model(&sqlPlan{}).Where("id = ?", p.ID).
		Updates(map[string]any{
			"name":        p.Name,
			"description": p.Description,
			"term_months": p.TermMonths,
		})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", domain.ErrPlanNotFound, p.ID)
	}
	return nil
}

// DeletePlan removes a plan no account references.
func (s *Store) DeletePlan(ctx context.Context, id int64) error {
	db := s.client.DB().WithContext(ctx)
	var count int64
	if err := db.Model(&sqlAccount{}).Where("plan_id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if count > 0 {
		return fmt.Errorf("%w: plan %d", domain.ErrPlanInUse, id)
	}
	res := db.Where("id = ?", id).Delete(&sqlPlan{})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", domain.ErrPlanNotFound, id)
	}
	return nil
}

func toDomainPlan(row *sqlPlan) *domain.Plan {
	return &domain.Plan{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		TermMonths:  row.TermMonths,
	}
}

var _ usecase.PlanCatalog = (*Store)(nil)
