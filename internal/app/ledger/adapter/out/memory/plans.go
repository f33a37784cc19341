package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/domain"
)

// AddPlan registers a savings plan and returns its assigned id.
func (s *Store) AddPlan(ctx context.Context, p *domain.Plan) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p.Clone()
	cp.ID = s.nextPlanID
	s.nextPlanID++
	s.plans[cp.ID] = cp
	return cp.ID, nil
}

// Plan returns a snapshot copy of one plan.
func (s *Store) Plan(ctx context.Context, id int64) (*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrPlanNotFound, id)
	}
	return p.Clone(), nil
}

// Plans returns every plan ordered by id.
func (s *Store) Plans(ctx context.Context) ([]*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdatePlan replaces a plan's mutable fields.
func (s *Store) UpdatePlan(ctx context.Context, p *domain.Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[p.ID]; !ok {
		return fmt.Errorf("%w: %d", domain.ErrPlanNotFound, p.ID)
	}
	s.plans[p.ID] = p.Clone()
	return nil
}

// DeletePlan removes a plan no account references. PlanID is immutable after
// an account is opened, so reading it without the account lock is safe.
func (s *Store) DeletePlan(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[id]; !ok {
		return fmt.Errorf("%w: %d", domain.ErrPlanNotFound, id)
	}
	for _, sl := range s.accounts {
		if sl.acct.PlanID == id {
			return fmt.Errorf("%w: plan %d", domain.ErrPlanInUse, id)
		}
	}
	delete(s.plans, id)
	return nil
}
