package domain

import "errors"

// Plan is a savings product an account is opened under. TermMonths 0 means a
// demand deposit with no fixed term.
type Plan struct {
	ID          int64
	Name        string
	Description string
	TermMonths  int
}

// ErrPlanInvalid is returned for a plan that fails validation.
var ErrPlanInvalid = errors.New("invalid savings plan")

// Validate checks the fields that the catalogue requires.
func (p *Plan) Validate() error {
	if p.Name == "" {
		return ErrPlanInvalid
	}
	if p.TermMonths < 0 {
		return ErrPlanInvalid
	}
	return nil
}

// Clone returns a copy safe to hand outside the catalogue.
func (p *Plan) Clone() *Plan {
	cp := *p
	return &cp
}
