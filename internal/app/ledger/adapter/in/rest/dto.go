package rest

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/domain"
	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/usecase"
)

type openAccountRequest struct {
	AccountID  int64  `json:"account_id" validate:"required,gt=0"`
	Currency   string `json:"currency" validate:"required,len=3"`
	PlanID     int64  `json:"plan_id" validate:"omitempty,gt=0"`
	OpenAmount string `json:"open_amount" validate:"required"`
}

type amountRequest struct {
	Amount string `json:"amount" validate:"required"`
	Remark string `json:"remark"`
	RefID  string `json:"ref_id"`
}

type transferRequest struct {
	From   int64  `json:"from" validate:"required,gt=0"`
	To     int64  `json:"to" validate:"required,gt=0"`
	Amount string `json:"amount" validate:"required"`
	Remark string `json:"remark"`
	RefID  string `json:"ref_id"`
}

type planRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	TermMonths  int    `json:"term_months" validate:"gte=0"`
}

type accountResponse struct {
	AccountID int64  `json:"account_id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	State     string `json:"state"`
	PlanID    int64  `json:"plan_id,omitempty"`
	OpenedAt  string `json:"opened_at"`
}

func toAccountResponse(a *domain.Account) accountResponse {
	return accountResponse{
		AccountID: a.ID,
		Currency:  a.Currency,
		Balance:   domain.FormatAmount(a.Balance),
		State:     a.State.String(),
		PlanID:    a.PlanID,
		OpenedAt:  a.OpenedAt.Format(time.RFC3339),
	}
}

type balanceResponse struct {
	AccountID int64  `json:"account_id"`
	Balance   string `json:"balance"`
}

type recordResponse struct {
	ID         int64  `json:"id"`
	AccountID  int64  `json:"account_id"`
	Amount     string `json:"amount"`
	Kind       string `json:"kind"`
	Remark     string `json:"remark,omitempty"`
	TransferID int64  `json:"transfer_id,omitempty"`
	RefID      string `json:"ref_id"`
	CreatedAt  string `json:"created_at"`
}

func toRecordResponse(r *domain.TransactionRecord) recordResponse {
	return recordResponse{
		ID:         r.ID,
		AccountID:  r.AccountID,
		Amount:     domain.FormatAmount(r.Amount),
		Kind:       r.Kind.String(),
		Remark:     r.Remark,
		TransferID: r.TransferID,
		RefID:      r.RefID.String(),
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
	}
}

func toRecordResponses(recs []*domain.TransactionRecord) []recordResponse {
	out := make([]recordResponse, len(recs))
	for i, r := range recs {
		out[i] = toRecordResponse(r)
	}
	return out
}

type transferResponse struct {
	ID           int64  `json:"id"`
	From         int64  `json:"from"`
	To           int64  `json:"to"`
	Amount       string `json:"amount"`
	Remark       string `json:"remark,omitempty"`
	RefID        string `json:"ref_id"`
	FromRecordID int64  `json:"from_record_id"`
	ToRecordID   int64  `json:"to_record_id"`
	CreatedAt    string `json:"created_at"`
}

func toTransferResponse(t *domain.TransferRecord) transferResponse {
	return transferResponse{
		ID:           t.ID,
		From:         t.FromID,
		To:           t.ToID,
		Amount:       domain.FormatAmount(t.Amount),
		Remark:       t.Remark,
		RefID:        t.RefID.String(),
		FromRecordID: t.FromRecordID,
		ToRecordID:   t.ToRecordID,
		CreatedAt:    t.CreatedAt.Format(time.RFC3339),
	}
}

type mutationResponse struct {
	AccountID int64           `json:"account_id"`
	Balance   string          `json:"balance"`
	Record    *recordResponse `json:"record,omitempty"`
}

type statementResponse struct {
	AccountID        int64            `json:"account_id"`
	Currency         string           `json:"currency"`
	State            string           `json:"state"`
	Balance          string           `json:"balance"`
	TotalDeposits    string           `json:"total_deposits"`
	TotalWithdrawals string           `json:"total_withdrawals"`
	Records          []recordResponse `json:"records"`
}

type periodRowResponse struct {
	Period      string `json:"period"`
	AccountID   int64  `json:"account_id"`
	Deposits    string `json:"deposits"`
	Withdrawals string `json:"withdrawals"`
	Count       int    `json:"count"`
}

type bankSummaryResponse struct {
	Accounts       int    `json:"accounts"`
	ActiveAccounts int    `json:"active_accounts"`
	LostAccounts   int    `json:"lost_accounts"`
	TotalBalance   string `json:"total_balance"`
	Transactions   int    `json:"transactions"`
	Transfers      int    `json:"transfers"`
}

type productRowResponse struct {
	PlanID       int64  `json:"plan_id"`
	PlanName     string `json:"plan_name,omitempty"`
	TermMonths   int    `json:"term_months"`
	Accounts     int    `json:"accounts"`
	TotalBalance string `json:"total_balance"`
	AvgBalance   string `json:"avg_balance"`
}

type planResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TermMonths  int    `json:"term_months"`
}

func toPlanResponse(p *domain.Plan) planResponse {
	return planResponse{ID: p.ID, Name: p.Name, Description: p.Description, TermMonths: p.TermMonths}
}

func toStatementResponse(s *usecase.Statement) statementResponse {
	return statementResponse{
		AccountID:        s.AccountID,
		Currency:         s.Currency,
		State:            s.State.String(),
		Balance:          domain.FormatAmount(s.Balance),
		TotalDeposits:    domain.FormatAmount(s.TotalDeposits),
		TotalWithdrawals: domain.FormatAmount(s.TotalWithdrawals),
		Records:          toRecordResponses(s.Records),
	}
}

func toPeriodRows(rows []usecase.PeriodRow) []periodRowResponse {
	out := make([]periodRowResponse, len(rows))
	for i, r := range rows {
		out[i] = periodRowResponse{
			Period:      r.Period,
			AccountID:   r.AccountID,
			Deposits:    domain.FormatAmount(r.Deposits),
			Withdrawals: domain.FormatAmount(r.Withdrawals),
			Count:       r.Count,
		}
	}
	return out
}

func toBankSummaryResponse(s *usecase.BankSummary) bankSummaryResponse {
	return bankSummaryResponse{
		Accounts:       s.Accounts,
		ActiveAccounts: s.ActiveAccounts,
		LostAccounts:   s.LostAccounts,
		TotalBalance:   domain.FormatAmount(s.TotalBalance),
		Transactions:   s.Transactions,
		Transfers:      s.Transfers,
	}
}

func toProductRows(rows []usecase.ProductRow) []productRowResponse {
	out := make([]productRowResponse, len(rows))
	for i, r := range rows {
		out[i] = productRowResponse{
			PlanID:       r.PlanID,
			PlanName:     r.PlanName,
			TermMonths:   r.TermMonths,
			Accounts:     r.Accounts,
			TotalBalance: domain.FormatAmount(r.TotalBalance),
			AvgBalance:   domain.FormatAmount(r.AvgBalance),
		}
	}
	return out
}

// statusOf maps domain errors onto HTTP statuses. The handler renders the
// error; callers never infer success from absence of a body.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrRecordNotFound),
		errors.Is(err, domain.ErrPlanNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrAmountNotPositive),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidCurrency),
		errors.Is(err, domain.ErrInvalidAccountID),
		errors.Is(err, domain.ErrSameAccount),
		errors.Is(err, domain.ErrPlanInvalid):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAccountLocked):
		return fiber.StatusLocked
	case errors.Is(err, domain.ErrAccountExists),
		errors.Is(err, domain.ErrAccountInUse),
		errors.Is(err, domain.ErrPlanInUse):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrConcurrency), errors.Is(err, domain.ErrLockWait):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// parseRange reads optional from/to query parameters, accepting a plain date
// or RFC 3339. The "to" side of a plain date extends to the end of that day.
func parseRange(c *fiber.Ctx) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if v := c.Query("from"); v != "" {
		from, err = parseTime(v, false)
		if err != nil {
			return from, to, err
		}
	}
	if v := c.Query("to"); v != "" {
		to, err = parseTime(v, true)
		if err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}

func parseTime(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
