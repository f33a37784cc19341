package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/domain"
)

// Granularity selects the bucket size of a period summary.
type Granularity string

const (
	GranularityMonth Granularity = "month"
	GranularityYear  Granularity = "year"
)

// ParseGranularity validates a user-supplied granularity string.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case GranularityMonth, GranularityYear:
		return Granularity(s), nil
	default:
		return "", fmt.Errorf("unknown granularity %q", s)
	}
}

// Statement is one account's activity over a range plus its current snapshot.
type Statement struct {
	AccountID        int64
	Currency         string
	State            domain.AccountState
	Balance          int64
	TotalDeposits    int64
	TotalWithdrawals int64
	Records          []*domain.TransactionRecord // most recent first
}

// PeriodRow aggregates one account's records within one period bucket.
type PeriodRow struct {
	Period      string // "2006-01" for month, "2006" for year
	AccountID   int64
	Deposits    int64
	Withdrawals int64
	Count       int
}

// BankSummary is the bank-wide census.
type BankSummary struct {
	Accounts       int
	ActiveAccounts int
	LostAccounts   int
	TotalBalance   int64
	Transactions   int
	Transfers      int
}

// ProductRow aggregates accounts grouped by savings plan.
type ProductRow struct {
	PlanID       int64
	PlanName     string
	TermMonths   int
	Accounts     int
	TotalBalance int64
	AvgBalance   int64
}

// Reporter answers read-only aggregate queries over the audit trail and the
// account snapshot. It has no mutation capability. A transfer contributes one
// withdrawal on its source and one deposit on its destination; each leg is
// counted exactly once, on its own account.
type Reporter struct {
	store LedgerStore
	trail AuditTrail
	plans PlanCatalog
}

func NewReporter(store LedgerStore, trail AuditTrail, plans PlanCatalog) *Reporter {
	return &Reporter{store: store, trail: trail, plans: plans}
}

// AccountStatement returns the account's records in the range, most recent
// first, with deposit/withdrawal totals and the current balance.
func (r *Reporter) AccountStatement(ctx context.Context, accountID int64, from, to time.Time) (*Statement, error) {
	acct, err := r.store.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	recs, err := r.trail.Records(ctx, domain.RecordQuery{AccountID: accountID, From: from, To: to})
	if err != nil {
		return nil, err
	}

	st := &Statement{
		AccountID: acct.ID,
		Currency:  acct.Currency,
		State:     acct.State,
		Balance:   acct.Balance,
		Records:   recs,
	}
	for _, rec := range recs {
		switch rec.Kind {
		case domain.KindDeposit:
			st.TotalDeposits += rec.Amount
		case domain.KindWithdrawal:
			st.TotalWithdrawals += rec.Amount
		}
	}
	return st, nil
}

// PeriodSummary buckets records by month or year within the range, one row
// per period and account, sorted by period then account id. accountID 0
// covers all accounts.
func (r *Reporter) PeriodSummary(ctx context.Context, g Granularity, from, to time.Time, accountID int64) ([]PeriodRow, error) {
	recs, err := r.trail.Records(ctx, domain.RecordQuery{AccountID: accountID, From: from, To: to})
	if err != nil {
		return nil, err
	}

	type key struct {
		period  string
		account int64
	}
	buckets := make(map[key]*PeriodRow)
	for _, rec := range recs {
		k := key{period: periodOf(g, rec.CreatedAt), account: rec.AccountID}
		row, ok := buckets[k]
		if !ok {
			row = &PeriodRow{Period: k.period, AccountID: k.account}
			buckets[k] = row
		}
		switch rec.Kind {
		case domain.KindDeposit:
			row.Deposits += rec.Amount
		case domain.KindWithdrawal:
			row.Withdrawals += rec.Amount
		}
		row.Count++
	}

	rows := make([]PeriodRow, 0, len(buckets))
	for _, row := range buckets {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Period != rows[j].Period {
			return rows[i].Period < rows[j].Period
		}
		return rows[i].AccountID < rows[j].AccountID
	})
	return rows, nil
}

func periodOf(g Granularity, at time.Time) string {
	if g == GranularityYear {
		return at.Format("2006")
	}
	return at.Format("2006-01")
}

// BankSummary counts accounts by state and totals balances and trail entries.
func (r *Reporter) BankSummary(ctx context.Context) (*BankSummary, error) {
	accts, err := r.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := r.trail.Records(ctx, domain.RecordQuery{})
	if err != nil {
		return nil, err
	}
	tfs, err := r.trail.Transfers(ctx, domain.RecordQuery{})
	if err != nil {
		return nil, err
	}

	sum := &BankSummary{
		Accounts:     len(accts),
		Transactions: len(recs),
		Transfers:    len(tfs),
	}
	for _, a := range accts {
		sum.TotalBalance += a.Balance
		if a.State == domain.StateLost {
			sum.LostAccounts++
		} else {
			sum.ActiveAccounts++
		}
	}
	return sum, nil
}

// ProductBreakdown totals balances per savings plan, highest total first.
// Accounts without a plan are grouped under plan id 0.
func (r *Reporter) ProductBreakdown(ctx context.Context) ([]ProductRow, error) {
	accts, err := r.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	plans, err := r.plans.Plans(ctx)
	if err != nil {
		return nil, err
	}

	rows := make(map[int64]*ProductRow, len(plans)+1)
	for _, p := range plans {
		rows[p.ID] = &ProductRow{PlanID: p.ID, PlanName: p.Name, TermMonths: p.TermMonths}
	}
	for _, a := range accts {
		row, ok := rows[a.PlanID]
		if !ok {
			row = &ProductRow{PlanID: a.PlanID}
			rows[a.PlanID] = row
		}
		row.Accounts++
		row.TotalBalance += a.Balance
	}

	out := make([]ProductRow, 0, len(rows))
	for _, row := range rows {
		if row.Accounts > 0 {
			row.AvgBalance = row.TotalBalance / int64(row.Accounts)
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalBalance != out[j].TotalBalance {
			return out[i].TotalBalance > out[j].TotalBalance
		}
		return out[i].PlanID < out[j].PlanID
	})
	return out, nil
}
