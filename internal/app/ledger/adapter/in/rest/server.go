// Package rest exposes the ledger over HTTP.
package rest

import (
	"crypto/subtle"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/domain"
	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/usecase"
)

type Server struct {
	app        *fiber.App
	engine     *usecase.Engine
	reporter   *usecase.Reporter
	plans      usecase.PlanCatalog
	validate   *validator.Validate
	log        zerolog.Logger
	adminToken string
}

func NewServer(engine *usecase.Engine, reporter *usecase.Reporter, plans usecase.PlanCatalog, log zerolog.Logger, adminToken string) *Server {
	s := &Server{
		app:        fiber.New(fiber.Config{DisableStartupMessage: true}),
		engine:     engine,
		reporter:   reporter,
		plans:      plans,
		validate:   validator.New(),
		log:        log,
		adminToken: adminToken,
	}
	s.routes()
	return s
}

// App returns the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

func (s *Server) Shutdown() error { return s.app.Shutdown() }

func (s *Server) routes() {
	s.app.Use(recover.New())

	s.app.Post("/accounts", s.openAccount)
	s.app.Get("/accounts", s.listAccounts)
	s.app.Get("/accounts/:id", s.getAccount)
	s.app.Get("/accounts/:id/balance", s.getBalance)
	s.app.Post("/accounts/:id/deposit", s.deposit)
	s.app.Post("/accounts/:id/withdraw", s.withdraw)
	s.app.Post("/accounts/:id/report-loss", s.reportLoss)
	s.app.Delete("/accounts/:id", s.closeAccount)

	s.app.Post("/transfers", s.transfer)
	s.app.Get("/transfers", s.listTransfers)

	s.app.Get("/transactions", s.listTransactions)
	s.app.Delete("/transactions/:id", s.requireAdmin, s.deleteTransaction)

	s.app.Get("/reports/statement/:id", s.statement)
	s.app.Get("/reports/period", s.periodSummary)
	s.app.Get("/reports/bank", s.bankSummary)
	s.app.Get("/reports/products", s.productBreakdown)

	s.app.Post("/plans", s.addPlan)
	s.app.Get("/plans", s.listPlans)
	s.app.Get("/plans/:id", s.getPlan)
	s.app.Put("/plans/:id", s.updatePlan)
	s.app.Delete("/plans/:id", s.deletePlan)
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := statusOf(err)
	if status >= fiber.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) requireAdmin(c *fiber.Ctx) error {
	token := c.Get("X-Admin-Token")
	if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "admin token required"})
	}
	return c.Next()
}

func pathID(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}

func parseRef(v string) (uuid.UUID, error) {
	if v == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(v)
}

func (s *Server) openAccount(c *fiber.Ctx) error {
	var req openAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return s.badRequest(c, err)
	}
	openAmount, err := domain.ParseAmount(req.OpenAmount)
	if err != nil {
		return s.fail(c, err)
	}
	acct, err := s.engine.OpenAccount(c.Context(), req.AccountID, req.Currency, req.PlanID, openAmount)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toAccountResponse(acct))
}

func (s *Server) listAccounts(c *fiber.Ctx) error {
	accts, err := s.engine.Accounts(c.Context())
	if err != nil {
		return s.fail(c, err)
	}
	out := make([]accountResponse, len(accts))
	for i, a := range accts {
		out[i] = toAccountResponse(a)
	}
	return c.JSON(out)
}

func (s *Server) getAccount(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	acct, err := s.engine.Account(c.Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(toAccountResponse(acct))
}

func (s *Server) getBalance(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	bal, err := s.engine.Balance(c.Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(balanceResponse{AccountID: id, Balance: domain.FormatAmount(bal)})
}

func (s *Server) deposit(c *fiber.Ctx) error {
	return s.applyAmount(c, true)
}

func (s *Server) withdraw(c *fiber.Ctx) error {
	return s.applyAmount(c, false)
}

func (s *Server) applyAmount(c *fiber.Ctx, deposit bool) error {
	id, err := pathID(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return s.badRequest(c, err)
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return s.fail(c, err)
	}
	ref, err := parseRef(req.RefID)
	if err != nil {
		return s.badRequest(c, err)
	}
	var balance int64
	var rec *domain.TransactionRecord
	if deposit {
		balance, rec, err = s.engine.Deposit(c.Context(), id, amount, req.Remark, ref)
	} else {
		balance, rec, err = s.engine.Withdraw(c.Context(), id, amount, req.Remark, ref)
	}
	if err != nil {
		return s.fail(c, err)
	}
	resp := mutationResponse{AccountID: id, Balance: domain.FormatAmount(balance)}
	if rec != nil {
		r := toRecordResponse(rec)
		resp.Record = &r
	}
	return c.JSON(resp)
}

func (s *Server) reportLoss(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	if err := s.engine.ReportLoss(c.Context(), id); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) closeAccount(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	if err := s.engine.CloseAccount(c.Context(), id); err != nil {
		return s.fail(c, err)
	}
	s.log.Info().Int64("account", id).Msg("account closed")
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return s.badRequest(c, err)
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return s.fail(c, err)
	}
	ref, err := parseRef(req.RefID)
	if err != nil {
		return s.badRequest(c, err)
	}
	tr, err := s.engine.Transfer(c.Context(), req.From, req.To, amount, req.Remark, ref)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toTransferResponse(tr))
}

func (s *Server) recordQuery(c *fiber.Ctx) (domain.RecordQuery, error) {
	var q domain.RecordQuery
	if v := c.Query("account_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return q, err
		}
		q.AccountID = id
	}
	from, to, err := parseRange(c)
	if err != nil {
		return q, err
	}
	q.From, q.To = from, to
	return q, nil
}

func (s *Server) listTransactions(c *fiber.Ctx) error {
	q, err := s.recordQuery(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	recs, err := s.engine.Transactions(c.Context(), q)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(toRecordResponses(recs))
}

func (s *Server) listTransfers(c *fiber.Ctx) error {
	q, err := s.recordQuery(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	trs, err := s.engine.TransferHistory(c.Context(), q)
	if err != nil {
		return s.fail(c, err)
	}
	out := make([]transferResponse, len(trs))
	for i, t := range trs {
		out[i] = toTransferResponse(t)
	}
	return c.JSON(out)
}

func (s *Server) deleteTransaction(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	if err := s.engine.DeleteTransaction(c.Context(), id); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) statement(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	from, to, err := parseRange(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	st, err := s.reporter.AccountStatement(c.Context(), id, from, to)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(toStatementResponse(st))
}

func (s *Server) periodSummary(c *fiber.Ctx) error {
	g, err := usecase.ParseGranularity(c.Query("granularity", string(usecase.GranularityMonth)))
	if err != nil {
		return s.badRequest(c, err)
	}
	q, err := s.recordQuery(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	rows, err := s.reporter.PeriodSummary(c.Context(), g, q.From, q.To, q.AccountID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(toPeriodRows(rows))
}

func (s *Server) bankSummary(c *fiber.Ctx) error {
	sum, err := s.reporter.BankSummary(c.Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(toBankSummaryResponse(sum))
}

func (s *Server) productBreakdown(c *fiber.Ctx) error {
	rows, err := s.reporter.ProductBreakdown(c.Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(toProductRows(rows))
}

func (s *Server) addPlan(c *fiber.Ctx) error {
	var req planRequest
	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return s.badRequest(c, err)
	}
	p := &domain.Plan{Name: req.Name, Description: req.Description, TermMonths: req.TermMonths}
	id, err := s.plans.AddPlan(c.Context(), p)
	if err != nil {
		return s.fail(c, err)
	}
	p.ID = id
	return c.Status(fiber.StatusCreated).JSON(toPlanResponse(p))
}

func (s *Server) listPlans(c *fiber.Ctx) error {
	plans, err := s.plans.Plans(c.Context())
	if err != nil {
		return s.fail(c, err)
	}
	out := make([]planResponse, len(plans))
	for i, p := range plans {
		out[i] = toPlanResponse(p)
	}
	return c.JSON(out)
}

func (s *Server) getPlan(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	p, err := s.plans.Plan(c.Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(toPlanResponse(p))
}

func (s *Server) updatePlan(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	var req planRequest
	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return s.badRequest(c, err)
	}
	p := &domain.Plan{ID: id, Name: req.Name, Description: req.Description, TermMonths: req.TermMonths}
	if err := s.plans.UpdatePlan(c.Context(), p); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(toPlanResponse(p))
}

func (s *Server) deletePlan(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return s.badRequest(c, err)
	}
	if err := s.plans.DeletePlan(c.Context(), id); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
