package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/adapter/in/rest"
	memory_adapter "github.com/kychen0817/go-bank-ledger/internal/app/ledger/adapter/out/memory"
	mysql_adapter "github.com/kychen0817/go-bank-ledger/internal/app/ledger/adapter/out/mysql"
	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/audit"
	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/domain"
	"github.com/kychen0817/go-bank-ledger/internal/app/ledger/usecase"
	"github.com/kychen0817/go-bank-ledger/pkg/journal"
	"github.com/kychen0817/go-bank-ledger/pkg/logger"
	"github.com/kychen0817/go-bank-ledger/pkg/mysql"
)

const (
	storageMemory = "memory"
	storageMySQL  = "mysql"
)

type seedPlan struct {
	ID          int64  `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	TermMonths  int    `yaml:"term_months"`
}

type seedAccount struct {
	ID         int64  `yaml:"id"`
	Currency   string `yaml:"currency"`
	PlanID     int64  `yaml:"plan_id"`
	OpenAmount string `yaml:"open_amount"`
}

type engineConfig struct {
	AcquireTimeoutMS int `yaml:"acquire_timeout_ms"`
	MaxAttempts      int `yaml:"max_attempts"`
}

type Config struct {
	Listen      string       `yaml:"listen"`
	LogLevel    string       `yaml:"log_level"`
	AdminToken  string       `yaml:"admin_token"`
	Storage     string       `yaml:"storage"`
	JournalPath string       `yaml:"journal_path"`
	MySQL       mysql.Config `yaml:"mysql"`
	Engine      engineConfig `yaml:"engine"`
	Seed        struct {
		Plans    []seedPlan    `yaml:"plans"`
		Accounts []seedAccount `yaml:"accounts"`
	} `yaml:"seed"`
}

func main() {
	cfgPath := flag.String("config", "config/config.yaml", "path to the yaml config file")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		boot := logger.New("info")
		boot.Fatal().Err(err).Str("path", *cfgPath).Msg("load config")
	}
	log := logger.New(cfg.LogLevel)

	engineCfg := usecase.Config{
		AcquireTimeout: time.Duration(cfg.Engine.AcquireTimeoutMS) * time.Millisecond,
		MaxAttempts:    cfg.Engine.MaxAttempts,
	}

	var (
		store usecase.LedgerStore
		trail usecase.AuditTrail
		plans usecase.PlanCatalog
		stop  func()
	)
	switch cfg.Storage {
	case storageMemory, "":
		store, trail, plans, stop = buildMemory(cfg, log)
	case storageMySQL:
		store, trail, plans, stop = buildMySQL(cfg, log)
	default:
		log.Fatal().Str("storage", cfg.Storage).Msg("unknown storage backend")
	}
	defer stop()

	engine := usecase.NewEngine(store, trail, log, engineCfg)
	reporter := usecase.NewReporter(store, trail, plans)
	server := rest.NewServer(engine, reporter, plans, log, cfg.AdminToken)

	go func() {
		log.Info().Str("listen", cfg.Listen).Str("storage", cfg.Storage).Msg("ledger server starting")
		if err := server.Listen(cfg.Listen); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	if err := server.Shutdown(); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("server exited")
}

func buildMemory(cfg Config, log zerolog.Logger) (usecase.LedgerStore, usecase.AuditTrail, usecase.PlanCatalog, func()) {
	path := cfg.JournalPath
	if path == "" {
		path = "ledger.journal"
	}
	j, err := journal.Open(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("open journal")
	}
	recorder, err := audit.NewRecorder(j)
	if err != nil {
		log.Fatal().Err(err).Msg("replay journal")
	}

	accounts, plans, err := seedEntities(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid seed")
	}
	store, err := memory_adapter.NewStore(accounts, plans, recorder)
	if err != nil {
		log.Fatal().Err(err).Msg("init memory store")
	}
	log.Info().Int("accounts", len(accounts)).Int("plans", len(plans)).Str("journal", path).Msg("memory ledger ready")
	return store, recorder, store, func() {
		if err := j.Close(); err != nil {
			log.Error().Err(err).Msg("close journal")
		}
	}
}

func buildMySQL(cfg Config, log zerolog.Logger) (usecase.LedgerStore, usecase.AuditTrail, usecase.PlanCatalog, func()) {
	client, err := mysql.NewClient(cfg.MySQL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to mysql")
	}
	store := mysql_adapter.NewStore(client)
	if err := store.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}
	seedMySQL(cfg, store, log)
	log.Info().Str("host", cfg.MySQL.Host).Msg("mysql ledger ready")
	return store, store, store, func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("close mysql")
		}
	}
}

func seedEntities(cfg Config) ([]*domain.Account, []*domain.Plan, error) {
	plans := make([]*domain.Plan, 0, len(cfg.Seed.Plans))
	for _, p := range cfg.Seed.Plans {
		plans = append(plans, &domain.Plan{ID: p.ID, Name: p.Name, Description: p.Description, TermMonths: p.TermMonths})
	}
	accounts := make([]*domain.Account, 0, len(cfg.Seed.Accounts))
	for _, a := range cfg.Seed.Accounts {
		open, err := domain.ParseAmount(a.OpenAmount)
		if err != nil {
			return nil, nil, err
		}
		acct, err := domain.NewAccount(a.ID, a.Currency, a.PlanID, open, time.Now())
		if err != nil {
			return nil, nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, plans, nil
}

// seedMySQL inserts the configured plans and accounts, skipping rows that
// already exist so restarts are safe.
func seedMySQL(cfg Config, store *mysql_adapter.Store, log zerolog.Logger) {
	ctx := context.Background()
	accounts, plans, err := seedEntities(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid seed")
	}
	for _, p := range plans {
		if _, err := store.AddPlan(ctx, p); err != nil {
			log.Warn().Err(err).Int64("plan_id", p.ID).Msg("seed plan skipped")
		}
	}
	for _, a := range accounts {
		err := store.OpenAccount(ctx, a)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrAccountExists):
		default:
			log.Fatal().Err(err).Int64("account_id", a.ID).Msg("seed account")
		}
	}
}

func loadConfig(path string) (Config, error) {
	cfg := Config{
		Listen:   ":8080",
		LogLevel: "info",
		Storage:  storageMemory,
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	return cfg, nil
}
