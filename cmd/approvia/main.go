package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/approvia/approvia/internal/app"
	"github.com/approvia/approvia/internal/budget"
	"github.com/approvia/approvia/internal/masterdata"
	"github.com/approvia/approvia/internal/notify"
	"github.com/approvia/approvia/internal/observability"
	"github.com/approvia/approvia/internal/platform/cache"
	"github.com/approvia/approvia/internal/platform/db"
	"github.com/approvia/approvia/internal/policy"
	"github.com/approvia/approvia/internal/request"
	"github.com/approvia/approvia/internal/shared"
	"github.com/approvia/approvia/jobs"
)

func mustDecimal(logger *slog.Logger, name, value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		logger.Error("parse config decimal", slog.String("name", name), slog.Any("error", err))
		os.Exit(1)
	}
	return d
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	budgetRepo := budget.NewRepository(dbpool)
	ledger := budget.NewLedger(budgetRepo, auditLogger, logger, budget.LedgerConfig{
		AssertInvariants: !cfg.IsProduction(),
	})

	policyRepo := policy.NewRepository(dbpool)
	policyCache := policy.NewCache(redisClient, cfg.PolicyCacheTTL)
	resolver := policy.NewResolver(policyRepo, policyCache, auditLogger, logger)

	masterdataRepo := masterdata.NewRepository(dbpool)
	masterdataService := masterdata.NewService(masterdataRepo)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	requestRepo := request.NewRepository(dbpool, idempotencyStore)
	requestService := request.NewService(requestRepo, resolver, auditLogger, jobClient, logger, request.WorkflowConfig{
		Gate: request.GateConfig{
			TaxRate:            mustDecimal(logger, "TAX_RATE", cfg.TaxRate),
			TaxTolerance:       mustDecimal(logger, "TAX_TOLERANCE", cfg.TaxTolerance),
			QuotationThreshold: mustDecimal(logger, "QUOTATION_THRESHOLD", cfg.QuotationThreshold),
		},
		OwnerDirectLimit: mustDecimal(logger, "OWNER_DIRECT_LIMIT", cfg.OwnerDirectLimit),
		DirectorLimit:    mustDecimal(logger, "DIRECTOR_LIMIT", cfg.DirectorLimit),
		CFOLimit:         mustDecimal(logger, "CFO_LIMIT", cfg.CFOLimit),
		DefaultCurrency:  cfg.DefaultCurrency,
	})

	notifyRepo := notify.NewRepository(dbpool)
	notifyService := notify.NewService(notifyRepo, notify.NewRequestSource(requestRepo), logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		RequestHandler:    request.NewHandler(logger, requestService),
		BudgetHandler:     budget.NewHandler(logger, ledger),
		PolicyHandler:     policy.NewHandler(logger, resolver),
		MasterDataHandler: masterdata.NewHandler(logger, masterdataService),
		NotifyHandler:     notify.NewHandler(logger, notifyService),
		JobHandler:        jobHandler,
		Pool:              dbpool,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
