package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/approvia/approvia/internal/app"
	"github.com/approvia/approvia/internal/notify"
	"github.com/approvia/approvia/internal/platform/cache"
	"github.com/approvia/approvia/internal/platform/db"
	"github.com/approvia/approvia/internal/policy"
	"github.com/approvia/approvia/internal/request"
	"github.com/approvia/approvia/internal/shared"
	"github.com/approvia/approvia/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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
	locker := redislock.New(redisClient)

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	requestRepo := request.NewRepository(pool, idempotencyStore)

	policyRepo := policy.NewRepository(pool)
	policyCache := policy.NewCache(redisClient, cfg.PolicyCacheTTL)
	resolver := policy.NewResolver(policyRepo, policyCache, auditLogger, logger)

	notifyRepo := notify.NewRepository(pool)
	notifyService := notify.NewService(notifyRepo, notify.NewRequestSource(requestRepo), logger)

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

	dispatchJob := jobs.NewNotifyDispatchJob(notifyService, logger, nil)
	escalationJob := jobs.NewEscalationScanJob(requestRepo, resolver, jobClient, locker, logger, nil)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger, nil)

	escalationTask, err := jobs.NewEscalationScanTask(jobs.EscalationScanPayload{
		DefaultAfterHours: cfg.EscalationAfterHours,
	})
	if err != nil {
		logger.Error("build escalation task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.IdempotencyCleanupPayload{
		RetentionHours: cfg.IdempotencyRetention,
	})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeNotifyDispatch, Handler: dispatchJob.Handle},
			{Type: jobs.TaskTypeEscalationScan, Handler: escalationJob.Handle},
			{Type: jobs.TaskTypeIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.EscalationCron, Task: escalationTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
