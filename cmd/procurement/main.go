package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/procurement/cmd/procurement/cli"
	"github.com/odyssey-erp/procurement/internal/app"
	"github.com/odyssey-erp/procurement/internal/masterdata/suppliers"
	"github.com/odyssey-erp/procurement/internal/observability"
	"github.com/odyssey-erp/procurement/internal/platform/cache"
	"github.com/odyssey-erp/procurement/internal/platform/db"
	"github.com/odyssey-erp/procurement/internal/procurement"
	"github.com/odyssey-erp/procurement/jobs"
	"github.com/odyssey-erp/procurement/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	switch command {
	case "serve":
		err = serve(ctx, stop, cfg, logger)
	case "migrate":
		err = db.Migrate(cfg.PGDSN, migrations.FS, logger)
	case "jobs":
		err = runJobs(ctx, cfg, os.Args[2:])
	default:
		err = fmt.Errorf("unknown command %q (serve, migrate, jobs)", command)
	}
	if err != nil {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		_ = jobsCLI.Close()
	}()
	return jobsCLI.Run(ctx, args, os.Stdout)
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, migrations.FS, logger); err != nil {
			return err
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient := connectRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	integrations := app.NewIntegrations(cfg, metrics, logger)

	procurementRepo := procurement.NewRepository(dbpool)
	dispatcher := procurement.NewDispatcher(procurementRepo, integrations.Inventory, integrations.Finance, cfg.OutboxStaleAfter, logger)
	procurementService := procurement.NewService(procurementRepo, dispatcher, integrations.Audit, logger)
	procurementHandler := procurement.NewHandler(logger, procurementService)

	supplierService := suppliers.NewService(suppliers.NewRepository(dbpool), integrations.Audit)
	supplierHandler := suppliers.NewHandler(logger, supplierService)

	var inspector jobs.QueueInspector
	if cfg.RedisAddr != "" {
		asynqInspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := asynqInspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		inspector = asynqInspector
	}
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SupplierHandler:    supplierHandler,
		ProcurementHandler: procurementHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
		RateLimits:         app.NewRateLimits(cfg, redisClient, metrics, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	// leftovers stay pending for the worker's outbox sweep
	if err := procurementService.Drain(shutdownCtx); err != nil {
		logger.Warn("receipt dispatch still running at exit", slog.Any("error", err))
	}
	return nil
}

// connectRedis returns nil when Redis is not configured or unreachable; rate limits then
// count per process.
func connectRedis(ctx context.Context, cfg *app.Config, logger *slog.Logger) *redis.Client {
	client, err := cache.New(ctx, cfg.RedisAddr)
	switch {
	case errors.Is(err, cache.ErrDisabled):
		logger.Info("redis not configured, using in-process rate limit counters")
		return nil
	case err != nil:
		logger.Warn("redis unavailable, using in-process rate limit counters", slog.Any("error", err))
		return nil
	}
	return client
}
