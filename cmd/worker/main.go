package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/fleet-ledger/internal/accounting"
	"github.com/odyssey-erp/fleet-ledger/internal/app"
	"github.com/odyssey-erp/fleet-ledger/internal/events"
	jobmetrics "github.com/odyssey-erp/fleet-ledger/internal/jobs"
	"github.com/odyssey-erp/fleet-ledger/internal/ledgerhooks"
	"github.com/odyssey-erp/fleet-ledger/internal/observability"
	"github.com/odyssey-erp/fleet-ledger/internal/platform/cache"
	"github.com/odyssey-erp/fleet-ledger/internal/platform/db"
	"github.com/odyssey-erp/fleet-ledger/jobs"
)

func main() {
	if app.SkipStartup("worker") {
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

	pool, err := db.New(ctx, cfg.Postgres())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("migrate schema", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	ledger := accounting.NewService(accounting.NewRepository(pool), logger)
	ledger.WithMetrics(metrics)
	if created, err := ledgerhooks.SeedChart(ctx, ledger); err != nil {
		logger.Error("seed chart of accounts", slog.Any("error", err))
		os.Exit(1)
	} else if created > 0 {
		logger.Info("chart of accounts seeded", slog.Int("created", created))
	}

	eventStore := events.NewRepository(pool)

	integrityJob := jobs.NewGLIntegrityJob(ledger, logger, jobMetrics)
	reportJob := jobs.NewFailedHandlerReportJob(eventStore, logger, jobMetrics)
	cron, err := jobs.LedgerCron(cfg.IntegrityCron, cfg.FailedHandlersCron)
	if err != nil {
		logger.Error("build cron tasks", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := cfg.Redis().Asynq()
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    jobs.LedgerHandlers(integrityJob, reportJob),
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := chi.NewRouter()
	router.Use(metrics.Middleware)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	router.Route("/jobs", jobs.NewHandler(inspector, logger).MountRoutes)
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return worker.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("metrics listening", slog.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
