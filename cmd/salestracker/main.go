// Package main запускает HTTP-сервер учёта продаж животных.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/animal-sales-tracker/internal/cache"
	"github.com/mmeshcher/animal-sales-tracker/internal/config"
	"github.com/mmeshcher/animal-sales-tracker/internal/handler"
	"github.com/mmeshcher/animal-sales-tracker/internal/live"
	"github.com/mmeshcher/animal-sales-tracker/internal/metrics"
	"github.com/mmeshcher/animal-sales-tracker/internal/repository"
	"github.com/mmeshcher/animal-sales-tracker/internal/service"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	hub := live.NewHub(logger, cfg.MaxLiveRefresh)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.RegisterSubscribers(reg, hub.Subscribers)

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(metrics.NewStoreMetrics(reg)),
	}
	if cfg.RedisURL != "" {
		summaryCache, err := cache.NewSummaryCache(ctx, cfg.RedisURL, cfg.SummaryCacheTTL)
		if err != nil {
			sugar.Warnw("summary cache disabled", "error", err.Error())
		} else {
			opts = append(opts, service.WithSummaryCache(summaryCache))
		}
	}

	svc := service.NewService(repo, hub, opts...)
	defer func() {
		if err := svc.Close(); err != nil {
			sugar.Errorw("close service", "error", err.Error())
		}
	}()

	h := handler.NewHandler(svc, logger)
	r := h.SetupRouter(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Потоки живых запросов не завершаются сами, поэтому при остановке
	// сервера отменяем их базовый контекст.
	streamsCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamsCtx },
	}
	server.RegisterOnShutdown(cancelStreams)

	g, ctx := errgroup.WithContext(ctx)

	// Пересылка уведомлений об изменениях из других процессов
	g.Go(func() error {
		return svc.RunChangeRelay(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting sales tracker server",
			"addr", cfg.RunAddress,
			"postgres", cfg.UsePostgres(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("application terminated with error", "error", err)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	return zcfg.Build()
}

func openRepository(ctx context.Context, cfg *config.Config) (service.Repository, error) {
	if cfg.UsePostgres() {
		return repository.NewPostgresRepository(cfg.DatabaseURI)
	}
	return repository.NewSQLiteRepository(ctx, cfg.SQLitePath)
}
