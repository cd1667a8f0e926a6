// Package main запускает HTTP-сервер движка заказов и возвратов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/ledger-system/internal/config"
	"github.com/mmeshcher/ledger-system/internal/handler"
	"github.com/mmeshcher/ledger-system/internal/invoice"
	"github.com/mmeshcher/ledger-system/internal/metrics"
	"github.com/mmeshcher/ledger-system/internal/middleware"
	"github.com/mmeshcher/ledger-system/internal/notify"
	"github.com/mmeshcher/ledger-system/internal/observability"
	"github.com/mmeshcher/ledger-system/internal/repository"
	"github.com/mmeshcher/ledger-system/internal/service"
)

type store interface {
	service.Store
	notify.Store
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTELEndpoint)
	if err != nil {
		sugar.Fatalw("tracing initialization error", "error", err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			sugar.Warnw("tracing shutdown error", "error", err.Error())
		}
	}()

	repo, err := openStore(cfg, logger)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	m := metrics.New()

	sinks := []notify.Sink{notify.NewLogSink(logger)}
	if cfg.NotifyWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.NotifyWebhookURL))
	}
	var kafkaSink *notify.KafkaSink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink = notify.NewKafkaSink(notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		sinks = append(sinks, kafkaSink)
		defer kafkaSink.Close()
	}

	dispatcher := notify.NewDispatcher(repo, sinks, logger,
		notify.WithInterval(cfg.OutboxInterval),
		notify.WithRate(cfg.NotifyRate),
		notify.WithMetrics(m),
	)

	svc := service.NewService(repo, logger,
		service.WithNotifier(dispatcher),
		service.WithMetrics(m),
		service.WithLowStockThreshold(cfg.LowStockThreshold),
	)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is not set, tokens are signed with a random key")
	}
	if cfg.DatabaseURI == "" {
		sugar.Infow("demo tokens for the in-memory catalog",
			"customer", authMiddleware.Token(demoCustomerID, middleware.RoleCustomer),
			"admin", authMiddleware.Token(demoAdminID, middleware.RoleAdmin),
		)
	}

	h := handler.NewHandler(svc, logger, authMiddleware,
		handler.WithInvoiceRenderer(invoice.NewRenderer()),
		handler.WithMetricsHandler(m.Handler()),
	)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           otelhttp.NewHandler(h.SetupRouter(), "ledgerd"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Доставка уведомлений из outbox
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting ledger server",
			"addr", cfg.RunAddress,
			"postgres", cfg.DatabaseURI != "",
			"sinks", len(sinks),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func openStore(cfg *config.Config, logger *zap.Logger) (store, error) {
	if cfg.DatabaseURI != "" {
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}

	logger.Warn("DATABASE_URI is not set, using in-memory store with demo catalog")
	repo := repository.NewMemoryRepository()
	seedCatalog(repo)
	return repo, nil
}
