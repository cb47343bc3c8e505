// Package main запускает HTTP-сервер витрины.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storefront/internal/config"
	"github.com/mmeshcher/storefront/internal/exchange"
	"github.com/mmeshcher/storefront/internal/handler"
	"github.com/mmeshcher/storefront/internal/inventory"
	"github.com/mmeshcher/storefront/internal/loyalty"
	"github.com/mmeshcher/storefront/internal/messaging"
	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/order"
	"github.com/mmeshcher/storefront/internal/payment"
	"github.com/mmeshcher/storefront/internal/repository"
	"github.com/mmeshcher/storefront/internal/telemetry"
)

const (
	serviceName    = "storefront"
	serviceVersion = "1.0.0"
)

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

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, serviceName, serviceVersion)
	if err != nil {
		sugar.Fatalw("tracer initialization error", "error", err.Error())
	}

	metricsHandler, metrics, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		sugar.Fatalw("meter initialization error", "error", err.Error())
	}

	store, err := repository.NewStore(ctx, cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer store.Close()

	gateways := newGateways(cfg)
	sugar.Infow("payment gateways configured", "providers", gateways.Providers())

	var publisher messaging.Publisher = messaging.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = messaging.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		sugar.Infow("publishing domain events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	events := messaging.NewEmitter(publisher, logger, metrics)

	stock := inventory.NewLedger(store, metrics)
	points := loyalty.NewLedger(store, metrics)

	orders := order.NewService(order.Deps{
		Store:         store,
		Inventory:     stock,
		Loyalty:       points,
		Gateways:      gateways,
		Events:        events,
		Metrics:       metrics,
		Logger:        logger,
		GuestTokenTTL: cfg.GuestTokenTTL,
	})
	exchanges := exchange.NewWorkflow(exchange.Deps{
		Store:     store,
		Inventory: stock,
		Gateways:  gateways,
		Events:    events,
		Metrics:   metrics,
		Logger:    logger,
	})

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT secret is not set, tokens are valid for this process only")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(orders, exchanges, points, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting storefront server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
		if err := publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event publisher: %w", err))
		}
		if err := shutdownMeter(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
		if err := shutdownTracer(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
		if len(errs) == 0 {
			sugar.Info("server stopped gracefully")
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("application terminated with error", "error", err)
	}
}

func newGateways(cfg *config.Config) *payment.Registry {
	var gws []payment.Gateway
	if cfg.IamportEnabled() {
		gws = append(gws, payment.NewIamportClient(payment.ClientConfig{
			BaseURL:  cfg.IamportAPIURL,
			Timeout:  cfg.GatewayTimeout,
			RetryMax: cfg.GatewayRetryMax,
		}, cfg.IamportAPIKey, cfg.IamportAPISecret))
	}
	if cfg.TossEnabled() {
		gws = append(gws, payment.NewTossClient(payment.ClientConfig{
			BaseURL:  cfg.TossAPIURL,
			Timeout:  cfg.GatewayTimeout,
			RetryMax: cfg.GatewayRetryMax,
		}, cfg.TossSecretKey))
	}
	return payment.NewRegistry(gws...)
}
