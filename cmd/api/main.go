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

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/shopfront/api/internal/handlers"
	"github.com/shopfront/api/internal/notifications"
	"github.com/shopfront/api/internal/payments"
	"github.com/shopfront/api/internal/platform/auth"
	"github.com/shopfront/api/internal/platform/config"
	pfirestore "github.com/shopfront/api/internal/platform/firestore"
	"github.com/shopfront/api/internal/platform/observability"
	firestoreRepo "github.com/shopfront/api/internal/repositories/firestore"
	"github.com/shopfront/api/internal/services"
)

const shutdownTimeout = 20 * time.Second

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")

	cfg, err := config.Load()
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		if err := firestoreProvider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise counter repository", zap.Error(err))
	}
	cartRepo, err := firestoreRepo.NewCartRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}
	userRepo, err := firestoreRepo.NewUserRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise user repository", zap.Error(err))
	}
	webhookEventRepo, err := firestoreRepo.NewWebhookEventRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise webhook event repository", zap.Error(err))
	}
	reportingRepo, err := firestoreRepo.NewReportingRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise reporting repository", zap.Error(err))
	}

	notifier, pubsubClient := buildNotifier(ctx, logger, cfg)
	if pubsubClient != nil {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey:        cfg.Stripe.APIKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Logger:        payments.StripeLogger(observability.NewEventLogger(logger.Named("stripe"))),
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
	}

	eventLogger := observability.NewEventLogger(logger.Named("services"))

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:       orderRepo,
		Counters:     counterRepo,
		Carts:        cartRepo,
		Users:        userRepo,
		Pricing:      services.NewPricingEngine(),
		Notifier:     notifier,
		ReturnWindow: cfg.Orders.ReturnWindow,
		Logger:       eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:        orderRepo,
		Users:         userRepo,
		WebhookEvents: webhookEventRepo,
		Gateway:       gateway,
		Notifier:      notifier,
		Logger:        eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	reportingService, err := services.NewReportingService(services.ReportingServiceDeps{
		Reports:           reportingRepo,
		Products:          productRepo,
		LowStockThreshold: cfg.Orders.LowStockThreshold,
	})
	if err != nil {
		logger.Fatal("failed to initialise reporting service", zap.Error(err))
	}

	authenticator, err := auth.NewAuthenticator(cfg.Auth.JWTSecret)
	if err != nil {
		logger.Fatal("failed to initialise authenticator", zap.Error(err))
	}

	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService)
	paymentHandlers := handlers.NewPaymentHandlers(authenticator, paymentService)
	adminHandlers := handlers.NewAdminHandlers(authenticator, orderService, reportingService)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(observability.RequestLogger(logger.Named("http"))),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(func() bool {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := firestoreProvider.Client(pingCtx)
			return err == nil
		})),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithWebhookRoutes(paymentHandlers.WebhookRoutes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))

	shutdownCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		serverLogger.Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-shutdownCtx.Done():
		serverLogger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			serverLogger.Fatal("server error", zap.Error(err))
		}
		return
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		serverLogger.Error("graceful shutdown failed", zap.Error(err))
		_ = server.Close()
	}
	serverLogger.Info("server stopped")
}

// buildNotifier returns a Pub/Sub notifier when a topic is configured and a
// no-op notifier otherwise, so local development works without a broker.
func buildNotifier(ctx context.Context, logger *zap.Logger, cfg config.Config) (notifications.Notifier, *pubsub.Client) {
	if cfg.PubSub.NotificationTopic == "" {
		logger.Info("notification topic not configured, notifications disabled")
		return notifications.NopNotifier{}, nil
	}

	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Warn("failed to initialise pubsub client, notifications disabled", zap.Error(err))
		return notifications.NopNotifier{}, nil
	}

	topic := client.Topic(cfg.PubSub.NotificationTopic)
	notifier, err := notifications.NewPubSubNotifier(topic)
	if err != nil {
		logger.Warn("failed to initialise notifier, notifications disabled", zap.Error(err))
		_ = client.Close()
		return notifications.NopNotifier{}, nil
	}
	return notifier, client
}
