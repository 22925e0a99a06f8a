package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"go.uber.org/zap"

	"ticket-engine/config"
	"ticket-engine/internal/handlers"
	"ticket-engine/internal/logger"
	"ticket-engine/internal/services"
	"ticket-engine/internal/services/gateway"
	"ticket-engine/internal/services/gateway/mpesa"
	"ticket-engine/internal/store"
	_ "ticket-engine/migrations"
	"ticket-engine/monitoring"
	"ticket-engine/security"
	adapters "ticket-engine/services"
	"ticket-engine/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	log, err := logger.NewForEnvironment(cfg.Environment, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(cfg.RedisURL, log)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Initialize PubNub
	pn := adapters.NewPubNubClient(cfg.PubNubPublishKey, cfg.PubNubSubscribeKey, cfg.PubNubSecretKey, cfg.PubNubUserID)

	// Payment gateway
	gw, err := newGateway(cfg, log)
	if err != nil {
		return err
	}

	// Initialize services
	st := store.New(app)
	registry, err := services.NewHandlerRegistry(
		services.NewTicketFulfillment(cfg.QRBaseURL, log),
	)
	if err != nil {
		return err
	}
	log.Info("fulfillment handlers registered", zap.Any("kinds", registry.Kinds()))

	reservationService := services.NewReservationService(st, gw, registry, log)
	callbackProcessor := services.NewCallbackProcessor(st, registry, log,
		services.WithReleaseOnFailure(cfg.ReleaseOnPaymentFailure))
	sweeper := services.NewExpirySweeper(st, cfg.ReservationTTL, cfg.SweepInterval, log)
	reconciler := services.NewReconciler(st, registry, cfg.ReconcileInterval, log)

	artifactQueue := adapters.NewArtifactQueue(redisClient, cfg.ArtifactQueueKey, log)
	triggerService := adapters.NewTriggerService(adapters.NewPubNubPublisher(pn), cfg.TriggerChannel, log)
	relay := services.NewOutboxRelay(st, artifactQueue, triggerService, services.OutboxRelayConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
	}, log)
	monitor := monitoring.NewMonitor(st, artifactQueue, log.Named("monitor"))

	// Initialize handlers
	purchaseHandler := handlers.NewPurchaseHandler(reservationService, log)
	paymentHandler := handlers.NewPaymentHandler(gw, callbackProcessor, log)
	adminHandler := handlers.NewAdminHandler(st, sweeper, reconciler, relay, log)

	webhookSecret := security.NewWebhookSecret(cfg.WebhookSecret)
	rateLimiter := security.NewRateLimiter(redisClient, cfg.RateLimitPerMinute, time.Minute, log)
	if !webhookSecret.Enabled() {
		log.Warn("WEBHOOK_SECRET is not set, payment callbacks are accepted without a secret")
	}

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.IsDevelopment(),
	})
	store.RegisterHooks(app)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		// Start background tasks
		go sweeper.Run(ctx)
		go reconciler.Run(ctx)
		go relay.Run(ctx)
		go monitor.Run(ctx)
		if cfg.EnableMetrics {
			go monitoring.Serve(ctx, ":"+cfg.MetricsPort, log)
		}

		// Purchase endpoints
		se.Router.POST("/api/v1/orgs/{organizationId}/purchases", purchaseHandler.CreatePurchase).
			BindFunc(security.AntiBotMiddleware()).
			BindFunc(rateLimiter.Middleware("purchase"))
		se.Router.GET("/api/v1/tickets/{ticketId}/status", purchaseHandler.GetTicketStatus)

		// Payment provider webhook
		se.Router.POST("/api/v1/payments/callback", paymentHandler.PaymentCallback).
			BindFunc(webhookSecret.Middleware())

		// Admin endpoints
		admin := se.Router.Group("/api/v1/admin")
		admin.Bind(apis.RequireSuperuserAuth())
		admin.POST("/sweep", adminHandler.RunSweep)
		admin.POST("/reconcile", adminHandler.RunReconcile)
		admin.POST("/outbox/dispatch", adminHandler.DispatchOutbox)
		admin.GET("/outbox", adminHandler.GetOutboxStats)

		// Test endpoint for payment simulation
		if cfg.IsDevelopment() {
			se.Router.POST("/api/v1/dev/payments/simulate", paymentHandler.SimulateCallback)
		}

		// Health check
		se.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(e.Request.Context(), redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		log.Info("server routes registered",
			zap.String("gateway", string(gw.Provider())),
			zap.Duration("reservation_ttl", cfg.ReservationTTL),
		)
		return se.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		log.Info("shutdown signal received, draining payment callbacks")
		paymentHandler.Wait()
		cancel()
		return e.Next()
	})

	return app.Start()
}

func newGateway(cfg *config.Config, log *zap.Logger) (gateway.Gateway, error) {
	var providerConfig any
	if cfg.GatewayProvider == string(gateway.ProviderMpesa) {
		providerConfig = &mpesa.Config{
			BaseURL:        cfg.Mpesa.BaseURL,
			ConsumerKey:    cfg.Mpesa.ConsumerKey,
			ConsumerSecret: cfg.Mpesa.ConsumerSecret,
			ShortCode:      cfg.Mpesa.ShortCode,
			PassKey:        cfg.Mpesa.PassKey,
			CallbackURL:    cfg.Mpesa.CallbackURL,
			Timeout:        cfg.Mpesa.Timeout,
		}
	}

	gw, err := gateway.NewFactory().CreateGateway(gateway.Provider(cfg.GatewayProvider), providerConfig)
	if err != nil {
		return nil, fmt.Errorf("init payment gateway: %w", err)
	}

	breaker := utils.NewCircuitBreakerWithSettings("gateway-"+cfg.GatewayProvider, utils.CircuitBreakerSettings{
		OnStateChange: func(name string, from, to utils.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return gateway.WithCircuitBreaker(gw, breaker, cfg.GatewayTimeout), nil
}

