package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/podgenhq/podgen-backend/api/routes"
	"github.com/podgenhq/podgen-backend/internal/generation"
	"github.com/podgenhq/podgen-backend/internal/payments"
	"github.com/podgenhq/podgen-backend/internal/quota"
	"github.com/podgenhq/podgen-backend/internal/ratelimit"
	"github.com/podgenhq/podgen-backend/internal/subscriptions"
	"github.com/podgenhq/podgen-backend/internal/users"
	stripewebhook "github.com/podgenhq/podgen-backend/internal/webhooks/stripe"
	"github.com/podgenhq/podgen-backend/pkg/config"
	"github.com/podgenhq/podgen-backend/pkg/db"
	"github.com/podgenhq/podgen-backend/pkg/logger"
	"github.com/podgenhq/podgen-backend/pkg/metrics"
	"github.com/podgenhq/podgen-backend/pkg/migrate"
	"github.com/podgenhq/podgen-backend/pkg/openai"
	"github.com/podgenhq/podgen-backend/pkg/redis"
	"github.com/podgenhq/podgen-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	openaiClient, err := openai.NewClient(context.Background(), cfg.OpenAI, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap openai", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	generationMetrics := metrics.NewGenerationMetrics(registry)
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	usersRepo := users.NewRepository(dbClient.DB())

	ledgerService, err := payments.NewService(payments.ServiceParams{
		Repo: payments.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment ledger", err)
		os.Exit(1)
	}

	limiter, err := ratelimit.NewLimiter(ratelimit.LimiterParams{
		Store:    redisClient,
		Policies: ratelimit.PoliciesFromConfig(cfg.RateLimit),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create rate limiter", err)
		os.Exit(1)
	}

	quotaService, err := quota.NewService(quota.ServiceParams{
		Users: usersRepo,
		Quota: cfg.Quota,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create quota service", err)
		os.Exit(1)
	}

	billingClient := subscriptions.NewStripeClient(stripeClient)

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Users:    usersRepo,
		Ledger:   ledgerService,
		Billing:  billingClient,
		Stripe:   cfg.Stripe,
		Checkout: cfg.Checkout,
		Quota:    cfg.Quota,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Users:        usersRepo,
		Ledger:       ledgerService,
		StripeClient: billingClient,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Webhook.IdempotencyTTL, "stripe_event")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	generationService, err := generation.NewService(generation.ServiceParams{
		Users:           usersRepo,
		Limiter:         limiter,
		Quota:           quotaService,
		Provider:        openaiClient,
		Views:           redisClient,
		Metrics:         generationMetrics,
		QuotaConfig:     cfg.Quota,
		ProviderTimeout: cfg.OpenAI.Timeout,
		Logger:          logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create generation service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			generationService,
			subscriptionService,
			stripeClient,
			webhookService,
			webhookGuard,
			webhookMetrics,
			registry,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
