package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/podgenhq/podgen-backend/api/controllers"
	billingcontrollers "github.com/podgenhq/podgen-backend/api/controllers/billing"
	webhookcontrollers "github.com/podgenhq/podgen-backend/api/controllers/webhooks"
	"github.com/podgenhq/podgen-backend/api/middleware"
	stripewebhook "github.com/podgenhq/podgen-backend/internal/webhooks/stripe"
	"github.com/podgenhq/podgen-backend/pkg/config"
	"github.com/podgenhq/podgen-backend/pkg/logger"
	"github.com/podgenhq/podgen-backend/pkg/metrics"
	"github.com/podgenhq/podgen-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	generationService controllers.GenerationService,
	subscriptionService billingcontrollers.SubscriptionService,
	stripeClient *stripe.Client,
	stripeWebhookService *stripewebhook.Service,
	stripeWebhookGuard *stripewebhook.IdempotencyGuard,
	webhookMetrics *metrics.WebhookMetrics,
	registry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, stripeWebhookGuard, webhookMetrics, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(cfg.Identity, logg))

		r.Route("/generate", func(r chi.Router) {
			r.Post("/audio", controllers.GenerateAudio(generationService, logg))
			r.Post("/thumbnail", controllers.GenerateThumbnail(generationService, logg))
		})

		r.Post("/podcasts", controllers.RegisterPodcast(generationService, logg))
		r.Post("/podcasts/{podcastId}/views", controllers.IncrementViews(generationService, logg))
		r.Post("/uploads/authorize", controllers.AuthorizeUpload(generationService, logg))

		r.Route("/billing", func(r chi.Router) {
			r.Post("/checkout", billingcontrollers.StartCheckout(subscriptionService, logg))
			r.Post("/cancel", billingcontrollers.CancelSubscription(subscriptionService, logg))
			r.Post("/portal", billingcontrollers.OpenBillingPortal(subscriptionService, logg))
		})
	})

	return r
}
