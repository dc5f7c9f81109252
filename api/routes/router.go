package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cashloop/cashloop-backend/api/controllers"
	"github.com/cashloop/cashloop-backend/api/middleware"
	"github.com/cashloop/cashloop-backend/internal/balance"
	"github.com/cashloop/cashloop-backend/internal/ledger"
	"github.com/cashloop/cashloop-backend/internal/payouts"
	"github.com/cashloop/cashloop-backend/pkg/config"
	"github.com/cashloop/cashloop-backend/pkg/db"
	"github.com/cashloop/cashloop-backend/pkg/logger"
	"github.com/cashloop/cashloop-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	registry *prometheus.Registry,
	payoutService payouts.Service,
	ledgerService ledger.Service,
	balanceService balance.Service,
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
		r.Get("/ready", controllers.HealthReady(cfg, dbP, redisClient, logg))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/payouts", func(r chi.Router) {
			r.With(middleware.PayoutRateLimit(redisClient, cfg.RateLimit, logg)).
				Post("/", controllers.PayoutCreate(payoutService, logg))
			r.Get("/", controllers.PayoutList(payoutService, logg))
			r.Get("/{payoutId}", controllers.PayoutGet(payoutService, logg))
		})

		r.Get("/transactions", controllers.TransactionList(ledgerService, logg))
		r.Get("/balance", controllers.BalanceGet(balanceService, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole("admin", logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/ping", controllers.AdminPing())

		r.Route("/payouts", func(r chi.Router) {
			r.Get("/", controllers.AdminPayoutQueue(payoutService, logg))
			r.Get("/{payoutId}", controllers.AdminPayoutGet(payoutService, logg))
			r.Post("/{payoutId}/processing", controllers.AdminPayoutMarkProcessing(payoutService, logg))
			r.Post("/{payoutId}/paid", controllers.AdminPayoutMarkPaid(payoutService, logg))
			r.Post("/{payoutId}/reject", controllers.AdminPayoutReject(payoutService, logg))
		})

		r.Get("/reconciliation/{userId}", controllers.AdminReconciliation(payoutService, logg))
	})

	return r
}
