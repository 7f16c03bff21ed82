package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/zeroproof-client/api/controllers"
	"github.com/angelmondragon/zeroproof-client/api/middleware"
	"github.com/angelmondragon/zeroproof-client/pkg/config"
	"github.com/angelmondragon/zeroproof-client/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	gatherer prometheus.Gatherer,
	sessions controllers.SessionService,
	tokens controllers.TokenSource,
	compareList controllers.CompareList,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": dbP,
			"redis":    redisP,
		}))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", controllers.SessionGet(sessions, logg))
			r.Post("/retry", controllers.SessionRetry(sessions, logg))
			r.Post("/continue", controllers.SessionContinue(sessions, logg))
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signin", controllers.AuthSignIn(sessions, tokens, logg))
			r.Post("/signup", controllers.AuthSignUp(sessions, tokens, logg))
			r.Post("/anonymous", controllers.AuthAnonymous(sessions, tokens, logg))
			r.Post("/signout", controllers.AuthSignOut(sessions, logg))
			r.Post("/refresh", controllers.AuthRefresh(sessions, tokens, logg))
		})

		r.With(middleware.RequireRoles(sessions, logg)).Get("/dashboard", controllers.Dashboard())

		r.Route("/compare", func(r chi.Router) {
			r.Get("/", controllers.CompareGet(compareList))
			r.Post("/", controllers.CompareAdd(compareList, logg))
			r.Post("/toggle", controllers.CompareToggle(compareList, logg))
			r.Delete("/", controllers.CompareClear(compareList))
			r.Delete("/{productId}", controllers.CompareRemove(compareList, logg))
		})
	})

	return r
}
