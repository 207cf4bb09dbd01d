package router

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/httplog"
	"github.com/go-chi/render"
	gsessions "github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/dapperlabs/fork-journal/controller"
	"github.com/dapperlabs/fork-journal/middleware/httpcontext"
	"github.com/dapperlabs/fork-journal/middleware/monitoring"
	"github.com/dapperlabs/fork-journal/server/config"
	"github.com/dapperlabs/fork-journal/server/ping"
	"github.com/dapperlabs/fork-journal/server/version"
	"github.com/dapperlabs/fork-journal/sessions"
	"github.com/dapperlabs/fork-journal/telemetry"
)

type Handlers struct {
	Journal     *controller.JournalHandler
	Deployments *controller.DeploymentsHandler
}

func InitializeRouter(handlers Handlers) *chi.Mux {
	conf := config.Journal()

	router := chi.NewRouter()
	router.Use(monitoring.Middleware())
	router.Use(telemetry.Middleware)

	if conf.Debug {
		logger := httplog.NewLogger("fork-journal", httplog.Options{Concise: true})
		router.Use(httplog.RequestLogger(logger))
	}

	router.Group(func(r chi.Router) {
		// Add CORS middleware around every request
		// See https://github.com/rs/cors for full option listing
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   conf.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
		}).Handler)

		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(httpcontext.Middleware())
		r.Use(sessions.Middleware(cookieStore(conf)))

		r.Route("/journal", handlers.Journal.Routes)
		handlers.Deployments.Routes(r)
	})

	router.Route("/utils", func(r chi.Router) {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: conf.AllowedOrigins,
		}).Handler)

		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.HandleFunc("/version", version.Handler)
	})

	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/ping", ping.Ping)

	return router
}

func cookieStore(conf config.JournalConfig) *gsessions.CookieStore {
	store := gsessions.NewCookieStore([]byte(conf.SessionAuthKey))
	store.MaxAge(int(conf.SessionMaxAge.Seconds()))

	store.Options.Secure = conf.SessionCookiesSecure
	store.Options.HttpOnly = conf.SessionCookiesHTTPOnly

	if conf.SessionCookiesSameSiteNone {
		store.Options.SameSite = http.SameSiteNoneMode
	}

	return store
}
