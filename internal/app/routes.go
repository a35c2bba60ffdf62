package app

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"traffic-router/internal/common/logging"
	"traffic-router/internal/config"
	"traffic-router/internal/handlers"
	"traffic-router/internal/middleware"
)

// SetupRoutes configures the admin API routes. Read-only routes are open;
// mutating routes go through authMiddleware.
func SetupRoutes(router *mux.Router, h *handlers.Handlers, authMiddleware func(http.Handler) http.Handler, logger logging.Logger) {
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/config", h.GetConfig).Methods("GET")
	api.HandleFunc("/pool", h.GetPool).Methods("GET")
	api.HandleFunc("/resolve", h.Resolve).Methods("GET")

	api.Handle("/config", authMiddleware(http.HandlerFunc(h.PutConfig))).Methods("PUT")
	api.Handle("/endpoints", authMiddleware(http.HandlerFunc(h.RegisterEndpoint))).Methods("POST")
	api.Handle("/endpoints/{id}", authMiddleware(http.HandlerFunc(h.DeregisterEndpoint))).Methods("DELETE")
}

// ProxyHandler wraps next with request IDs, access logging and, when
// enabled, rate limiting
func ProxyHandler(cfg *config.Config, next http.Handler, logger logging.Logger) http.Handler {
	h := next
	if cfg.RateLimitEnabled {
		rps, _ := strconv.ParseFloat(cfg.RateLimitRPS, 64)
		h = middleware.RateLimit(rps, config.Int(cfg.RateLimitBurst, 1))(h)
	}
	h = middleware.Logging(logger)(h)
	return middleware.RequestID(h)
}

// AdminHandler builds the admin API router
func (app *App) AdminHandler() http.Handler {
	opts := []handlers.Option{}
	if app.RedisSource != nil {
		opts = append(opts, handlers.WithPusher(app.RedisSource))
	}
	if app.Emitter != nil {
		opts = append(opts, handlers.WithStats(app.Emitter))
	}
	h := handlers.New(app.Store, app.Tracker, opts...)

	router := mux.NewRouter()
	SetupRoutes(router, h, middleware.RequireJWT(app.Config.AdminJWTSecret, app.Logger), logging.Component("admin"))
	return router
}

// ProxyHandler builds the proxy listener's handler
func (app *App) ProxyHandler() http.Handler {
	return ProxyHandler(app.Config, app.Dispatcher, logging.Component("proxy"))
}
