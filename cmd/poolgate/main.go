package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/seolaris/poolgate/internal/apikey"
	"github.com/seolaris/poolgate/internal/config"
	"github.com/seolaris/poolgate/internal/db"
	"github.com/seolaris/poolgate/internal/pool"
	"github.com/seolaris/poolgate/internal/proxy/handlers"
	"github.com/seolaris/poolgate/internal/proxy/middleware"
	"github.com/seolaris/poolgate/internal/proxy/monitor"
	"github.com/seolaris/poolgate/internal/ratelimit"
	"github.com/seolaris/poolgate/internal/upstream"
	"github.com/seolaris/poolgate/internal/version"
)

func main() {
	configPath := flag.String("config", "poolgate.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Init(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// OAuth refresh is optional; without client credentials the pool serves
	// stored access tokens as-is.
	var refresher pool.Refresher
	if r := pool.NewOAuthRefresher(); r != nil {
		refresher = r
	} else {
		log.Printf("⚠️ POOLGATE_CLIENT_ID not set, token refresh disabled")
	}

	accountStore := pool.NewGormStore(database)
	identityPool, err := pool.New(accountStore, refresher, pool.Options{
		Strategy:       cfg.Pool.Strategy,
		Cooldown:       time.Duration(cfg.Pool.CooldownSeconds) * time.Second,
		SuccessDelta:   cfg.Pool.SuccessDelta,
		RateLimitDelta: cfg.Pool.RateLimitDelta,
		FailureDelta:   cfg.Pool.FailureDelta,
		RecoveryPerMin: cfg.Pool.RecoveryPerMin,
		MinHealth:      cfg.Pool.MinHealth,
		BucketSize:     cfg.Pool.BucketSize,
		RefillPerMin:   cfg.Pool.RefillPerMin,
	})
	if err != nil {
		log.Fatalf("Failed to build account pool: %v", err)
	}
	defer identityPool.Close()

	keyStore := apikey.NewGormStore(database)
	validator := apikey.NewValidator(keyStore, ratelimit.NewLimiter())
	proxyMonitor := monitor.NewProxyMonitor(database)

	deps := &handlers.Deps{
		Pool:        identityPool,
		Client:      upstream.NewClient(cfg.Upstream.BaseURLs, time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second),
		Monitor:     proxyMonitor,
		Aliases:     cfg.ModelAliases,
		MaxAttempts: cfg.Upstream.MaxAttempts,
	}
	adminDeps := &handlers.AdminDeps{
		Keys:     keyStore,
		Pool:     identityPool,
		Accounts: accountStore,
		Monitor:  proxyMonitor,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", handlers.HealthHandler(deps))

	// Admin surface (protected when an admin password is configured).
	r.Route("/api", func(r chi.Router) {
		r.Use(handlers.OptionalAdminAuth(cfg.AdminPassword))

		r.Post("/keys", handlers.CreateKeyHandler(adminDeps))
		r.Get("/keys", handlers.ListKeysHandler(adminDeps))
		r.Put("/keys/{id}", handlers.UpdateKeyHandler(adminDeps))
		r.Delete("/keys/{id}", handlers.DeleteKeyHandler(adminDeps))

		r.Get("/accounts", handlers.AccountsHandler(adminDeps))
		r.Post("/accounts", handlers.CreateAccountHandler(adminDeps))
		r.Post("/accounts/{id}/enable", handlers.SetAccountEnabledHandler(adminDeps, true))
		r.Post("/accounts/{id}/disable", handlers.SetAccountEnabledHandler(adminDeps, false))

		r.Get("/logs", handlers.MonitorLogsHandler(adminDeps))
		r.Get("/stats", handlers.MonitorStatsHandler(adminDeps))
		r.Delete("/logs", handlers.MonitorClearHandler(adminDeps))
		r.Post("/logs/toggle", handlers.MonitorToggleHandler(adminDeps))
	})

	// OpenAI-compatible API
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(validator))
		r.Post("/chat/completions", handlers.OpenAIChatHandler(deps))
		r.Get("/models", handlers.ModelsHandler(deps))
	})

	// Anthropic-compatible API
	r.Route("/anthropic/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(validator))
		r.Post("/messages", handlers.ClaudeMessagesHandler(deps))
		r.Get("/models", handlers.AnthropicModelsHandler(deps))
	})

	addr := cfg.Addr()
	log.Printf("🚀 Poolgate %s starting on http://%s", version.Version, addr)
	log.Printf("🔌 OpenAI API: http://%s/v1", addr)
	log.Printf("🔌 Anthropic API: http://%s/anthropic/v1", addr)

	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
