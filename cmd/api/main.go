package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/amoria/billing-api/internal/config"
	"github.com/amoria/billing-api/internal/domain/billing"
	"github.com/amoria/billing-api/internal/domain/escrow"
	"github.com/amoria/billing-api/internal/domain/pricing"
	"github.com/amoria/billing-api/internal/domain/wallet"
	"github.com/amoria/billing-api/internal/events"
	"github.com/amoria/billing-api/internal/middleware"
	"github.com/amoria/billing-api/internal/pkg/database"
	"github.com/amoria/billing-api/internal/pkg/jwt"
	"github.com/amoria/billing-api/internal/pkg/logger"
	pkgresponse "github.com/amoria/billing-api/internal/pkg/response"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting Billing API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Events hub ----------
	hub := events.NewHub(redis)
	go hub.Run()
	defer hub.Stop()

	// ---------- Repositories ----------
	walletRepo := wallet.NewRepository(db)
	pricingRepo := pricing.NewRepository(db)
	sessionRepo := billing.NewRepository(db)
	escrowRepo := escrow.NewRepository(db, walletRepo)

	// ---------- Services ----------
	walletService := wallet.NewService(walletRepo)
	priceStore := pricing.NewStore(pricingRepo, redis, cfg.PlanCacheTTL)

	billingService := billing.NewService(sessionRepo, walletService, priceStore, hub, billing.Config{
		Resolver: billing.ResolverConfig{
			AsymPayingCategory: cfg.AsymPayingCategory,
			AsymPairedCategory: cfg.AsymPairedCategory,
			ReceiverEarnsOnTie: cfg.ReceiverEarnsOnTie,
		},
		IdleTimeout: cfg.IdleTimeout,
		MaxRetries:  cfg.TransferRetry,
	})
	escrowService := escrow.NewService(escrowRepo, priceStore, hub)

	seedCtx, seedCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := priceStore.SeedDefaults(seedCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed pricing plans")
	}
	seedCancel()

	// ---------- Idle session reaper ----------
	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	defer reaperCancel()
	go billingService.RunReaper(reaperCtx, cfg.ReaperInterval)

	// ---------- Handlers ----------
	walletHandler := wallet.NewHandler(walletService)
	billingHandler := billing.NewHandler(billingService)
	escrowHandler := escrow.NewHandler(escrowService)

	authMiddleware := middleware.Auth(jwtService)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	// WebSocket endpoint (before Compress)
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := middleware.GetCallerID(r.Context())
			// Service callers subscribe on behalf of an end user.
			if raw := r.URL.Query().Get("user_id"); raw != "" {
				parsed, err := uuid.Parse(raw)
				if err != nil {
					pkgresponse.BadRequest(w, "user_id must be a valid UUID")
					return
				}
				userID = parsed
			}
			hub.ServeWS(w, r, userID)
		})).ServeHTTP(w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(chimw.Compress(5))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/sessions", billingHandler.Routes(authMiddleware))
		r.Mount("/wallets", walletHandler.Routes(authMiddleware))
		r.Mount("/bookings", escrowHandler.Routes(authMiddleware))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	reaperCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}
