package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atlalli/redemption/internal/conversion"
	"github.com/atlalli/redemption/internal/http/handlers"
	authmw "github.com/atlalli/redemption/internal/http/middleware"
	"github.com/atlalli/redemption/internal/issuer"
	"github.com/atlalli/redemption/internal/platform/mailer"
	"github.com/atlalli/redemption/internal/repo/postgres"
	"github.com/atlalli/redemption/internal/scanner"
	"github.com/atlalli/redemption/internal/token"
	"github.com/atlalli/redemption/pkg/config"
	"github.com/atlalli/redemption/pkg/database"
	"github.com/atlalli/redemption/pkg/events"
	"github.com/atlalli/redemption/pkg/logger"
	mw "github.com/atlalli/redemption/pkg/middleware"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Redis backs the rate limiter shared across API nodes
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("Invalid redis URL", "error", err)
		os.Exit(1)
	}
	if cfg.Redis.Password != "" {
		redisOpts.Password = cfg.Redis.Password
	}
	redisOpts.DB = cfg.Redis.DB
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	// Connect to event bus
	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Mailer selection mirrors the email config: dev mode logs, a MailerSend
	// key wins over SMTP when both are set
	var mail mailer.Service
	switch {
	case cfg.Email.DevMode:
		mail = mailer.NewDevMailer()
	case cfg.Email.MailerSendKey != "":
		mail = mailer.NewMailer(cfg.Email.MailerSendKey, "Atlalli", cfg.Email.SMTPFrom)
	default:
		mail = mailer.NewSMTPMailer(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPFrom,
			cfg.Email.SMTPUser, cfg.Email.SMTPPass, cfg.Email.SMTPUseTLS)
	}

	// Initialize repositories
	secrets := postgres.NewVenueSecretsRepo(pool)
	catalogRepo := postgres.NewCatalogRepo(pool)
	ledgerRepo := postgres.NewLedgerRepo(pool)
	conversionRepo := postgres.NewConversionRepo(pool)
	staffRepo := postgres.NewStaffRepo(pool)

	// Initialize services
	signer := token.NewSigner(secrets)
	verifier := token.NewVerifier(secrets)
	iss := issuer.New(signer)
	conversions := conversion.NewService(conversionRepo, mail, eventBus)
	scans := scanner.NewService(verifier, catalogRepo, ledgerRepo, conversions, eventBus)

	// Initialize handlers
	redeemHandler := handlers.NewRedeemHandler(iss, verifier, catalogRepo, cfg.Redemption)
	scannerHandler := handlers.NewScannerHandler(scans, ledgerRepo, conversions, cfg.Redemption)
	authHandler := handlers.NewStaffAuthHandler(staffRepo, eventBus, cfg.Auth)
	conversionHandler := handlers.NewConversionHandler(conversions)

	scanLimiter := authmw.NewRateLimiter(rdb, authmw.RateLimitConfig{
		Requests: 30,
		Window:   time.Minute,
		KeyFunc:  authmw.ScanRateLimitKeyFunc,
	})
	issueLimiter := authmw.NewRateLimiter(rdb, authmw.RateLimitConfig{
		Requests: 120,
		Window:   time.Minute,
		KeyFunc:  authmw.ScanRateLimitKeyFunc,
	})

	// Setup router
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.DeviceID)
	r.Use(mw.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000", "*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Device-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.Health)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.With(authmw.RequireStaff).Post("/register", authHandler.Register)
		})

		r.Route("/redeem", func(r chi.Router) {
			r.Use(issueLimiter.Middleware())
			r.Post("/token", redeemHandler.IssueToken)
			r.Get("/", redeemHandler.OpenLink)
		})

		r.Route("/scanner", func(r chi.Router) {
			r.Use(authmw.RequireStaff)
			r.With(scanLimiter.Middleware()).Post("/scan", scannerHandler.Scan)
			r.Post("/confirm", scannerHandler.Confirm)
			r.Post("/reset", scannerHandler.Reset)
			r.Get("/stats", scannerHandler.Stats)
		})

		r.Route("/conversions", func(r chi.Router) {
			r.Use(authmw.RequireStaff)
			r.Get("/pending", conversionHandler.ListPending)
			r.Post("/convert", conversionHandler.MarkConverted)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting redemption API", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down redemption API...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Redemption API error", "error", err)
		os.Exit(1)
	}
}
