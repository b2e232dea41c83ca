package main

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thisreply/thisreply/internal"
	"github.com/thisreply/thisreply/internal/ai"
	"github.com/thisreply/thisreply/internal/ai/mock"
	"github.com/thisreply/thisreply/internal/ai/openai"
	"github.com/thisreply/thisreply/internal/billing"
	"github.com/thisreply/thisreply/internal/domain"
	"github.com/thisreply/thisreply/internal/email"
	"github.com/thisreply/thisreply/internal/handler"
	"github.com/thisreply/thisreply/internal/metrics"
	"github.com/thisreply/thisreply/internal/middleware"
	"github.com/thisreply/thisreply/internal/service"
	"github.com/thisreply/thisreply/internal/storage"
	"github.com/thisreply/thisreply/internal/store"
	"github.com/thisreply/thisreply/internal/worker"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Run migrations over database/sql, then close it. Queries go through
	// pgx directly.
	migrationDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	if err := migrationDB.PingContext(ctx); err != nil {
		migrationDB.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := internal.RunMigrations(migrationDB); err != nil {
		migrationDB.Close()
		return fmt.Errorf("migration failed: %w", err)
	}
	migrationDB.Close()

	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("pool creation failed: %w", err)
	}
	defer pool.Close()
	logger.Info("Database ready")

	st := store.New(pool)

	// Initialize screenshot storage
	files, err := newStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// Initialize AI provider
	provider, err := newAIProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("ai provider initialization failed: %w", err)
	}

	// Initialize email service
	emailService, err := newEmailService(cfg, logger)
	if err != nil {
		return fmt.Errorf("email initialization failed: %w", err)
	}

	// Initialize Stripe billing. Nil when not configured; billing handlers
	// then report payment errors and the webhook endpoint no-ops.
	var billingService billing.Service
	if cfg.StripeSecretKey != "" {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			WeeklyPriceID:  cfg.StripeWeeklyPriceID,
			MonthlyPriceID: cfg.StripeMonthlyPriceID,
		})
		logger.Info("Stripe billing enabled")
	} else {
		logger.Warn("Stripe billing not configured")
	}

	// Initialize services
	admins := domain.NewAdminList(cfg.AdminEmails)
	userService := service.NewUserService(st, logger)
	entitlementService := service.NewEntitlementService(st, admins, cfg.FreeDailyLimit, logger)
	referralService := service.NewReferralService(st, cfg.ReferralBonus, logger)
	subscriptionService := service.NewSubscriptionService(st, billingService, cfg.BaseURL, logger)
	analysisService := service.NewAnalysisService(st, entitlementService, provider, files, service.NewImagingProcessor(), logger)
	adminService := service.NewAdminService(st, logger)

	// Initialize middleware
	isSecure := cfg.Env != "development"
	authMw := middleware.NewAuthMiddleware(userService, admins, logger, isSecure)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	authLimiter := middleware.NewAuthRateLimiter(logger)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(userService, emailService, authLimiter, logger, isSecure)
	analysisHandler := handler.NewAnalysisHandler(analysisService, files, cfg.MaxUploadBytes, logger)
	entitlementHandler := handler.NewEntitlementHandler(entitlementService, referralService, userService, emailService, logger)
	billingHandler := handler.NewBillingHandler(subscriptionService, entitlementService, logger)
	webhookHandler := handler.NewWebhookHandler(billingService, subscriptionService, logger)
	adminHandler := handler.NewAdminHandler(adminService, logger)
	healthHandler := handler.NewHealthHandler(pool, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	withUser := middleware.Stack(authMw.WithUser)
	requireUser := middleware.Stack(authMw.WithUser, authMw.RequireUser)
	requireVerified := middleware.Stack(authMw.WithUser, authMw.RequireUser, authMw.RequireVerifiedEmail)
	requireAdmin := middleware.Stack(authMw.WithUser, authMw.RequireUser, authMw.RequireAdmin)

	healthHandler.RegisterRoutes(mux)
	authHandler.RegisterRoutes(mux, withUser)
	analysisHandler.RegisterRoutes(mux, requireVerified)
	entitlementHandler.RegisterRoutes(mux, requireUser)
	billingHandler.RegisterRoutes(mux, requireUser)
	adminHandler.RegisterRoutes(mux, requireAdmin)
	webhookHandler.RegisterRoutes(mux)

	// Local storage serves uploaded files directly in development
	if cfg.StorageProvider == storage.ProviderLocal {
		filesFS := http.FileServer(http.Dir(cfg.LocalStoragePath))
		mux.Handle("GET /files/", requireUser(http.StripPrefix("/files/", filesFS)))
	}

	// Prometheus metrics, behind basic auth when credentials are set
	mux.Handle("GET /metrics", metricsAuth(cfg.MetricsUsername, cfg.MetricsPassword, promhttp.Handler()))

	root := middleware.Stack(securityMw.Handler, metrics.Middleware, loggingMw.Handler)(mux)

	// ==========================================================================
	// Start maintenance janitor
	// ==========================================================================

	if cfg.JanitorEnabled {
		janitorCfg := worker.DefaultConfig()
		janitorCfg.Interval = cfg.JanitorInterval

		janitor, err := worker.New(st.Analyses, userService, files, janitorCfg, logger)
		if err != nil {
			return fmt.Errorf("janitor initialization failed: %w", err)
		}
		janitor.Start(ctx)
		defer janitor.Stop()
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// newStorage builds the configured screenshot storage backend.
func newStorage(cfg *internal.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		return storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		}, logger)
	default:
		return storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		}, logger)
	}
}

// newAIProvider builds the configured analysis provider.
func newAIProvider(cfg *internal.Config, logger *slog.Logger) (ai.Provider, error) {
	switch cfg.AIProvider {
	case "mock":
		logger.Warn("using mock AI provider")
		return mock.New(logger), nil
	default:
		return openai.New(openai.Config{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
			ProviderConfig: ai.ProviderConfig{
				MaxRetries:     cfg.AIMaxRetries,
				RetryBaseDelay: cfg.AIRetryBaseDelay,
				RequestTimeout: cfg.AIRequestTimeout,
			},
		}, logger)
	}
}

// newEmailService builds the SMTP email service, or a logging no-op when
// SMTP is not configured.
func newEmailService(cfg *internal.Config, logger *slog.Logger) (email.EmailService, error) {
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP not configured, emails will be discarded")
		return email.NewNoopEmailService(logger), nil
	}

	return email.NewSMTPEmailService(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, cfg.BaseURL, logger)
}

// metricsAuth wraps the metrics endpoint with basic auth when credentials
// are configured.
func metricsAuth(username, password string, next http.Handler) http.Handler {
	if username == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
