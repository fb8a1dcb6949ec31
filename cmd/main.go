package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/random"

	"talecraft/internal/caching"
	"talecraft/internal/handlers"
	"talecraft/internal/jobs"
	"talecraft/internal/jobs/background"
	"talecraft/internal/middleware"
	"talecraft/internal/repositories"
	"talecraft/internal/services"
	"talecraft/pkg/database"
)

const version = "1.0.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	// Database connection
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	pool, err := database.NewPool(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// JWT configuration
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = random.String(32) // Generate random secret for development
		log.Printf("WARNING: Using generated JWT secret")
	}

	// Payment gateway configuration
	gatewayAPIKey := os.Getenv("PAYMENT_API_KEY")
	if gatewayAPIKey == "" {
		log.Fatal("PAYMENT_API_KEY environment variable is required")
	}
	gatewayBaseURL := os.Getenv("PAYMENT_BASE_URL")
	if gatewayBaseURL == "" {
		gatewayBaseURL = "https://api.xendit.co"
	}
	callbackToken := os.Getenv("PAYMENT_CALLBACK_TOKEN")
	if callbackToken == "" {
		log.Fatal("PAYMENT_CALLBACK_TOKEN environment variable is required")
	}
	successURL := os.Getenv("PAYMENT_SUCCESS_URL")
	failureURL := os.Getenv("PAYMENT_FAILURE_URL")
	currency := os.Getenv("PAYMENT_CURRENCY")
	if currency == "" {
		currency = "USD"
	}

	// Redis configuration
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := 0
	if redisDBStr := os.Getenv("REDIS_DB"); redisDBStr != "" {
		if db, err := strconv.Atoi(redisDBStr); err == nil {
			redisDB = db
		}
	}

	// Create repositories
	subscriptionRepo := repositories.NewSubscriptionRepo(pool)
	offerRepo := repositories.NewOfferRepo(pool)
	userRepo := repositories.NewUserRepo(pool)

	// Create cache service
	cacheSvc := caching.NewRedisCacheService(redisAddr, redisPassword, redisDB)

	// Create services
	entitlementSvc := services.NewEntitlementService(userRepo, entitlementConfig())
	catalogSvc := services.NewCatalogService(offerRepo, cacheSvc)
	invoiceSvc := services.NewInvoiceService(gatewayAPIKey, gatewayBaseURL)
	subscriptionSvc := services.NewSubscriptionService(
		subscriptionRepo,
		catalogSvc,
		invoiceSvc,
		entitlementSvc,
		successURL,
		failureURL,
		currency,
	)
	expirySvc := jobs.NewSubscriptionExpiryService(subscriptionRepo, entitlementSvc)

	// Background scheduler: daily expiry sweep, hourly stale pending cleanup
	scheduler := background.NewJobScheduler(expirySvc)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start job scheduler: %v", err)
	}

	// Create handlers
	subscriptionHandlers := handlers.NewSubscriptionHandlers(subscriptionSvc)
	offerHandlers := handlers.NewOfferHandlers(catalogSvc)
	webhookHandlers := handlers.NewWebhookHandlers(subscriptionSvc, cacheSvc, callbackToken)
	jobHandlers := handlers.NewJobHandlers(expirySvc)
	healthHandlers := handlers.NewHealthHandlers(pool, cacheSvc)

	// Create Echo instance
	e := echo.New()

	// Global middleware
	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Use(echoMiddleware.RemoveTrailingSlash())

	// Health endpoints (no auth required)
	e.GET("/health", healthHandlers.HealthCheck)
	e.GET("/health/ready", healthHandlers.ReadinessCheck)

	// Gateway callback (token-guarded inside the handler)
	e.POST("/webhooks/payments", webhookHandlers.PaymentCallback)

	// API routes
	v1 := e.Group("/v1")
	v1.GET("/offers", offerHandlers.ListOffers)
	v1.POST("/subscriptions", subscriptionHandlers.CreateSubscription)
	v1.GET("/subscriptions", subscriptionHandlers.ListSubscriptions)
	v1.POST("/subscriptions/unsubscribe", subscriptionHandlers.Unsubscribe)
	v1.POST("/subscriptions/expire", subscriptionHandlers.ExpireSubscription)

	// Admin routes (require JWT)
	admin := v1.Group("/admin")
	admin.Use(middleware.JWTMiddleware(jwtSecret))
	admin.DELETE("/subscriptions/pending/:email", subscriptionHandlers.CleanupPending)
	admin.POST("/subscriptions/sweep", jobHandlers.RunExpirySweep)
	admin.POST("/subscriptions/cleanup", jobHandlers.RunStalePendingCleanup)
	admin.POST("/offers/refresh", offerHandlers.RefreshOffers)

	// Start server
	portStr := os.Getenv("PORT")
	if portStr == "" {
		portStr = "8080"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.Fatalf("Invalid port %s: %v", portStr, err)
	}

	go func() {
		log.Printf("Talecraft server v%s starting on port %d", version, port)
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := scheduler.Stop(); err != nil {
		log.Printf("Scheduler shutdown failed: %v", err)
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}
}

// entitlementConfig maps plan names to the AI model each plan unlocks. The
// default is the free-tier model applied whenever no qualifying subscription
// exists.
func entitlementConfig() services.EntitlementConfig {
	return services.EntitlementConfig{
		PlanModels: map[string]string{
			"Hero's Journey":  "gpt-4o",
			"Epic Saga":       "gpt-4o",
			"Legendary Quest": "gpt-4-turbo",
		},
		DefaultModel: "gpt-4o-mini",
	}
}
