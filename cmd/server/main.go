package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/configs"
	"github.com/mikeggyy/chat-app-all-sub002/internal/api"
	"github.com/mikeggyy/chat-app-all-sub002/internal/catalog"
	"github.com/mikeggyy/chat-app-all-sub002/internal/config"
	"github.com/mikeggyy/chat-app-all-sub002/internal/core"
	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
	"github.com/mikeggyy/chat-app-all-sub002/internal/health"
	"github.com/mikeggyy/chat-app-all-sub002/internal/metrics"
	"github.com/mikeggyy/chat-app-all-sub002/internal/middleware"
	"github.com/mikeggyy/chat-app-all-sub002/internal/notify"
	"github.com/mikeggyy/chat-app-all-sub002/pkg/cache"
	"github.com/mikeggyy/chat-app-all-sub002/pkg/mailer"
	"github.com/mikeggyy/chat-app-all-sub002/pkg/messagequeue"
)

func newLogger() (*zap.Logger, error) {
	if strings.ToLower(os.Getenv("GIN_MODE")) == "release" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func main() {
	// --- 1. Initialize Logger (Zap) ---
	zapLogger, err := newLogger()
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to initialize Zap logger: %v", err)
	}
	defer zapLogger.Sync()

	// --- 2. Load Application Configuration ---
	if err := godotenv.Load(); err != nil {
		zapLogger.Info("No .env file loaded, using process environment")
	}
	appConfig, err := config.LoadConfig()
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to load application configuration", zap.Error(err))
	}

	// --- 3. Load Economy Catalog ---
	economy, err := configs.LoadEconomy(appConfig.EconomyConfigPath)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to load economy catalog", zap.Error(err))
	}
	zapLogger.Info("Economy catalog loaded", zap.String("path", appConfig.EconomyConfigPath))

	// --- 4. Initialize Document Store ---
	initCtx, cancelInitCtx := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelInitCtx()

	var store db.Store
	var verifier middleware.TokenVerifier
	switch appConfig.StoreBackend {
	case config.StoreFirestore:
		if err := db.InitFirestore(initCtx, appConfig); err != nil {
			zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize Firestore and Firebase Admin SDK", zap.Error(err))
		}
		firestoreClient := db.GetFirestoreClient()
		authClient := db.GetFirebaseAuthClient()
		if firestoreClient == nil || authClient == nil {
			zapLogger.Fatal("CRITICAL_ERROR: Firebase clients are nil after initialization")
		}
		store = db.NewFirestoreStore(firestoreClient)
		verifier = authClient
	default:
		zapLogger.Warn("Using the in-memory store; data is lost on restart")
		store = db.NewMemoryStore()
	}
	if verifier == nil && !appConfig.DevAuthHeader {
		zapLogger.Warn("No token verifier and DEV_AUTH_HEADER is off; every API request will be rejected")
	}

	// --- 5. Initialize Cache and Alert Fan-out ---
	var idemCache cache.Cache = cache.NewMemoryCache()
	if appConfig.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(initCtx, cache.NewRedisCacheConfig{
			Address:  appConfig.RedisAddr,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
			Prefix:   "ledger:",
		}, zapLogger)
		if err != nil {
			zapLogger.Fatal("CRITICAL_ERROR: Failed to connect to Redis", zap.Error(err))
		}
		idemCache = redisCache
	}

	var notifiers []core.AlertNotifier
	var queue *messagequeue.RabbitMQService
	if appConfig.RabbitMQURL != "" {
		queue, err = messagequeue.NewRabbitMQService(messagequeue.NewRabbitMQServiceConfig{URL: appConfig.RabbitMQURL}, zapLogger)
		if err != nil {
			zapLogger.Fatal("CRITICAL_ERROR: Failed to connect to RabbitMQ", zap.Error(err))
		}
		notifiers = append(notifiers, notify.NewQueueNotifier(queue, appConfig.AlertQueueName, zapLogger))
	}
	if appConfig.AlertEmailTo != "" {
		m, err := mailer.New(mailer.Config{
			Host:     appConfig.SMTPHost,
			Port:     appConfig.SMTPPort,
			Username: appConfig.SMTPUser,
			Password: appConfig.SMTPPass,
			From:     appConfig.AlertEmailFrom,
		}, nil)
		if err != nil {
			zapLogger.Fatal("CRITICAL_ERROR: Failed to configure alert mailer", zap.Error(err))
		}
		notifiers = append(notifiers, notify.NewEmailNotifier(m, appConfig.AlertEmailTo, zapLogger))
	}

	// --- 6. Initialize Services ---
	registry := prometheus.NewRegistry()
	ledgerMetrics := metrics.NewLedger(registry)

	characters := catalog.NewCharacterCache(store, appConfig.CatalogRetry(), zapLogger, ledgerMetrics)
	monitor := core.NewAdMonitorService(store, int64(appConfig.AdDailyLimit), zapLogger, ledgerMetrics, notifiers...)
	adRules := core.AdRules{
		DailyLimit:  int64(appConfig.AdDailyLimit),
		Cooldown:    appConfig.AdCooldown(),
		ValidWindow: appConfig.AdValidWindow(),
		MaxUsedIDs:  appConfig.AdMaxUsedIDs,
	}
	adService := core.NewAdService(store, adRules, economy, monitor, zapLogger, ledgerMetrics)
	deps := api.Dependencies{
		Auth: middleware.NewAuthMiddleware(verifier, middleware.AuthOptions{
			AdminClaim: appConfig.AdminClaim,
			DevHeader:  appConfig.DevAuthHeader,
		}, zapLogger),
		Users:       core.NewUserService(store, zapLogger),
		Assets:      core.NewAssetService(store, zapLogger, ledgerMetrics),
		Coins:       core.NewCoinService(store, zapLogger, ledgerMetrics),
		Purchases:   core.NewPurchaseService(store, economy, characters, zapLogger, ledgerMetrics),
		Membership:  core.NewMembershipService(store, economy, appConfig.UpgradeLockTTL(), zapLogger, ledgerMetrics),
		Ads:         adService,
		Monitor:     monitor,
		Characters:  characters,
		Idempotency: core.NewIdempotency(idemCache, appConfig.IdempotencyTTL(), zapLogger),
		Registry:    registry,
	}
	zapLogger.Info("Core services initialized successfully.")

	// --- 7. Start Character Catalog ---
	ready := health.NewManager(false)
	ready.AddCheck("character_catalog", characters.Loaded)
	deps.Health = ready
	if err := characters.Start(initCtx); err != nil {
		// The cache keeps retrying in the background; /ready reports it.
		zapLogger.Error("Character catalog failed to load", zap.Error(err))
	}

	// --- 8. Setup Gin HTTP Engine ---
	if strings.ToLower(appConfig.GinMode) == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(zapLogger))
	router.Use(middleware.RecoveryMiddleware(zapLogger))
	router.Use(metrics.NewHTTP(registry).Middleware())
	router.Use(middleware.CORSMiddleware(appConfig.ClientURL))

	// --- 9. Setup API Routes ---
	api.SetupRoutes(router, deps, zapLogger)

	// --- 10. Configure and Start HTTP Server ---
	serverAddr := fmt.Sprintf(":%s", appConfig.Port)
	httpServer := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	zapLogger.Info("Starting HTTP server...",
		zap.String("address", serverAddr),
		zap.String("ginMode", gin.Mode()),
		zap.String("store", appConfig.StoreBackend))

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()
	ready.SetReady(true)

	// --- 11. Graceful Shutdown Handling ---
	quitChannel := make(chan os.Signal, 1)
	signal.Notify(quitChannel, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quitChannel
	zapLogger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	ready.SetReady(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := adService.Wait(shutdownCtx); err != nil {
		zapLogger.Warn("Pending ad monitor writes abandoned", zap.Error(err))
	}

	characters.Close()
	if queue != nil {
		if err := queue.Close(); err != nil {
			zapLogger.Warn("Failed to close RabbitMQ connection", zap.Error(err))
		}
	}
	if err := idemCache.Close(); err != nil {
		zapLogger.Warn("Failed to close idempotency cache", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		zapLogger.Warn("Failed to close document store", zap.Error(err))
	}
	zapLogger.Info("Server exiting gracefully.")
}
