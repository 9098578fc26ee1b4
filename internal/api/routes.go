package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/core"
	"github.com/mikeggyy/chat-app-all-sub002/internal/health"
	"github.com/mikeggyy/chat-app-all-sub002/internal/metrics"
	"github.com/mikeggyy/chat-app-all-sub002/internal/middleware"
)

// Dependencies are the services the routes are wired to.
type Dependencies struct {
	Auth        *middleware.AuthMiddleware
	Users       core.UserDirectory
	Assets      core.AssetLedger
	Coins       core.CoinLedger
	Purchases   core.Purchaser
	Membership  core.MembershipCoordinator
	Ads         core.AdRewarder
	Monitor     core.AdMonitor
	Characters  CharacterCatalog
	Idempotency *core.Idempotency
	Health      *health.Manager
	// Registry, when set, is served on /metrics.
	Registry *prometheus.Registry
}

// SetupRoutes configures all the application routes with their handlers and middleware.
// Global middleware (logging, recovery, CORS, metrics) is applied by the caller.
func SetupRoutes(router *gin.Engine, deps Dependencies, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	authMW := deps.Auth

	authHandler := NewAuthHandler(deps.Users, logger)
	userHandler := NewUserHandler(deps.Users, logger)
	assetHandler := NewAssetHandler(deps.Assets, logger)
	walletHandler := NewWalletHandler(deps.Coins, deps.Purchases, deps.Idempotency, logger)
	membershipHandler := NewMembershipHandler(deps.Membership, deps.Idempotency, logger)
	adHandler := NewAdHandler(deps.Ads, deps.Idempotency, logger)
	characterHandler := NewCharacterHandler(deps.Characters, logger)
	adminHandler := NewAdminHandler(deps.Assets, deps.Coins, deps.Membership, deps.Monitor, logger)

	apiV1 := router.Group("/api/v1", authMW.VerifyToken())
	{
		users := apiV1.Group("/users")
		{
			users.POST("/initialize", authHandler.InitializeUserProfile)
			users.GET("/me", userHandler.GetCurrentUserProfile)
		}

		apiV1.GET("/assets", assetHandler.ListAssets)
		apiV1.GET("/assets/summary", assetHandler.GetSummary)
		apiV1.GET("/assets/unlock-cards", assetHandler.GetUnlockCards)

		apiV1.GET("/wallet", walletHandler.GetWallet)
		apiV1.GET("/wallet/transactions", walletHandler.ListTransactions)
		apiV1.POST("/purchases", walletHandler.Purchase)

		apiV1.GET("/characters", characterHandler.ListCharacters)
		apiV1.GET("/characters/:characterId", characterHandler.GetCharacter)
		apiV1.POST("/characters/:characterId/unlock", walletHandler.UnlockCharacter)

		apiV1.GET("/membership", membershipHandler.GetMembership)
		apiV1.POST("/membership/upgrade", membershipHandler.Upgrade)

		ads := apiV1.Group("/ads")
		{
			ads.GET("/stats", adHandler.GetStats)
			ads.POST("/validate", adHandler.Validate)
			ads.POST("/claim", adHandler.Claim)
		}

		admin := apiV1.Group("/admin", authMW.RequireAdmin())
		{
			admin.POST("/users/:userId/assets", adminHandler.MutateAsset)
			admin.PUT("/users/:userId/assets", adminHandler.BatchSetAssets)
			admin.DELETE("/users/:userId/assets", adminHandler.ClearAssets)
			admin.POST("/users/:userId/assets/reconcile", adminHandler.ReconcileAssets)
			admin.PUT("/users/:userId/wallet", adminHandler.SetBalance)
			admin.GET("/users/:userId/ad-risk", adminHandler.UserRisk)
			admin.POST("/users/:userId/upgrade-lock/cleanup", adminHandler.CleanupUserLock)
			admin.POST("/transactions/:transactionId/refund", adminHandler.RefundTransaction)
			admin.GET("/ad-alerts", adminHandler.ListAlerts)
			admin.PATCH("/ad-alerts/:alertId", adminHandler.UpdateAlert)
			admin.POST("/maintenance/ad-events/cleanup", adminHandler.CleanupAdEvents)
			admin.POST("/maintenance/upgrade-locks/cleanup", adminHandler.CleanupUpgradeLocks)
			admin.POST("/catalog/refresh", characterHandler.Refresh)
			admin.GET("/catalog/stats", characterHandler.Stats)
		}
	}

	ready := deps.Health
	if ready == nil {
		ready = health.NewManager(true)
	}
	router.GET("/health", health.LivenessHandler)
	router.GET("/ready", health.ReadinessHandler(ready))
	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(deps.Registry)))
	}

	logger.Info("API routes configured successfully under /api/v1")
}
