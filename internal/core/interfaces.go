package core

import (
	"context"

	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

// UserDirectory defines the account operations.
type UserDirectory interface {
	// GetOrCreate returns the account, creating it when absent. The bool
	// reports whether it was created.
	GetOrCreate(ctx context.Context, userID, email, displayName string) (*models.Account, bool, error)
	GetByID(ctx context.Context, userID string) (*models.Account, error)
}

// AssetLedger defines the per-user asset operations.
type AssetLedger interface {
	AddAsset(ctx context.Context, userID string, t models.AssetType, amount int64, itemID string) (*models.AssetChange, error)
	DeductAsset(ctx context.Context, userID string, t models.AssetType, amount int64, itemID string) (*models.AssetChange, error)
	SetAssetQuantity(ctx context.Context, userID string, t models.AssetType, quantity int64, itemID string) (*models.AssetChange, error)
	GetUnlockCardsBalance(ctx context.Context, userID string) (*models.UnlockCardsBalance, error)
	GetAssetSummary(ctx context.Context, userID string) ([]models.AssetReconciliation, error)
	// GetUserAssets lists the sub-collection; an empty type lists everything.
	GetUserAssets(ctx context.Context, userID string, t models.AssetType) ([]models.AssetRecord, error)
	ReconcileAssets(ctx context.Context, userID string) ([]models.AssetReconciliation, error)
	BatchSetAssets(ctx context.Context, userID string, quantities map[models.AssetType]int64) error
	ClearAllAssets(ctx context.Context, userID string) (int, error)
}

// CoinLedger defines wallet operations. Every change appends a transaction record.
type CoinLedger interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	SetBalance(ctx context.Context, userID string, balance int64, reason string) (*models.BalanceChange, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
	RefundTransaction(ctx context.Context, transactionID, reason string) (*models.BalanceChange, error)
}

// Purchaser spends coins or cards on entitlements.
type Purchaser interface {
	UnlockCharacter(ctx context.Context, userID, characterID string, useCoins bool) (*models.UnlockResult, error)
	Purchase(ctx context.Context, userID string, req models.PurchaseRequest) (*models.PurchaseResult, error)
}

// MembershipCoordinator upgrades tiers under the per-user upgrade lock.
type MembershipCoordinator interface {
	GetMembership(ctx context.Context, userID string) (*models.Membership, error)
	UpgradeMembership(ctx context.Context, userID string, tier models.MembershipTier, durationMonths int) (*models.UpgradeResult, error)
	CheckAndCleanupLock(ctx context.Context, userID string) (*models.LockCleanup, error)
	CleanupStaleLocks(ctx context.Context, limit int) ([]models.LockCleanup, error)
}

// AdRewarder validates ad watches and pays their rewards.
type AdRewarder interface {
	ValidateAdWatch(ctx context.Context, userID, adID string) (models.AdValidation, error)
	GetAdWatchStats(ctx context.Context, userID string) (*models.AdWatchSummary, error)
	ClaimAdReward(ctx context.Context, userID, adID, characterID string, adCtx models.AdContext) (*models.AdRewardResult, error)
}

// AdMonitor is the admin surface of anomaly detection.
type AdMonitor interface {
	ListAlerts(ctx context.Context, f AlertFilter) ([]models.AnomalyAlert, error)
	UpdateAlertStatus(ctx context.Context, alertID string, status models.AlertStatus, adminNote, reviewer string) (*models.AnomalyAlert, error)
	GetUserAnomalyStats(ctx context.Context, userID string) (*models.UserAnomalyStats, error)
	CleanupOldEvents(ctx context.Context, daysToKeep int) (int, error)
}

var (
	_ UserDirectory         = (*UserService)(nil)
	_ AssetLedger           = (*AssetService)(nil)
	_ CoinLedger            = (*CoinService)(nil)
	_ Purchaser             = (*PurchaseService)(nil)
	_ MembershipCoordinator = (*MembershipService)(nil)
	_ AdRewarder            = (*AdService)(nil)
	_ AdMonitor             = (*AdMonitorService)(nil)
)
