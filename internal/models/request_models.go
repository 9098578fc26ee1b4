package models

// PurchaseRequest is the body of POST /purchases.
type PurchaseRequest struct {
	SKU       string `json:"sku" binding:"required"`
	ItemID    string `json:"itemId,omitempty"`
	UseCoins  bool   `json:"useCoins,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// UnlockCharacterRequest is the body of POST /characters/:characterId/unlock.
type UnlockCharacterRequest struct {
	UseCoins  bool   `json:"useCoins,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// UpgradeMembershipRequest is the body of POST /membership/upgrade.
type UpgradeMembershipRequest struct {
	Tier           MembershipTier `json:"tier" binding:"required"`
	DurationMonths int            `json:"durationMonths"`
	RequestID      string         `json:"requestId,omitempty"`
}

// AdValidateRequest is the body of POST /ads/validate.
type AdValidateRequest struct {
	AdID string `json:"adId" binding:"required"`
}

// AdClaimRequest is the body of POST /ads/claim.
type AdClaimRequest struct {
	AdID        string `json:"adId" binding:"required"`
	CharacterID string `json:"characterId" binding:"required"`
	Platform    string `json:"platform,omitempty"`
}

// AssetOperation selects the ledger mutation of an admin asset request.
type AssetOperation string

const (
	AssetOpAdd    AssetOperation = "add"
	AssetOpDeduct AssetOperation = "deduct"
	AssetOpSet    AssetOperation = "set"
)

// AdminAssetRequest is the body of POST /admin/users/:userId/assets.
type AdminAssetRequest struct {
	Operation AssetOperation `json:"operation" binding:"required"`
	AssetType string         `json:"assetType" binding:"required"`
	Amount    int64          `json:"amount"`
	ItemID    string         `json:"itemId,omitempty"`
}

// BatchSetAssetsRequest is the body of PUT /admin/users/:userId/assets.
type BatchSetAssetsRequest struct {
	Assets map[string]int64 `json:"assets" binding:"required"`
}

// SetBalanceRequest is the body of PUT /admin/users/:userId/wallet.
type SetBalanceRequest struct {
	Balance *int64 `json:"balance" binding:"required"`
	Reason  string `json:"reason,omitempty"`
}

// RefundRequest is the body of POST /admin/transactions/:transactionId/refund.
type RefundRequest struct {
	Reason string `json:"reason,omitempty"`
}

// UpdateAlertRequest is the body of PATCH /admin/ad-alerts/:alertId.
type UpdateAlertRequest struct {
	Status    AlertStatus `json:"status" binding:"required"`
	AdminNote string      `json:"adminNote,omitempty"`
}

// CleanupEventsRequest is the body of POST /admin/maintenance/ad-events/cleanup.
type CleanupEventsRequest struct {
	DaysToKeep int `json:"daysToKeep,omitempty"`
}

// CleanupLocksRequest is the body of POST /admin/maintenance/upgrade-locks/cleanup.
type CleanupLocksRequest struct {
	Limit int `json:"limit,omitempty"`
}
