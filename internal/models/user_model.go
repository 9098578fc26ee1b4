package models

import "time"

// MembershipTier is the subscription level of an account.
type MembershipTier string

const (
	TierFree MembershipTier = "free"
	TierVIP  MembershipTier = "vip"
	TierVVIP MembershipTier = "vvip"
)

// MembershipStatus is the lifecycle state of a membership.
type MembershipStatus string

const (
	MembershipNone      MembershipStatus = "none"
	MembershipActive    MembershipStatus = "active"
	MembershipCancelled MembershipStatus = "cancelled"
	MembershipExpired   MembershipStatus = "expired"
)

// Membership is the membership view of an account.
type Membership struct {
	UserID    string           `json:"userId"`
	Tier      MembershipTier   `json:"tier"`
	Status    MembershipStatus `json:"status"`
	StartedAt *time.Time       `json:"startedAt,omitempty"`
	ExpiresAt *time.Time       `json:"expiresAt,omitempty"`
}

// Paid reports whether the tier is above free.
func (t MembershipTier) Paid() bool {
	return t == TierVIP || t == TierVVIP
}

// UpgradeResult is returned by a successful membership upgrade.
type UpgradeResult struct {
	UserID         string              `json:"userId"`
	PreviousTier   MembershipTier      `json:"previousTier"`
	Tier           MembershipTier      `json:"tier"`
	Status         MembershipStatus    `json:"status"`
	ExpiresAt      time.Time           `json:"expiresAt"`
	RewardsGranted bool                `json:"rewardsGranted"`
	Rewards        map[AssetType]int64 `json:"rewards,omitempty"`
	BonusPhotos    int64               `json:"bonusPhotoCards"`
	CoinsBonus     int64               `json:"coinsBonus"`
	StaleLockFreed bool                `json:"staleLockFreed,omitempty"`
}

// LockCleanup describes one cleared upgrade lock.
type LockCleanup struct {
	UserID  string `json:"userId"`
	Cleaned bool   `json:"cleaned"`
	Reason  string `json:"reason,omitempty"`
}

// Account is the ledger view of a user document.
type Account struct {
	ID          string           `json:"id"`
	Email       string           `json:"email,omitempty"`
	DisplayName string           `json:"displayName,omitempty"`
	Balance     int64            `json:"balance"`
	Membership  Membership       `json:"membership"`
	Assets      map[string]int64 `json:"assets"`
	CreatedAt   *time.Time       `json:"createdAt,omitempty"`
}
