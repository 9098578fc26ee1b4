package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/configs"
	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
	"github.com/mikeggyy/chat-app-all-sub002/internal/metrics"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

const (
	maxUpgradeMonths = 24
	defaultLockScan  = 100
	tierField        = "membershipTier"
	statusField      = "membershipStatus"
	expiresField     = "membershipExpiresAt"
	startedField     = "membershipStartedAt"
)

// MembershipService changes membership tiers under the upgrade lock.
type MembershipService struct {
	store     db.Store
	economy   *configs.Economy
	lockTTL   time.Duration
	logger    *zap.Logger
	metrics   *metrics.Ledger
	now       func() time.Time
	newHolder func() string
}

// NewMembershipService creates a new MembershipService instance.
func NewMembershipService(store db.Store, economy *configs.Economy, lockTTL time.Duration, logger *zap.Logger, m *metrics.Ledger) *MembershipService {
	if economy == nil {
		economy = configs.DefaultEconomy()
	}
	if lockTTL <= 0 {
		lockTTL = DefaultUpgradeLockTTL
	}
	return &MembershipService{
		store:     store,
		economy:   economy,
		lockTTL:   lockTTL,
		logger:    orNop(logger),
		metrics:   m,
		now:       time.Now,
		newHolder: uuid.NewString,
	}
}

type membershipState struct {
	tier      models.MembershipTier
	status    models.MembershipStatus
	startedAt *time.Time
	expiresAt *time.Time
}

func readMembership(user *db.Document) membershipState {
	st := membershipState{
		tier:   models.MembershipTier(user.String(tierField)),
		status: models.MembershipStatus(user.String(statusField)),
	}
	if st.tier == "" {
		st.tier = models.TierFree
	}
	if st.status == "" {
		st.status = models.MembershipNone
	}
	if t, ok := user.Time(startedField); ok {
		st.startedAt = &t
	}
	if t, ok := user.Time(expiresField); ok {
		st.expiresAt = &t
	}
	return st
}

// activePaid reports whether the account is on a paid tier that has not run out.
func (m membershipState) activePaid(now time.Time) bool {
	return m.tier.Paid() && m.status == models.MembershipActive && m.expiresAt != nil && m.expiresAt.After(now)
}

// effectiveTier is the tier whose allowances currently apply.
func (m membershipState) effectiveTier(now time.Time) models.MembershipTier {
	if m.activePaid(now) {
		return m.tier
	}
	return models.TierFree
}

// GetMembership returns the membership view, reporting a passed expiry as
// expired even before anything rewrote the status.
func (s *MembershipService) GetMembership(ctx context.Context, userID string) (*models.Membership, error) {
	if err := validID("user id", userID); err != nil {
		return nil, err
	}
	user, err := s.store.Get(ctx, userPath(userID))
	if err != nil {
		return nil, err
	}
	if !user.Exists {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	st := readMembership(user)
	if st.status == models.MembershipActive && st.expiresAt != nil && !st.expiresAt.After(s.now()) {
		st.status = models.MembershipExpired
	}
	return &models.Membership{
		UserID:    userID,
		Tier:      st.tier,
		Status:    st.status,
		StartedAt: st.startedAt,
		ExpiresAt: st.expiresAt,
	}, nil
}

// UpgradeMembership moves the account to a paid tier for durationMonths.
// The lock is acquired in one transaction; rewards, the tier change and the
// lock release commit together in a second one.
func (s *MembershipService) UpgradeMembership(ctx context.Context, userID string, tier models.MembershipTier, durationMonths int) (*models.UpgradeResult, error) {
	if err := validID("user id", userID); err != nil {
		return nil, err
	}
	targetRank, ok := s.economy.TierRank(tier)
	if !ok || !tier.Paid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	if durationMonths == 0 {
		durationMonths = 1
	}
	if durationMonths < 0 || durationMonths > maxUpgradeMonths {
		return nil, fmt.Errorf("%w: duration must be between 1 and %d months", ErrInvalidInput, maxUpgradeMonths)
	}

	holder := s.newHolder()
	staleFreed, err := s.acquireLock(ctx, userID, holder, targetRank)
	if err != nil {
		return nil, err
	}

	result, err := s.applyUpgrade(ctx, userID, holder, tier, durationMonths)
	if err != nil {
		s.metrics.IncUpgradeLock("failed")
		s.releaseLock(ctx, userID, holder)
		s.logger.Warn("membership upgrade failed",
			zap.String("userID", userID),
			zap.String("tier", string(tier)),
			zap.Error(err))
		return nil, err
	}
	result.StaleLockFreed = staleFreed
	s.metrics.IncUpgradeLock("completed")
	s.logger.Info("membership upgraded",
		zap.String("userID", userID),
		zap.String("from", string(result.PreviousTier)),
		zap.String("to", string(result.Tier)),
		zap.Bool("rewardsGranted", result.RewardsGranted),
		zap.Time("expiresAt", result.ExpiresAt))
	return result, nil
}

func (s *MembershipService) acquireLock(ctx context.Context, userID, holder string, targetRank int) (bool, error) {
	var staleFreed bool
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx db.Tx) error {
		staleFreed = false
		now := s.now()
		user, err := readUser(tx, userID)
		if err != nil {
			return err
		}
		limits, err := tx.Get(usageLimitsPath(userID))
		if err != nil {
			return err
		}

		current := readMembership(user)
		if current.activePaid(now) {
			if rank, ok := s.economy.TierRank(current.tier); ok && targetRank < rank {
				return fmt.Errorf("%w: %s is active until %s", ErrDowngradeNotAllowed, current.tier, current.expiresAt.Format(time.RFC3339))
			}
		}
		lease := leaseFrom(limits)
		if !lease.Free(now, s.lockTTL) {
			return fmt.Errorf("%w: locked since %s", ErrUpgradeInProgress, lease.AcquiredAt.Format(time.RFC3339))
		}
		if lease.Held {
			staleFreed = true
			s.logger.Warn("taking over stale upgrade lock",
				zap.String("userID", userID),
				zap.String("reason", lease.staleReason(now)))
		}
		return tx.Set(usageLimitsPath(userID), leaseAcquire(holder, now), db.Merge())
	})
	switch {
	case err == nil && staleFreed:
		s.metrics.IncUpgradeLock("stale_taken_over")
	case err == nil:
		s.metrics.IncUpgradeLock("acquired")
	default:
		s.metrics.IncUpgradeLock("rejected")
	}
	return staleFreed, err
}

func (s *MembershipService) applyUpgrade(ctx context.Context, userID, holder string, tier models.MembershipTier, months int) (*models.UpgradeResult, error) {
	target, _ := s.economy.Tier(tier)
	var result *models.UpgradeResult
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx db.Tx) error {
		now := s.now()
		user, err := readUser(tx, userID)
		if err != nil {
			return err
		}
		limits, err := tx.Get(usageLimitsPath(userID))
		if err != nil {
			return err
		}
		if leaseFrom(limits).Holder != holder {
			return fmt.Errorf("%w: lock taken over by another request", ErrUpgradeInProgress)
		}

		current := readMembership(user)
		grantNew := !(current.activePaid(now) && current.tier == tier)
		rewards := map[models.AssetType]int64{}
		var bonusPhotos int64
		if grantNew {
			for name, n := range target.Grants {
				if n > 0 {
					rewards[models.AssetType(name)] = n
				}
			}
			prior, _ := s.economy.Tier(current.effectiveTier(now))
			if unused := prior.MonthlyPhotos - limits.Int(photosCountField); unused > 0 {
				bonusPhotos = unused
				rewards[models.AssetPhotoUnlockCard] += unused
			}
		}
		states := make([]*assetState, 0, len(rewards))
		for _, t := range models.KnownAssetTypes {
			if rewards[t] == 0 {
				continue
			}
			st, err := readAssetWithUser(tx, user, userID, t, "")
			if err != nil {
				return err
			}
			states = append(states, st)
		}

		for _, st := range states {
			if _, err := applyAssetDelta(tx, st, rewards[st.assetType]); err != nil {
				return err
			}
		}
		var coinsBonus int64
		if grantNew && target.MonthlyCoinsBonus > 0 {
			coinsBonus = target.MonthlyCoinsBonus
			_, err := applyBalanceChange(tx, user, userID, balanceEntry{
				txType:      models.TransactionEarn,
				category:    models.CategoryMembershipBonus,
				amount:      coinsBonus,
				description: "membership bonus",
				metadata:    map[string]interface{}{"tier": string(tier)},
			})
			if err != nil {
				return err
			}
		}

		base := now
		if current.activePaid(now) {
			base = *current.expiresAt
		}
		expiresAt := base.AddDate(0, months, 0)
		userUpdates := []db.Update{
			{Path: tierField, Value: string(tier)},
			{Path: statusField, Value: string(models.MembershipActive)},
			{Path: expiresField, Value: expiresAt},
		}
		if grantNew {
			userUpdates = append(userUpdates, db.Update{Path: startedField, Value: now})
		}
		if err := tx.Update(userPath(userID), stamped(userUpdates)); err != nil {
			return err
		}

		limitUpdates := leaseRelease()
		if grantNew {
			limitUpdates = append(limitUpdates, db.Update{Path: photosCountField, Value: 0})
		}
		if err := tx.Update(usageLimitsPath(userID), limitUpdates); err != nil {
			return err
		}

		history := map[string]interface{}{
			"userId":         userID,
			"fromTier":       string(current.tier),
			"toTier":         string(tier),
			"durationMonths": months,
			"expiresAt":      expiresAt,
			"rewardsGranted": grantNew,
			"createdAt":      db.ServerTimestamp,
		}
		if _, err := tx.Create(membershipHistoryCollection, history); err != nil {
			return err
		}

		r := &models.UpgradeResult{
			UserID:         userID,
			PreviousTier:   current.tier,
			Tier:           tier,
			Status:         models.MembershipActive,
			ExpiresAt:      expiresAt,
			RewardsGranted: grantNew,
			BonusPhotos:    bonusPhotos,
			CoinsBonus:     coinsBonus,
		}
		if len(rewards) > 0 {
			r.Rewards = rewards
		}
		result = r
		return nil
	})
	return result, err
}

// releaseLock clears the lock if this request still holds it. Failures are
// only logged; the lock then expires through its TTL.
func (s *MembershipService) releaseLock(ctx context.Context, userID, holder string) {
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx db.Tx) error {
		limits, err := tx.Get(usageLimitsPath(userID))
		if err != nil {
			return err
		}
		if !limits.Exists || leaseFrom(limits).Holder != holder {
			return nil
		}
		return tx.Update(usageLimitsPath(userID), leaseRelease())
	})
	if err != nil {
		s.logger.Error("failed to release upgrade lock", zap.String("userID", userID), zap.Error(err))
	}
}

// CheckAndCleanupLock clears the user's upgrade lock when it is stale.
func (s *MembershipService) CheckAndCleanupLock(ctx context.Context, userID string) (*models.LockCleanup, error) {
	if err := validID("user id", userID); err != nil {
		return nil, err
	}
	result := &models.LockCleanup{UserID: userID}
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx db.Tx) error {
		result.Cleaned, result.Reason = false, ""
		limits, err := tx.Get(usageLimitsPath(userID))
		if err != nil {
			return err
		}
		lease := leaseFrom(limits)
		now := s.now()
		if !limits.Exists || !lease.Stale(now, s.lockTTL) {
			return nil
		}
		result.Cleaned = true
		result.Reason = lease.staleReason(now)
		return tx.Update(usageLimitsPath(userID), append(leaseRelease(),
			db.Update{Path: lockCleanedField, Value: db.ServerTimestamp},
			db.Update{Path: lockReasonField, Value: result.Reason},
		))
	})
	if err != nil {
		return nil, err
	}
	if result.Cleaned {
		s.metrics.IncUpgradeLock("stale_cleaned")
		s.logger.Info("stale upgrade lock cleared", zap.String("userID", userID), zap.String("reason", result.Reason))
	}
	return result, nil
}

// CleanupStaleLocks scans held locks and clears the stale ones.
func (s *MembershipService) CleanupStaleLocks(ctx context.Context, limit int) ([]models.LockCleanup, error) {
	if limit <= 0 {
		limit = defaultLockScan
	}
	docs, err := s.store.Query(ctx, db.Query{Collection: usageLimitsCollection, Limit: limit}.
		Where(lockHeldField, db.OpEqual, true))
	if err != nil {
		return nil, fmt.Errorf("scan upgrade locks: %w", err)
	}
	cleaned := []models.LockCleanup{}
	for _, d := range docs {
		r, err := s.CheckAndCleanupLock(ctx, d.ID)
		if err != nil {
			s.logger.Warn("upgrade lock cleanup failed", zap.String("userID", d.ID), zap.Error(err))
			continue
		}
		if r.Cleaned {
			cleaned = append(cleaned, *r)
		}
	}
	s.logger.Info("upgrade lock scan finished", zap.Int("scanned", len(docs)), zap.Int("cleaned", len(cleaned)))
	return cleaned, nil
}
