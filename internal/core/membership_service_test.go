package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeggyy/chat-app-all-sub002/configs"
	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

type flakyStore struct {
	db.Store
	calls  int
	failOn int
}

var errFlaky = errors.New("commit failed")

func (f *flakyStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx db.Tx) error) error {
	f.calls++
	if f.calls == f.failOn {
		return errFlaky
	}
	return f.Store.RunTransaction(ctx, fn)
}

func newMembershipFixture(t *testing.T) (*MembershipService, *testClock) {
	t.Helper()
	clock := &testClock{now: testNow}
	store := newTestStore(clock)
	seed(t, store, "users/u1", map[string]interface{}{
		"membershipTier":   "free",
		"membershipStatus": "none",
		"wallet":           map[string]interface{}{"balance": 0},
	})
	svc := NewMembershipService(store, configs.DefaultEconomy(), 0, nil, nil)
	svc.now = clock.Now
	return svc, clock
}

func TestUpgradeFreeToVIPGrantsRewards(t *testing.T) {
	svc, clock := newMembershipFixture(t)
	ctx := context.Background()

	res, err := svc.UpgradeMembership(ctx, "u1", models.TierVIP, 1)
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, res.PreviousTier)
	assert.True(t, res.RewardsGranted)
	assert.Equal(t, int64(10), res.Rewards[models.AssetCharacterUnlockCard])
	assert.Equal(t, int64(23), res.Rewards[models.AssetPhotoUnlockCard])
	assert.Equal(t, int64(3), res.BonusPhotos)
	assert.Equal(t, clock.Now().AddDate(0, 1, 0), res.ExpiresAt)

	user := mustGet(t, svc.store, "users/u1")
	assert.Equal(t, "vip", user.String("membershipTier"))
	assert.Equal(t, "active", user.String("membershipStatus"))
	assert.Equal(t, int64(10), user.Int("assets.characterUnlockCards"))
	assert.Equal(t, int64(23), user.Int("assets.photoUnlockCards"))

	limits := mustGet(t, svc.store, "usage_limits/u1")
	assert.False(t, limits.Bool("photos.upgrading"))
	assert.False(t, limits.Has("photos.upgradingAt"))
	assert.Equal(t, 1, countDocs(t, svc.store, "membership_history"))

	m, err := svc.GetMembership(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.MembershipActive, m.Status)
}

func TestUpgradeCountsUnusedAllowance(t *testing.T) {
	svc, _ := newMembershipFixture(t)
	seed(t, svc.store, "usage_limits/u1", map[string]interface{}{
		"photos": map[string]interface{}{"count": 2},
	})

	res, err := svc.UpgradeMembership(context.Background(), "u1", models.TierVIP, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.BonusPhotos)
	assert.Equal(t, int64(21), res.Rewards[models.AssetPhotoUnlockCard])
	assert.Equal(t, int64(0), mustGet(t, svc.store, "usage_limits/u1").Int("photos.count"))
}

func TestUpgradeVVIPCreditsCoinBonus(t *testing.T) {
	svc, _ := newMembershipFixture(t)

	res, err := svc.UpgradeMembership(context.Background(), "u1", models.TierVVIP, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.CoinsBonus)
	assert.Equal(t, int64(100), mustGet(t, svc.store, "users/u1").Int("wallet.balance"))

	txs := transactionsOf(t, svc.store, "u1")
	require.Len(t, txs, 1)
	assert.Equal(t, models.CategoryMembershipBonus, txs[0].Category)
	assert.Equal(t, models.TransactionEarn, txs[0].Type)
}

func TestRenewalExtendsWithoutRewards(t *testing.T) {
	svc, clock := newMembershipFixture(t)
	ctx := context.Background()
	first, err := svc.UpgradeMembership(ctx, "u1", models.TierVIP, 1)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	second, err := svc.UpgradeMembership(ctx, "u1", models.TierVIP, 2)
	require.NoError(t, err)
	assert.False(t, second.RewardsGranted)
	assert.Nil(t, second.Rewards)
	assert.Equal(t, first.ExpiresAt.AddDate(0, 2, 0), second.ExpiresAt)
	assert.Equal(t, int64(10), mustGet(t, svc.store, "users/u1").Int("assets.characterUnlockCards"))
}

func TestUpgradeRejectsDowngradeAndInvalidTier(t *testing.T) {
	svc, _ := newMembershipFixture(t)
	ctx := context.Background()
	_, err := svc.UpgradeMembership(ctx, "u1", models.TierVVIP, 1)
	require.NoError(t, err)

	_, err = svc.UpgradeMembership(ctx, "u1", models.TierVIP, 1)
	require.ErrorIs(t, err, ErrDowngradeNotAllowed)
	_, err = svc.UpgradeMembership(ctx, "u1", models.TierFree, 1)
	require.ErrorIs(t, err, ErrInvalidTier)
	_, err = svc.UpgradeMembership(ctx, "u1", "platinum", 1)
	require.ErrorIs(t, err, ErrInvalidTier)
	_, err = svc.UpgradeMembership(ctx, "u1", models.TierVVIP, 99)
	require.ErrorIs(t, err, ErrInvalidInput)

	assert.False(t, mustGet(t, svc.store, "usage_limits/u1").Bool("photos.upgrading"))
}

func TestUpgradeAfterExpiryStartsFromNow(t *testing.T) {
	svc, clock := newMembershipFixture(t)
	ctx := context.Background()
	_, err := svc.UpgradeMembership(ctx, "u1", models.TierVVIP, 1)
	require.NoError(t, err)

	clock.Advance(60 * 24 * time.Hour)
	m, err := svc.GetMembership(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.MembershipExpired, m.Status)

	res, err := svc.UpgradeMembership(ctx, "u1", models.TierVIP, 1)
	require.NoError(t, err)
	assert.True(t, res.RewardsGranted)
	assert.Equal(t, clock.Now().AddDate(0, 1, 0), res.ExpiresAt)
}

func TestFreshLockRejectsUpgrade(t *testing.T) {
	svc, clock := newMembershipFixture(t)
	seed(t, svc.store, "usage_limits/u1", map[string]interface{}{
		"photos": map[string]interface{}{"upgrading": true, "upgradingAt": clock.Now().Add(-10 * time.Second)},
	})

	_, err := svc.UpgradeMembership(context.Background(), "u1", models.TierVIP, 1)
	require.ErrorIs(t, err, ErrUpgradeInProgress)
	assert.Equal(t, "free", mustGet(t, svc.store, "users/u1").String("membershipTier"))
	assert.True(t, mustGet(t, svc.store, "usage_limits/u1").Bool("photos.upgrading"))
}

func TestStaleLockIsTakenOver(t *testing.T) {
	for name, photos := range map[string]map[string]interface{}{
		"expired":           {"upgrading": true, "upgradingAt": testNow.Add(-6 * time.Minute)},
		"missing_timestamp": {"upgrading": true},
	} {
		t.Run(name, func(t *testing.T) {
			svc, _ := newMembershipFixture(t)
			seed(t, svc.store, "usage_limits/u1", map[string]interface{}{"photos": photos})

			res, err := svc.UpgradeMembership(context.Background(), "u1", models.TierVIP, 1)
			require.NoError(t, err)
			assert.True(t, res.StaleLockFreed)
			assert.False(t, mustGet(t, svc.store, "usage_limits/u1").Bool("photos.upgrading"))
		})
	}
}

func TestFailedUpgradeReleasesLock(t *testing.T) {
	svc, _ := newMembershipFixture(t)
	svc.store = &flakyStore{Store: svc.store, failOn: 2}

	_, err := svc.UpgradeMembership(context.Background(), "u1", models.TierVIP, 1)
	require.ErrorIs(t, err, errFlaky)

	limits := mustGet(t, svc.store, "usage_limits/u1")
	assert.True(t, limits.Exists)
	assert.False(t, limits.Bool("photos.upgrading"))
	user := mustGet(t, svc.store, "users/u1")
	assert.Equal(t, "free", user.String("membershipTier"))
	assert.False(t, user.Has("assets.characterUnlockCards"))
}

func TestLeaseStale(t *testing.T) {
	now := testNow
	at := now.Add(-5 * time.Minute)
	assert.False(t, Lease{}.Stale(now, DefaultUpgradeLockTTL))
	assert.True(t, Lease{Held: true}.Stale(now, DefaultUpgradeLockTTL))
	assert.False(t, Lease{Held: true, AcquiredAt: &at}.Stale(now, DefaultUpgradeLockTTL))
	older := at.Add(-time.Second)
	assert.True(t, Lease{Held: true, AcquiredAt: &older}.Stale(now, DefaultUpgradeLockTTL))
	assert.True(t, Lease{}.Free(now, DefaultUpgradeLockTTL))
}

func TestCheckAndCleanupLock(t *testing.T) {
	svc, clock := newMembershipFixture(t)
	ctx := context.Background()
	seed(t, svc.store, "usage_limits/old", map[string]interface{}{
		"photos": map[string]interface{}{"upgrading": true, "upgradingAt": clock.Now().Add(-7 * time.Minute)},
	})
	seed(t, svc.store, "usage_limits/legacy", map[string]interface{}{
		"photos": map[string]interface{}{"upgrading": true},
	})
	seed(t, svc.store, "usage_limits/busy", map[string]interface{}{
		"photos": map[string]interface{}{"upgrading": true, "upgradingAt": clock.Now().Add(-time.Minute)},
	})

	r, err := svc.CheckAndCleanupLock(ctx, "old")
	require.NoError(t, err)
	assert.True(t, r.Cleaned)
	assert.Equal(t, "expired_7min", r.Reason)
	doc := mustGet(t, svc.store, "usage_limits/old")
	assert.Equal(t, "expired_7min", doc.String("photos.cleanupReason"))
	assert.True(t, doc.Has("photos.cleanedAt"))

	r, err = svc.CheckAndCleanupLock(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, r.Cleaned)

	cleaned, err := svc.CleanupStaleLocks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cleaned, 1)
	assert.Equal(t, "legacy", cleaned[0].UserID)
	assert.Equal(t, "missing_timestamp", cleaned[0].Reason)
	assert.True(t, mustGet(t, svc.store, "usage_limits/busy").Bool("photos.upgrading"))
}
