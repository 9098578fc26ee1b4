package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeggyy/chat-app-all-sub002/configs"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

func adIDAt(t time.Time, suffix string) string {
	return fmt.Sprintf("ad-%d-%s", t.UnixMilli(), suffix)
}

func newAdFixture(t *testing.T, rules AdRules) (*AdService, *testClock) {
	t.Helper()
	clock := &testClock{now: testNow}
	store := newTestStore(clock)
	monitor := NewAdMonitorService(store, rules.DailyLimit, nil, nil)
	monitor.now = clock.Now
	svc := NewAdService(store, rules, configs.DefaultEconomy(), monitor, nil, nil)
	svc.now = clock.Now
	svc.dispatch = func(f func()) { f() }
	return svc, clock
}

func TestValidateAdIDFormat(t *testing.T) {
	for id, ok := range map[string]bool{
		"ad-1741608000000-abc12345":  true,
		"ad-1741608000000-ABC12345":  false,
		"ad-174160800000-abc12345":   false,
		"ad-1741608000000-abc1234":   false,
		"ad-1741608000000-abc12345x": false,
		"xx-1741608000000-abc12345":  false,
		"":                           false,
	} {
		v := ValidateAdIDFormat(id)
		assert.Equal(t, ok, v.Valid, id)
		if !ok {
			assert.Equal(t, models.AdInvalidIDFormat, v.Result, id)
		}
	}
}

func TestValidateAdIDTimestamp(t *testing.T) {
	window := 5 * time.Minute
	assert.True(t, ValidateAdIDTimestamp(adIDAt(testNow.Add(-time.Minute), "abcdefgh"), testNow, window).Valid)
	assert.True(t, ValidateAdIDTimestamp(adIDAt(testNow, "abcdefgh"), testNow, window).Valid)
	assert.Equal(t, models.AdIDFuture, ValidateAdIDTimestamp(adIDAt(testNow.Add(time.Second), "abcdefgh"), testNow, window).Result)
	assert.Equal(t, models.AdIDExpired, ValidateAdIDTimestamp(adIDAt(testNow.Add(-6*time.Minute), "abcdefgh"), testNow, window).Result)
}

func TestValidateCooldownRoundsUp(t *testing.T) {
	last := testNow.Add(-30*time.Second - 500*time.Millisecond).UnixMilli()
	v := ValidateCooldown(last, testNow, time.Minute)
	assert.False(t, v.Valid)
	assert.Equal(t, models.AdCooldownActive, v.Result)
	assert.Equal(t, int64(30), v.RetryAfter)

	assert.True(t, ValidateCooldown(testNow.Add(-time.Minute).UnixMilli(), testNow, time.Minute).Valid)
	assert.True(t, ValidateCooldown(0, testNow, time.Minute).Valid)
}

func TestEvaluateAdWatchOrder(t *testing.T) {
	rules := DefaultAdRules()
	id := adIDAt(testNow.Add(-10*time.Second), "abcdefgh")
	stats := models.AdWatchStats{
		Daily:         map[string]int64{dateKey(testNow): 10},
		LastWatchTime: testNow.Add(-5 * time.Second).UnixMilli(),
		UsedAdIDs:     []string{id},
	}
	assert.Equal(t, models.AdDailyLimitExceeded, EvaluateAdWatch(stats, id, testNow, rules).Result)

	stats.Daily = nil
	assert.Equal(t, models.AdCooldownActive, EvaluateAdWatch(stats, id, testNow, rules).Result)

	stats.LastWatchTime = 0
	v := EvaluateAdWatch(stats, id, testNow, rules)
	assert.Equal(t, models.AdIDReused, v.Result)

	stats.UsedAdIDs = nil
	assert.True(t, EvaluateAdWatch(stats, id, testNow, rules).Valid)
	assert.Equal(t, models.AdInvalidIDFormat, EvaluateAdWatch(stats, "bogus", testNow, rules).Result)
}

func TestRecordedTrimsUsedIDs(t *testing.T) {
	stats := models.AdWatchStats{UsedAdIDs: []string{"a", "b", "c"}}
	next := recorded(stats, "d", testNow, 3)
	assert.Equal(t, []string{"b", "c", "d"}, next.UsedAdIDs)
	assert.Equal(t, []string{"a", "b", "c"}, stats.UsedAdIDs)
	assert.Equal(t, int64(1), next.Daily[dateKey(testNow)])
	assert.Equal(t, int64(1), next.TotalAdsWatched)
}

func TestClaimAdReward(t *testing.T) {
	svc, clock := newAdFixture(t, DefaultAdRules())
	ctx := context.Background()
	id := adIDAt(clock.Now().Add(-5*time.Second), "abcd1234")

	res, err := svc.ClaimAdReward(ctx, "u1", id, "char1", models.AdContext{Platform: "web"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.UnlockedMessages)
	assert.Equal(t, int64(5), res.TotalUnlocked)
	assert.Equal(t, int64(1), res.Stats.TodayCount)
	assert.Equal(t, int64(9), res.Stats.Remaining)
	assert.True(t, res.Stats.CooldownActive)
	assert.Equal(t, int64(60), res.Stats.CooldownRemaining)

	stats := mustGet(t, svc.store, "ad_watch_stats/u1")
	assert.Equal(t, int64(1), stats.Int("daily."+dateKey(clock.Now())))
	assert.Equal(t, int64(1), stats.Int("totalAdsWatched"))
	assert.Equal(t, []string{id}, stats.Strings("usedAdIds"))
	assert.Equal(t, clock.Now().UnixMilli(), stats.Int("lastWatchTime"))
	assert.Equal(t, int64(5), mustGet(t, svc.store, "usage_limits/u1").Int("conversation.char1.unlocked"))
	assert.Equal(t, 1, countDocs(t, svc.store, "ad_watch_events"))

	_, err = svc.ClaimAdReward(ctx, "u1", adIDAt(clock.Now(), "zzzz9999"), "char1", models.AdContext{})
	require.ErrorIs(t, err, ErrCooldownActive)
	var ve *AdValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, int64(60), ve.RetryAfter())

	clock.Advance(61 * time.Second)
	_, err = svc.ClaimAdReward(ctx, "u1", id, "char1", models.AdContext{})
	require.ErrorIs(t, err, ErrAdIDReused)

	res, err = svc.ClaimAdReward(ctx, "u1", adIDAt(clock.Now(), "zzzz9999"), "char1", models.AdContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.TotalUnlocked)

	summary, err := svc.GetAdWatchStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.TodayCount)
	assert.Equal(t, int64(2), summary.TotalAdsWatched)
}

func TestClaimAdRewardRejectionLeavesState(t *testing.T) {
	svc, clock := newAdFixture(t, DefaultAdRules())
	seed(t, svc.store, "ad_watch_stats/u1", map[string]interface{}{
		"daily": map[string]interface{}{dateKey(clock.Now()): 10},
	})

	_, err := svc.ClaimAdReward(context.Background(), "u1", adIDAt(clock.Now(), "abcd1234"), "char1", models.AdContext{})
	require.ErrorIs(t, err, ErrDailyLimitExceeded)
	assert.False(t, mustGet(t, svc.store, "usage_limits/u1").Exists)
	assert.False(t, mustGet(t, svc.store, "ad_watch_stats/u1").Has("usedAdIds"))
	assert.Equal(t, 0, countDocs(t, svc.store, "ad_watch_events"))

	v, err := svc.ValidateAdWatch(context.Background(), "u1", adIDAt(clock.Now(), "abcd1234"))
	require.NoError(t, err)
	assert.Equal(t, models.AdDailyLimitExceeded, v.Result)
}

func TestLegacyTopLevelDayCounts(t *testing.T) {
	svc, clock := newAdFixture(t, DefaultAdRules())
	ctx := context.Background()
	seed(t, svc.store, "ad_watch_stats/u1", map[string]interface{}{
		dateKey(clock.Now()): int64(3),
	})

	summary, err := svc.GetAdWatchStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.TodayCount)

	res, err := svc.ClaimAdReward(ctx, "u1", adIDAt(clock.Now(), "abcd1234"), "char1", models.AdContext{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Stats.TodayCount)
	assert.Equal(t, int64(4), mustGet(t, svc.store, "ad_watch_stats/u1").Int("daily."+dateKey(clock.Now())))

	seed(t, svc.store, "ad_watch_stats/u2", map[string]interface{}{
		dateKey(clock.Now()): int64(10),
	})
	_, err = svc.ClaimAdReward(ctx, "u2", adIDAt(clock.Now(), "abcd1234"), "char1", models.AdContext{})
	require.ErrorIs(t, err, ErrDailyLimitExceeded)
}

func TestWaitDrainsMonitorWrites(t *testing.T) {
	clock := &testClock{now: testNow}
	store := newTestStore(clock)
	monitor := NewAdMonitorService(store, 10, nil, nil)
	monitor.now = clock.Now
	svc := NewAdService(store, DefaultAdRules(), nil, monitor, nil, nil)
	svc.now = clock.Now
	ctx := context.Background()

	_, err := svc.ClaimAdReward(ctx, "u1", adIDAt(clock.Now(), "abcd1234"), "char1", models.AdContext{})
	require.NoError(t, err)
	require.NoError(t, svc.Wait(ctx))
	assert.Equal(t, 1, countDocs(t, store, "ad_watch_events"))
}

func TestClaimAdRewardUsedIDsCapped(t *testing.T) {
	rules := DefaultAdRules()
	rules.MaxUsedIDs = 2
	rules.Cooldown = 0
	svc, clock := newAdFixture(t, rules)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id := adIDAt(clock.Now(), fmt.Sprintf("abcdefg%d", i))
		ids = append(ids, id)
		_, err := svc.ClaimAdReward(ctx, "u1", id, "char1", models.AdContext{})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	assert.Equal(t, ids[1:], mustGet(t, svc.store, "ad_watch_stats/u1").Strings("usedAdIds"))
}

func TestConcurrentClaimsOfOneAdID(t *testing.T) {
	rules := DefaultAdRules()
	rules.Cooldown = 0
	svc, clock := newAdFixture(t, rules)
	id := adIDAt(clock.Now(), "abcd1234")

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ClaimAdReward(context.Background(), "u1", id, "char1", models.AdContext{})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrAdIDReused)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(5), mustGet(t, svc.store, "usage_limits/u1").Int("conversation.char1.unlocked"))
}
