package core

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

func newAssetFixture(t *testing.T) (*AssetService, *testClock) {
	t.Helper()
	clock := &testClock{now: testNow}
	store := newTestStore(clock)
	seed(t, store, "users/u1", map[string]interface{}{"displayName": "Test"})
	return NewAssetService(store, nil, nil), clock
}

func TestAddAssetWritesBothLocations(t *testing.T) {
	svc, _ := newAssetFixture(t)
	ctx := context.Background()

	change, err := svc.AddAsset(ctx, "u1", models.AssetCharacterUnlockCard, 5, "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), change.PreviousQuantity)
	assert.Equal(t, int64(5), change.NewQuantity)
	assert.Equal(t, int64(5), change.Delta)

	sub := mustGet(t, svc.store, "users/u1/assets/characterUnlockCard")
	require.True(t, sub.Exists)
	assert.Equal(t, int64(5), sub.Int("quantity"))
	assert.Equal(t, "characterUnlockCard", sub.String("type"))
	assert.True(t, sub.Has("createdAt"))
	assert.True(t, sub.Has("updatedAt"))

	user := mustGet(t, svc.store, "users/u1")
	assert.Equal(t, int64(5), user.Int("assets.characterUnlockCards"))
	assert.True(t, user.Has("updatedAt"))
}

func TestDeductAssetInsufficientLeavesState(t *testing.T) {
	svc, _ := newAssetFixture(t)
	ctx := context.Background()
	_, err := svc.AddAsset(ctx, "u1", models.AssetPhotoUnlockCard, 2, "")
	require.NoError(t, err)

	_, err = svc.DeductAsset(ctx, "u1", models.AssetPhotoUnlockCard, 3, "")
	require.ErrorIs(t, err, ErrInsufficientAsset)

	assert.Equal(t, int64(2), mustGet(t, svc.store, "users/u1/assets/photoUnlockCard").Int("quantity"))
	assert.Equal(t, int64(2), mustGet(t, svc.store, "users/u1").Int("assets.photoUnlockCards"))
}

func TestDeductAssetWithoutRecord(t *testing.T) {
	svc, _ := newAssetFixture(t)
	_, err := svc.DeductAsset(context.Background(), "u1", models.AssetVideoUnlockCard, 1, "")
	require.ErrorIs(t, err, ErrInsufficientAsset)
	assert.False(t, mustGet(t, svc.store, "users/u1/assets/videoUnlockCard").Exists)
}

func TestAssetArgumentValidation(t *testing.T) {
	svc, _ := newAssetFixture(t)
	ctx := context.Background()

	_, err := svc.DeductAsset(ctx, "u1", models.AssetCreateCards, 0, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.AddAsset(ctx, "u1", models.AssetCreateCards, -1, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.SetAssetQuantity(ctx, "u1", models.AssetCreateCards, -5, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.AddAsset(ctx, "../u2", models.AssetCreateCards, 1, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.AddAsset(ctx, "u1", models.AssetType("a.b"), 1, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeductUpdatesTransitionalField(t *testing.T) {
	svc, _ := newAssetFixture(t)
	seed(t, svc.store, "users/legacy", map[string]interface{}{
		"unlockTickets": map[string]interface{}{"characterUnlockCards": 3},
	})

	change, err := svc.DeductAsset(context.Background(), "legacy", models.AssetCharacterUnlockCard, 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), change.PreviousQuantity)
	assert.Equal(t, int64(2), change.NewQuantity)

	user := mustGet(t, svc.store, "users/legacy")
	assert.Equal(t, int64(2), user.Int("assets.characterUnlockCards"))
	assert.Equal(t, int64(2), user.Int("unlockTickets.characterUnlockCards"))
	assert.Equal(t, int64(2), mustGet(t, svc.store, "users/legacy/assets/characterUnlockCard").Int("quantity"))
}

func TestSetAssetQuantityWithoutAccountWritesDetailOnly(t *testing.T) {
	svc, _ := newAssetFixture(t)
	_, err := svc.SetAssetQuantity(context.Background(), "ghost", models.AssetCreateCards, 4, "")
	require.NoError(t, err)

	assert.Equal(t, int64(4), mustGet(t, svc.store, "users/ghost/assets/createCards").Int("quantity"))
	assert.False(t, mustGet(t, svc.store, "users/ghost").Exists)
}

func TestItemScopedAssetSkipsSummary(t *testing.T) {
	svc, _ := newAssetFixture(t)
	_, err := svc.AddAsset(context.Background(), "u1", models.AssetPhotoUnlockCard, 2, "char7")
	require.NoError(t, err)

	sub := mustGet(t, svc.store, "users/u1/assets/photoUnlockCard_char7")
	assert.Equal(t, int64(2), sub.Int("quantity"))
	assert.Equal(t, "char7", sub.String("itemId"))
	assert.False(t, mustGet(t, svc.store, "users/u1").Has("assets.photoUnlockCards"))

	records, err := svc.GetUserAssets(context.Background(), "u1", models.AssetPhotoUnlockCard)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "char7", records[0].ItemID)
}

func TestConcurrentAddDeductConserves(t *testing.T) {
	svc, _ := newAssetFixture(t)
	ctx := context.Background()
	_, err := svc.SetAssetQuantity(ctx, "u1", models.AssetCreateCards, 10, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddAsset(ctx, "u1", models.AssetCreateCards, 2, "")
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.DeductAsset(ctx, "u1", models.AssetCreateCards, 1, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(40), mustGet(t, svc.store, "users/u1/assets/createCards").Int("quantity"))
	assert.Equal(t, int64(40), mustGet(t, svc.store, "users/u1").Int("assets.createCards"))
}

func TestGetUnlockCardsBalance(t *testing.T) {
	svc, _ := newAssetFixture(t)
	ctx := context.Background()
	_, err := svc.AddAsset(ctx, "u1", models.AssetCharacterUnlockCard, 3, "")
	require.NoError(t, err)
	_, err = svc.AddAsset(ctx, "u1", models.AssetVoiceUnlockCard, 1, "")
	require.NoError(t, err)

	balance, err := svc.GetUnlockCardsBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, balance.Cards, 5)
	assert.Equal(t, int64(3), balance.Cards[models.AssetCharacterUnlockCard])
	assert.Equal(t, int64(0), balance.Cards[models.AssetPhotoUnlockCard])
	assert.Equal(t, int64(4), balance.Total)
}

func TestReconcileTakesMaximum(t *testing.T) {
	svc, _ := newAssetFixture(t)
	ctx := context.Background()
	seed(t, svc.store, "users/old", map[string]interface{}{
		"characterUnlockCards": 2,
		"unlockTickets":        map[string]interface{}{"characterUnlockCards": 4},
	})

	summary, err := svc.GetAssetSummary(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary[0].Value)
	assert.True(t, summary[0].Changed)
	assert.False(t, mustGet(t, svc.store, "users/old").Has("assets.characterUnlockCards"))

	report, err := svc.ReconcileAssets(ctx, "old")
	require.NoError(t, err)
	require.Len(t, report, len(models.KnownAssetTypes))
	assert.Equal(t, models.AssetCharacterUnlockCard, report[0].AssetType)
	assert.Equal(t, int64(4), report[0].Value)
	assert.True(t, report[0].Changed)
	require.NotNil(t, report[0].Locations.TopLevel)
	assert.Equal(t, int64(2), *report[0].Locations.TopLevel)
	assert.Nil(t, report[0].Locations.Canonical)
	assert.False(t, report[1].Changed)

	user := mustGet(t, svc.store, "users/old")
	assert.Equal(t, int64(4), user.Int("assets.characterUnlockCards"))
	assert.Equal(t, int64(4), user.Int("unlockTickets.characterUnlockCards"))
	assert.Equal(t, int64(4), user.Int("characterUnlockCards"))
	assert.Equal(t, int64(4), mustGet(t, svc.store, "users/old/assets/characterUnlockCard").Int("quantity"))

	again, err := svc.ReconcileAssets(ctx, "old")
	require.NoError(t, err)
	for _, r := range again {
		assert.False(t, r.Changed, r.AssetType)
	}
}

func TestReconcileMissingUser(t *testing.T) {
	svc, _ := newAssetFixture(t)
	_, err := svc.ReconcileAssets(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestBatchSetAndClearAssets(t *testing.T) {
	svc, _ := newAssetFixture(t)
	ctx := context.Background()

	err := svc.BatchSetAssets(ctx, "u1", map[models.AssetType]int64{
		models.AssetCreateCards:     7,
		models.AssetPhotoUnlockCard: 2,
	})
	require.NoError(t, err)
	user := mustGet(t, svc.store, "users/u1")
	assert.Equal(t, int64(7), user.Int("assets.createCards"))
	assert.Equal(t, int64(2), user.Int("assets.photoUnlockCards"))

	err = svc.BatchSetAssets(ctx, "u1", map[models.AssetType]int64{"bogus": 1})
	require.ErrorIs(t, err, ErrInvalidInput)
	err = svc.BatchSetAssets(ctx, "nobody", map[models.AssetType]int64{models.AssetCreateCards: 1})
	require.ErrorIs(t, err, ErrUserNotFound)

	n, err := svc.ClearAllAssets(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, countDocs(t, svc.store, "users/u1/assets"))
	user = mustGet(t, svc.store, "users/u1")
	assert.Equal(t, int64(0), user.Int("assets.createCards"))
	assert.True(t, user.Has("assets.createCards"))
}

func TestAddAssetRejectsOverflow(t *testing.T) {
	svc, _ := newAssetFixture(t)
	ctx := context.Background()
	_, err := svc.AddAsset(ctx, "u1", models.AssetPhotoUnlockCard, 1, "")
	require.NoError(t, err)

	_, err = svc.AddAsset(ctx, "u1", models.AssetPhotoUnlockCard, math.MaxInt64, "")
	require.ErrorIs(t, err, ErrQuantityOverflow)
	assert.Equal(t, int64(1), mustGet(t, svc.store, "users/u1").Int("assets.photoUnlockCards"))
	assert.Equal(t, int64(1), mustGet(t, svc.store, "users/u1/assets/photoUnlockCard").Int("quantity"))

	change, err := svc.AddAsset(ctx, "u1", models.AssetPhotoUnlockCard, math.MaxInt64-1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), change.NewQuantity)
}
