package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

func TestDefaultEconomyIsValid(t *testing.T) {
	e := DefaultEconomy()
	require.NoError(t, e.Validate())

	price, ok := e.FeaturePrice(FeatureCharacterUnlock)
	require.True(t, ok)
	assert.Equal(t, int64(300), price)

	free, _ := e.TierRank(models.TierFree)
	vip, _ := e.TierRank(models.TierVIP)
	vvip, _ := e.TierRank(models.TierVVIP)
	assert.Less(t, free, vip)
	assert.Less(t, vip, vvip)
}

func TestBundledCatalogMatchesDefaults(t *testing.T) {
	e, err := LoadEconomy("economy.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultEconomy(), e)
}

func TestLoadEconomyEmptyPathUsesDefaults(t *testing.T) {
	e, err := LoadEconomy("")
	require.NoError(t, err)
	assert.Equal(t, int64(5), e.AdReward.UnlockedMessagesPerAd)
}

func TestParseEconomyRejectsUnknownAssetType(t *testing.T) {
	_, err := ParseEconomy([]byte(`
tier_order: [free]
tiers:
  free:
    grants:
      goldBars: 1
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "goldBars")
}

func TestParseEconomyRejectsTierWithoutFeatures(t *testing.T) {
	_, err := ParseEconomy([]byte(`
tier_order: [free, vip]
tiers:
  free: {}
`))
	require.Error(t, err)
}

func TestLoadEconomyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "economy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tier_order: [free, vip]
tiers:
  free:
    monthly_photos: 5
  vip:
    grants:
      photoUnlockCard: 7
feature_prices:
  character_unlock_permanent: 150
`), 0o600))

	e, err := LoadEconomy(path)
	require.NoError(t, err)
	vip, ok := e.Tier(models.TierVIP)
	require.True(t, ok)
	assert.Equal(t, int64(7), vip.Grants["photoUnlockCard"])
	assert.True(t, e.IsFeature(FeatureCharacterUnlock))
	assert.False(t, e.IsFeature("pkg_photo_10"))
}
