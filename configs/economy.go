package configs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

// FeatureCharacterUnlock is the SKU of a permanent character unlock.
const FeatureCharacterUnlock = "character_unlock_permanent"

// TierFeatures are the economy-relevant features of one membership tier.
type TierFeatures struct {
	// MonthlyPhotos is the tier's periodic photo generation allowance.
	MonthlyPhotos     int64            `yaml:"monthly_photos"`
	MonthlyCoinsBonus int64            `yaml:"monthly_coins_bonus"`
	Grants            map[string]int64 `yaml:"grants"`
}

// Economy is the pricing and reward catalog.
type Economy struct {
	TierOrder     []string                `yaml:"tier_order"`
	Tiers         map[string]TierFeatures `yaml:"tiers"`
	FeaturePrices map[string]int64        `yaml:"feature_prices"`
	AdReward      struct {
		UnlockedMessagesPerAd int64 `yaml:"unlocked_messages_per_ad"`
	} `yaml:"ad_reward"`
}

// DefaultEconomy returns the built-in catalog.
func DefaultEconomy() *Economy {
	e := &Economy{
		TierOrder: []string{string(models.TierFree), string(models.TierVIP), string(models.TierVVIP)},
		Tiers: map[string]TierFeatures{
			string(models.TierFree): {MonthlyPhotos: 3},
			string(models.TierVIP): {
				MonthlyPhotos: 30,
				Grants: map[string]int64{
					string(models.AssetCharacterUnlockCard): 10,
					string(models.AssetPhotoUnlockCard):     20,
				},
			},
			string(models.TierVVIP): {
				MonthlyPhotos:     100,
				MonthlyCoinsBonus: 100,
				Grants: map[string]int64{
					string(models.AssetCharacterUnlockCard): 30,
					string(models.AssetPhotoUnlockCard):     60,
					string(models.AssetVideoUnlockCard):     10,
					string(models.AssetCreateCards):         5,
				},
			},
		},
		FeaturePrices: map[string]int64{FeatureCharacterUnlock: 300},
	}
	e.AdReward.UnlockedMessagesPerAd = 5
	return e
}

// LoadEconomy reads the catalog from path, or returns the defaults when path
// is empty.
func LoadEconomy(path string) (*Economy, error) {
	if path == "" {
		return DefaultEconomy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read economy catalog: %w", err)
	}
	return ParseEconomy(data)
}

// ParseEconomy decodes and validates a YAML catalog.
func ParseEconomy(data []byte) (*Economy, error) {
	var e Economy
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse economy catalog: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate rejects unknown tiers or asset types and negative amounts.
func (e *Economy) Validate() error {
	if len(e.TierOrder) == 0 {
		return fmt.Errorf("economy catalog: tier_order is empty")
	}
	for _, tier := range e.TierOrder {
		if _, ok := e.Tiers[tier]; !ok {
			return fmt.Errorf("economy catalog: tier %q has no features", tier)
		}
	}
	for name, tier := range e.Tiers {
		if tier.MonthlyPhotos < 0 || tier.MonthlyCoinsBonus < 0 {
			return fmt.Errorf("economy catalog: tier %q has negative values", name)
		}
		for assetType, n := range tier.Grants {
			if !models.AssetType(assetType).Known() {
				return fmt.Errorf("economy catalog: tier %q grants unknown asset type %q", name, assetType)
			}
			if n < 0 {
				return fmt.Errorf("economy catalog: tier %q grants negative %s", name, assetType)
			}
		}
	}
	for sku, price := range e.FeaturePrices {
		if price < 0 {
			return fmt.Errorf("economy catalog: feature %q has negative price", sku)
		}
	}
	if e.AdReward.UnlockedMessagesPerAd < 0 {
		return fmt.Errorf("economy catalog: ad reward cannot be negative")
	}
	return nil
}

// TierRank returns the position of tier in tier_order.
func (e *Economy) TierRank(tier models.MembershipTier) (int, bool) {
	for i, t := range e.TierOrder {
		if t == string(tier) {
			return i, true
		}
	}
	return 0, false
}

// Tier returns the features of tier.
func (e *Economy) Tier(tier models.MembershipTier) (TierFeatures, bool) {
	f, ok := e.Tiers[string(tier)]
	return f, ok
}

// FeaturePrice returns the coin price of a feature SKU.
func (e *Economy) FeaturePrice(sku string) (int64, bool) {
	p, ok := e.FeaturePrices[sku]
	return p, ok
}

// IsFeature reports whether sku names a feature rather than an asset package.
func (e *Economy) IsFeature(sku string) bool {
	_, ok := e.FeaturePrices[sku]
	return ok
}
