package models

import "time"

// AssetType identifies a consumable entitlement counter.
type AssetType string

const (
	AssetCharacterUnlockCard AssetType = "characterUnlockCard"
	AssetPhotoUnlockCard     AssetType = "photoUnlockCard"
	AssetVideoUnlockCard     AssetType = "videoUnlockCard"
	AssetVoiceUnlockCard     AssetType = "voiceUnlockCard"
	AssetCreateCards         AssetType = "createCards"
)

// summaryKeys maps each asset type to its field in the account's assets map.
var summaryKeys = map[AssetType]string{
	AssetCharacterUnlockCard: "characterUnlockCards",
	AssetPhotoUnlockCard:     "photoUnlockCards",
	AssetVideoUnlockCard:     "videoUnlockCards",
	AssetVoiceUnlockCard:     "voiceUnlockCards",
	AssetCreateCards:         "createCards",
}

// KnownAssetTypes lists the entitlement types counted as unlock cards, in a
// stable order.
var KnownAssetTypes = []AssetType{
	AssetCharacterUnlockCard,
	AssetPhotoUnlockCard,
	AssetVideoUnlockCard,
	AssetVoiceUnlockCard,
	AssetCreateCards,
}

// SummaryKey returns the canonical summary field for t.
func (t AssetType) SummaryKey() (string, bool) {
	key, ok := summaryKeys[t]
	return key, ok
}

func (t AssetType) Known() bool {
	_, ok := summaryKeys[t]
	return ok
}

// ParseAssetType accepts either an asset type or its summary key.
func ParseAssetType(s string) (AssetType, bool) {
	if t := AssetType(s); t.Known() {
		return t, true
	}
	for t, key := range summaryKeys {
		if key == s {
			return t, true
		}
	}
	return "", false
}

// AssetRecord is the per-type detail document under users/{uid}/assets.
type AssetRecord struct {
	ID        string    `json:"id"`
	Type      AssetType `json:"type"`
	Quantity  int64     `json:"quantity"`
	ItemID    string    `json:"itemId,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// AssetChange is the outcome of a ledger mutation.
type AssetChange struct {
	UserID           string    `json:"userId"`
	AssetType        AssetType `json:"assetType"`
	ItemID           string    `json:"itemId,omitempty"`
	PreviousQuantity int64     `json:"previousQuantity"`
	NewQuantity      int64     `json:"newQuantity"`
	Delta            int64     `json:"delta"`
}

// AssetLocations holds every place a legacy account may store one count.
type AssetLocations struct {
	TopLevel     *int64 `json:"topLevel,omitempty"`
	Transitional *int64 `json:"transitional,omitempty"`
	Canonical    *int64 `json:"canonical,omitempty"`
	SubDocument  *int64 `json:"subDocument,omitempty"`
}

// Max returns the largest recorded value, 0 when nothing is recorded.
func (l AssetLocations) Max() int64 {
	var best int64
	for _, v := range []*int64{l.TopLevel, l.Transitional, l.Canonical, l.SubDocument} {
		if v != nil && *v > best {
			best = *v
		}
	}
	return best
}

// AssetReconciliation reports the before/after of one reconciled type.
type AssetReconciliation struct {
	AssetType AssetType      `json:"assetType"`
	Locations AssetLocations `json:"locations"`
	Value     int64          `json:"value"`
	Changed   bool           `json:"changed"`
}

// UnlockCardsBalance aggregates the five known entitlement types.
type UnlockCardsBalance struct {
	Cards map[AssetType]int64 `json:"cards"`
	Total int64               `json:"total"`
}
