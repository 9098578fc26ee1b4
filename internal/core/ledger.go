package core

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

// Collections touched by the ledger.
const (
	usersCollection             = "users"
	assetsSubcollection         = "assets"
	transactionsCollection      = "transactions"
	usageLimitsCollection       = "usage_limits"
	adStatsCollection           = "ad_watch_stats"
	adEventsCollection          = "ad_watch_events"
	adAlertsCollection          = "ad_anomaly_alerts"
	packagesCollection          = "asset_packages"
	membershipHistoryCollection = "membership_history"
)

// Identifiers become path segments and field path components.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func validID(kind, id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: invalid %s %q", ErrInvalidInput, kind, id)
	}
	return nil
}

func userPath(userID string) string {
	return db.Join(usersCollection, userID)
}

func usageLimitsPath(userID string) string {
	return db.Join(usageLimitsCollection, userID)
}

func assetDocID(t models.AssetType, itemID string) string {
	if itemID != "" {
		return string(t) + "_" + itemID
	}
	return string(t)
}

func assetDocPath(userID string, t models.AssetType, itemID string) string {
	return db.Join(usersCollection, userID, assetsSubcollection, assetDocID(t, itemID))
}

func orNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// assetState is everything a transaction read about one asset counter.
type assetState struct {
	userID    string
	assetType models.AssetType
	itemID    string
	user      *db.Document
	sub       *db.Document
}

// locations collects every place a legacy account may hold the count.
// Item scoped counters only live in their sub-document.
func (st *assetState) locations() models.AssetLocations {
	var loc models.AssetLocations
	if st.sub != nil && st.sub.Exists {
		if v, ok := st.sub.IntOK("quantity"); ok {
			loc.SubDocument = &v
		}
	}
	key, ok := st.assetType.SummaryKey()
	if st.itemID != "" || !ok || st.user == nil || !st.user.Exists {
		return loc
	}
	if v, ok := st.user.IntOK("assets." + key); ok {
		loc.Canonical = &v
	}
	if v, ok := st.user.IntOK("unlockTickets." + key); ok {
		loc.Transitional = &v
	}
	if v, ok := st.user.IntOK(key); ok {
		loc.TopLevel = &v
	}
	return loc
}

func (st *assetState) present() bool {
	loc := st.locations()
	return loc.TopLevel != nil || loc.Transitional != nil || loc.Canonical != nil || loc.SubDocument != nil
}

// quantity is the reconciled effective count.
func (st *assetState) quantity() int64 {
	return st.locations().Max()
}

// needsWrite reports whether some location disagrees with the reconciled value.
func (st *assetState) needsWrite() bool {
	if !st.present() {
		return false
	}
	loc := st.locations()
	want := loc.Max()
	if loc.SubDocument == nil || *loc.SubDocument != want {
		return true
	}
	_, known := st.assetType.SummaryKey()
	if st.itemID == "" && known && st.user != nil && st.user.Exists && (loc.Canonical == nil || *loc.Canonical != want) {
		return true
	}
	for _, v := range []*int64{loc.Transitional, loc.TopLevel} {
		if v != nil && *v != want {
			return true
		}
	}
	return false
}

func readAsset(tx db.Tx, userID string, t models.AssetType, itemID string) (*assetState, error) {
	user, err := tx.Get(userPath(userID))
	if err != nil {
		return nil, fmt.Errorf("read user %s: %w", userID, err)
	}
	return readAssetWithUser(tx, user, userID, t, itemID)
}

// readAssetWithUser reads the sub-document when the caller already holds the
// account snapshot.
func readAssetWithUser(tx db.Tx, user *db.Document, userID string, t models.AssetType, itemID string) (*assetState, error) {
	sub, err := tx.Get(assetDocPath(userID, t, itemID))
	if err != nil {
		return nil, fmt.Errorf("read asset %s/%s: %w", userID, assetDocID(t, itemID), err)
	}
	return &assetState{userID: userID, assetType: t, itemID: itemID, user: user, sub: sub}, nil
}

// writeAsset stores quantity in the sub-document and, for summary mapped
// types, in the account's canonical field plus any legacy field still present.
func writeAsset(tx db.Tx, st *assetState, quantity int64) error {
	sub := map[string]interface{}{
		"type":      string(st.assetType),
		"quantity":  quantity,
		"updatedAt": db.ServerTimestamp,
	}
	if st.itemID != "" {
		sub["itemId"] = st.itemID
	}
	if st.sub == nil || !st.sub.Exists {
		sub["createdAt"] = db.ServerTimestamp
	}
	if err := tx.Set(assetDocPath(st.userID, st.assetType, st.itemID), sub, db.Merge()); err != nil {
		return err
	}
	updates := summaryUpdates(st, quantity)
	if len(updates) == 0 {
		return nil
	}
	return tx.Update(userPath(st.userID), stamped(updates))
}

func summaryUpdates(st *assetState, quantity int64) []db.Update {
	key, ok := st.assetType.SummaryKey()
	if st.itemID != "" || !ok || st.user == nil || !st.user.Exists {
		return nil
	}
	updates := []db.Update{{Path: "assets." + key, Value: quantity}}
	if st.user.Has("unlockTickets." + key) {
		updates = append(updates, db.Update{Path: "unlockTickets." + key, Value: quantity})
	}
	if st.user.Has(key) {
		updates = append(updates, db.Update{Path: key, Value: quantity})
	}
	return updates
}

// stamped appends the account updatedAt stamp once.
func stamped(updates []db.Update) []db.Update {
	return append(updates, db.Update{Path: "updatedAt", Value: db.ServerTimestamp})
}

// applyAssetDelta adds delta (negative to deduct) to the counter.
func applyAssetDelta(tx db.Tx, st *assetState, delta int64) (*models.AssetChange, error) {
	prev := st.quantity()
	if delta < 0 && (!st.present() || prev < -delta) {
		return nil, fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientAsset, st.assetType, prev, -delta)
	}
	if delta > 0 && prev > math.MaxInt64-delta {
		return nil, fmt.Errorf("%w: %s has %d, cannot add %d", ErrQuantityOverflow, st.assetType, prev, delta)
	}
	return applyAssetQuantity(tx, st, prev+delta)
}

func applyAssetQuantity(tx db.Tx, st *assetState, quantity int64) (*models.AssetChange, error) {
	prev := st.quantity()
	if err := writeAsset(tx, st, quantity); err != nil {
		return nil, err
	}
	return &models.AssetChange{
		UserID:           st.userID,
		AssetType:        st.assetType,
		ItemID:           st.itemID,
		PreviousQuantity: prev,
		NewQuantity:      quantity,
		Delta:            quantity - prev,
	}, nil
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
