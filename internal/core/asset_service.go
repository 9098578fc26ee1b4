package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
	"github.com/mikeggyy/chat-app-all-sub002/internal/metrics"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

// AssetService owns the per-user entitlement counters.
type AssetService struct {
	store   db.Store
	logger  *zap.Logger
	metrics *metrics.Ledger
}

// NewAssetService creates a new AssetService instance.
func NewAssetService(store db.Store, logger *zap.Logger, m *metrics.Ledger) *AssetService {
	return &AssetService{store: store, logger: orNop(logger), metrics: m}
}

func validateAssetArgs(userID string, t models.AssetType, itemID string) error {
	if err := validID("user id", userID); err != nil {
		return err
	}
	if err := validID("asset type", string(t)); err != nil {
		return err
	}
	if itemID != "" {
		return validID("item id", itemID)
	}
	return nil
}

// AddAsset credits amount units of t.
func (s *AssetService) AddAsset(ctx context.Context, userID string, t models.AssetType, amount int64, itemID string) (*models.AssetChange, error) {
	if err := validateAssetArgs(userID, t, itemID); err != nil {
		return nil, err
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: amount must be non-negative", ErrInvalidInput)
	}
	return s.mutate(ctx, "add", userID, t, itemID, func(tx db.Tx, st *assetState) (*models.AssetChange, error) {
		return applyAssetDelta(tx, st, amount)
	})
}

// DeductAsset debits amount units of t and fails with ErrInsufficientAsset
// when the counter does not cover it.
func (s *AssetService) DeductAsset(ctx context.Context, userID string, t models.AssetType, amount int64, itemID string) (*models.AssetChange, error) {
	if err := validateAssetArgs(userID, t, itemID); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return s.mutate(ctx, "deduct", userID, t, itemID, func(tx db.Tx, st *assetState) (*models.AssetChange, error) {
		return applyAssetDelta(tx, st, -amount)
	})
}

// SetAssetQuantity overwrites the counter.
func (s *AssetService) SetAssetQuantity(ctx context.Context, userID string, t models.AssetType, quantity int64, itemID string) (*models.AssetChange, error) {
	if err := validateAssetArgs(userID, t, itemID); err != nil {
		return nil, err
	}
	if quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must be non-negative", ErrInvalidInput)
	}
	return s.mutate(ctx, "set", userID, t, itemID, func(tx db.Tx, st *assetState) (*models.AssetChange, error) {
		return applyAssetQuantity(tx, st, quantity)
	})
}

func (s *AssetService) mutate(ctx context.Context, op, userID string, t models.AssetType, itemID string,
	fn func(tx db.Tx, st *assetState) (*models.AssetChange, error)) (*models.AssetChange, error) {
	start := time.Now()
	var change *models.AssetChange
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx db.Tx) error {
		st, err := readAsset(tx, userID, t, itemID)
		if err != nil {
			return err
		}
		change, err = fn(tx, st)
		return err
	})
	s.metrics.ObserveAsset(op, err)
	s.metrics.ObserveTx("asset_"+op, time.Since(start))
	if err != nil {
		s.logger.Warn("asset mutation failed",
			zap.String("operation", op),
			zap.String("userID", userID),
			zap.String("assetType", string(t)),
			zap.Error(err))
		return nil, err
	}
	s.logger.Info("asset mutation applied",
		zap.String("operation", op),
		zap.String("userID", userID),
		zap.String("assetType", string(t)),
		zap.String("itemID", itemID),
		zap.Int64("previous", change.PreviousQuantity),
		zap.Int64("new", change.NewQuantity))
	return change, nil
}

// GetUnlockCardsBalance aggregates the five known entitlement types. Missing
// records count as 0.
func (s *AssetService) GetUnlockCardsBalance(ctx context.Context, userID string) (*models.UnlockCardsBalance, error) {
	states, err := s.readAllStates(ctx, userID)
	if err != nil {
		return nil, err
	}
	balance := &models.UnlockCardsBalance{Cards: make(map[models.AssetType]int64, len(states))}
	for _, st := range states {
		q := st.quantity()
		balance.Cards[st.assetType] = q
		balance.Total += q
	}
	return balance, nil
}

// GetAssetSummary returns the reconciled view of every known type without
// writing anything.
func (s *AssetService) GetAssetSummary(ctx context.Context, userID string) ([]models.AssetReconciliation, error) {
	states, err := s.readAllStates(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.AssetReconciliation, 0, len(states))
	for _, st := range states {
		out = append(out, models.AssetReconciliation{
			AssetType: st.assetType,
			Locations: st.locations(),
			Value:     st.quantity(),
			Changed:   st.needsWrite(),
		})
	}
	return out, nil
}

func (s *AssetService) readAllStates(ctx context.Context, userID string) ([]*assetState, error) {
	if err := validID("user id", userID); err != nil {
		return nil, err
	}
	user, err := s.store.Get(ctx, userPath(userID))
	if err != nil {
		return nil, err
	}
	states := make([]*assetState, 0, len(models.KnownAssetTypes))
	for _, t := range models.KnownAssetTypes {
		sub, err := s.store.Get(ctx, assetDocPath(userID, t, ""))
		if err != nil {
			return nil, err
		}
		states = append(states, &assetState{userID: userID, assetType: t, user: user, sub: sub})
	}
	return states, nil
}

// GetUserAssets lists the detail records, optionally restricted to one type.
func (s *AssetService) GetUserAssets(ctx context.Context, userID string, t models.AssetType) ([]models.AssetRecord, error) {
	if err := validID("user id", userID); err != nil {
		return nil, err
	}
	q := db.Query{Collection: db.Join(usersCollection, userID, assetsSubcollection)}
	if t != "" {
		q = q.Where("type", db.OpEqual, string(t))
	}
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list assets of %s: %w", userID, err)
	}
	records := make([]models.AssetRecord, 0, len(docs))
	for _, d := range docs {
		r := models.AssetRecord{
			ID:       d.ID,
			Type:     models.AssetType(d.String("type")),
			Quantity: d.Int("quantity"),
			ItemID:   d.String("itemId"),
		}
		r.CreatedAt, _ = d.Time("createdAt")
		r.UpdatedAt, _ = d.Time("updatedAt")
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// ReconcileAssets writes the maximum of every legacy location back to the
// canonical field and the sub-document in one transaction.
func (s *AssetService) ReconcileAssets(ctx context.Context, userID string) ([]models.AssetReconciliation, error) {
	if err := validID("user id", userID); err != nil {
		return nil, err
	}
	var report []models.AssetReconciliation
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx db.Tx) error {
		report = report[:0]
		user, err := tx.Get(userPath(userID))
		if err != nil {
			return err
		}
		if !user.Exists {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		states := make([]*assetState, 0, len(models.KnownAssetTypes))
		for _, t := range models.KnownAssetTypes {
			st, err := readAssetWithUser(tx, user, userID, t, "")
			if err != nil {
				return err
			}
			states = append(states, st)
		}

		var updates []db.Update
		for _, st := range states {
			changed := st.needsWrite()
			value := st.quantity()
			report = append(report, models.AssetReconciliation{
				AssetType: st.assetType,
				Locations: st.locations(),
				Value:     value,
				Changed:   changed,
			})
			if !changed {
				continue
			}
			sub := map[string]interface{}{
				"type":      string(st.assetType),
				"quantity":  value,
				"updatedAt": db.ServerTimestamp,
			}
			if !st.sub.Exists {
				sub["createdAt"] = db.ServerTimestamp
			}
			if err := tx.Set(assetDocPath(userID, st.assetType, ""), sub, db.Merge()); err != nil {
				return err
			}
			updates = append(updates, summaryUpdates(st, value)...)
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Update(userPath(userID), stamped(updates))
	})
	s.metrics.ObserveAsset("reconcile", err)
	if err != nil {
		return nil, err
	}
	changed := 0
	for _, r := range report {
		if r.Changed {
			changed++
		}
	}
	s.logger.Info("assets reconciled", zap.String("userID", userID), zap.Int("changedTypes", changed))
	return report, nil
}

// BatchSetAssets overwrites several counters with one batch write.
func (s *AssetService) BatchSetAssets(ctx context.Context, userID string, quantities map[models.AssetType]int64) error {
	if err := validID("user id", userID); err != nil {
		return err
	}
	if len(quantities) == 0 {
		return fmt.Errorf("%w: no assets given", ErrInvalidInput)
	}
	for t, q := range quantities {
		if !t.Known() {
			return fmt.Errorf("%w: unknown asset type %q", ErrInvalidInput, t)
		}
		if q < 0 {
			return fmt.Errorf("%w: %s quantity must be non-negative", ErrInvalidInput, t)
		}
	}
	user, err := s.store.Get(ctx, userPath(userID))
	if err != nil {
		return err
	}
	if !user.Exists {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}

	batch := s.store.Batch()
	var updates []db.Update
	for _, t := range models.KnownAssetTypes {
		q, ok := quantities[t]
		if !ok {
			continue
		}
		batch.Set(assetDocPath(userID, t, ""), map[string]interface{}{
			"type":      string(t),
			"quantity":  q,
			"updatedAt": db.ServerTimestamp,
		}, db.Merge())
		updates = append(updates, summaryUpdates(&assetState{userID: userID, assetType: t, user: user}, q)...)
	}
	batch.Update(userPath(userID), stamped(updates))
	err = batch.Commit(ctx)
	s.metrics.ObserveAsset("batch_set", err)
	if err != nil {
		return fmt.Errorf("batch set assets of %s: %w", userID, err)
	}
	s.logger.Info("assets batch set", zap.String("userID", userID), zap.Int("types", len(quantities)))
	return nil
}

// ClearAllAssets deletes every detail record and zeroes the summary fields.
// It returns the number of deleted records.
func (s *AssetService) ClearAllAssets(ctx context.Context, userID string) (int, error) {
	if err := validID("user id", userID); err != nil {
		return 0, err
	}
	user, err := s.store.Get(ctx, userPath(userID))
	if err != nil {
		return 0, err
	}
	if !user.Exists {
		return 0, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	docs, err := s.store.Query(ctx, db.Query{Collection: db.Join(usersCollection, userID, assetsSubcollection)})
	if err != nil {
		return 0, err
	}

	batch := s.store.Batch()
	for _, d := range docs {
		batch.Delete(d.Path)
	}
	var updates []db.Update
	for _, t := range models.KnownAssetTypes {
		updates = append(updates, summaryUpdates(&assetState{userID: userID, assetType: t, user: user}, 0)...)
	}
	batch.Update(userPath(userID), stamped(updates))
	err = batch.Commit(ctx)
	s.metrics.ObserveAsset("clear", err)
	if err != nil {
		return 0, fmt.Errorf("clear assets of %s: %w", userID, err)
	}
	s.logger.Warn("all assets cleared", zap.String("userID", userID), zap.Int("records", len(docs)))
	return len(docs), nil
}
