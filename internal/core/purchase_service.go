package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/configs"
	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
	"github.com/mikeggyy/chat-app-all-sub002/internal/metrics"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

const packageStatusActive = "active"

// CharacterLookup answers whether a character id is in the catalog.
type CharacterLookup interface {
	Loaded() bool
	Exists(id string) bool
}

// PurchaseService runs purchases as single ledger transactions.
type PurchaseService struct {
	store      db.Store
	economy    *configs.Economy
	characters CharacterLookup
	logger     *zap.Logger
	metrics    *metrics.Ledger
}

// NewPurchaseService creates a new PurchaseService. characters may be nil.
func NewPurchaseService(store db.Store, economy *configs.Economy, characters CharacterLookup, logger *zap.Logger, m *metrics.Ledger) *PurchaseService {
	if economy == nil {
		economy = configs.DefaultEconomy()
	}
	return &PurchaseService{store: store, economy: economy, characters: characters, logger: orNop(logger), metrics: m}
}

func conversationField(characterID, field string) string {
	return "conversation." + characterID + "." + field
}

// UnlockCharacter permanently unlocks a character. A character unlock card
// is consumed when one is available and useCoins is false; otherwise the
// catalog price is charged in coins.
func (s *PurchaseService) UnlockCharacter(ctx context.Context, userID, characterID string, useCoins bool) (*models.UnlockResult, error) {
	if err := validID("user id", userID); err != nil {
		return nil, err
	}
	if err := validID("character id", characterID); err != nil {
		return nil, err
	}
	if s.characters != nil && s.characters.Loaded() && !s.characters.Exists(characterID) {
		return nil, fmt.Errorf("%w: %s", ErrCharacterNotFound, characterID)
	}
	price, ok := s.economy.FeaturePrice(configs.FeatureCharacterUnlock)
	if !ok {
		return nil, fmt.Errorf("%w: no price configured for %s", ErrInvalidInput, configs.FeatureCharacterUnlock)
	}

	start := time.Now()
	var result *models.UnlockResult
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx db.Tx) error {
		user, err := readUser(tx, userID)
		if err != nil {
			return err
		}
		limits, err := tx.Get(usageLimitsPath(userID))
		if err != nil {
			return err
		}
		cards, err := readAssetWithUser(tx, user, userID, models.AssetCharacterUnlockCard, "")
		if err != nil {
			return err
		}

		if limits.Bool(conversationField(characterID, "permanentUnlock")) {
			return fmt.Errorf("%w: character %s", ErrAlreadyUnlocked, characterID)
		}

		balance := walletBalance(user)
		r := &models.UnlockResult{
			UserID:          userID,
			CharacterID:     characterID,
			PermanentUnlock: true,
			PreviousBalance: balance,
			NewBalance:      balance,
			RemainingCards:  cards.quantity(),
		}
		switch {
		case !useCoins && cards.quantity() >= 1:
			change, err := applyAssetDelta(tx, cards, -1)
			if err != nil {
				return err
			}
			r.PaymentMethod = models.PaymentUnlockTicket
			r.RemainingCards = change.NewQuantity
		case balance >= price:
			r.PaymentMethod = models.PaymentCoins
			r.Cost = price
			if price > 0 {
				change, err := applyBalanceChange(tx, user, userID, balanceEntry{
					txType:      models.TransactionSpend,
					category:    models.CategoryPurchase,
					amount:      price,
					description: "permanent character unlock",
					metadata: map[string]interface{}{
						"sku":         configs.FeatureCharacterUnlock,
						"itemType":    "character_unlock",
						"characterId": characterID,
					},
				})
				if err != nil {
					return err
				}
				r.TransactionID = change.TransactionID
				r.NewBalance = change.NewBalance
			}
		default:
			return fmt.Errorf("%w: balance %d, price %d, no character unlock card", ErrInsufficientFunds, balance, price)
		}

		err = tx.Set(usageLimitsPath(userID), map[string]interface{}{
			"conversation": map[string]interface{}{
				characterID: map[string]interface{}{
					"permanentUnlock": true,
					"unlockedAt":      db.ServerTimestamp,
					"paymentMethod":   string(r.PaymentMethod),
				},
			},
			"updatedAt": db.ServerTimestamp,
		}, db.Merge())
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	method := "none"
	if result != nil {
		method = string(result.PaymentMethod)
	}
	s.metrics.ObservePurchase(method, err)
	s.metrics.ObserveTx("unlock_character", time.Since(start))
	if err != nil {
		s.logger.Info("character unlock rejected",
			zap.String("userID", userID),
			zap.String("characterID", characterID),
			zap.Error(err))
		return nil, err
	}
	s.logger.Info("character unlocked",
		zap.String("userID", userID),
		zap.String("characterID", characterID),
		zap.String("paymentMethod", method),
		zap.Int64("cost", result.Cost))
	return result, nil
}

func docToPackage(d *db.Document) models.AssetPackage {
	return models.AssetPackage{
		SKU:         d.ID,
		DisplayName: d.String("displayName"),
		Category:    d.String("category"),
		AssetType:   models.AssetType(d.String("assetType")),
		Quantity:    d.Int("quantity"),
		FinalPrice:  d.Int("finalPrice"),
		Status:      d.String("status"),
	}
}

// PurchasePackage buys an asset package with coins.
func (s *PurchaseService) PurchasePackage(ctx context.Context, userID, sku string) (*models.PackagePurchaseResult, error) {
	if err := validID("user id", userID); err != nil {
		return nil, err
	}
	if err := validID("sku", sku); err != nil {
		return nil, err
	}

	start := time.Now()
	var result *models.PackagePurchaseResult
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx db.Tx) error {
		doc, err := tx.Get(db.Join(packagesCollection, sku))
		if err != nil {
			return err
		}
		if !doc.Exists {
			return fmt.Errorf("%w: %s", ErrPackageNotFound, sku)
		}
		pkg := docToPackage(doc)
		if pkg.Status != packageStatusActive {
			return fmt.Errorf("%w: %s is %q", ErrPackageInactive, sku, pkg.Status)
		}
		if err := validID("asset type", string(pkg.AssetType)); err != nil || pkg.Quantity <= 0 || pkg.FinalPrice < 0 {
			return fmt.Errorf("%w: package %s is misconfigured", ErrPackageInactive, sku)
		}
		user, err := readUser(tx, userID)
		if err != nil {
			return err
		}
		asset, err := readAssetWithUser(tx, user, userID, pkg.AssetType, "")
		if err != nil {
			return err
		}

		balance := walletBalance(user)
		r := &models.PackagePurchaseResult{
			UserID:          userID,
			SKU:             sku,
			AssetType:       pkg.AssetType,
			Quantity:        pkg.Quantity,
			Cost:            pkg.FinalPrice,
			PreviousBalance: balance,
			NewBalance:      balance,
		}
		if pkg.FinalPrice > 0 {
			change, err := applyBalanceChange(tx, user, userID, balanceEntry{
				txType:      models.TransactionSpend,
				category:    models.CategoryPurchase,
				amount:      pkg.FinalPrice,
				description: pkg.DisplayName,
				metadata: map[string]interface{}{
					"sku":      sku,
					"itemType": string(pkg.AssetType),
					"quantity": pkg.Quantity,
				},
			})
			if err != nil {
				return err
			}
			r.TransactionID = change.TransactionID
			r.NewBalance = change.NewBalance
		}
		credited, err := applyAssetDelta(tx, asset, pkg.Quantity)
		if err != nil {
			return err
		}
		r.PreviousQuantity = credited.PreviousQuantity
		r.NewQuantity = credited.NewQuantity
		result = r
		return nil
	})
	s.metrics.ObservePurchase(string(models.PaymentCoins), err)
	s.metrics.ObserveTx("purchase_package", time.Since(start))
	if err != nil {
		s.logger.Info("package purchase rejected", zap.String("userID", userID), zap.String("sku", sku), zap.Error(err))
		return nil, err
	}
	s.logger.Info("package purchased",
		zap.String("userID", userID),
		zap.String("sku", sku),
		zap.Int64("cost", result.Cost),
		zap.Int64("quantity", result.Quantity))
	return result, nil
}

// Purchase dispatches feature SKUs to their handler and everything else to
// PurchasePackage.
func (s *PurchaseService) Purchase(ctx context.Context, userID string, req models.PurchaseRequest) (*models.PurchaseResult, error) {
	if req.SKU == configs.FeatureCharacterUnlock {
		if req.ItemID == "" {
			return nil, fmt.Errorf("%w: itemId must name the character", ErrInvalidInput)
		}
		unlock, err := s.UnlockCharacter(ctx, userID, req.ItemID, req.UseCoins)
		if err != nil {
			return nil, err
		}
		return &models.PurchaseResult{Unlock: unlock}, nil
	}
	if s.economy.IsFeature(req.SKU) {
		return nil, fmt.Errorf("%w: feature %s cannot be bought directly", ErrInvalidInput, req.SKU)
	}
	pkg, err := s.PurchasePackage(ctx, userID, req.SKU)
	if err != nil {
		return nil, err
	}
	return &models.PurchaseResult{Package: pkg}, nil
}
