package core

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
	"github.com/mikeggyy/chat-app-all-sub002/internal/metrics"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

const (
	defaultTransactionLimit = 20
	maxTransactionLimit     = 100
)

// walletBalance reads the canonical balance, falling back to the legacy
// fields older clients wrote.
func walletBalance(user *db.Document) int64 {
	if v, ok := user.IntOK("wallet.balance"); ok {
		return v
	}
	if v, ok := user.IntOK("walletBalance"); ok {
		return v
	}
	return user.Int("coins")
}

func walletUpdates(user *db.Document, balance int64) []db.Update {
	updates := []db.Update{
		{Path: "wallet.balance", Value: balance},
		{Path: "wallet.updatedAt", Value: db.ServerTimestamp},
	}
	if user.Has("walletBalance") {
		updates = append(updates, db.Update{Path: "walletBalance", Value: balance})
	}
	if user.Has("coins") {
		updates = append(updates, db.Update{Path: "coins", Value: balance})
	}
	return updates
}

type balanceEntry struct {
	txType      models.TransactionType
	category    models.TransactionCategory
	amount      int64
	description string
	metadata    map[string]interface{}
}

// applyBalanceChange writes the new balance and appends the audit record.
// The caller must have finished every transactional read.
func applyBalanceChange(tx db.Tx, user *db.Document, userID string, e balanceEntry) (*models.BalanceChange, error) {
	if e.amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	before := walletBalance(user)
	var after int64
	if e.txType == models.TransactionSpend {
		if before < e.amount {
			return nil, fmt.Errorf("%w: balance %d, needs %d", ErrInsufficientFunds, before, e.amount)
		}
		after = before - e.amount
	} else {
		if before > math.MaxInt64-e.amount {
			return nil, fmt.Errorf("%w: balance %d, cannot add %d", ErrQuantityOverflow, before, e.amount)
		}
		after = before + e.amount
	}
	if err := tx.Update(userPath(userID), stamped(walletUpdates(user, after))); err != nil {
		return nil, err
	}
	record := map[string]interface{}{
		"userId":        userID,
		"type":          string(e.txType),
		"category":      string(e.category),
		"amount":        e.amount,
		"balanceBefore": before,
		"balanceAfter":  after,
		"status":        string(models.TransactionCompleted),
		"createdAt":     db.ServerTimestamp,
	}
	if e.description != "" {
		record["description"] = e.description
	}
	if len(e.metadata) > 0 {
		record["metadata"] = e.metadata
	}
	id, err := tx.Create(transactionsCollection, record)
	if err != nil {
		return nil, err
	}
	return &models.BalanceChange{UserID: userID, TransactionID: id, PreviousBalance: before, NewBalance: after}, nil
}

func readUser(tx db.Tx, userID string) (*db.Document, error) {
	user, err := tx.Get(userPath(userID))
	if err != nil {
		return nil, fmt.Errorf("read user %s: %w", userID, err)
	}
	if !user.Exists {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return user, nil
}

func docToTransaction(d *db.Document) models.Transaction {
	t := models.Transaction{
		ID:            d.ID,
		UserID:        d.String("userId"),
		Type:          models.TransactionType(d.String("type")),
		Category:      models.TransactionCategory(d.String("category")),
		Amount:        d.Int("amount"),
		Description:   d.String("description"),
		Metadata:      d.Map("metadata"),
		BalanceBefore: d.Int("balanceBefore"),
		BalanceAfter:  d.Int("balanceAfter"),
		Status:        models.TransactionStatus(d.String("status")),
	}
	t.CreatedAt, _ = d.Time("createdAt")
	return t
}

// CoinService manages the coin wallet and its audit trail.
type CoinService struct {
	store   db.Store
	logger  *zap.Logger
	metrics *metrics.Ledger
}

// NewCoinService creates a new CoinService instance.
func NewCoinService(store db.Store, logger *zap.Logger, m *metrics.Ledger) *CoinService {
	return &CoinService{store: store, logger: orNop(logger), metrics: m}
}

// GetBalance returns the user's coin balance from the wallet or its legacy fields.
func (s *CoinService) GetBalance(ctx context.Context, userID string) (int64, error) {
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
	return walletBalance(user), nil
}

// AddCoins credits amount coins and records an earn transaction.
func (s *CoinService) AddCoins(ctx context.Context, userID string, amount int64, category models.TransactionCategory, description string, metadata map[string]interface{}) (*models.BalanceChange, error) {
	return s.change(ctx, "add", userID, balanceEntry{
		txType: models.TransactionEarn, category: category, amount: amount, description: description, metadata: metadata,
	})
}

// DeductCoins debits amount coins and fails with ErrInsufficientFunds when
// the balance does not cover it.
func (s *CoinService) DeductCoins(ctx context.Context, userID string, amount int64, category models.TransactionCategory, description string, metadata map[string]interface{}) (*models.BalanceChange, error) {
	return s.change(ctx, "deduct", userID, balanceEntry{
		txType: models.TransactionSpend, category: category, amount: amount, description: description, metadata: metadata,
	})
}

func (s *CoinService) change(ctx context.Context, op, userID string, e balanceEntry) (*models.BalanceChange, error) {
	if err := validID("user id", userID); err != nil {
		return nil, err
	}
	if e.amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if e.category == "" {
		e.category = models.CategoryAdmin
	}
	var result *models.BalanceChange
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx db.Tx) error {
		user, err := readUser(tx, userID)
		if err != nil {
			return err
		}
		result, err = applyBalanceChange(tx, user, userID, e)
		return err
	})
	s.metrics.ObserveCoins(op, err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("coin balance changed",
		zap.String("operation", op),
		zap.String("userID", userID),
		zap.Int64("amount", e.amount),
		zap.Int64("balance", result.NewBalance),
		zap.String("transactionID", result.TransactionID))
	return result, nil
}

// SetBalance overwrites the balance and records the difference as an admin
// transaction. No record is written when nothing changes.
func (s *CoinService) SetBalance(ctx context.Context, userID string, balance int64, reason string) (*models.BalanceChange, error) {
	if err := validID("user id", userID); err != nil {
		return nil, err
	}
	if balance < 0 {
		return nil, fmt.Errorf("%w: balance must be non-negative", ErrInvalidInput)
	}
	var result *models.BalanceChange
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx db.Tx) error {
		user, err := readUser(tx, userID)
		if err != nil {
			return err
		}
		before := walletBalance(user)
		delta := balance - before
		if delta == 0 {
			result = &models.BalanceChange{UserID: userID, PreviousBalance: before, NewBalance: before}
			return nil
		}
		e := balanceEntry{txType: models.TransactionEarn, category: models.CategoryAdmin, amount: delta, description: reason}
		if delta < 0 {
			e.txType, e.amount = models.TransactionSpend, -delta
		}
		result, err = applyBalanceChange(tx, user, userID, e)
		return err
	})
	s.metrics.ObserveCoins("set", err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("coin balance set",
		zap.String("userID", userID),
		zap.Int64("previous", result.PreviousBalance),
		zap.Int64("balance", result.NewBalance))
	return result, nil
}

// ListTransactions returns the newest records of a user first.
func (s *CoinService) ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	if err := validID("user id", userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}
	docs, err := s.store.Query(ctx, db.Query{
		Collection: transactionsCollection,
		OrderBy:    "createdAt",
		Descending: true,
		Limit:      limit,
	}.Where("userId", db.OpEqual, userID))
	if err != nil {
		return nil, fmt.Errorf("list transactions of %s: %w", userID, err)
	}
	out := make([]models.Transaction, 0, len(docs))
	for _, d := range docs {
		out = append(out, docToTransaction(d))
	}
	return out, nil
}

// RefundTransaction credits a completed spend back to its owner and marks
// the original refunded. Entitlements granted by the purchase are kept.
func (s *CoinService) RefundTransaction(ctx context.Context, transactionID, reason string) (*models.BalanceChange, error) {
	if err := validID("transaction id", transactionID); err != nil {
		return nil, err
	}
	path := db.Join(transactionsCollection, transactionID)
	var result *models.BalanceChange
	var userID string
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx db.Tx) error {
		doc, err := tx.Get(path)
		if err != nil {
			return err
		}
		if !doc.Exists {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
		}
		original := docToTransaction(doc)
		if original.Status == models.TransactionRefunded {
			return fmt.Errorf("%w: %s", ErrAlreadyRefunded, transactionID)
		}
		if original.Type != models.TransactionSpend || original.Amount <= 0 {
			return fmt.Errorf("%w: %s is a %s record", ErrNotRefundable, transactionID, original.Type)
		}
		userID = original.UserID
		user, err := readUser(tx, userID)
		if err != nil {
			return err
		}

		result, err = applyBalanceChange(tx, user, userID, balanceEntry{
			txType:      models.TransactionEarn,
			category:    models.CategoryRefund,
			amount:      original.Amount,
			description: reason,
			metadata:    map[string]interface{}{"originalTransactionId": transactionID},
		})
		if err != nil {
			return err
		}
		updates := []db.Update{
			{Path: "status", Value: string(models.TransactionRefunded)},
			{Path: "refundedAt", Value: db.ServerTimestamp},
			{Path: "refundTransactionId", Value: result.TransactionID},
		}
		if reason != "" {
			updates = append(updates, db.Update{Path: "refundReason", Value: reason})
		}
		return tx.Update(path, updates)
	})
	s.metrics.ObserveCoins("refund", err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("transaction refunded",
		zap.String("transactionID", transactionID),
		zap.String("userID", userID),
		zap.Int64("balance", result.NewBalance))
	return result, nil
}
