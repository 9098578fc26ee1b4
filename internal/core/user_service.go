package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

// UserService owns the account document every ledger operation requires.
type UserService struct {
	store  db.Store
	logger *zap.Logger
}

// NewUserService creates a new UserService instance.
func NewUserService(store db.Store, logger *zap.Logger) *UserService {
	return &UserService{store: store, logger: orNop(logger)}
}

// GetOrCreate returns the account, creating an empty free-tier one on first
// sight. The boolean reports whether it was created.
func (s *UserService) GetOrCreate(ctx context.Context, userID, email, displayName string) (*models.Account, bool, error) {
	if err := validID("user id", userID); err != nil {
		return nil, false, err
	}
	path := userPath(userID)
	var created bool
	var account *models.Account
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx db.Tx) error {
		created = false
		user, err := tx.Get(path)
		if err != nil {
			return err
		}
		if user.Exists {
			account = accountFrom(user)
			return nil
		}
		data := map[string]interface{}{
			"email":       email,
			"displayName": displayName,
			"wallet":      map[string]interface{}{"balance": int64(0), "updatedAt": db.ServerTimestamp},
			"assets":      map[string]interface{}{},
			tierField:     string(models.TierFree),
			statusField:   string(models.MembershipNone),
			"createdAt":   db.ServerTimestamp,
			"updatedAt":   db.ServerTimestamp,
		}
		created = true
		account = &models.Account{
			ID:          userID,
			Email:       email,
			DisplayName: displayName,
			Membership:  models.Membership{UserID: userID, Tier: models.TierFree, Status: models.MembershipNone},
			Assets:      map[string]int64{},
		}
		return tx.Set(path, data)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to initialize account %s: %w", userID, err)
	}
	if created {
		s.logger.Info("account created", zap.String("userID", userID))
	}
	return account, created, nil
}

// GetByID returns the account or ErrUserNotFound.
func (s *UserService) GetByID(ctx context.Context, userID string) (*models.Account, error) {
	if err := validID("user id", userID); err != nil {
		return nil, err
	}
	user, err := s.store.Get(ctx, userPath(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", userID, err)
	}
	if !user.Exists {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return accountFrom(user), nil
}

func accountFrom(user *db.Document) *models.Account {
	st := readMembership(user)
	a := &models.Account{
		ID:          user.ID,
		Email:       user.String("email"),
		DisplayName: user.String("displayName"),
		Balance:     walletBalance(user),
		Membership: models.Membership{
			UserID:    user.ID,
			Tier:      st.tier,
			Status:    st.status,
			StartedAt: st.startedAt,
			ExpiresAt: st.expiresAt,
		},
		Assets: map[string]int64{},
	}
	for _, t := range models.KnownAssetTypes {
		key, _ := t.SummaryKey()
		if v, ok := user.IntOK("assets." + key); ok {
			a.Assets[string(t)] = v
		}
	}
	if t, ok := user.Time("createdAt"); ok {
		a.CreatedAt = &t
	}
	return a
}
