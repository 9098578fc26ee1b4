package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

func TestGetOrCreateAccount(t *testing.T) {
	clock := &testClock{now: testNow}
	store := newTestStore(clock)
	svc := NewUserService(store, nil)
	ctx := context.Background()

	acct, created, err := svc.GetOrCreate(ctx, "u1", "a@example.com", "Ann")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.TierFree, acct.Membership.Tier)
	assert.Equal(t, int64(0), acct.Balance)

	doc := mustGet(t, store, "users/u1")
	assert.True(t, doc.Has("wallet.balance"))
	assert.Equal(t, "free", doc.String("membershipTier"))

	require.NoError(t, store.Update(ctx, "users/u1", []db.Update{
		{Path: "wallet.balance", Value: 40},
		{Path: "assets.photoUnlockCards", Value: 3},
	}))
	acct, created, err = svc.GetOrCreate(ctx, "u1", "other@example.com", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "a@example.com", acct.Email)
	assert.Equal(t, int64(40), acct.Balance)
	assert.Equal(t, int64(3), acct.Assets[string(models.AssetPhotoUnlockCard)])
	require.NotNil(t, acct.CreatedAt)
	assert.Equal(t, testNow, *acct.CreatedAt)
}

func TestGetAccountByID(t *testing.T) {
	store := newTestStore(&testClock{now: testNow})
	svc := NewUserService(store, nil)

	_, err := svc.GetByID(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrUserNotFound)
	_, err = svc.GetByID(context.Background(), "bad/id")
	require.ErrorIs(t, err, ErrInvalidInput)

	seed(t, store, "users/u2", map[string]interface{}{"coins": 7})
	acct, err := svc.GetByID(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(7), acct.Balance)
	assert.Equal(t, models.MembershipNone, acct.Membership.Status)
}
