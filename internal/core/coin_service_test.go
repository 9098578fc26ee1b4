package core

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

func newCoinFixture(t *testing.T, balance int64) (*CoinService, *testClock) {
	t.Helper()
	clock := &testClock{now: testNow}
	store := newTestStore(clock)
	seed(t, store, "users/u1", map[string]interface{}{
		"wallet": map[string]interface{}{"balance": balance},
	})
	return NewCoinService(store, nil, nil), clock
}

func sumSigned(t *testing.T, store db.Store, userID string) int64 {
	t.Helper()
	docs, err := store.Query(context.Background(), db.Query{Collection: "transactions"}.Where("userId", db.OpEqual, userID))
	require.NoError(t, err)
	var sum int64
	for _, d := range docs {
		tx := docToTransaction(d)
		if tx.Type == models.TransactionSpend {
			assert.Equal(t, tx.BalanceBefore-tx.Amount, tx.BalanceAfter)
		} else {
			assert.Equal(t, tx.BalanceBefore+tx.Amount, tx.BalanceAfter)
		}
		sum += tx.Signed()
	}
	return sum
}

func TestAddAndDeductCoins(t *testing.T) {
	svc, clock := newCoinFixture(t, 100)
	ctx := context.Background()

	change, err := svc.AddCoins(ctx, "u1", 50, models.CategoryReward, "daily bonus", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(100), change.PreviousBalance)
	assert.Equal(t, int64(150), change.NewBalance)
	assert.NotEmpty(t, change.TransactionID)

	clock.Advance(time.Second)
	_, err = svc.DeductCoins(ctx, "u1", 120, models.CategoryPurchase, "", map[string]interface{}{"sku": "x"})
	require.NoError(t, err)

	_, err = svc.DeductCoins(ctx, "u1", 31, models.CategoryPurchase, "", nil)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	balance, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
	assert.Equal(t, balance-100, sumSigned(t, svc.store, "u1"))

	txs, err := svc.ListTransactions(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, models.TransactionSpend, txs[0].Type)
	assert.Equal(t, "x", txs[0].Metadata["sku"])
	assert.Equal(t, models.TransactionEarn, txs[1].Type)
	assert.Equal(t, models.TransactionCompleted, txs[1].Status)
}

func TestCoinValidation(t *testing.T) {
	svc, _ := newCoinFixture(t, 0)
	ctx := context.Background()

	_, err := svc.AddCoins(ctx, "u1", 0, models.CategoryReward, "", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.DeductCoins(ctx, "u1", -5, models.CategoryPurchase, "", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.AddCoins(ctx, "ghost", 5, models.CategoryReward, "", nil)
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = svc.GetBalance(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = svc.SetBalance(ctx, "u1", -1, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLegacyBalanceFieldsFollowWrites(t *testing.T) {
	svc, _ := newCoinFixture(t, 0)
	seed(t, svc.store, "users/old", map[string]interface{}{"coins": 80, "walletBalance": 80})
	ctx := context.Background()

	balance, err := svc.GetBalance(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, int64(80), balance)

	_, err = svc.DeductCoins(ctx, "old", 30, models.CategoryPurchase, "", nil)
	require.NoError(t, err)

	user := mustGet(t, svc.store, "users/old")
	assert.Equal(t, int64(50), user.Int("wallet.balance"))
	assert.Equal(t, int64(50), user.Int("walletBalance"))
	assert.Equal(t, int64(50), user.Int("coins"))
}

func TestSetBalanceRecordsDelta(t *testing.T) {
	svc, clock := newCoinFixture(t, 100)
	ctx := context.Background()

	change, err := svc.SetBalance(ctx, "u1", 40, "correction")
	require.NoError(t, err)
	assert.Equal(t, int64(40), change.NewBalance)

	clock.Advance(time.Second)
	change, err = svc.SetBalance(ctx, "u1", 40, "noop")
	require.NoError(t, err)
	assert.Empty(t, change.TransactionID)

	clock.Advance(time.Second)
	_, err = svc.SetBalance(ctx, "u1", 90, "grant")
	require.NoError(t, err)

	txs, err := svc.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, models.TransactionEarn, txs[0].Type)
	assert.Equal(t, int64(50), txs[0].Amount)
	assert.Equal(t, models.CategoryAdmin, txs[0].Category)
	assert.Equal(t, models.TransactionSpend, txs[1].Type)
	assert.Equal(t, int64(60), txs[1].Amount)
	assert.Equal(t, int64(90-100), sumSigned(t, svc.store, "u1"))
}

func TestRefundTransaction(t *testing.T) {
	svc, _ := newCoinFixture(t, 500)
	ctx := context.Background()

	spend, err := svc.DeductCoins(ctx, "u1", 300, models.CategoryPurchase, "", nil)
	require.NoError(t, err)

	refund, err := svc.RefundTransaction(ctx, spend.TransactionID, "duplicate charge")
	require.NoError(t, err)
	assert.Equal(t, int64(200), refund.PreviousBalance)
	assert.Equal(t, int64(500), refund.NewBalance)

	original := mustGet(t, svc.store, "transactions/"+spend.TransactionID)
	assert.Equal(t, string(models.TransactionRefunded), original.String("status"))
	assert.Equal(t, refund.TransactionID, original.String("refundTransactionId"))
	assert.Equal(t, "duplicate charge", original.String("refundReason"))

	_, err = svc.RefundTransaction(ctx, spend.TransactionID, "")
	require.ErrorIs(t, err, ErrAlreadyRefunded)
	_, err = svc.RefundTransaction(ctx, refund.TransactionID, "")
	require.ErrorIs(t, err, ErrNotRefundable)
	_, err = svc.RefundTransaction(ctx, "missing", "")
	require.ErrorIs(t, err, ErrTransactionNotFound)

	balance, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
	assert.Equal(t, int64(0), sumSigned(t, svc.store, "u1"))
}

func TestAddCoinsRejectsOverflow(t *testing.T) {
	svc, _ := newCoinFixture(t, math.MaxInt64-10)
	ctx := context.Background()

	_, err := svc.AddCoins(ctx, "u1", 11, models.CategoryReward, "", nil)
	require.ErrorIs(t, err, ErrQuantityOverflow)
	balance, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-10), balance)
	assert.Equal(t, 0, countDocs(t, svc.store, "transactions"))

	change, err := svc.AddCoins(ctx, "u1", 10, models.CategoryReward, "", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), change.NewBalance)
}
