package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/core"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

// WalletHandler serves balances and purchases.
type WalletHandler struct {
	coins     core.CoinLedger
	purchases core.Purchaser
	idem      *core.Idempotency
	logger    *zap.Logger
}

func NewWalletHandler(coins core.CoinLedger, purchases core.Purchaser, idem *core.Idempotency, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{coins: coins, purchases: purchases, idem: idem, logger: logger}
}

// GetWallet handles GET /wallet
func (h *WalletHandler) GetWallet(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	balance, err := h.coins.GetBalance(c.Request.Context(), userID)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, WalletResponse{UserID: userID, Balance: balance})
}

// ListTransactions handles GET /wallet/transactions?limit=
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	txs, err := h.coins.ListTransactions(c.Request.Context(), userID, limit)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, TransactionsResponse{Transactions: txs})
}

// Purchase handles POST /purchases
func (h *WalletHandler) Purchase(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req models.PurchaseRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	result, replayed, err := core.Idempotent(ctx, h.idem, "purchase", userID, requestID(c, req.RequestID),
		func() (*models.PurchaseResult, error) {
			return h.purchases.Purchase(ctx, userID, req)
		})
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	markReplayed(c, replayed)
	c.JSON(http.StatusOK, result)
}

// UnlockCharacter handles POST /characters/:characterId/unlock
func (h *WalletHandler) UnlockCharacter(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req models.UnlockCharacterRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	characterID := c.Param("characterId")
	ctx := c.Request.Context()
	result, replayed, err := core.Idempotent(ctx, h.idem, "unlock:"+characterID, userID, requestID(c, req.RequestID),
		func() (*models.UnlockResult, error) {
			return h.purchases.UnlockCharacter(ctx, userID, characterID, req.UseCoins)
		})
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	markReplayed(c, replayed)
	c.JSON(http.StatusOK, result)
}
