package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/core"
	"github.com/mikeggyy/chat-app-all-sub002/internal/middleware"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

// AdminHandler serves the operator endpoints under /admin.
type AdminHandler struct {
	assets     core.AssetLedger
	coins      core.CoinLedger
	membership core.MembershipCoordinator
	monitor    core.AdMonitor
	logger     *zap.Logger
}

func NewAdminHandler(assets core.AssetLedger, coins core.CoinLedger, membership core.MembershipCoordinator, monitor core.AdMonitor, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{assets: assets, coins: coins, membership: membership, monitor: monitor, logger: logger}
}

func parseAssetType(c *gin.Context, raw string) (models.AssetType, bool) {
	t, ok := models.ParseAssetType(raw)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Unknown asset type", Details: raw, Code: "invalid_input"})
	}
	return t, ok
}

// MutateAsset handles POST /admin/users/:userId/assets
func (h *AdminHandler) MutateAsset(c *gin.Context) {
	var req models.AdminAssetRequest
	if !bindJSON(c, &req) {
		return
	}
	t, ok := parseAssetType(c, req.AssetType)
	if !ok {
		return
	}
	userID := c.Param("userId")
	ctx := c.Request.Context()

	var change *models.AssetChange
	var err error
	switch req.Operation {
	case models.AssetOpAdd:
		change, err = h.assets.AddAsset(ctx, userID, t, req.Amount, req.ItemID)
	case models.AssetOpDeduct:
		change, err = h.assets.DeductAsset(ctx, userID, t, req.Amount, req.ItemID)
	case models.AssetOpSet:
		change, err = h.assets.SetAssetQuantity(ctx, userID, t, req.Amount, req.ItemID)
	default:
		err = fmt.Errorf("%w: unknown operation %q", core.ErrInvalidInput, req.Operation)
	}
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	h.logger.Info("admin asset change",
		zap.String("admin", c.GetString(middleware.ContextUserID)),
		zap.String("userID", userID),
		zap.String("operation", string(req.Operation)),
		zap.String("assetType", string(t)))
	c.JSON(http.StatusOK, change)
}

// BatchSetAssets handles PUT /admin/users/:userId/assets
func (h *AdminHandler) BatchSetAssets(c *gin.Context) {
	var req models.BatchSetAssetsRequest
	if !bindJSON(c, &req) {
		return
	}
	quantities := make(map[models.AssetType]int64, len(req.Assets))
	for raw, n := range req.Assets {
		t, ok := parseAssetType(c, raw)
		if !ok {
			return
		}
		quantities[t] = n
	}
	userID := c.Param("userId")
	if err := h.assets.BatchSetAssets(c.Request.Context(), userID, quantities); err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "assets updated", Data: req.Assets})
}

// ClearAssets handles DELETE /admin/users/:userId/assets
func (h *AdminHandler) ClearAssets(c *gin.Context) {
	n, err := h.assets.ClearAllAssets(c.Request.Context(), c.Param("userId"))
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, CleanupResponse{Deleted: n})
}

// ReconcileAssets handles POST /admin/users/:userId/assets/reconcile
func (h *AdminHandler) ReconcileAssets(c *gin.Context) {
	userID := c.Param("userId")
	report, err := h.assets.ReconcileAssets(c.Request.Context(), userID)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, AssetSummaryResponse{UserID: userID, Summary: report})
}

// SetBalance handles PUT /admin/users/:userId/wallet
func (h *AdminHandler) SetBalance(c *gin.Context) {
	var req models.SetBalanceRequest
	if !bindJSON(c, &req) {
		return
	}
	change, err := h.coins.SetBalance(c.Request.Context(), c.Param("userId"), *req.Balance, req.Reason)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, change)
}

// RefundTransaction handles POST /admin/transactions/:transactionId/refund
func (h *AdminHandler) RefundTransaction(c *gin.Context) {
	var req models.RefundRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	change, err := h.coins.RefundTransaction(c.Request.Context(), c.Param("transactionId"), req.Reason)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, change)
}

// ListAlerts handles GET /admin/ad-alerts?status=&severity=&limit=&offset=
func (h *AdminHandler) ListAlerts(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset")
	if !ok {
		return
	}
	alerts, err := h.monitor.ListAlerts(c.Request.Context(), core.AlertFilter{
		Status:   models.AlertStatus(c.Query("status")),
		Severity: models.Severity(c.Query("severity")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// UpdateAlert handles PATCH /admin/ad-alerts/:alertId
func (h *AdminHandler) UpdateAlert(c *gin.Context) {
	var req models.UpdateAlertRequest
	if !bindJSON(c, &req) {
		return
	}
	reviewer := c.GetString(middleware.ContextUserID)
	alert, err := h.monitor.UpdateAlertStatus(c.Request.Context(), c.Param("alertId"), req.Status, req.AdminNote, reviewer)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// UserRisk handles GET /admin/users/:userId/ad-risk
func (h *AdminHandler) UserRisk(c *gin.Context) {
	stats, err := h.monitor.GetUserAnomalyStats(c.Request.Context(), c.Param("userId"))
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// CleanupAdEvents handles POST /admin/maintenance/ad-events/cleanup
func (h *AdminHandler) CleanupAdEvents(c *gin.Context) {
	var req models.CleanupEventsRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	n, err := h.monitor.CleanupOldEvents(c.Request.Context(), req.DaysToKeep)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, CleanupResponse{Deleted: n})
}

// CleanupUpgradeLocks handles POST /admin/maintenance/upgrade-locks/cleanup
func (h *AdminHandler) CleanupUpgradeLocks(c *gin.Context) {
	var req models.CleanupLocksRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	locks, err := h.membership.CleanupStaleLocks(c.Request.Context(), req.Limit)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, CleanupResponse{Locks: locks})
}

// CleanupUserLock handles POST /admin/users/:userId/upgrade-lock/cleanup
func (h *AdminHandler) CleanupUserLock(c *gin.Context) {
	res, err := h.membership.CheckAndCleanupLock(c.Request.Context(), c.Param("userId"))
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
