package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/core"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

// AssetHandler serves the caller's entitlement counters.
type AssetHandler struct {
	assets core.AssetLedger
	logger *zap.Logger
}

func NewAssetHandler(assets core.AssetLedger, logger *zap.Logger) *AssetHandler {
	return &AssetHandler{assets: assets, logger: logger}
}

// ListAssets handles GET /assets?type=
func (h *AssetHandler) ListAssets(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var t models.AssetType
	if raw := c.Query("type"); raw != "" {
		parsed, known := models.ParseAssetType(raw)
		if !known {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Unknown asset type", Details: raw, Code: "invalid_input"})
			return
		}
		t = parsed
	}
	records, err := h.assets.GetUserAssets(c.Request.Context(), userID, t)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, AssetsResponse{Assets: records})
}

// GetSummary handles GET /assets/summary
func (h *AssetHandler) GetSummary(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	summary, err := h.assets.GetAssetSummary(c.Request.Context(), userID)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, AssetSummaryResponse{UserID: userID, Summary: summary})
}

// GetUnlockCards handles GET /assets/unlock-cards
func (h *AssetHandler) GetUnlockCards(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	balance, err := h.assets.GetUnlockCardsBalance(c.Request.Context(), userID)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}
