package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/core"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

// AdHandler serves rewarded-ad endpoints.
type AdHandler struct {
	ads    core.AdRewarder
	idem   *core.Idempotency
	logger *zap.Logger
}

func NewAdHandler(ads core.AdRewarder, idem *core.Idempotency, logger *zap.Logger) *AdHandler {
	return &AdHandler{ads: ads, idem: idem, logger: logger}
}

// GetStats handles GET /ads/stats
func (h *AdHandler) GetStats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	stats, err := h.ads.GetAdWatchStats(c.Request.Context(), userID)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Validate handles POST /ads/validate. The verdict is the response body;
// a rejected ad id is still a 200.
func (h *AdHandler) Validate(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req models.AdValidateRequest
	if !bindJSON(c, &req) {
		return
	}
	v, err := h.ads.ValidateAdWatch(c.Request.Context(), userID, req.AdID)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Claim handles POST /ads/claim
func (h *AdHandler) Claim(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req models.AdClaimRequest
	if !bindJSON(c, &req) {
		return
	}
	adCtx := models.AdContext{IP: c.ClientIP(), UserAgent: c.Request.UserAgent(), Platform: req.Platform}
	ctx := c.Request.Context()
	result, replayed, err := core.Idempotent(ctx, h.idem, "ad-claim", userID, requestID(c, ""),
		func() (*models.AdRewardResult, error) {
			return h.ads.ClaimAdReward(ctx, userID, req.AdID, req.CharacterID, adCtx)
		})
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	markReplayed(c, replayed)
	c.JSON(http.StatusOK, result)
}
