package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/core"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

type MembershipHandler struct {
	membership core.MembershipCoordinator
	idem       *core.Idempotency
	logger     *zap.Logger
}

func NewMembershipHandler(m core.MembershipCoordinator, idem *core.Idempotency, logger *zap.Logger) *MembershipHandler {
	return &MembershipHandler{membership: m, idem: idem, logger: logger}
}

// GetMembership handles GET /membership
func (h *MembershipHandler) GetMembership(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	m, err := h.membership.GetMembership(c.Request.Context(), userID)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Upgrade handles POST /membership/upgrade
func (h *MembershipHandler) Upgrade(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req models.UpgradeMembershipRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	result, replayed, err := core.Idempotent(ctx, h.idem, "membership", userID, requestID(c, req.RequestID),
		func() (*models.UpgradeResult, error) {
			return h.membership.UpgradeMembership(ctx, userID, req.Tier, req.DurationMonths)
		})
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	markReplayed(c, replayed)
	c.JSON(http.StatusOK, result)
}
