package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/core"
)

// UserHandler handles user-profile related API endpoints.
type UserHandler struct {
	users  core.UserDirectory
	logger *zap.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users core.UserDirectory, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// GetCurrentUserProfile handles GET /users/me.
func (h *UserHandler) GetCurrentUserProfile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	account, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, account)
}
