package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/core"
	"github.com/mikeggyy/chat-app-all-sub002/internal/middleware"
)

// AuthHandler handles authentication related API endpoints.
type AuthHandler struct {
	users  core.UserDirectory
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users core.UserDirectory, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, logger: logger}
}

// InitializeUserProfile handles POST /users/initialize. Clients call it after
// signing in so the ledger account exists before the first purchase.
func (h *AuthHandler) InitializeUserProfile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	email := c.GetString(middleware.ContextUserEmail)
	displayName := c.GetString(middleware.ContextDisplayName)

	account, created, err := h.users.GetOrCreate(c.Request.Context(), userID, email, displayName)
	if err != nil {
		mapLedgerErrorToStatus(c, h.logger, err)
		return
	}
	if created {
		h.logger.Info("User profile created", zap.String("userID", userID))
		c.JSON(http.StatusCreated, account)
		return
	}
	c.JSON(http.StatusOK, account)
}
