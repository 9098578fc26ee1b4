package middleware

import (
	"context"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Context keys set by VerifyToken.
const (
	ContextUserID      = "userID"
	ContextUserEmail   = "userEmail"
	ContextDisplayName = "userDisplayName"
	ContextIsAdmin     = "isAdmin"
)

// Development identity headers, honoured only when dev auth is enabled.
const (
	DevUserHeader  = "X-User-ID"
	DevAdminHeader = "X-User-Admin"
)

// ErrorResponse mirrors api.ErrorResponse to avoid an import cycle.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
}

// TokenVerifier is implemented by *auth.Client.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// AuthOptions configures AuthMiddleware.
type AuthOptions struct {
	// AdminClaim is the custom claim that marks an administrator.
	AdminClaim string
	// DevHeader trusts X-User-ID when no bearer token is sent.
	DevHeader bool
}

// AuthMiddleware provides Gin middleware for Firebase token authentication.
type AuthMiddleware struct {
	verifier TokenVerifier
	opts     AuthOptions
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance. verifier may be
// nil only when dev header auth is enabled.
func NewAuthMiddleware(verifier TokenVerifier, opts AuthOptions, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.AdminClaim == "" {
		opts.AdminClaim = "admin"
	}
	return &AuthMiddleware{verifier: verifier, opts: opts, logger: logger}
}

// VerifyToken verifies the Firebase ID token in the Authorization header and
// stores the caller identity in the context.
func (m *AuthMiddleware) VerifyToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" && m.opts.DevHeader {
			if uid := strings.TrimSpace(c.GetHeader(DevUserHeader)); uid != "" {
				c.Set(ContextUserID, uid)
				c.Set(ContextIsAdmin, strings.EqualFold(c.GetHeader(DevAdminHeader), "true"))
				c.Next()
				return
			}
		}
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Authorization header is required", Code: "unauthenticated"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Authorization header format must be 'Bearer {token}'", Code: "unauthenticated"})
			return
		}
		if m.verifier == nil {
			m.logger.Error("bearer token received but no token verifier is configured")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Token authentication is not available", Code: "unauthenticated"})
			return
		}

		token, err := m.verifier.VerifyIDToken(c.Request.Context(), parts[1])
		if err != nil {
			m.logger.Warn("Error verifying Firebase ID token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid or expired authentication token", Code: "unauthenticated"})
			return
		}

		c.Set(ContextUserID, token.UID)
		if email, ok := token.Claims["email"].(string); ok {
			c.Set(ContextUserEmail, email)
		}
		if name, ok := token.Claims["name"].(string); ok {
			c.Set(ContextDisplayName, name)
		}
		admin, _ := token.Claims[m.opts.AdminClaim].(bool)
		c.Set(ContextIsAdmin, admin)
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin claim. It must run after
// VerifyToken.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ContextIsAdmin) {
			m.logger.Warn("admin route denied", zap.String("userID", c.GetString(ContextUserID)), zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "Administrator privileges required", Code: "forbidden"})
			return
		}
		c.Next()
	}
}
