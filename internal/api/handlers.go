package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/core"
	"github.com/mikeggyy/chat-app-all-sub002/internal/middleware"
)

// IdempotencyHeader carries the request id when the body has none.
const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters only where one error wraps another.
var ledgerErrors = []errorMapping{
	{core.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{core.ErrInvalidTier, http.StatusBadRequest, "invalid_tier"},
	{core.ErrPackageInactive, http.StatusBadRequest, "package_inactive"},
	{core.ErrQuantityOverflow, http.StatusBadRequest, "quantity_overflow"},
	{core.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{core.ErrInsufficientAsset, http.StatusPaymentRequired, "insufficient_asset"},
	{core.ErrAlreadyUnlocked, http.StatusConflict, "already_unlocked"},
	{core.ErrUpgradeInProgress, http.StatusConflict, "upgrade_in_progress"},
	{core.ErrDowngradeNotAllowed, http.StatusConflict, "downgrade_not_allowed"},
	{core.ErrAlreadyRefunded, http.StatusConflict, "already_refunded"},
	{core.ErrNotRefundable, http.StatusUnprocessableEntity, "not_refundable"},
	{core.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{core.ErrCharacterNotFound, http.StatusNotFound, "character_not_found"},
	{core.ErrPackageNotFound, http.StatusNotFound, "package_not_found"},
	{core.ErrTransactionNotFound, http.StatusNotFound, "transaction_not_found"},
	{core.ErrAlertNotFound, http.StatusNotFound, "alert_not_found"},
}

// mapLedgerErrorToStatus writes the HTTP response for an error returned by a
// core service.
func mapLedgerErrorToStatus(c *gin.Context, logger *zap.Logger, err error) {
	var adErr *core.AdValidationError
	if errors.As(err, &adErr) {
		mapAdErrorToStatus(c, adErr)
		return
	}
	for _, m := range ledgerErrors {
		if errors.Is(err, m.err) {
			c.JSON(m.status, ErrorResponse{Error: m.err.Error(), Details: err.Error(), Code: m.code})
			return
		}
	}
	logger.Error("Internal Server Error", zap.String("route", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "An unexpected internal server error occurred.", Code: "internal_error"})
}

// mapAdErrorToStatus answers 429 for quota and cooldown verdicts and 400 for
// ad ids that will never be accepted.
func mapAdErrorToStatus(c *gin.Context, adErr *core.AdValidationError) {
	v := adErr.Validation
	status := http.StatusBadRequest
	if errors.Is(adErr, core.ErrDailyLimitExceeded) || errors.Is(adErr, core.ErrCooldownActive) {
		status = http.StatusTooManyRequests
	}
	if v.RetryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(v.RetryAfter, 10))
	}
	c.JSON(status, ErrorResponse{Error: v.Message, Code: string(v.Result), RetryAfter: v.RetryAfter})
}

// currentUserID returns the authenticated caller, answering 401 when the
// auth middleware did not run.
func currentUserID(c *gin.Context) (string, bool) {
	uid := c.GetString(middleware.ContextUserID)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "User ID not found in context", Code: "unauthenticated"})
		return "", false
	}
	return uid, true
}

// requestID prefers the body field over the header.
func requestID(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader(IdempotencyHeader)
}

func markReplayed(c *gin.Context, replayed bool) {
	if replayed {
		c.Header(ReplayedHeader, "true")
	}
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload", Details: err.Error(), Code: "invalid_input"})
		return false
	}
	return true
}

func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query parameter " + name, Code: "invalid_input"})
		return 0, false
	}
	return n, true
}

func queryBool(c *gin.Context, name string) (*bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query parameter " + name, Code: "invalid_input"})
		return nil, false
	}
	return &b, true
}
