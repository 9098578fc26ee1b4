package core

import (
	"errors"
	"fmt"

	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

// Ledger errors. Callers match them with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientAsset   = errors.New("insufficient asset quantity")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAlreadyUnlocked     = errors.New("already permanently unlocked")
	ErrCharacterNotFound   = errors.New("character not found")
	ErrPackageNotFound     = errors.New("asset package not found")
	ErrPackageInactive     = errors.New("asset package is not available")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAlreadyRefunded     = errors.New("transaction already refunded")
	ErrNotRefundable       = errors.New("transaction cannot be refunded")
	ErrUpgradeInProgress   = errors.New("membership upgrade already in progress")
	ErrInvalidTier         = errors.New("invalid membership tier")
	ErrDowngradeNotAllowed = errors.New("membership downgrade is not allowed")
	ErrAlertNotFound       = errors.New("anomaly alert not found")
	ErrQuantityOverflow    = errors.New("quantity would overflow")
)

// Ad validation errors, one per rejected verdict.
var (
	ErrInvalidAdIDFormat  = errors.New("invalid ad id format")
	ErrAdIDExpired        = errors.New("ad id expired")
	ErrAdIDFuture         = errors.New("ad id timestamp is in the future")
	ErrDailyLimitExceeded = errors.New("daily ad limit exceeded")
	ErrCooldownActive     = errors.New("ad cooldown active")
	ErrAdIDReused         = errors.New("ad id already used")
)

var adResultErrors = map[models.AdValidationResult]error{
	models.AdInvalidIDFormat:    ErrInvalidAdIDFormat,
	models.AdIDExpired:          ErrAdIDExpired,
	models.AdIDFuture:           ErrAdIDFuture,
	models.AdDailyLimitExceeded: ErrDailyLimitExceeded,
	models.AdCooldownActive:     ErrCooldownActive,
	models.AdIDReused:           ErrAdIDReused,
}

// AdValidationError wraps a failed verdict so it can abort a transaction.
type AdValidationError struct {
	Validation models.AdValidation
}

func (e *AdValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Validation.Result, e.Validation.Message)
}

func (e *AdValidationError) Unwrap() error {
	return adResultErrors[e.Validation.Result]
}

// RetryAfter returns the seconds the caller should wait, 0 when retrying is
// pointless.
func (e *AdValidationError) RetryAfter() int64 {
	return e.Validation.RetryAfter
}

func newAdValidationError(v models.AdValidation) error {
	if v.Valid {
		return nil
	}
	return &AdValidationError{Validation: v}
}
