package api

import (
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Code       string `json:"code,omitempty"`
	RetryAfter int64  `json:"retryAfter,omitempty"`
}

// SuccessResponse is a generic structure for simple success messages.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// WalletResponse is returned by GET /wallet.
type WalletResponse struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}

// AssetsResponse is returned by GET /assets.
type AssetsResponse struct {
	Assets []models.AssetRecord `json:"assets"`
}

// AssetSummaryResponse is returned by GET /assets/summary and reconcile.
type AssetSummaryResponse struct {
	UserID  string                       `json:"userId"`
	Summary []models.AssetReconciliation `json:"summary"`
}

// TransactionsResponse is returned by GET /wallet/transactions.
type TransactionsResponse struct {
	Transactions []models.Transaction `json:"transactions"`
}

// CleanupResponse reports a maintenance run.
type CleanupResponse struct {
	Deleted int                  `json:"deleted,omitempty"`
	Locks   []models.LockCleanup `json:"locks,omitempty"`
}
