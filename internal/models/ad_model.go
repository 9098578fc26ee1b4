package models

import "time"

// AdValidationResult names the outcome of an ad-id check.
type AdValidationResult string

const (
	AdValid              AdValidationResult = "valid"
	AdDailyLimitExceeded AdValidationResult = "daily_limit_exceeded"
	AdCooldownActive     AdValidationResult = "cooldown_active"
	AdInvalidIDFormat    AdValidationResult = "invalid_ad_id_format"
	AdIDExpired          AdValidationResult = "ad_id_expired"
	AdIDFuture           AdValidationResult = "ad_id_future"
	AdIDReused           AdValidationResult = "ad_id_reused"
)

// AdValidation is the verdict of the validation pipeline.
type AdValidation struct {
	Valid      bool               `json:"valid"`
	Result     AdValidationResult `json:"result"`
	Message    string             `json:"message"`
	RetryAfter int64              `json:"retryAfter,omitempty"`
}

// AdWatchStats is the per-user stats document.
type AdWatchStats struct {
	UserID          string           `json:"userId"`
	Daily           map[string]int64 `json:"daily"`
	LastWatchTime   int64            `json:"lastWatchTime"`
	UsedAdIDs       []string         `json:"usedAdIds"`
	LastAdID        string           `json:"lastAdId,omitempty"`
	TotalAdsWatched int64            `json:"totalAdsWatched"`
}

// AdWatchSummary is the user-facing stats view.
type AdWatchSummary struct {
	TodayCount        int64 `json:"todayCount"`
	DailyLimit        int64 `json:"dailyLimit"`
	Remaining         int64 `json:"remaining"`
	CooldownActive    bool  `json:"cooldownActive"`
	CooldownRemaining int64 `json:"cooldownRemaining"`
	TotalAdsWatched   int64 `json:"totalAdsWatched"`
	LastWatchTime     int64 `json:"lastWatchTime,omitempty"`
}

// AdContext is request metadata attached to a watch event.
type AdContext struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Platform  string `json:"platform,omitempty"`
}

// AdWatchEvent is an append-only analytics record.
type AdWatchEvent struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	CharacterID string    `json:"characterId,omitempty"`
	AdID        string    `json:"adId"`
	TimestampMs int64     `json:"timestampMs"`
	Context     AdContext `json:"context"`
}

// AdRewardResult is returned by a successful reward claim.
type AdRewardResult struct {
	UserID           string         `json:"userId"`
	AdID             string         `json:"adId"`
	CharacterID      string         `json:"characterId"`
	UnlockedMessages int64          `json:"unlockedMessages"`
	TotalUnlocked    int64          `json:"totalUnlocked"`
	Stats            AdWatchSummary `json:"stats"`
}

// Severity of an anomaly or alert.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AlertStatus is the triage state of an anomaly alert.
type AlertStatus string

const (
	AlertPending       AlertStatus = "pending"
	AlertReviewed      AlertStatus = "reviewed"
	AlertFalsePositive AlertStatus = "false_positive"
	AlertConfirmed     AlertStatus = "confirmed"
)

// Valid reports whether s is one of the triage states.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertPending, AlertReviewed, AlertFalsePositive, AlertConfirmed:
		return true
	}
	return false
}

// Anomaly is one rule that fired during an evaluation.
type Anomaly struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// AnomalyAlert aggregates the anomalies of one evaluation.
type AnomalyAlert struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	Anomalies   []Anomaly   `json:"anomalies"`
	Severity    Severity    `json:"severity"`
	Status      AlertStatus `json:"status"`
	TimestampMs int64       `json:"timestampMs"`
	AdminNote   string      `json:"adminNote,omitempty"`
	ReviewedBy  string      `json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time  `json:"reviewedAt,omitempty"`
}

// UserAnomalyStats summarises a user's recent alerts.
type UserAnomalyStats struct {
	UserID      string   `json:"userId"`
	TotalAlerts int      `json:"totalAlerts"`
	High        int      `json:"high"`
	Medium      int      `json:"medium"`
	Low         int      `json:"low"`
	Pending     int      `json:"pending"`
	RiskScore   int      `json:"riskScore"`
	RiskLevel   Severity `json:"riskLevel"`
}
