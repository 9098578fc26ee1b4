package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
	"github.com/mikeggyy/chat-app-all-sub002/internal/metrics"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

// Anomaly rule thresholds.
const (
	eventLookback       = time.Hour
	eventLookbackLimit  = 20
	burstWindow         = 10 * time.Minute
	burstCount          = 5
	minIntervalEvents   = 3
	minAverageInterval  = 90 * time.Second
	nearCapCount        = 8
	sustainedDays       = 7
	sustainedCapDays    = 3
	riskWindow          = 30 * 24 * time.Hour
	defaultEventsToKeep = 7
	cleanupBatchSize    = 500
	defaultAlertLimit   = 50
	maxAlertLimit       = 200
)

// Anomaly rule names.
const (
	AnomalyShortTermBurst        = "short_term_burst"
	AnomalyLowAverageInterval    = "low_avg_interval"
	AnomalyDailyLimitApproaching = "daily_limit_approaching"
	AnomalyConsecutiveMaxDays    = "consecutive_max_days"
)

// AlertNotifier receives newly raised alerts.
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert models.AnomalyAlert) error
}

// AlertFilter narrows ListAlerts. Empty fields match everything.
type AlertFilter struct {
	Status   models.AlertStatus
	Severity models.Severity
	Limit    int
	Offset   int
}

// AdMonitorService flags suspicious ad watching for human review. Nothing it
// does gates a reward.
type AdMonitorService struct {
	store      db.Store
	dailyLimit int64
	notifiers  []AlertNotifier
	logger     *zap.Logger
	metrics    *metrics.Ledger
	now        func() time.Time
}

// NewAdMonitorService publishes each new alert to every notifier.
func NewAdMonitorService(store db.Store, dailyLimit int64, logger *zap.Logger, m *metrics.Ledger, notifiers ...AlertNotifier) *AdMonitorService {
	if dailyLimit <= 0 {
		dailyLimit = DefaultAdRules().DailyLimit
	}
	return &AdMonitorService{
		store:      store,
		dailyLimit: dailyLimit,
		notifiers:  notifiers,
		logger:     orNop(logger),
		metrics:    m,
		now:        time.Now,
	}
}

// RecordAdWatchEvent appends the event and evaluates the user's recent
// history. It returns the alert raised, if any.
func (s *AdMonitorService) RecordAdWatchEvent(ctx context.Context, event models.AdWatchEvent) (*models.AnomalyAlert, error) {
	if event.TimestampMs == 0 {
		event.TimestampMs = s.now().UnixMilli()
	}
	_, err := s.store.Add(ctx, adEventsCollection, map[string]interface{}{
		"userId":      event.UserID,
		"characterId": event.CharacterID,
		"adId":        event.AdID,
		"timestampMs": event.TimestampMs,
		"context": map[string]interface{}{
			"ip":        event.Context.IP,
			"userAgent": event.Context.UserAgent,
			"platform":  event.Context.Platform,
		},
		"createdAt": db.ServerTimestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("record ad watch event: %w", err)
	}

	anomalies, err := s.DetectAnomalies(ctx, event.UserID)
	if err != nil {
		return nil, err
	}
	if len(anomalies) == 0 {
		return nil, nil
	}
	return s.raiseAlert(ctx, event.UserID, anomalies)
}

// DetectAnomalies evaluates every rule against the user's recent events and
// stats.
func (s *AdMonitorService) DetectAnomalies(ctx context.Context, userID string) ([]models.Anomaly, error) {
	now := s.now()
	events, err := s.store.Query(ctx, db.Query{
		Collection: adEventsCollection,
		OrderBy:    "timestampMs",
		Descending: true,
		Limit:      eventLookbackLimit,
	}.Where("userId", db.OpEqual, userID).
		Where("timestampMs", db.OpGreaterEqual, now.Add(-eventLookback).UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("load ad watch events: %w", err)
	}
	stats, err := s.store.Get(ctx, adStatsPath(userID))
	if err != nil {
		return nil, fmt.Errorf("load ad watch stats: %w", err)
	}
	timestamps := make([]int64, 0, len(events))
	for _, e := range events {
		timestamps = append(timestamps, e.Int("timestampMs"))
	}
	return evaluateAnomalies(timestamps, statsFrom(userID, stats), now, s.dailyLimit), nil
}

// evaluateAnomalies applies the rules. timestamps are newest first.
func evaluateAnomalies(timestamps []int64, stats models.AdWatchStats, now time.Time, dailyLimit int64) []models.Anomaly {
	var out []models.Anomaly

	burstSince := now.Add(-burstWindow).UnixMilli()
	recent := 0
	for _, ts := range timestamps {
		if ts >= burstSince {
			recent++
		}
	}
	if recent >= burstCount {
		out = append(out, models.Anomaly{
			Type:     AnomalyShortTermBurst,
			Severity: models.SeverityHigh,
			Message:  fmt.Sprintf("%d ads watched in the last 10 minutes", recent),
		})
	}

	if n := len(timestamps); n >= minIntervalEvents {
		avg := time.Duration((timestamps[0]-timestamps[n-1])/int64(n-1)) * time.Millisecond
		if avg < minAverageInterval {
			out = append(out, models.Anomaly{
				Type:     AnomalyLowAverageInterval,
				Severity: models.SeverityMedium,
				Message:  fmt.Sprintf("average interval between ads is %.0f seconds", avg.Seconds()),
			})
		}
	}

	if today := stats.Daily[dateKey(now)]; today >= nearCapCount {
		out = append(out, models.Anomaly{
			Type:     AnomalyDailyLimitApproaching,
			Severity: models.SeverityLow,
			Message:  fmt.Sprintf("%d ads watched today", today),
		})
	}

	capped := 0
	for i := 0; i < sustainedDays; i++ {
		if stats.Daily[dateKey(now.AddDate(0, 0, -i))] >= dailyLimit {
			capped++
		}
	}
	if capped >= sustainedCapDays {
		out = append(out, models.Anomaly{
			Type:     AnomalyConsecutiveMaxDays,
			Severity: models.SeverityHigh,
			Message:  fmt.Sprintf("daily limit reached on %d of the last %d days", capped, sustainedDays),
		})
	}
	return out
}

func overallSeverity(anomalies []models.Anomaly) models.Severity {
	for _, a := range anomalies {
		if a.Severity == models.SeverityHigh {
			return models.SeverityHigh
		}
	}
	return models.SeverityMedium
}

func (s *AdMonitorService) raiseAlert(ctx context.Context, userID string, anomalies []models.Anomaly) (*models.AnomalyAlert, error) {
	alert := models.AnomalyAlert{
		UserID:      userID,
		Anomalies:   anomalies,
		Severity:    overallSeverity(anomalies),
		Status:      models.AlertPending,
		TimestampMs: s.now().UnixMilli(),
	}
	list := make([]interface{}, len(anomalies))
	for i, a := range anomalies {
		list[i] = map[string]interface{}{"type": a.Type, "severity": string(a.Severity), "message": a.Message}
	}
	id, err := s.store.Add(ctx, adAlertsCollection, map[string]interface{}{
		"userId":      userID,
		"anomalies":   list,
		"severity":    string(alert.Severity),
		"status":      string(alert.Status),
		"timestampMs": alert.TimestampMs,
		"createdAt":   db.ServerTimestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("store anomaly alert: %w", err)
	}
	alert.ID = id
	s.metrics.IncAnomalyAlert(string(alert.Severity))
	s.logger.Warn("ad anomaly detected",
		zap.String("userID", userID),
		zap.String("alertID", id),
		zap.String("severity", string(alert.Severity)),
		zap.Int("anomalies", len(anomalies)))

	for _, n := range s.notifiers {
		if err := n.NotifyAlert(ctx, alert); err != nil {
			s.logger.Warn("alert notification failed", zap.String("alertID", id), zap.Error(err))
		}
	}
	return &alert, nil
}

func docToAlert(d *db.Document) models.AnomalyAlert {
	a := models.AnomalyAlert{
		ID:          d.ID,
		UserID:      d.String("userId"),
		Severity:    models.Severity(d.String("severity")),
		Status:      models.AlertStatus(d.String("status")),
		TimestampMs: d.Int("timestampMs"),
		AdminNote:   d.String("adminNote"),
		ReviewedBy:  d.String("reviewedBy"),
	}
	if t, ok := d.Time("reviewedAt"); ok {
		a.ReviewedAt = &t
	}
	raw, _ := d.Value("anomalies")
	list, _ := raw.([]interface{})
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		entry := &db.Document{Data: m}
		a.Anomalies = append(a.Anomalies, models.Anomaly{
			Type:     entry.String("type"),
			Severity: models.Severity(entry.String("severity")),
			Message:  entry.String("message"),
		})
	}
	return a
}

// ListAlerts returns alerts newest first.
func (s *AdMonitorService) ListAlerts(ctx context.Context, f AlertFilter) ([]models.AnomalyAlert, error) {
	if f.Limit <= 0 {
		f.Limit = defaultAlertLimit
	}
	if f.Limit > maxAlertLimit {
		f.Limit = maxAlertLimit
	}
	q := db.Query{Collection: adAlertsCollection, OrderBy: "timestampMs", Descending: true, Limit: f.Limit, Offset: f.Offset}
	if f.Status != "" {
		q = q.Where("status", db.OpEqual, string(f.Status))
	}
	if f.Severity != "" {
		q = q.Where("severity", db.OpEqual, string(f.Severity))
	}
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list anomaly alerts: %w", err)
	}
	out := make([]models.AnomalyAlert, 0, len(docs))
	for _, d := range docs {
		out = append(out, docToAlert(d))
	}
	return out, nil
}

// UpdateAlertStatus records a triage decision.
func (s *AdMonitorService) UpdateAlertStatus(ctx context.Context, alertID string, status models.AlertStatus, adminNote, reviewer string) (*models.AnomalyAlert, error) {
	if err := validID("alert id", alertID); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown alert status %q", ErrInvalidInput, status)
	}
	path := db.Join(adAlertsCollection, alertID)
	var alert models.AnomalyAlert
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx db.Tx) error {
		doc, err := tx.Get(path)
		if err != nil {
			return err
		}
		if !doc.Exists {
			return fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
		}
		now := s.now()
		alert = docToAlert(doc)
		alert.Status = status
		alert.ReviewedBy = reviewer
		alert.ReviewedAt = &now
		updates := []db.Update{
			{Path: "status", Value: string(status)},
			{Path: "reviewedBy", Value: reviewer},
			{Path: "reviewedAt", Value: now},
		}
		if adminNote != "" {
			alert.AdminNote = adminNote
			updates = append(updates, db.Update{Path: "adminNote", Value: adminNote})
		}
		return tx.Update(path, updates)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("anomaly alert reviewed",
		zap.String("alertID", alertID),
		zap.String("status", string(status)),
		zap.String("reviewer", reviewer))
	return &alert, nil
}

// GetUserAnomalyStats scores the user's alerts of the last 30 days.
func (s *AdMonitorService) GetUserAnomalyStats(ctx context.Context, userID string) (*models.UserAnomalyStats, error) {
	if err := validID("user id", userID); err != nil {
		return nil, err
	}
	since := s.now().Add(-riskWindow).UnixMilli()
	docs, err := s.store.Query(ctx, db.Query{Collection: adAlertsCollection}.
		Where("userId", db.OpEqual, userID).
		Where("timestampMs", db.OpGreaterEqual, since))
	if err != nil {
		return nil, fmt.Errorf("load alerts of %s: %w", userID, err)
	}
	st := &models.UserAnomalyStats{UserID: userID, TotalAlerts: len(docs)}
	for _, d := range docs {
		switch models.Severity(d.String("severity")) {
		case models.SeverityHigh:
			st.High++
		case models.SeverityMedium:
			st.Medium++
		case models.SeverityLow:
			st.Low++
		}
		if models.AlertStatus(d.String("status")) == models.AlertPending {
			st.Pending++
		}
	}
	st.RiskScore = st.High*10 + st.Medium*3
	switch {
	case st.RiskScore >= 30:
		st.RiskLevel = models.SeverityHigh
	case st.RiskScore >= 10:
		st.RiskLevel = models.SeverityMedium
	default:
		st.RiskLevel = models.SeverityLow
	}
	return st, nil
}

// CleanupOldEvents deletes watch events older than daysToKeep and returns
// how many were removed.
func (s *AdMonitorService) CleanupOldEvents(ctx context.Context, daysToKeep int) (int, error) {
	if daysToKeep <= 0 {
		daysToKeep = defaultEventsToKeep
	}
	cutoff := s.now().AddDate(0, 0, -daysToKeep).UnixMilli()
	deleted := 0
	for {
		docs, err := s.store.Query(ctx, db.Query{Collection: adEventsCollection, Limit: cleanupBatchSize}.
			Where("timestampMs", db.OpLess, cutoff))
		if err != nil {
			return deleted, fmt.Errorf("scan old ad events: %w", err)
		}
		if len(docs) == 0 {
			break
		}
		batch := s.store.Batch()
		for _, d := range docs {
			batch.Delete(d.Path)
		}
		if err := batch.Commit(ctx); err != nil {
			return deleted, fmt.Errorf("delete old ad events: %w", err)
		}
		deleted += len(docs)
		if len(docs) < cleanupBatchSize {
			break
		}
	}
	s.logger.Info("old ad events cleaned up", zap.Int("deleted", deleted), zap.Int("daysToKeep", daysToKeep))
	return deleted, nil
}
