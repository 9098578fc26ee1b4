package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/configs"
	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
	"github.com/mikeggyy/chat-app-all-sub002/internal/metrics"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

var (
	adIDPattern  = regexp.MustCompile(`^ad-(\d{13})-[a-z0-9]{8}$`)
	legacyDayKey = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// AdRules are the tunables of the validation pipeline.
type AdRules struct {
	DailyLimit  int64
	Cooldown    time.Duration
	ValidWindow time.Duration
	MaxUsedIDs  int
}

// DefaultAdRules returns the production limits: 10 ads a day, 60s apart.
func DefaultAdRules() AdRules {
	return AdRules{DailyLimit: 10, Cooldown: 60 * time.Second, ValidWindow: 5 * time.Minute, MaxUsedIDs: 100}
}

func valid() models.AdValidation {
	return models.AdValidation{Valid: true, Result: models.AdValid, Message: "ok"}
}

func rejected(result models.AdValidationResult, msg string) models.AdValidation {
	return models.AdValidation{Result: result, Message: msg}
}

// ValidateAdIDFormat checks the ad-<13 digit ms>-<8 lowercase alnum> shape.
func ValidateAdIDFormat(adID string) models.AdValidation {
	if !adIDPattern.MatchString(adID) {
		return rejected(models.AdInvalidIDFormat, "ad id format is invalid, please watch a new ad")
	}
	return valid()
}

// ValidateAdIDTimestamp rejects ids minted in the future or outside window.
func ValidateAdIDTimestamp(adID string, now time.Time, window time.Duration) models.AdValidation {
	m := adIDPattern.FindStringSubmatch(adID)
	if m == nil {
		return rejected(models.AdInvalidIDFormat, "ad id format is invalid, please watch a new ad")
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return rejected(models.AdInvalidIDFormat, "ad id timestamp is unreadable")
	}
	age := now.UnixMilli() - ms
	if age < 0 {
		return rejected(models.AdIDFuture, "ad id timestamp is in the future")
	}
	if age > window.Milliseconds() {
		return rejected(models.AdIDExpired, "ad id has expired, please watch a new ad")
	}
	return valid()
}

// ValidateDailyLimit checks today's count against the cap.
func ValidateDailyLimit(todayCount, limit int64) models.AdValidation {
	if todayCount >= limit {
		return rejected(models.AdDailyLimitExceeded, fmt.Sprintf("daily limit of %d ads reached, come back tomorrow", limit))
	}
	return valid()
}

// ValidateCooldown checks the time since the previous watch. RetryAfter is
// rounded up to whole seconds.
func ValidateCooldown(lastWatchMs int64, now time.Time, cooldown time.Duration) models.AdValidation {
	if lastWatchMs <= 0 {
		return valid()
	}
	elapsed := time.Duration(now.UnixMilli()-lastWatchMs) * time.Millisecond
	if elapsed >= cooldown {
		return valid()
	}
	remaining := int64(math.Ceil((cooldown - elapsed).Seconds()))
	v := rejected(models.AdCooldownActive, fmt.Sprintf("please wait %d seconds before the next ad", remaining))
	v.RetryAfter = remaining
	return v
}

// ValidateNotReused rejects an id already consumed.
func ValidateNotReused(adID string, usedIDs []string) models.AdValidation {
	for _, id := range usedIDs {
		if id == adID {
			return rejected(models.AdIDReused, "this ad has already been rewarded, please watch a new ad")
		}
	}
	return valid()
}

func statsFrom(userID string, doc *db.Document) models.AdWatchStats {
	st := models.AdWatchStats{
		UserID:          userID,
		Daily:           map[string]int64{},
		LastWatchTime:   doc.Int("lastWatchTime"),
		UsedAdIDs:       doc.Strings("usedAdIds"),
		LastAdID:        doc.String("lastAdId"),
		TotalAdsWatched: doc.Int("totalAdsWatched"),
	}
	for day, v := range doc.Map("daily") {
		if n, ok := db.AsInt(v); ok {
			st.Daily[day] = n
		}
	}
	// Older stats documents keep the day counts as top-level date keys.
	for key, v := range doc.Data {
		if !legacyDayKey.MatchString(key) {
			continue
		}
		if n, ok := db.AsInt(v); ok && n > st.Daily[key] {
			st.Daily[key] = n
		}
	}
	return st
}

// EvaluateAdWatch runs the checks in order and stops at the first failure.
func EvaluateAdWatch(stats models.AdWatchStats, adID string, now time.Time, rules AdRules) models.AdValidation {
	checks := []func() models.AdValidation{
		func() models.AdValidation { return ValidateAdIDFormat(adID) },
		func() models.AdValidation { return ValidateAdIDTimestamp(adID, now, rules.ValidWindow) },
		func() models.AdValidation { return ValidateDailyLimit(stats.Daily[dateKey(now)], rules.DailyLimit) },
		func() models.AdValidation { return ValidateCooldown(stats.LastWatchTime, now, rules.Cooldown) },
		func() models.AdValidation { return ValidateNotReused(adID, stats.UsedAdIDs) },
	}
	for _, check := range checks {
		if v := check(); !v.Valid {
			return v
		}
	}
	return valid()
}

func summarize(stats models.AdWatchStats, now time.Time, rules AdRules) models.AdWatchSummary {
	today := stats.Daily[dateKey(now)]
	s := models.AdWatchSummary{
		TodayCount:      today,
		DailyLimit:      rules.DailyLimit,
		Remaining:       rules.DailyLimit - today,
		TotalAdsWatched: stats.TotalAdsWatched,
		LastWatchTime:   stats.LastWatchTime,
	}
	if s.Remaining < 0 {
		s.Remaining = 0
	}
	if v := ValidateCooldown(stats.LastWatchTime, now, rules.Cooldown); !v.Valid {
		s.CooldownActive = true
		s.CooldownRemaining = v.RetryAfter
	}
	return s
}

// recorded returns stats after one more watch of adID.
func recorded(stats models.AdWatchStats, adID string, now time.Time, maxIDs int) models.AdWatchStats {
	next := stats
	next.Daily = make(map[string]int64, len(stats.Daily)+1)
	for k, v := range stats.Daily {
		next.Daily[k] = v
	}
	next.Daily[dateKey(now)]++
	next.LastWatchTime = now.UnixMilli()
	next.LastAdID = adID
	next.TotalAdsWatched++
	used := append(append([]string(nil), stats.UsedAdIDs...), adID)
	if maxIDs > 0 && len(used) > maxIDs {
		used = used[len(used)-maxIDs:]
	}
	next.UsedAdIDs = used
	return next
}

// AdService validates ad watches and pays their rewards.
type AdService struct {
	store    db.Store
	rules    AdRules
	economy  *configs.Economy
	monitor  *AdMonitorService
	logger   *zap.Logger
	metrics  *metrics.Ledger
	now      func() time.Time
	dispatch func(func())
	pending  sync.WaitGroup
}

// NewAdService creates a new AdService. monitor may be nil.
func NewAdService(store db.Store, rules AdRules, economy *configs.Economy, monitor *AdMonitorService, logger *zap.Logger, m *metrics.Ledger) *AdService {
	if economy == nil {
		economy = configs.DefaultEconomy()
	}
	s := &AdService{
		store:   store,
		rules:   rules,
		economy: economy,
		monitor: monitor,
		logger:  orNop(logger),
		metrics: m,
		now:     time.Now,
	}
	s.dispatch = func(f func()) {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			f()
		}()
	}
	return s
}

// Wait blocks until every dispatched monitor write has finished or ctx ends.
func (s *AdService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func adStatsPath(userID string) string {
	return db.Join(adStatsCollection, userID)
}

// ValidateAdWatch runs the checks against the committed stats.
func (s *AdService) ValidateAdWatch(ctx context.Context, userID, adID string) (models.AdValidation, error) {
	if err := validID("user id", userID); err != nil {
		return models.AdValidation{}, err
	}
	doc, err := s.store.Get(ctx, adStatsPath(userID))
	if err != nil {
		return models.AdValidation{}, err
	}
	v := EvaluateAdWatch(statsFrom(userID, doc), adID, s.now(), s.rules)
	s.metrics.ObserveAdValidation(string(v.Result))
	return v, nil
}

// ValidateAdWatchInTx runs the checks on a transactional read of the stats
// and returns them for RecordAdWatchInTx.
func (s *AdService) ValidateAdWatchInTx(tx db.Tx, userID, adID string) (models.AdValidation, models.AdWatchStats, error) {
	doc, err := tx.Get(adStatsPath(userID))
	if err != nil {
		return models.AdValidation{}, models.AdWatchStats{}, err
	}
	stats := statsFrom(userID, doc)
	v := EvaluateAdWatch(stats, adID, s.now(), s.rules)
	return v, stats, nil
}

// RecordAdWatchInTx stores the watch of adID. stats must come from
// ValidateAdWatchInTx in the same transaction.
func (s *AdService) RecordAdWatchInTx(tx db.Tx, stats models.AdWatchStats, adID string, metadata map[string]interface{}) (models.AdWatchStats, error) {
	now := s.now()
	next := recorded(stats, adID, now, s.rules.MaxUsedIDs)
	used := make([]interface{}, len(next.UsedAdIDs))
	for i, id := range next.UsedAdIDs {
		used[i] = id
	}
	data := map[string]interface{}{
		"userId":          stats.UserID,
		"daily":           map[string]interface{}{dateKey(now): next.Daily[dateKey(now)]},
		"lastWatchTime":   next.LastWatchTime,
		"usedAdIds":       used,
		"lastAdId":        adID,
		"totalAdsWatched": db.Increment(1),
		"updatedAt":       db.ServerTimestamp,
	}
	if len(metadata) > 0 {
		data["lastWatchMetadata"] = metadata
	}
	if err := tx.Set(adStatsPath(stats.UserID), data, db.Merge()); err != nil {
		return models.AdWatchStats{}, err
	}
	return next, nil
}

// GetAdWatchStats returns the user's quota and cooldown view.
func (s *AdService) GetAdWatchStats(ctx context.Context, userID string) (*models.AdWatchSummary, error) {
	if err := validID("user id", userID); err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, adStatsPath(userID))
	if err != nil {
		return nil, err
	}
	summary := summarize(statsFrom(userID, doc), s.now(), s.rules)
	return &summary, nil
}

// ClaimAdReward validates the watch, records it and credits the unlocked
// messages in one transaction. The watch event is then handed to the
// anomaly monitor without waiting for it.
func (s *AdService) ClaimAdReward(ctx context.Context, userID, adID, characterID string, adCtx models.AdContext) (*models.AdRewardResult, error) {
	if err := validID("user id", userID); err != nil {
		return nil, err
	}
	if err := validID("character id", characterID); err != nil {
		return nil, err
	}
	reward := s.economy.AdReward.UnlockedMessagesPerAd

	var result *models.AdRewardResult
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx db.Tx) error {
		v, stats, err := s.ValidateAdWatchInTx(tx, userID, adID)
		if err != nil {
			return err
		}
		limits, err := tx.Get(usageLimitsPath(userID))
		if err != nil {
			return err
		}
		if !v.Valid {
			return newAdValidationError(v)
		}

		next, err := s.RecordAdWatchInTx(tx, stats, adID, map[string]interface{}{"characterId": characterID})
		if err != nil {
			return err
		}
		err = tx.Set(usageLimitsPath(userID), map[string]interface{}{
			"conversation": map[string]interface{}{
				characterID: map[string]interface{}{
					"unlocked":       db.Increment(reward),
					"lastAdRewardAt": db.ServerTimestamp,
				},
			},
			"updatedAt": db.ServerTimestamp,
		}, db.Merge())
		if err != nil {
			return err
		}
		result = &models.AdRewardResult{
			UserID:           userID,
			AdID:             adID,
			CharacterID:      characterID,
			UnlockedMessages: reward,
			TotalUnlocked:    limits.Int(conversationField(characterID, "unlocked")) + reward,
			Stats:            summarize(next, s.now(), s.rules),
		}
		return nil
	})
	s.metrics.ObserveAdReward(err)
	if err != nil {
		var ve *AdValidationError
		if errors.As(err, &ve) {
			s.metrics.ObserveAdValidation(string(ve.Validation.Result))
		}
		s.logger.Info("ad reward rejected", zap.String("userID", userID), zap.String("adID", adID), zap.Error(err))
		return nil, err
	}
	s.metrics.ObserveAdValidation(string(models.AdValid))
	s.logger.Info("ad reward granted",
		zap.String("userID", userID),
		zap.String("characterID", characterID),
		zap.Int64("unlocked", reward),
		zap.Int64("todayCount", result.Stats.TodayCount))

	if s.monitor != nil {
		event := models.AdWatchEvent{
			UserID:      userID,
			CharacterID: characterID,
			AdID:        adID,
			TimestampMs: s.now().UnixMilli(),
			Context:     adCtx,
		}
		bg := context.WithoutCancel(ctx)
		s.dispatch(func() {
			if _, err := s.monitor.RecordAdWatchEvent(bg, event); err != nil {
				s.logger.Warn("ad anomaly monitoring failed", zap.String("userID", userID), zap.Error(err))
			}
		})
	}
	return result, nil
}
