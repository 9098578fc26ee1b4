package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
)

type recordingNotifier struct {
	alerts []models.AnomalyAlert
}

func (r *recordingNotifier) NotifyAlert(ctx context.Context, alert models.AnomalyAlert) error {
	r.alerts = append(r.alerts, alert)
	return nil
}

func newMonitorFixture(t *testing.T) (*AdMonitorService, *testClock, *recordingNotifier) {
	t.Helper()
	clock := &testClock{now: testNow}
	store := newTestStore(clock)
	n := &recordingNotifier{}
	svc := NewAdMonitorService(store, 10, nil, nil, n)
	svc.now = clock.Now
	return svc, clock, n
}

func anomalyTypes(list []models.Anomaly) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Type)
	}
	return out
}

func TestEvaluateAnomalies(t *testing.T) {
	now := testNow
	ms := func(d time.Duration) int64 { return now.Add(-d).UnixMilli() }

	burst := []int64{ms(0), ms(time.Minute), ms(2 * time.Minute), ms(3 * time.Minute), ms(4 * time.Minute)}
	got := evaluateAnomalies(burst, models.AdWatchStats{}, now, 10)
	assert.Equal(t, []string{AnomalyShortTermBurst, AnomalyLowAverageInterval}, anomalyTypes(got))
	assert.Equal(t, models.SeverityHigh, overallSeverity(got))

	slow := []int64{ms(0), ms(30 * time.Second), ms(60 * time.Second)}
	got = evaluateAnomalies(slow, models.AdWatchStats{}, now, 10)
	assert.Equal(t, []string{AnomalyLowAverageInterval}, anomalyTypes(got))
	assert.Equal(t, models.SeverityMedium, overallSeverity(got))

	spaced := []int64{ms(0), ms(2 * time.Minute), ms(4 * time.Minute)}
	assert.Empty(t, evaluateAnomalies(spaced, models.AdWatchStats{}, now, 10))

	stats := models.AdWatchStats{Daily: map[string]int64{dateKey(now): 8}}
	got = evaluateAnomalies(nil, stats, now, 10)
	assert.Equal(t, []string{AnomalyDailyLimitApproaching}, anomalyTypes(got))
	assert.Equal(t, models.SeverityLow, got[0].Severity)

	stats = models.AdWatchStats{Daily: map[string]int64{
		dateKey(now.AddDate(0, 0, -1)): 10,
		dateKey(now.AddDate(0, 0, -3)): 12,
		dateKey(now.AddDate(0, 0, -6)): 10,
		dateKey(now.AddDate(0, 0, -7)): 10,
	}}
	got = evaluateAnomalies(nil, stats, now, 10)
	assert.Equal(t, []string{AnomalyConsecutiveMaxDays}, anomalyTypes(got))

	delete(stats.Daily, dateKey(now.AddDate(0, 0, -6)))
	assert.Empty(t, evaluateAnomalies(nil, stats, now, 10))
}

func TestRecordAdWatchEventRaisesAlert(t *testing.T) {
	svc, clock, notifier := newMonitorFixture(t)
	ctx := context.Background()

	var alert *models.AnomalyAlert
	for i := 0; i < 5; i++ {
		var err error
		alert, err = svc.RecordAdWatchEvent(ctx, models.AdWatchEvent{UserID: "u1", AdID: "ad", CharacterID: "c"})
		require.NoError(t, err)
		if i < 2 {
			assert.Nil(t, alert)
		}
		clock.Advance(time.Minute)
	}
	require.NotNil(t, alert)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.Equal(t, models.AlertPending, alert.Status)
	assert.NotEmpty(t, alert.ID)
	require.Len(t, notifier.alerts, 3)

	stored := mustGet(t, svc.store, "ad_anomaly_alerts/"+alert.ID)
	assert.Equal(t, "pending", stored.String("status"))
	assert.Equal(t, alert.Anomalies, docToAlert(stored).Anomalies)
}

func TestEventsOutsideLookbackAreIgnored(t *testing.T) {
	svc, clock, _ := newMonitorFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.RecordAdWatchEvent(ctx, models.AdWatchEvent{UserID: "u1", AdID: "ad"})
		require.NoError(t, err)
		clock.Advance(10 * time.Second)
	}
	clock.Advance(2 * time.Hour)
	got, err := svc.DetectAnomalies(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAlertTriage(t *testing.T) {
	svc, clock, _ := newMonitorFixture(t)
	ctx := context.Background()
	seed(t, svc.store, "ad_anomaly_alerts/a1", map[string]interface{}{
		"userId": "u1", "severity": "high", "status": "pending", "timestampMs": clock.Now().UnixMilli(),
	})
	seed(t, svc.store, "ad_anomaly_alerts/a2", map[string]interface{}{
		"userId": "u2", "severity": "medium", "status": "pending", "timestampMs": clock.Now().Add(time.Minute).UnixMilli(),
	})

	list, err := svc.ListAlerts(ctx, AlertFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a2", list[0].ID)

	list, err = svc.ListAlerts(ctx, AlertFilter{Severity: models.SeverityHigh})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a1", list[0].ID)

	updated, err := svc.UpdateAlertStatus(ctx, "a1", models.AlertConfirmed, "bot farm", "admin1")
	require.NoError(t, err)
	assert.Equal(t, models.AlertConfirmed, updated.Status)
	assert.Equal(t, "bot farm", updated.AdminNote)
	require.NotNil(t, updated.ReviewedAt)

	stored := mustGet(t, svc.store, "ad_anomaly_alerts/a1")
	assert.Equal(t, "confirmed", stored.String("status"))
	assert.Equal(t, "admin1", stored.String("reviewedBy"))

	list, err = svc.ListAlerts(ctx, AlertFilter{Status: models.AlertPending})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a2", list[0].ID)

	_, err = svc.UpdateAlertStatus(ctx, "a1", "resolved", "", "admin1")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.UpdateAlertStatus(ctx, "missing", models.AlertReviewed, "", "admin1")
	require.ErrorIs(t, err, ErrAlertNotFound)
}

func TestUserAnomalyStats(t *testing.T) {
	svc, clock, _ := newMonitorFixture(t)
	now := clock.Now()
	for id, a := range map[string]map[string]interface{}{
		"h1":  {"severity": "high", "status": "pending", "timestampMs": now.UnixMilli()},
		"h2":  {"severity": "high", "status": "confirmed", "timestampMs": now.Add(-time.Hour).UnixMilli()},
		"m1":  {"severity": "medium", "status": "pending", "timestampMs": now.Add(-48 * time.Hour).UnixMilli()},
		"m2":  {"severity": "medium", "status": "reviewed", "timestampMs": now.Add(-72 * time.Hour).UnixMilli()},
		"old": {"severity": "high", "status": "pending", "timestampMs": now.AddDate(0, 0, -40).UnixMilli()},
	} {
		a["userId"] = "u1"
		seed(t, svc.store, "ad_anomaly_alerts/"+id, a)
	}

	st, err := svc.GetUserAnomalyStats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, st.TotalAlerts)
	assert.Equal(t, 2, st.High)
	assert.Equal(t, 2, st.Medium)
	assert.Equal(t, 2, st.Pending)
	assert.Equal(t, 26, st.RiskScore)
	assert.Equal(t, models.SeverityMedium, st.RiskLevel)

	empty, err := svc.GetUserAnomalyStats(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, models.SeverityLow, empty.RiskLevel)
}

func TestCleanupOldEvents(t *testing.T) {
	svc, clock, _ := newMonitorFixture(t)
	ctx := context.Background()
	for _, age := range []time.Duration{0, 24 * time.Hour, 8 * 24 * time.Hour, 9 * 24 * time.Hour, 30 * 24 * time.Hour} {
		_, err := svc.store.Add(ctx, "ad_watch_events", map[string]interface{}{
			"userId": "u1", "timestampMs": clock.Now().Add(-age).UnixMilli(),
		})
		require.NoError(t, err)
	}

	deleted, err := svc.CleanupOldEvents(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.Equal(t, 2, countDocs(t, svc.store, "ad_watch_events"))
}
