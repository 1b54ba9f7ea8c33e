package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assignment-engine/internal/common/config"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/integrity"
	"assignment-engine/internal/lifecycle"
	"assignment-engine/internal/models"
	"assignment-engine/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Dispatch: config.DispatchConfig{
			AgentTaskCap:      3,
			RetryInterval:     10,
			MaxRetryInterval:  40,
			CandidateFanout:   1,
			DistancePrecision: 3,
		},
		Lifecycle: config.LifecycleConfig{PersistMaxAttempts: 3, PersistBackoff: 0},
		Integrity: config.IntegrityConfig{
			DuplicateReview: config.DuplicateReviewRule{Enabled: true, MaxReviews: 2, WindowHours: 24},
			FastAudit:       config.FastAuditRule{Enabled: true, MinDurationMinutes: 15},
			AuditRateLimit:  config.AuditRateLimitRule{Enabled: true, MaxAuditsPerHour: 5},
			GpsDeviation:    config.GpsDeviationRule{Enabled: true, MaxDeviationMeters: 100},
			HistoryTTLHours: 48,
		},
	}
}

func testHistory(t *testing.T) integrity.History {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return integrity.NewRedisHistory(client, 48*time.Hour)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	e := New(Options{
		Config:  testConfig(),
		Store:   store.NewMemory(),
		History: testHistory(t),
		Log:     logger.NewNoOpLogger(),
	})
	t.Cleanup(e.Stop)
	return e
}

// The full path: register, assign, walk the audit to completion with an
// implausibly distant submission, and find the alert in the review queue.
func TestEngine_AuditFlowRaisesGpsAlert(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	business, err := e.Admin.RegisterBusiness(ctx, models.Business{
		Location: models.Location{Lat: 19.0760, Lng: 72.8777},
		Category: "restaurant",
	})
	require.NoError(t, err)

	auditor, err := e.Admin.RegisterAgent(ctx, models.Agent{
		Role:     models.RoleAuditor,
		Location: models.Location{Lat: 19.0800, Lng: 72.8800},
	})
	require.NoError(t, err)

	task, err := e.Dispatcher.AssignAudit(ctx, business.ID, 450)
	require.NoError(t, err)
	require.Equal(t, auditor.ID, task.AuditorID)
	assert.Greater(t, task.AssignedDistanceKm, 0.0)

	_, err = e.Lifecycle.AdvanceAudit(ctx, task.ID, models.AuditOnField)
	require.NoError(t, err)
	_, err = e.Lifecycle.AdvanceAudit(ctx, task.ID, models.AuditInProgress)
	require.NoError(t, err)

	// Submission ~300m from the business trips the deviation rule.
	completed, err := e.Lifecycle.SubmitReport(ctx, lifecycle.Report{
		TaskID:             task.ID,
		Responses:          map[string]interface{}{},
		SubmissionLocation: models.Location{Lat: 19.0760 + 0.0027, Lng: 72.8777},
	})
	require.NoError(t, err)
	assert.Equal(t, models.AuditCompleted, completed.State)

	// Slot released back to the auditor.
	snap, ok := e.Index.Snapshot(auditor.ID)
	require.True(t, ok)
	assert.Equal(t, 0, snap.ActiveTasks)

	// The near-instant completion also trips the fast-audit rule, so filter
	// down to the deviation alert.
	alerts, err := e.Admin.ListAlerts(ctx, store.AlertFilter{})
	require.NoError(t, err)
	var gps *models.FraudAlert
	for i := range alerts {
		if alerts[i].Rule == models.RuleGpsDeviation {
			gps = &alerts[i]
		}
	}
	require.NotNil(t, gps)
	assert.Equal(t, task.ID, gps.SubjectID)
	assert.InDelta(t, 300, gps.Evidence.DistanceMeters, 10)
}

// A rebuilt index must carry the open-task counts, or agents at cap before
// a restart would come back claimable past cap.
func TestEngine_SeedIndexRestoresOpenTaskCounts(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	auditor, err := e.Admin.RegisterAgent(ctx, models.Agent{
		Role:     models.RoleAuditor,
		Location: models.Location{Lat: 19.0800, Lng: 72.8800},
	})
	require.NoError(t, err)

	// Three businesses, three tasks; one task completes. Only the open
	// two count toward the rebuilt index.
	var tasks []models.AuditTask
	for i := 0; i < 3; i++ {
		business, err := e.Admin.RegisterBusiness(ctx, models.Business{
			Location: models.Location{Lat: 19.0760, Lng: 72.8777},
			Category: "restaurant",
		})
		require.NoError(t, err)
		task, err := e.Dispatcher.AssignAudit(ctx, business.ID, 450)
		require.NoError(t, err)
		require.Equal(t, auditor.ID, task.AuditorID)
		tasks = append(tasks, task)
	}
	done := tasks[2]
	done.State = models.AuditCompleted
	require.NoError(t, e.Store.UpdateAuditTask(ctx, done, models.AuditNotStarted))

	// A restart is a fresh index seeded from the same store.
	restarted := New(Options{
		Config:  testConfig(),
		Store:   e.Store,
		History: testHistory(t),
		Log:     logger.NewNoOpLogger(),
	})
	t.Cleanup(restarted.Stop)
	require.NoError(t, restarted.SeedIndex(ctx))

	snap, ok := restarted.Index.Snapshot(auditor.ID)
	require.True(t, ok)
	assert.Equal(t, 2, snap.ActiveTasks)

	// Cap is 3: exactly one more claim fits.
	require.NoError(t, restarted.Index.Claim(auditor.ID))
	assert.Error(t, restarted.Index.Claim(auditor.ID))
}

func TestEngine_ReviewBurstRaisesDuplicateAlert(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	business, err := e.Admin.RegisterBusiness(ctx, models.Business{Category: "salon"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := e.Admin.RecordReview(ctx, models.Review{
			BusinessID:        business.ID,
			AuthorFingerprint: "fp-1",
			Rating:            5,
		})
		require.NoError(t, err)
	}

	alerts, err := e.Admin.ListAlerts(ctx, store.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.RuleDuplicateReview, alerts[0].Rule)
}
