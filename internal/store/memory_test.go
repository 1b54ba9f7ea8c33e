package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/models"
)

func TestMemoryUpdateAuditTask_StaleWrite(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	task := models.AuditTask{ID: "task-1", BusinessID: "biz-1", State: models.AuditNotStarted}
	require.NoError(t, m.PutAuditTask(ctx, task))

	task.State = models.AuditOnField
	require.NoError(t, m.UpdateAuditTask(ctx, task, models.AuditNotStarted))

	// A second writer still holding the not_started snapshot loses.
	stale := task
	stale.State = models.AuditUnassigned
	err := m.UpdateAuditTask(ctx, stale, models.AuditNotStarted)
	assert.Equal(t, apperrors.ErrCodeStalePersistence, apperrors.CodeOf(err))

	got, err := m.GetAuditTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.AuditOnField, got.State)
}

func TestMemoryAlertStatus_ForwardOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.PutAlert(ctx, models.FraudAlert{ID: "a1", Status: models.AlertPending}))

	require.NoError(t, m.UpdateAlertStatus(ctx, "a1", models.AlertInvestigating))
	require.NoError(t, m.UpdateAlertStatus(ctx, "a1", models.AlertResolved))

	err := m.UpdateAlertStatus(ctx, "a1", models.AlertPending)
	assert.True(t, apperrors.IsInvalidTransition(err))
}

func TestMemoryListAlerts_FilterAndOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.PutAlert(ctx, models.FraudAlert{ID: "a1", Status: models.AlertPending, Severity: models.SeverityLow}))
	require.NoError(t, m.PutAlert(ctx, models.FraudAlert{ID: "a2", Status: models.AlertPending, Severity: models.SeverityHigh}))
	require.NoError(t, m.PutAlert(ctx, models.FraudAlert{ID: "a3", Status: models.AlertDismissed, Severity: models.SeverityHigh}))

	all, err := m.ListAlerts(ctx, AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a1", all[0].ID) // insertion order preserved

	pendingHigh, err := m.ListAlerts(ctx, AlertFilter{Status: models.AlertPending, Severity: models.SeverityHigh})
	require.NoError(t, err)
	require.Len(t, pendingHigh, 1)
	assert.Equal(t, "a2", pendingHigh[0].ID)
}

func TestMemoryBusinessStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	b := models.Business{ID: "biz-1", Status: models.BusinessPending, RegisteredAt: time.Now().UTC()}
	require.NoError(t, m.PutBusiness(ctx, b))

	score := 84.5
	require.NoError(t, m.UpdateBusinessStatus(ctx, "biz-1", models.BusinessCertified, &score))

	got, err := m.GetBusiness(ctx, "biz-1")
	require.NoError(t, err)
	assert.Equal(t, models.BusinessCertified, got.Status)
	require.NotNil(t, got.CertificationScore)
	assert.Equal(t, 84.5, *got.CertificationScore)

	err = m.UpdateBusinessStatus(ctx, "ghost", models.BusinessRejected, nil)
	assert.Equal(t, apperrors.ErrCodeEntityNotFound, apperrors.CodeOf(err))
}

func TestMemoryListTasksByAgent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, m.PutAuditTask(ctx, models.AuditTask{ID: "t2", AuditorID: "aud-1", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, m.PutAuditTask(ctx, models.AuditTask{ID: "t1", AuditorID: "aud-1", CreatedAt: base}))
	require.NoError(t, m.PutAuditTask(ctx, models.AuditTask{ID: "t3", AuditorID: "aud-2", CreatedAt: base}))

	got, err := m.ListAuditTasksByAgent(ctx, "aud-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)
	assert.Equal(t, "t2", got[1].ID)
}
