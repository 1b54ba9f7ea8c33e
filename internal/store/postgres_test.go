package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/models"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func TestPostgresGetAuditTask(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "business_id", "auditor_id", "payout_amount", "state", "created_at",
		"updated_at", "assigned_distance_km", "submission_location", "duration_seconds", "stalled",
	}).AddRow("task-1", "biz-1", "aud-1", 450.0, "on_field", created, created, 2.314, nil, int64(0), false)

	mock.ExpectQuery(`SELECT .+ FROM audit_tasks WHERE id = \$1`).
		WithArgs("task-1").
		WillReturnRows(rows)

	got, err := s.GetAuditTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, "aud-1", got.AuditorID)
	assert.Equal(t, models.AuditOnField, got.State)
	assert.Equal(t, 2.314, got.AssignedDistanceKm)
	assert.Nil(t, got.SubmissionLocation)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetAuditTask_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM audit_tasks WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetAuditTask(context.Background(), "missing")
	assert.Equal(t, apperrors.ErrCodeTaskNotFound, apperrors.CodeOf(err))
}

func TestPostgresPutAuditTask_UpsertsExistingRow(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	// Marking an existing task stalled goes through the same write; the
	// statement must carry a conflict clause so the second write updates
	// the row instead of failing on the id.
	mock.ExpectExec(`INSERT INTO audit_tasks .+ ON CONFLICT \(id\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	task := models.AuditTask{
		ID: "task-1", BusinessID: "biz-1", AuditorID: "aud-1",
		State: models.AuditOnField, CreatedAt: created, UpdatedAt: created,
		Stalled: true,
	}
	require.NoError(t, s.PutAuditTask(context.Background(), task))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPutSupplierTask_UpsertsExistingRow(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO supplier_tasks .+ ON CONFLICT \(id\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	task := models.SupplierTask{
		ID: "task-2", BusinessID: "biz-1", SupplierID: "sup-1",
		State: models.SupplierInProgress, CreatedAt: created, UpdatedAt: created,
		Stalled: true,
	}
	require.NoError(t, s.PutSupplierTask(context.Background(), task))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateAuditTask_StaleWrite(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE audit_tasks`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	task := models.AuditTask{ID: "task-1", AuditorID: "aud-1", State: models.AuditOnField}
	err := s.UpdateAuditTask(context.Background(), task, models.AuditNotStarted)

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeStalePersistence, apperrors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateAlertStatus_ForwardOnly(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	alertRow := func(status string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"id", "rule", "severity", "subject_type", "subject_id",
			"description", "status", "created_at", "evidence",
		}).AddRow("alert-1", "fast_audit", "medium", "task", "task-1",
			"audit finished in 8m", status, created, []byte(`{"duration_minutes":8,"threshold":15}`))
	}

	mock.ExpectQuery(`SELECT .+ FROM fraud_alerts WHERE id = \$1`).
		WithArgs("alert-1").
		WillReturnRows(alertRow("pending"))
	mock.ExpectExec(`UPDATE fraud_alerts SET status`).
		WithArgs("alert-1", "investigating", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdateAlertStatus(context.Background(), "alert-1", models.AlertInvestigating))

	// Resolved is terminal, no UPDATE should be issued.
	mock.ExpectQuery(`SELECT .+ FROM fraud_alerts WHERE id = \$1`).
		WithArgs("alert-1").
		WillReturnRows(alertRow("resolved"))

	err := s.UpdateAlertStatus(context.Background(), "alert-1", models.AlertPending)
	assert.True(t, apperrors.IsInvalidTransition(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListAlerts_Filters(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "rule", "severity", "subject_type", "subject_id",
		"description", "status", "created_at", "evidence",
	}).AddRow("alert-2", "gps_deviation", "high", "task", "task-9",
		"submission 300m from business", "pending", created, []byte(`{"distance_meters":300,"threshold":100}`))

	mock.ExpectQuery(`SELECT .+ FROM fraud_alerts`).
		WithArgs("pending", "high").
		WillReturnRows(rows)

	got, err := s.ListAlerts(context.Background(), AlertFilter{Status: models.AlertPending, Severity: models.SeverityHigh})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.RuleGpsDeviation, got[0].Rule)
	assert.Equal(t, 300.0, got[0].Evidence.DistanceMeters)
}

func TestPostgresGetAgent_DecodesRoleStats(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "role", "lat", "lng", "frozen", "created_at", "stats"}).
		AddRow("aud-1", "auditor", 19.0760, 72.8777, false, created,
			[]byte(`{"audits_completed":12,"avg_distance_km":3.1,"completion_rate":0.92}`))

	mock.ExpectQuery(`SELECT .+ FROM agents WHERE id = \$1`).
		WithArgs("aud-1").
		WillReturnRows(rows)

	got, err := s.GetAgent(context.Background(), "aud-1")
	require.NoError(t, err)
	require.NotNil(t, got.Auditor)
	assert.Equal(t, 12, got.Auditor.AuditsCompleted)
	assert.Nil(t, got.Supplier)
}
