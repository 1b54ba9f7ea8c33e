package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/geo"
	"assignment-engine/internal/models"
	"assignment-engine/internal/store"
)

type fakeDispatcher struct {
	reassigned []string
	cancelled  []string
}

func (f *fakeDispatcher) ReassignAudit(_ context.Context, taskID string) (models.AuditTask, error) {
	f.reassigned = append(f.reassigned, taskID)
	return models.AuditTask{ID: taskID, State: models.AuditNotStarted}, nil
}

func (f *fakeDispatcher) CancelRetry(taskID string) {
	f.cancelled = append(f.cancelled, taskID)
}

type eventRecorder struct {
	events []models.Event
}

func (e *eventRecorder) Publish(_ context.Context, ev models.Event) {
	e.events = append(e.events, ev)
}

func newTestService(t *testing.T) (*Service, *store.Memory, *geo.Index, *fakeDispatcher, *eventRecorder) {
	t.Helper()
	st := store.NewMemory()
	idx := geo.NewIndex(3)
	disp := &fakeDispatcher{}
	sink := &eventRecorder{}
	svc := NewService(st, idx, disp, sink, logger.NewNoOpLogger())
	return svc, st, idx, disp, sink
}

func TestRegisterAgent_ValidatesRoleAndIndexes(t *testing.T) {
	svc, st, idx, _, _ := newTestService(t)
	ctx := context.Background()

	agent, err := svc.RegisterAgent(ctx, models.Agent{
		Role:     models.RoleAuditor,
		Location: models.Location{Lat: 19.08, Lng: 72.88},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, agent.ID)
	require.NotNil(t, agent.Auditor)

	stored, err := st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAuditor, stored.Role)

	snap, ok := idx.Snapshot(agent.ID)
	require.True(t, ok)
	assert.True(t, snap.Available)

	_, err = svc.RegisterAgent(ctx, models.Agent{Role: "manager"})
	assert.Equal(t, apperrors.ErrCodeConfigInvalid, apperrors.CodeOf(err))
}

func TestFreezeAgent_ReassignsOpenAuditTasks(t *testing.T) {
	svc, st, idx, disp, _ := newTestService(t)
	ctx := context.Background()

	agent, err := svc.RegisterAgent(ctx, models.Agent{
		ID: "aud-1", Role: models.RoleAuditor,
		Location: models.Location{Lat: 19.08, Lng: 72.88},
	})
	require.NoError(t, err)

	require.NoError(t, st.PutAuditTask(ctx, models.AuditTask{
		ID: "open", AuditorID: "aud-1", State: models.AuditOnField, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, st.PutAuditTask(ctx, models.AuditTask{
		ID: "done", AuditorID: "aud-1", State: models.AuditCompleted, CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, svc.FreezeAgent(ctx, agent.ID))

	assert.Equal(t, []string{"open"}, disp.reassigned)

	snap, _ := idx.Snapshot("aud-1")
	assert.True(t, snap.Frozen)
	stored, _ := st.GetAgent(ctx, "aud-1")
	assert.True(t, stored.Frozen)

	require.NoError(t, svc.UnfreezeAgent(ctx, agent.ID))
	snap, _ = idx.Snapshot("aud-1")
	assert.False(t, snap.Frozen)
}

func TestFreezeAgent_Unknown(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	err := svc.FreezeAgent(context.Background(), "ghost")
	assert.Equal(t, apperrors.ErrCodeAgentNotFound, apperrors.CodeOf(err))
}

func TestApproveAndRejectBusiness(t *testing.T) {
	svc, st, _, disp, _ := newTestService(t)
	ctx := context.Background()

	b, err := svc.RegisterBusiness(ctx, models.Business{
		Location: models.Location{Lat: 19.0760, Lng: 72.8777},
		Category: "restaurant",
	})
	require.NoError(t, err)
	assert.Equal(t, models.BusinessPending, b.Status)

	require.NoError(t, svc.ApproveBusiness(ctx, b.ID, 88.5))
	stored, _ := st.GetBusiness(ctx, b.ID)
	assert.Equal(t, models.BusinessCertified, stored.Status)
	require.NotNil(t, stored.CertificationScore)
	assert.Equal(t, 88.5, *stored.CertificationScore)

	// A parked task's retry is cancelled on rejection, assigned ones stay.
	require.NoError(t, st.PutAuditTask(ctx, models.AuditTask{
		ID: "parked", BusinessID: b.ID, State: models.AuditUnassigned,
	}))
	require.NoError(t, st.PutAuditTask(ctx, models.AuditTask{
		ID: "running", BusinessID: b.ID, AuditorID: "aud-1", State: models.AuditOnField,
	}))
	require.NoError(t, st.PutSupplierTask(ctx, models.SupplierTask{
		ID: "parked-supply", BusinessID: b.ID, State: models.SupplierTodo,
	}))

	require.NoError(t, svc.RejectBusiness(ctx, b.ID))
	stored, _ = st.GetBusiness(ctx, b.ID)
	assert.Equal(t, models.BusinessRejected, stored.Status)
	assert.ElementsMatch(t, []string{"parked", "parked-supply"}, disp.cancelled)
}

func TestUpdateAlertStatus_ForwardOnly(t *testing.T) {
	svc, st, _, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, st.PutAlert(ctx, models.FraudAlert{ID: "a1", Status: models.AlertPending}))

	require.NoError(t, svc.UpdateAlertStatus(ctx, "a1", models.AlertInvestigating))
	err := svc.UpdateAlertStatus(ctx, "a1", models.AlertPending)
	assert.True(t, apperrors.IsInvalidTransition(err))
}

func TestListTasksForAgent_RoleDeterminesFamily(t *testing.T) {
	svc, st, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterAgent(ctx, models.Agent{ID: "sup-1", Role: models.RoleSupplier})
	require.NoError(t, err)
	require.NoError(t, st.PutSupplierTask(ctx, models.SupplierTask{
		ID: "s1", SupplierID: "sup-1", State: models.SupplierTodo,
	}))

	got, err := svc.ListTasksForAgent(ctx, "sup-1")
	require.NoError(t, err)
	assert.Empty(t, got.Audit)
	require.Len(t, got.Supplier, 1)
	assert.Equal(t, "s1", got.Supplier[0].ID)

	_, err = svc.ListTasksForAgent(ctx, "ghost")
	assert.Equal(t, apperrors.ErrCodeAgentNotFound, apperrors.CodeOf(err))
}

func TestGetAssignmentDistance(t *testing.T) {
	svc, st, _, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, st.PutAuditTask(ctx, models.AuditTask{
		ID: "t1", AssignedDistanceKm: 2.314, State: models.AuditNotStarted,
	}))

	km, err := svc.GetAssignmentDistance(ctx, models.KindAudit, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2.314, km)

	_, err = svc.GetAssignmentDistance(ctx, models.KindSupplier, "t1")
	assert.Equal(t, apperrors.ErrCodeTaskNotFound, apperrors.CodeOf(err))
}

func TestRecordReview_StoresAndPublishes(t *testing.T) {
	svc, st, _, _, sink := newTestService(t)
	ctx := context.Background()

	b, err := svc.RegisterBusiness(ctx, models.Business{Category: "restaurant"})
	require.NoError(t, err)

	review, err := svc.RecordReview(ctx, models.Review{
		BusinessID: b.ID, AuthorFingerprint: "fp-1", Rating: 5,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, review.ID)
	assert.False(t, review.CreatedAt.IsZero())

	stored, err := st.GetReview(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, "fp-1", stored.AuthorFingerprint)

	require.Len(t, sink.events, 1)
	assert.Equal(t, models.EventReviewCreated, sink.events[0].Type)

	_, err = svc.RecordReview(ctx, models.Review{BusinessID: "ghost"})
	assert.Equal(t, apperrors.ErrCodeEntityNotFound, apperrors.CodeOf(err))
}
