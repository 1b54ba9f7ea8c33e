// Package admin is the operator surface: business certification, agent
// registration and freezing, alert review, and read queries over tasks and
// assignments. It also takes in customer reviews on behalf of the review
// surface and forwards them to the integrity monitor.
package admin

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/geo"
	"assignment-engine/internal/models"
	"assignment-engine/internal/store"
)

// TaskDispatcher is the slice of the dispatcher the admin side needs.
type TaskDispatcher interface {
	ReassignAudit(ctx context.Context, taskID string) (models.AuditTask, error)
	CancelRetry(taskID string)
}

// EventSink receives ReviewCreated events.
type EventSink interface {
	Publish(ctx context.Context, e models.Event)
}

// Service exposes the operator-facing operations.
type Service struct {
	store      store.Store
	index      *geo.Index
	dispatcher TaskDispatcher
	sink       EventSink
	log        logger.Logger
	now        func() time.Time
}

// NewService wires the admin service.
func NewService(st store.Store, index *geo.Index, dispatcher TaskDispatcher, sink EventSink, log logger.Logger) *Service {
	return &Service{
		store:      st,
		index:      index,
		dispatcher: dispatcher,
		sink:       sink,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RegisterBusiness records a new business in pending status.
func (s *Service) RegisterBusiness(ctx context.Context, b models.Business) (models.Business, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.Status = models.BusinessPending
	b.RegisteredAt = s.now()

	if err := s.store.PutBusiness(ctx, b); err != nil {
		return models.Business{}, err
	}
	s.log.Info("Business registered", map[string]interface{}{
		"businessId": b.ID,
		"category":   b.Category,
	})
	return b, nil
}

// RegisterAgent records an agent and makes it visible to dispatch.
func (s *Service) RegisterAgent(ctx context.Context, a models.Agent) (models.Agent, error) {
	if !a.Role.Valid() {
		return models.Agent{}, apperrors.NewConfigInvalidError("role", "must be auditor or supplier")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = s.now()
	if a.Role == models.RoleAuditor && a.Auditor == nil {
		a.Auditor = &models.AuditorStats{}
	}
	if a.Role == models.RoleSupplier && a.Supplier == nil {
		a.Supplier = &models.SupplierStats{}
	}

	if err := s.store.PutAgent(ctx, a); err != nil {
		return models.Agent{}, err
	}
	s.index.Upsert(a)

	s.log.Info("Agent registered", map[string]interface{}{
		"agentId": a.ID,
		"role":    string(a.Role),
	})
	return a, nil
}

// FreezeAgent takes an agent out of dispatch and moves its unfinished audit
// tasks to other auditors. Supplier deliveries already in flight run to
// completion.
func (s *Service) FreezeAgent(ctx context.Context, agentID string) error {
	if err := s.store.SetAgentFrozen(ctx, agentID, true); err != nil {
		return err
	}
	if err := s.index.SetFrozen(agentID, true); err != nil {
		return err
	}
	s.log.Warn("Agent frozen", map[string]interface{}{"agentId": agentID})

	tasks, err := s.store.ListAuditTasksByAgent(ctx, agentID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Terminal() {
			continue
		}
		if _, err := s.dispatcher.ReassignAudit(ctx, t.ID); err != nil {
			s.log.WithError(err).Error("Failed to reassign task of frozen agent", map[string]interface{}{
				"taskId":  t.ID,
				"agentId": agentID,
			})
		}
	}
	return nil
}

// UnfreezeAgent returns an agent to dispatch eligibility.
func (s *Service) UnfreezeAgent(ctx context.Context, agentID string) error {
	if err := s.store.SetAgentFrozen(ctx, agentID, false); err != nil {
		return err
	}
	if err := s.index.SetFrozen(agentID, false); err != nil {
		return err
	}
	s.log.Info("Agent unfrozen", map[string]interface{}{"agentId": agentID})
	return nil
}

// ApproveBusiness certifies a business with the given score.
func (s *Service) ApproveBusiness(ctx context.Context, businessID string, score float64) error {
	if err := s.store.UpdateBusinessStatus(ctx, businessID, models.BusinessCertified, &score); err != nil {
		return err
	}
	s.log.Info("Business certified", map[string]interface{}{
		"businessId": businessID,
		"score":      score,
	})
	return nil
}

// RejectBusiness marks a business rejected and cancels pending assignment
// retries for its parked tasks. Tasks already assigned keep running; the
// operator decides their fate separately.
func (s *Service) RejectBusiness(ctx context.Context, businessID string) error {
	if err := s.store.UpdateBusinessStatus(ctx, businessID, models.BusinessRejected, nil); err != nil {
		return err
	}

	auditTasks, err := s.store.ListAuditTasksByBusiness(ctx, businessID)
	if err != nil {
		return err
	}
	for _, t := range auditTasks {
		if t.State == models.AuditUnassigned {
			s.dispatcher.CancelRetry(t.ID)
		}
	}

	supplierTasks, err := s.store.ListSupplierTasksByBusiness(ctx, businessID)
	if err != nil {
		return err
	}
	for _, t := range supplierTasks {
		if t.SupplierID == "" && t.State == models.SupplierTodo {
			s.dispatcher.CancelRetry(t.ID)
		}
	}

	s.log.Info("Business rejected", map[string]interface{}{"businessId": businessID})
	return nil
}

// UpdateAlertStatus moves an alert through the review workflow. Backwards
// moves and transitions out of a settled alert are rejected.
func (s *Service) UpdateAlertStatus(ctx context.Context, alertID string, next models.AlertStatus) error {
	if err := s.store.UpdateAlertStatus(ctx, alertID, next); err != nil {
		return err
	}
	s.log.Info("Alert status updated", map[string]interface{}{
		"alertId": alertID,
		"status":  string(next),
	})
	return nil
}

// ListAlerts returns alerts matching the filter, oldest first.
func (s *Service) ListAlerts(ctx context.Context, f store.AlertFilter) ([]models.FraudAlert, error) {
	return s.store.ListAlerts(ctx, f)
}

// AgentTasks is the combined task view for one agent.
type AgentTasks struct {
	Audit    []models.AuditTask    `json:"audit,omitempty"`
	Supplier []models.SupplierTask `json:"supplier,omitempty"`
}

// ListTasksForAgent returns every task ever assigned to the agent.
func (s *Service) ListTasksForAgent(ctx context.Context, agentID string) (AgentTasks, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return AgentTasks{}, err
	}

	var out AgentTasks
	switch agent.Role {
	case models.RoleAuditor:
		out.Audit, err = s.store.ListAuditTasksByAgent(ctx, agentID)
	case models.RoleSupplier:
		out.Supplier, err = s.store.ListSupplierTasksByAgent(ctx, agentID)
	}
	if err != nil {
		return AgentTasks{}, err
	}
	return out, nil
}

// GetAssignmentDistance returns the distance recorded when a task was
// assigned, in kilometers.
func (s *Service) GetAssignmentDistance(ctx context.Context, kind models.TaskKind, taskID string) (float64, error) {
	switch kind {
	case models.KindAudit:
		t, err := s.store.GetAuditTask(ctx, taskID)
		if err != nil {
			return 0, err
		}
		return t.AssignedDistanceKm, nil
	case models.KindSupplier:
		t, err := s.store.GetSupplierTask(ctx, taskID)
		if err != nil {
			return 0, err
		}
		return t.AssignedDistanceKm, nil
	}
	return 0, apperrors.NewTaskNotFoundError(taskID)
}

// RecordReview stores an incoming customer review and feeds it to the
// integrity monitor.
func (s *Service) RecordReview(ctx context.Context, r models.Review) (models.Review, error) {
	if _, err := s.store.GetBusiness(ctx, r.BusinessID); err != nil {
		return models.Review{}, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}

	if err := s.store.PutReview(ctx, r); err != nil {
		return models.Review{}, err
	}
	s.sink.Publish(ctx, models.Event{
		Type:          models.EventReviewCreated,
		ReviewCreated: &models.ReviewCreated{Review: r},
	})
	return r, nil
}
