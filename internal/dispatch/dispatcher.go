// Package dispatch assigns tasks to the nearest eligible agent. When no
// agent has capacity the task is parked unassigned and retried on a backoff
// schedule until an agent frees up or the business is rejected.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"assignment-engine/internal/common/config"
	apperrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/common/metrics"
	"assignment-engine/internal/geo"
	"assignment-engine/internal/models"
	"assignment-engine/internal/store"
)

// EventSink receives TaskCreated events.
type EventSink interface {
	Publish(ctx context.Context, e models.Event)
}

// Dispatcher owns the assignment path for both task families.
type Dispatcher struct {
	store store.Store
	index *geo.Index
	sink  EventSink
	cfg   config.DispatchConfig
	log   logger.Logger
	now   func() time.Time

	retries *retryScheduler
}

// NewDispatcher wires the dispatcher. Call Stop to drain pending retries on
// shutdown.
func NewDispatcher(st store.Store, index *geo.Index, sink EventSink, cfg config.DispatchConfig, log logger.Logger) *Dispatcher {
	d := &Dispatcher{
		store: st,
		index: index,
		sink:  sink,
		cfg:   cfg,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
	d.retries = newRetryScheduler(cfg, log, d.retryAssign)
	return d
}

// Stop cancels every pending retry.
func (d *Dispatcher) Stop() {
	d.retries.stopAll()
}

// CancelRetry drops the pending retry for a task, if any. The admin side
// calls this when a business leaves the marketplace.
func (d *Dispatcher) CancelRetry(taskID string) {
	d.retries.cancel(taskID)
}

// claimNearest picks the closest eligible agent and atomically takes a
// capacity slot. Candidates are walked in order; a claim lost to a
// concurrent dispatch falls through to the next candidate.
func (d *Dispatcher) claimNearest(role models.AgentRole, loc models.Location, exclude []string) (*geo.Candidate, bool) {
	k := d.cfg.CandidateFanout
	if k <= 0 {
		k = 1
	}
	candidates := d.index.Nearest(role, loc, k, geo.NearestOptions{Exclude: exclude})
	for i := range candidates {
		if err := d.index.Claim(candidates[i].Agent.ID); err == nil {
			return &candidates[i], true
		}
	}
	return nil, false
}

// Assign creates the audit and supplier tasks for an onboarded business in
// one call. The two roles are matched independently; either task may come
// back parked when its role has no capacity. An audit task that persisted
// before a supplier failure is kept, it will be picked up by its own retry
// schedule.
func (d *Dispatcher) Assign(ctx context.Context, businessID string, payout float64) (models.AuditTask, models.SupplierTask, error) {
	audit, err := d.AssignAudit(ctx, businessID, payout)
	if err != nil {
		return models.AuditTask{}, models.SupplierTask{}, err
	}
	supplier, err := d.AssignSupplier(ctx, businessID)
	if err != nil {
		return audit, models.SupplierTask{}, err
	}
	return audit, supplier, nil
}

// AssignAudit creates an audit task for a business and assigns it to the
// nearest eligible auditor. With nobody available the task is parked
// unassigned and scheduled for retry.
func (d *Dispatcher) AssignAudit(ctx context.Context, businessID string, payout float64) (models.AuditTask, error) {
	business, err := d.store.GetBusiness(ctx, businessID)
	if err != nil {
		return models.AuditTask{}, err
	}

	now := d.now()
	task := models.AuditTask{
		ID:           uuid.NewString(),
		BusinessID:   business.ID,
		PayoutAmount: payout,
		State:        models.AuditUnassigned,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	cand, claimed := d.claimNearest(models.RoleAuditor, business.Location, nil)
	if claimed {
		task.AuditorID = cand.Agent.ID
		task.State = models.AuditNotStarted
		task.AssignedDistanceKm = geo.RoundKm(cand.DistanceKm, d.cfg.DistancePrecision)
	}

	if err := d.store.PutAuditTask(ctx, task); err != nil {
		if claimed {
			d.index.Release(cand.Agent.ID)
		}
		return models.AuditTask{}, err
	}

	d.finishAssignment(ctx, models.KindAudit, models.RoleAuditor, task.ID, business.ID,
		task.AuditorID, task.AssignedDistanceKm, now)
	return task, nil
}

// AssignSupplier creates a supplier task for a business and assigns it to
// the nearest eligible supplier, parking it in todo without a supplier when
// nobody has capacity.
func (d *Dispatcher) AssignSupplier(ctx context.Context, businessID string) (models.SupplierTask, error) {
	business, err := d.store.GetBusiness(ctx, businessID)
	if err != nil {
		return models.SupplierTask{}, err
	}

	now := d.now()
	task := models.SupplierTask{
		ID:         uuid.NewString(),
		BusinessID: business.ID,
		State:      models.SupplierTodo,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	cand, claimed := d.claimNearest(models.RoleSupplier, business.Location, nil)
	if claimed {
		task.SupplierID = cand.Agent.ID
		task.AssignedDistanceKm = geo.RoundKm(cand.DistanceKm, d.cfg.DistancePrecision)
	}

	if err := d.store.PutSupplierTask(ctx, task); err != nil {
		if claimed {
			d.index.Release(cand.Agent.ID)
		}
		return models.SupplierTask{}, err
	}

	d.finishAssignment(ctx, models.KindSupplier, models.RoleSupplier, task.ID, business.ID,
		task.SupplierID, task.AssignedDistanceKm, now)
	return task, nil
}

// finishAssignment records metrics, schedules a retry for parked tasks and
// publishes the TaskCreated event.
func (d *Dispatcher) finishAssignment(ctx context.Context, kind models.TaskKind, role models.AgentRole,
	taskID, businessID, agentID string, distanceKm float64, at time.Time) {

	outcome := "assigned"
	if agentID == "" {
		outcome = "parked"
		d.retries.schedule(taskID, kind)
	} else {
		metrics.AssignmentDistanceKm.WithLabelValues(string(role)).Observe(distanceKm)
	}
	metrics.AssignmentsTotal.WithLabelValues(string(role), outcome).Inc()

	d.sink.Publish(ctx, models.Event{
		Type: models.EventTaskCreated,
		TaskCreated: &models.TaskCreated{
			TaskID:     taskID,
			Kind:       kind,
			BusinessID: businessID,
			AgentID:    agentID,
			Role:       role,
			DistanceKm: distanceKm,
			At:         at,
		},
	})

	d.log.Info("Task dispatched", map[string]interface{}{
		"taskId":     taskID,
		"kind":       string(kind),
		"businessId": businessID,
		"agentId":    agentID,
		"outcome":    outcome,
	})
}

// retryAssign is the scheduler callback for a parked task. It attempts one
// assignment and reschedules itself through the scheduler's return value.
func (d *Dispatcher) retryAssign(taskID string, kind models.TaskKind) bool {
	ctx := context.Background()
	switch kind {
	case models.KindAudit:
		return d.retryAudit(ctx, taskID)
	case models.KindSupplier:
		return d.retrySupplier(ctx, taskID)
	}
	return false
}

func (d *Dispatcher) retryAudit(ctx context.Context, taskID string) bool {
	task, err := d.store.GetAuditTask(ctx, taskID)
	if err != nil {
		d.log.WithError(err).Warn("Parked audit task vanished, dropping retry", map[string]interface{}{"taskId": taskID})
		return false
	}
	if task.State != models.AuditUnassigned {
		return false // someone already assigned it
	}

	business, err := d.store.GetBusiness(ctx, task.BusinessID)
	if err != nil {
		d.log.WithError(err).Warn("Business lookup failed on retry", map[string]interface{}{"taskId": taskID})
		return true
	}
	if business.Status == models.BusinessRejected {
		d.log.Info("Business rejected, dropping parked audit task retry", map[string]interface{}{"taskId": taskID})
		return false
	}

	cand, claimed := d.claimNearest(models.RoleAuditor, business.Location, nil)
	if !claimed {
		return true // still nobody, keep retrying
	}

	task.AuditorID = cand.Agent.ID
	task.State = models.AuditNotStarted
	task.AssignedDistanceKm = geo.RoundKm(cand.DistanceKm, d.cfg.DistancePrecision)
	task.UpdatedAt = d.now()

	if err := d.store.UpdateAuditTask(ctx, task, models.AuditUnassigned); err != nil {
		d.index.Release(cand.Agent.ID)
		if apperrors.CodeOf(err) == apperrors.ErrCodeStalePersistence {
			return false // lost the race to another assigner
		}
		d.log.WithError(err).Error("Failed to persist retried assignment", map[string]interface{}{"taskId": taskID})
		return true
	}

	metrics.AssignmentsTotal.WithLabelValues(string(models.RoleAuditor), "assigned").Inc()
	metrics.AssignmentDistanceKm.WithLabelValues(string(models.RoleAuditor)).Observe(task.AssignedDistanceKm)
	d.log.Info("Parked audit task assigned on retry", map[string]interface{}{
		"taskId":  taskID,
		"agentId": task.AuditorID,
	})
	return false
}

func (d *Dispatcher) retrySupplier(ctx context.Context, taskID string) bool {
	task, err := d.store.GetSupplierTask(ctx, taskID)
	if err != nil {
		d.log.WithError(err).Warn("Parked supplier task vanished, dropping retry", map[string]interface{}{"taskId": taskID})
		return false
	}
	if task.SupplierID != "" || task.State != models.SupplierTodo {
		return false
	}

	business, err := d.store.GetBusiness(ctx, task.BusinessID)
	if err != nil {
		d.log.WithError(err).Warn("Business lookup failed on retry", map[string]interface{}{"taskId": taskID})
		return true
	}
	if business.Status == models.BusinessRejected {
		d.log.Info("Business rejected, dropping parked supplier task retry", map[string]interface{}{"taskId": taskID})
		return false
	}

	cand, claimed := d.claimNearest(models.RoleSupplier, business.Location, nil)
	if !claimed {
		return true
	}

	task.SupplierID = cand.Agent.ID
	task.AssignedDistanceKm = geo.RoundKm(cand.DistanceKm, d.cfg.DistancePrecision)
	task.UpdatedAt = d.now()

	if err := d.store.UpdateSupplierTask(ctx, task, models.SupplierTodo); err != nil {
		d.index.Release(cand.Agent.ID)
		if apperrors.CodeOf(err) == apperrors.ErrCodeStalePersistence {
			return false
		}
		d.log.WithError(err).Error("Failed to persist retried assignment", map[string]interface{}{"taskId": taskID})
		return true
	}

	metrics.AssignmentsTotal.WithLabelValues(string(models.RoleSupplier), "assigned").Inc()
	metrics.AssignmentDistanceKm.WithLabelValues(string(models.RoleSupplier)).Observe(task.AssignedDistanceKm)
	d.log.Info("Parked supplier task assigned on retry", map[string]interface{}{
		"taskId":  taskID,
		"agentId": task.SupplierID,
	})
	return false
}

// ReassignAudit moves an audit task off its current auditor, picking the
// nearest other auditor and resetting field progress. With nobody else
// available the task parks unassigned and enters the retry schedule.
func (d *Dispatcher) ReassignAudit(ctx context.Context, taskID string) (models.AuditTask, error) {
	task, err := d.store.GetAuditTask(ctx, taskID)
	if err != nil {
		return models.AuditTask{}, err
	}
	if task.Terminal() {
		return models.AuditTask{}, apperrors.NewTaskTerminalError(taskID, string(task.State))
	}

	previous := task.AuditorID
	var exclude []string
	if previous != "" {
		exclude = []string{previous}
	}

	from := task.State
	cand, claimed := d.claimNearest(models.RoleAuditor, d.businessLocation(ctx, task.BusinessID), exclude)
	if claimed {
		task.AuditorID = cand.Agent.ID
		task.State = models.AuditNotStarted
		task.AssignedDistanceKm = geo.RoundKm(cand.DistanceKm, d.cfg.DistancePrecision)
	} else {
		task.AuditorID = ""
		task.State = models.AuditUnassigned
		task.AssignedDistanceKm = 0
	}
	task.UpdatedAt = d.now()

	if err := d.store.UpdateAuditTask(ctx, task, from); err != nil {
		if claimed {
			d.index.Release(cand.Agent.ID)
		}
		return models.AuditTask{}, err
	}

	if previous != "" {
		d.index.Release(previous)
	}
	if !claimed {
		d.retries.schedule(task.ID, models.KindAudit)
		metrics.AssignmentsTotal.WithLabelValues(string(models.RoleAuditor), "parked").Inc()
	} else {
		metrics.AssignmentsTotal.WithLabelValues(string(models.RoleAuditor), "reassigned").Inc()
	}

	d.log.Info("Audit task reassigned", map[string]interface{}{
		"taskId":          taskID,
		"previousAgentId": previous,
		"agentId":         task.AuditorID,
	})
	return task, nil
}

// businessLocation fetches the business location, falling back to the zero
// location when the business record is gone. A missing business still lets
// reassignment unassign the task.
func (d *Dispatcher) businessLocation(ctx context.Context, businessID string) models.Location {
	business, err := d.store.GetBusiness(ctx, businessID)
	if err != nil {
		d.log.WithError(err).Warn("Business lookup failed during reassignment", map[string]interface{}{"businessId": businessID})
		return models.Location{}
	}
	return business.Location
}
