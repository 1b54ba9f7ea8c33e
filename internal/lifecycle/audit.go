package lifecycle

import (
	"context"

	apperrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/metrics"
	"assignment-engine/internal/common/validation"
	"assignment-engine/internal/models"
)

// validAuditTransition is the audit state graph. Completion is reachable
// only through SubmitReport; unassigned to not_started is the dispatcher's
// reassignment step.
func validAuditTransition(from, to models.AuditTaskState) bool {
	switch from {
	case models.AuditUnassigned:
		return to == models.AuditNotStarted
	case models.AuditNotStarted:
		return to == models.AuditOnField || to == models.AuditUnassigned
	case models.AuditOnField:
		return to == models.AuditInProgress || to == models.AuditUnassigned
	case models.AuditInProgress:
		return to == models.AuditCompleted || to == models.AuditUnassigned
	default:
		return false
	}
}

// AdvanceAudit moves an audit task along the field progression. Completion
// is rejected here; it requires a report via SubmitReport.
func (m *Manager) AdvanceAudit(ctx context.Context, taskID string, to models.AuditTaskState) (models.AuditTask, error) {
	if to == models.AuditCompleted {
		return models.AuditTask{}, apperrors.NewInvalidTransitionError(taskID, "", string(to))
	}

	mu := m.lock(taskID)
	mu.Lock()
	defer mu.Unlock()

	t, err := m.store.GetAuditTask(ctx, taskID)
	if err != nil {
		return models.AuditTask{}, err
	}
	if t.Terminal() {
		return models.AuditTask{}, apperrors.NewTaskTerminalError(taskID, string(t.State))
	}
	if !validAuditTransition(t.State, to) {
		metrics.InvalidTransitionsTotal.WithLabelValues(string(models.KindAudit)).Inc()
		return models.AuditTask{}, apperrors.NewInvalidTransitionError(taskID, string(t.State), string(to))
	}

	from := t.State
	t.State = to
	t.UpdatedAt = m.now()

	if err := m.persistAudit(ctx, t, from); err != nil {
		return models.AuditTask{}, err
	}
	metrics.TaskTransitionsTotal.WithLabelValues(string(models.KindAudit), string(to)).Inc()

	m.log.Info("Audit task transitioned", map[string]interface{}{
		"taskId": t.ID,
		"from":   string(from),
		"to":     string(to),
	})
	return t, nil
}

// Report is an auditor's completed checklist submission.
type Report struct {
	TaskID             string                 `json:"task_id"`
	Responses          map[string]interface{} `json:"responses"`
	SubmissionLocation models.Location        `json:"submission_location"`
}

// SubmitReport completes an audit task. The checklist responses are checked
// against the business category's schema first; a failed submission leaves
// the task in_progress so the auditor can resubmit. On success the task
// records its duration and submission coordinates, the auditor's slot is
// released and an AuditSubmitted event feeds the integrity rules.
func (m *Manager) SubmitReport(ctx context.Context, report Report) (models.AuditTask, error) {
	mu := m.lock(report.TaskID)
	mu.Lock()
	defer mu.Unlock()

	t, err := m.store.GetAuditTask(ctx, report.TaskID)
	if err != nil {
		return models.AuditTask{}, err
	}
	if t.Terminal() {
		return models.AuditTask{}, apperrors.NewTaskTerminalError(t.ID, string(t.State))
	}
	if t.State != models.AuditInProgress {
		metrics.InvalidTransitionsTotal.WithLabelValues(string(models.KindAudit)).Inc()
		return models.AuditTask{}, apperrors.NewInvalidTransitionError(t.ID, string(t.State), string(models.AuditCompleted))
	}

	business, err := m.store.GetBusiness(ctx, t.BusinessID)
	if err != nil {
		return models.AuditTask{}, err
	}

	if len(business.ChecklistSchema) > 0 {
		schema, err := validation.CompileChecklistSchema(business.ChecklistSchema)
		if err != nil {
			return models.AuditTask{}, apperrors.NewChecklistInvalidError(err.Error())
		}
		if result := schema.ValidateResponses(report.Responses); !result.Valid {
			return models.AuditTask{}, apperrors.NewChecklistInvalidError(result.ErrorSummary())
		}
	}

	now := m.now()
	from := t.State
	t.State = models.AuditCompleted
	t.UpdatedAt = now
	loc := report.SubmissionLocation
	t.SubmissionLocation = &loc
	t.Duration = now.Sub(t.CreatedAt)

	if err := m.persistAudit(ctx, t, from); err != nil {
		return models.AuditTask{}, err
	}
	metrics.TaskTransitionsTotal.WithLabelValues(string(models.KindAudit), string(models.AuditCompleted)).Inc()

	m.slots.Release(t.AuditorID)
	m.recordAudit(ctx, t)

	m.sink.Publish(ctx, models.Event{
		Type: models.EventAuditSubmitted,
		AuditSubmitted: &models.AuditSubmitted{
			TaskID:             t.ID,
			BusinessID:         t.BusinessID,
			AuditorID:          t.AuditorID,
			Duration:           t.Duration,
			SubmissionLocation: loc,
			BusinessLocation:   business.Location,
			At:                 now,
		},
	})

	m.log.Info("Audit report submitted", map[string]interface{}{
		"taskId":     t.ID,
		"businessId": t.BusinessID,
		"auditorId":  t.AuditorID,
		"duration":   t.Duration.String(),
	})
	return t, nil
}

// recordAudit folds the finished audit into the auditor's rolling counters.
func (m *Manager) recordAudit(ctx context.Context, t models.AuditTask) {
	agent, err := m.store.GetAgent(ctx, t.AuditorID)
	if err != nil || agent.Auditor == nil {
		if err != nil {
			m.log.WithError(err).Warn("Failed to load auditor for counters", map[string]interface{}{"agentId": t.AuditorID})
		}
		return
	}

	a := agent.Auditor
	a.AvgDistanceKm = rollingMean(a.AvgDistanceKm, a.AuditsCompleted, t.AssignedDistanceKm)
	a.AuditsCompleted++
	if err := m.store.PutAgent(ctx, agent); err != nil {
		m.log.WithError(err).Warn("Failed to persist auditor counters", map[string]interface{}{"agentId": t.AuditorID})
	}
}
