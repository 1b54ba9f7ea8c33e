package lifecycle

import (
	"context"

	apperrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/metrics"
	"assignment-engine/internal/models"
)

// validSupplierTransition allows exactly one forward step. Skipping or
// moving backwards is a caller bug.
func validSupplierTransition(from, to models.SupplierTaskState) bool {
	switch from {
	case models.SupplierTodo:
		return to == models.SupplierInProgress
	case models.SupplierInProgress:
		return to == models.SupplierSent
	case models.SupplierSent:
		return to == models.SupplierDelivered
	default:
		return false
	}
}

// AdvanceSupplier moves a supplier task one step forward. On delivery the
// supplier's capacity slot is released, its counters are updated and a
// status-change event is published.
func (m *Manager) AdvanceSupplier(ctx context.Context, taskID string, to models.SupplierTaskState) (models.SupplierTask, error) {
	mu := m.lock(taskID)
	mu.Lock()
	defer mu.Unlock()

	t, err := m.store.GetSupplierTask(ctx, taskID)
	if err != nil {
		return models.SupplierTask{}, err
	}
	if t.Terminal() {
		return models.SupplierTask{}, apperrors.NewTaskTerminalError(taskID, string(t.State))
	}
	if !validSupplierTransition(t.State, to) {
		metrics.InvalidTransitionsTotal.WithLabelValues(string(models.KindSupplier)).Inc()
		return models.SupplierTask{}, apperrors.NewInvalidTransitionError(taskID, string(t.State), string(to))
	}

	from := t.State
	t.State = to
	t.UpdatedAt = m.now()

	if err := m.persistSupplier(ctx, t, from); err != nil {
		return models.SupplierTask{}, err
	}
	metrics.TaskTransitionsTotal.WithLabelValues(string(models.KindSupplier), string(to)).Inc()

	if to == models.SupplierDelivered {
		m.slots.Release(t.SupplierID)
		m.recordDelivery(ctx, t)
	}

	m.sink.Publish(ctx, models.Event{
		Type: models.EventSupplierStatusChanged,
		SupplierStatus: &models.SupplierStatusChanged{
			TaskID:     t.ID,
			SupplierID: t.SupplierID,
			BusinessID: t.BusinessID,
			From:       from,
			To:         to,
			At:         t.UpdatedAt,
		},
	})

	m.log.Info("Supplier task transitioned", map[string]interface{}{
		"taskId": t.ID,
		"from":   string(from),
		"to":     string(to),
	})
	return t, nil
}

// recordDelivery folds the finished delivery into the supplier's rolling
// counters. Failures here are logged, not surfaced; the transition already
// happened.
func (m *Manager) recordDelivery(ctx context.Context, t models.SupplierTask) {
	agent, err := m.store.GetAgent(ctx, t.SupplierID)
	if err != nil || agent.Supplier == nil {
		if err != nil {
			m.log.WithError(err).Warn("Failed to load supplier for counters", map[string]interface{}{"agentId": t.SupplierID})
		}
		return
	}

	s := agent.Supplier
	s.AvgDistanceKm = rollingMean(s.AvgDistanceKm, s.DeliveriesCompleted, t.AssignedDistanceKm)
	s.DeliveriesCompleted++
	if err := m.store.PutAgent(ctx, agent); err != nil {
		m.log.WithError(err).Warn("Failed to persist supplier counters", map[string]interface{}{"agentId": t.SupplierID})
	}
}

func rollingMean(mean float64, n int, next float64) float64 {
	return (mean*float64(n) + next) / float64(n+1)
}
