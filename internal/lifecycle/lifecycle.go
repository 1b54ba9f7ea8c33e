// Package lifecycle owns the supplier and audit task state machines. All
// transitions for one task are serialized on a striped in-process lock, and
// every write is a compare-and-set against the state the transition started
// from, retried a bounded number of times before the task is flagged stalled.
package lifecycle

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"assignment-engine/internal/common/config"
	apperrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/common/metrics"
	"assignment-engine/internal/models"
	"assignment-engine/internal/store"
)

const lockStripes = 64

// Slots releases agent capacity when a task reaches a terminal state. The
// geo index satisfies this.
type Slots interface {
	Release(agentID string)
}

// EventSink receives domain events as transitions land. The integrity
// monitor sits behind this.
type EventSink interface {
	Publish(ctx context.Context, e models.Event)
}

// Manager drives both task state machines.
type Manager struct {
	store store.Store
	slots Slots
	sink  EventSink
	cfg   config.LifecycleConfig
	log   logger.Logger
	now   func() time.Time

	locks [lockStripes]sync.Mutex
}

// NewManager wires the lifecycle manager.
func NewManager(st store.Store, slots Slots, sink EventSink, cfg config.LifecycleConfig, log logger.Logger) *Manager {
	return &Manager{
		store: st,
		slots: slots,
		sink:  sink,
		cfg:   cfg,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// lock returns the stripe mutex for a task id.
func (m *Manager) lock(taskID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(taskID))
	return &m.locks[h.Sum32()%lockStripes]
}

// persistAudit writes the task with bounded retry on stale writes. On
// exhaustion the task is flagged stalled for operator attention and the last
// stale error is returned.
func (m *Manager) persistAudit(ctx context.Context, t models.AuditTask, from models.AuditTaskState) error {
	attempts := m.cfg.PersistMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := config.GetDuration(m.cfg.PersistBackoff)

	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = m.store.UpdateAuditTask(ctx, t, from)
		if lastErr == nil {
			return nil
		}
		code := apperrors.CodeOf(lastErr)
		if !apperrors.IsRetryableErrorCode(code) {
			return lastErr
		}

		if code == apperrors.ErrCodeStalePersistence {
			// Another writer moved the task. Re-read and check the
			// transition still makes sense from the new state.
			cur, err := m.store.GetAuditTask(ctx, t.ID)
			if err != nil {
				return err
			}
			if cur.Terminal() {
				return apperrors.NewTaskTerminalError(t.ID, string(cur.State))
			}
			if !validAuditTransition(cur.State, t.State) {
				metrics.InvalidTransitionsTotal.WithLabelValues(string(models.KindAudit)).Inc()
				return apperrors.NewInvalidTransitionError(t.ID, string(cur.State), string(t.State))
			}
			from = cur.State
		}

		if backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}

	m.markAuditStalled(ctx, t.ID)
	return lastErr
}

// persistSupplier is persistAudit for the supplier state machine.
func (m *Manager) persistSupplier(ctx context.Context, t models.SupplierTask, from models.SupplierTaskState) error {
	attempts := m.cfg.PersistMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := config.GetDuration(m.cfg.PersistBackoff)

	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = m.store.UpdateSupplierTask(ctx, t, from)
		if lastErr == nil {
			return nil
		}
		code := apperrors.CodeOf(lastErr)
		if !apperrors.IsRetryableErrorCode(code) {
			return lastErr
		}

		if code == apperrors.ErrCodeStalePersistence {
			cur, err := m.store.GetSupplierTask(ctx, t.ID)
			if err != nil {
				return err
			}
			if cur.Terminal() {
				return apperrors.NewTaskTerminalError(t.ID, string(cur.State))
			}
			if !validSupplierTransition(cur.State, t.State) {
				metrics.InvalidTransitionsTotal.WithLabelValues(string(models.KindSupplier)).Inc()
				return apperrors.NewInvalidTransitionError(t.ID, string(cur.State), string(t.State))
			}
			from = cur.State
		}

		if backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}

	m.markSupplierStalled(ctx, t.ID)
	return lastErr
}

func (m *Manager) markAuditStalled(ctx context.Context, taskID string) {
	cur, err := m.store.GetAuditTask(ctx, taskID)
	if err != nil {
		m.log.WithError(err).Error("Failed to load audit task for stall flag", map[string]interface{}{"taskId": taskID})
		return
	}
	cur.Stalled = true
	if err := m.store.PutAuditTask(ctx, cur); err != nil {
		m.log.WithError(err).Error("Failed to flag audit task stalled", map[string]interface{}{"taskId": taskID})
		return
	}
	m.log.Warn("Audit task flagged stalled after persistence retries", map[string]interface{}{"taskId": taskID})
}

func (m *Manager) markSupplierStalled(ctx context.Context, taskID string) {
	cur, err := m.store.GetSupplierTask(ctx, taskID)
	if err != nil {
		m.log.WithError(err).Error("Failed to load supplier task for stall flag", map[string]interface{}{"taskId": taskID})
		return
	}
	cur.Stalled = true
	if err := m.store.PutSupplierTask(ctx, cur); err != nil {
		m.log.WithError(err).Error("Failed to flag supplier task stalled", map[string]interface{}{"taskId": taskID})
		return
	}
	m.log.Warn("Supplier task flagged stalled after persistence retries", map[string]interface{}{"taskId": taskID})
}
