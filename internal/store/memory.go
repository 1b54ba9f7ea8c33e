package store

import (
	"context"
	"sort"
	"sync"

	apperrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/models"
)

// Memory is an in-process Store guarded by a single mutex. It is the default
// for tests and for running the engine without a database.
type Memory struct {
	mu            sync.RWMutex
	businesses    map[string]models.Business
	agents        map[string]models.Agent
	auditTasks    map[string]models.AuditTask
	supplierTasks map[string]models.SupplierTask
	reviews       map[string]models.Review
	alerts        map[string]models.FraudAlert
	alertOrder    []string // insertion order for stable listings
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		businesses:    make(map[string]models.Business),
		agents:        make(map[string]models.Agent),
		auditTasks:    make(map[string]models.AuditTask),
		supplierTasks: make(map[string]models.SupplierTask),
		reviews:       make(map[string]models.Review),
		alerts:        make(map[string]models.FraudAlert),
	}
}

func (m *Memory) PutBusiness(_ context.Context, b models.Business) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.businesses[b.ID] = b
	return nil
}

func (m *Memory) GetBusiness(_ context.Context, id string) (models.Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.businesses[id]
	if !ok {
		return models.Business{}, apperrors.NewEntityNotFoundError("business", id)
	}
	return b, nil
}

func (m *Memory) UpdateBusinessStatus(_ context.Context, id string, status models.BusinessStatus, score *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[id]
	if !ok {
		return apperrors.NewEntityNotFoundError("business", id)
	}
	b.Status = status
	if score != nil {
		s := *score
		b.CertificationScore = &s
	}
	m.businesses[id] = b
	return nil
}

func (m *Memory) PutAgent(_ context.Context, a models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a
	return nil
}

func (m *Memory) GetAgent(_ context.Context, id string) (models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return models.Agent{}, apperrors.NewAgentNotFoundError(id)
	}
	return a, nil
}

func (m *Memory) SetAgentFrozen(_ context.Context, id string, frozen bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return apperrors.NewAgentNotFoundError(id)
	}
	a.Frozen = frozen
	m.agents[id] = a
	return nil
}

func (m *Memory) ListAgents(_ context.Context, role models.AgentRole) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Agent, 0)
	for _, a := range m.agents {
		if a.Role == role {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutAuditTask(_ context.Context, t models.AuditTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditTasks[t.ID] = t
	return nil
}

func (m *Memory) GetAuditTask(_ context.Context, id string) (models.AuditTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.auditTasks[id]
	if !ok {
		return models.AuditTask{}, apperrors.NewTaskNotFoundError(id)
	}
	return t, nil
}

func (m *Memory) UpdateAuditTask(_ context.Context, t models.AuditTask, from models.AuditTaskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.auditTasks[t.ID]
	if !ok {
		return apperrors.NewTaskNotFoundError(t.ID)
	}
	if cur.State != from {
		return apperrors.NewStalePersistenceError(staleStateError(string(cur.State), string(from)))
	}
	m.auditTasks[t.ID] = t
	return nil
}

func (m *Memory) ListAuditTasksByAgent(_ context.Context, auditorID string) ([]models.AuditTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AuditTask, 0)
	for _, t := range m.auditTasks {
		if t.AuditorID == auditorID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListAuditTasksByBusiness(_ context.Context, businessID string) ([]models.AuditTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AuditTask, 0)
	for _, t := range m.auditTasks {
		if t.BusinessID == businessID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) PutSupplierTask(_ context.Context, t models.SupplierTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supplierTasks[t.ID] = t
	return nil
}

func (m *Memory) GetSupplierTask(_ context.Context, id string) (models.SupplierTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.supplierTasks[id]
	if !ok {
		return models.SupplierTask{}, apperrors.NewTaskNotFoundError(id)
	}
	return t, nil
}

func (m *Memory) UpdateSupplierTask(_ context.Context, t models.SupplierTask, from models.SupplierTaskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.supplierTasks[t.ID]
	if !ok {
		return apperrors.NewTaskNotFoundError(t.ID)
	}
	if cur.State != from {
		return apperrors.NewStalePersistenceError(staleStateError(string(cur.State), string(from)))
	}
	m.supplierTasks[t.ID] = t
	return nil
}

func (m *Memory) ListSupplierTasksByAgent(_ context.Context, supplierID string) ([]models.SupplierTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SupplierTask, 0)
	for _, t := range m.supplierTasks {
		if t.SupplierID == supplierID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListSupplierTasksByBusiness(_ context.Context, businessID string) ([]models.SupplierTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SupplierTask, 0)
	for _, t := range m.supplierTasks {
		if t.BusinessID == businessID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) PutReview(_ context.Context, r models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews[r.ID] = r
	return nil
}

func (m *Memory) GetReview(_ context.Context, id string) (models.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reviews[id]
	if !ok {
		return models.Review{}, apperrors.NewEntityNotFoundError("review", id)
	}
	return r, nil
}

func (m *Memory) PutAlert(_ context.Context, a models.FraudAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; !ok {
		m.alertOrder = append(m.alertOrder, a.ID)
	}
	m.alerts[a.ID] = a
	return nil
}

func (m *Memory) GetAlert(_ context.Context, id string) (models.FraudAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return models.FraudAlert{}, apperrors.NewEntityNotFoundError("alert", id)
	}
	return a, nil
}

func (m *Memory) UpdateAlertStatus(_ context.Context, id string, next models.AlertStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return apperrors.NewEntityNotFoundError("alert", id)
	}
	if !a.Status.CanTransition(next) {
		return apperrors.NewInvalidTransitionError(id, string(a.Status), string(next))
	}
	a.Status = next
	m.alerts[id] = a
	return nil
}

func (m *Memory) ListAlerts(_ context.Context, f AlertFilter) ([]models.FraudAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.FraudAlert, 0)
	for _, id := range m.alertOrder {
		a := m.alerts[id]
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

type staleState struct{ have, want string }

func (e staleState) Error() string {
	return "state is " + e.have + ", expected " + e.want
}

func staleStateError(have, want string) error {
	return staleState{have: have, want: want}
}
