// Package store persists engine entities. The memory implementation backs
// tests and single-node runs; the postgres implementation is the durable
// deployment path. Both enforce the same compare-and-set discipline on task
// and alert updates.
package store

import (
	"context"

	"assignment-engine/internal/models"
)

// BusinessStore persists businesses and their certification status.
type BusinessStore interface {
	PutBusiness(ctx context.Context, b models.Business) error
	GetBusiness(ctx context.Context, id string) (models.Business, error)
	// UpdateBusinessStatus moves certification status and optionally records
	// a score. Rejected and certified businesses keep their record.
	UpdateBusinessStatus(ctx context.Context, id string, status models.BusinessStatus, score *float64) error
}

// AgentStore persists agent registrations. Live availability and load are
// owned by the geo index; the store keeps the durable profile.
type AgentStore interface {
	PutAgent(ctx context.Context, a models.Agent) error
	GetAgent(ctx context.Context, id string) (models.Agent, error)
	SetAgentFrozen(ctx context.Context, id string, frozen bool) error
	ListAgents(ctx context.Context, role models.AgentRole) ([]models.Agent, error)
}

// TaskStore persists both task families. Update methods take the state the
// caller read; a mismatch at write time returns STALE_PERSISTENCE so the
// lifecycle layer can re-read and retry.
type TaskStore interface {
	PutAuditTask(ctx context.Context, t models.AuditTask) error
	GetAuditTask(ctx context.Context, id string) (models.AuditTask, error)
	UpdateAuditTask(ctx context.Context, t models.AuditTask, from models.AuditTaskState) error
	ListAuditTasksByAgent(ctx context.Context, auditorID string) ([]models.AuditTask, error)
	ListAuditTasksByBusiness(ctx context.Context, businessID string) ([]models.AuditTask, error)

	PutSupplierTask(ctx context.Context, t models.SupplierTask) error
	GetSupplierTask(ctx context.Context, id string) (models.SupplierTask, error)
	UpdateSupplierTask(ctx context.Context, t models.SupplierTask, from models.SupplierTaskState) error
	ListSupplierTasksByAgent(ctx context.Context, supplierID string) ([]models.SupplierTask, error)
	ListSupplierTasksByBusiness(ctx context.Context, businessID string) ([]models.SupplierTask, error)
}

// ReviewStore records customer reviews as they arrive.
type ReviewStore interface {
	PutReview(ctx context.Context, r models.Review) error
	GetReview(ctx context.Context, id string) (models.Review, error)
}

// AlertFilter narrows ListAlerts. Zero fields match everything.
type AlertFilter struct {
	Status   models.AlertStatus
	Severity models.Severity
}

// AlertStore persists fraud alerts and their review workflow.
type AlertStore interface {
	PutAlert(ctx context.Context, a models.FraudAlert) error
	GetAlert(ctx context.Context, id string) (models.FraudAlert, error)
	// UpdateAlertStatus applies a forward transition. The current status is
	// re-read under the write so concurrent admin actions cannot skip states.
	UpdateAlertStatus(ctx context.Context, id string, next models.AlertStatus) error
	ListAlerts(ctx context.Context, f AlertFilter) ([]models.FraudAlert, error)
}

// Store is the full persistence surface the engine wires at startup.
type Store interface {
	BusinessStore
	AgentStore
	TaskStore
	ReviewStore
	AlertStore
}
