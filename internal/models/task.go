package models

import "time"

// TaskKind separates the two task families in shared surfaces (events,
// metrics, queries).
type TaskKind string

const (
	KindAudit    TaskKind = "audit"
	KindSupplier TaskKind = "supplier"
)

// SupplierTaskState is the forward-only delivery lifecycle.
type SupplierTaskState string

const (
	SupplierTodo       SupplierTaskState = "todo"
	SupplierInProgress SupplierTaskState = "in_progress"
	SupplierSent       SupplierTaskState = "package_sent"
	SupplierDelivered  SupplierTaskState = "package_delivered" // terminal
)

// AuditTaskState is the audit lifecycle. Unassigned is the orthogonal
// failure path taken when the assigned auditor is frozen or removed.
type AuditTaskState string

const (
	AuditUnassigned AuditTaskState = "unassigned"
	AuditNotStarted AuditTaskState = "not_started"
	AuditOnField    AuditTaskState = "on_field"
	AuditInProgress AuditTaskState = "in_progress"
	AuditCompleted  AuditTaskState = "completed" // terminal
)

// AuditTask tracks one auditor's engagement with one business. At most one
// active AuditTask exists per business.
type AuditTask struct {
	ID                 string         `json:"id"`
	BusinessID         string         `json:"business_id"`
	AuditorID          string         `json:"auditor_id,omitempty"` // empty while unassigned
	PayoutAmount       float64        `json:"payout_amount"`
	State              AuditTaskState `json:"state"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	AssignedDistanceKm float64        `json:"assigned_distance_km"`
	SubmissionLocation *Location      `json:"submission_location,omitempty"` // captured at report submission
	Duration           time.Duration  `json:"duration"`                      // created -> submitted, set on completion
	Stalled            bool           `json:"stalled"`                       // persistence gave up after bounded retries
}

// Terminal reports whether the audit task can no longer transition.
func (t *AuditTask) Terminal() bool {
	return t.State == AuditCompleted
}

// SupplierTask tracks one supplier's delivery to one business. At most one
// active SupplierTask exists per business.
type SupplierTask struct {
	ID                 string            `json:"id"`
	BusinessID         string            `json:"business_id"`
	SupplierID         string            `json:"supplier_id,omitempty"` // empty while awaiting capacity
	State              SupplierTaskState `json:"state"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	AssignedDistanceKm float64           `json:"assigned_distance_km"`
	Stalled            bool              `json:"stalled"`
}

// Terminal reports whether the supplier task can no longer transition.
// Delivered tasks are never mutated; an admin override creates a new task.
func (t *SupplierTask) Terminal() bool {
	return t.State == SupplierDelivered
}
