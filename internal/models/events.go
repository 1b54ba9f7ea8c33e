package models

import "time"

// EventType discriminates domain events on the shared bus.
type EventType string

const (
	EventTaskCreated           EventType = "TaskCreated"
	EventAuditSubmitted        EventType = "AuditSubmitted"
	EventSupplierStatusChanged EventType = "SupplierStatusChanged"
	EventReviewCreated         EventType = "ReviewCreated"
	EventFraudAlertRaised      EventType = "FraudAlertRaised"
)

// TaskCreated is emitted when the dispatcher assigns (or parks) a task.
type TaskCreated struct {
	TaskID     string    `json:"task_id"`
	Kind       TaskKind  `json:"kind"`
	BusinessID string    `json:"business_id"`
	AgentID    string    `json:"agent_id,omitempty"` // empty when parked unassigned
	Role       AgentRole `json:"role"`
	DistanceKm float64   `json:"distance_km"`
	At         time.Time `json:"at"`
}

// AuditSubmitted is emitted when an audit report reaches completed. It feeds
// the FastAudit, AuditRateLimit and GpsDeviation rules.
type AuditSubmitted struct {
	TaskID             string        `json:"task_id"`
	BusinessID         string        `json:"business_id"`
	AuditorID          string        `json:"auditor_id"`
	Duration           time.Duration `json:"duration"`
	SubmissionLocation Location      `json:"submission_location"`
	BusinessLocation   Location      `json:"business_location"`
	At                 time.Time     `json:"at"`
}

// SupplierStatusChanged is emitted on every supplier task transition.
type SupplierStatusChanged struct {
	TaskID     string            `json:"task_id"`
	SupplierID string            `json:"supplier_id"`
	BusinessID string            `json:"business_id"`
	From       SupplierTaskState `json:"from"`
	To         SupplierTaskState `json:"to"`
	At         time.Time         `json:"at"`
}

// ReviewCreated is emitted when the review surface records a review.
type ReviewCreated struct {
	Review Review `json:"review"`
}

// Event is the envelope evaluated by the integrity monitor and forwarded to
// external collaborators. Exactly one payload pointer is set per Type.
type Event struct {
	Type           EventType              `json:"type"`
	TaskCreated    *TaskCreated           `json:"task_created,omitempty"`
	AuditSubmitted *AuditSubmitted        `json:"audit_submitted,omitempty"`
	SupplierStatus *SupplierStatusChanged `json:"supplier_status,omitempty"`
	ReviewCreated  *ReviewCreated         `json:"review_created,omitempty"`
	Alert          *FraudAlert            `json:"alert,omitempty"`
}
