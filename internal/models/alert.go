package models

import "time"

// RuleType identifies the heuristic that raised an alert.
type RuleType string

const (
	RuleDuplicateReview RuleType = "duplicate_review"
	RuleFastAudit       RuleType = "fast_audit"
	RuleAuditRateLimit  RuleType = "audit_rate_limit"
	RuleGpsDeviation    RuleType = "gps_deviation"
)

// Severity grades how urgently an alert needs human review.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AlertStatus is the review workflow state of a FraudAlert.
type AlertStatus string

const (
	AlertPending       AlertStatus = "pending"
	AlertInvestigating AlertStatus = "investigating"
	AlertResolved      AlertStatus = "resolved"
	AlertDismissed     AlertStatus = "dismissed"
)

// CanTransition reports whether the alert status may move to next. Status
// only moves forward: pending -> investigating -> {resolved, dismissed},
// or pending -> dismissed directly.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	switch s {
	case AlertPending:
		return next == AlertInvestigating || next == AlertDismissed
	case AlertInvestigating:
		return next == AlertResolved || next == AlertDismissed
	default:
		return false
	}
}

// SubjectType names the kind of entity an alert points at.
type SubjectType string

const (
	SubjectBusiness SubjectType = "business"
	SubjectAgent    SubjectType = "agent"
	SubjectTask     SubjectType = "task"
	SubjectReview   SubjectType = "review"
)

// AlertEvidence is the numeric backing for an alert. Only the fields
// meaningful for the raising rule are set.
type AlertEvidence struct {
	DistanceMeters  float64 `json:"distance_meters,omitempty"`
	DurationMinutes float64 `json:"duration_minutes,omitempty"`
	Count           int     `json:"count,omitempty"`
	Threshold       float64 `json:"threshold,omitempty"`
}

// FraudAlert is a flagged anomaly requiring human review. Alerts are
// appended, never deduplicated; suppression of repeats is the admin side's
// concern.
type FraudAlert struct {
	ID          string        `json:"id"`
	Rule        RuleType      `json:"rule"`
	Severity    Severity      `json:"severity"`
	SubjectType SubjectType   `json:"subject_type"`
	SubjectID   string        `json:"subject_id"`
	Description string        `json:"description"`
	Status      AlertStatus   `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	Evidence    AlertEvidence `json:"evidence"`
}
