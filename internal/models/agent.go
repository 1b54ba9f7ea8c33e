package models

import "time"

// AgentRole is a closed enum over the two marketplace capabilities. Role-
// specific data hangs off the matching stats struct rather than a loose
// shared record.
type AgentRole string

const (
	RoleAuditor  AgentRole = "auditor"
	RoleSupplier AgentRole = "supplier"
)

func (r AgentRole) Valid() bool {
	return r == RoleAuditor || r == RoleSupplier
}

// AuditorStats are rolling performance counters for auditors.
type AuditorStats struct {
	AuditsCompleted int     `json:"audits_completed"`
	AvgDistanceKm   float64 `json:"avg_distance_km"`
	CompletionRate  float64 `json:"completion_rate"`
}

// SupplierStats are rolling performance counters for suppliers.
type SupplierStats struct {
	DeliveriesCompleted int     `json:"deliveries_completed"`
	AvgDistanceKm       float64 `json:"avg_distance_km"`
	CompletionRate      float64 `json:"completion_rate"`
}

// Agent is an auditor or supplier eligible for task assignment.
//
// Available reflects whether the active-task count is below the configured
// cap; it is derived, not admin-set. Frozen is admin-only and excludes the
// agent from every nearest query.
type Agent struct {
	ID          string    `json:"id"`
	Role        AgentRole `json:"role"`
	Location    Location  `json:"location"`
	Available   bool      `json:"available"`
	Frozen      bool      `json:"frozen"`
	ActiveTasks int       `json:"active_tasks"`
	CreatedAt   time.Time `json:"created_at"`

	// Exactly one of these is set, matching Role.
	Auditor  *AuditorStats  `json:"auditor,omitempty"`
	Supplier *SupplierStats `json:"supplier,omitempty"`
}

// Eligible reports whether the agent can receive new assignments.
func (a *Agent) Eligible() bool {
	return a.Available && !a.Frozen
}
