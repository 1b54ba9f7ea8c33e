// Package geo holds the in-memory index of active agents and the distance
// math behind proximity dispatch.
package geo

import (
	"sort"
	"sync"

	apperrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/metrics"
	"assignment-engine/internal/models"
)

// Candidate is one nearest-query result.
type Candidate struct {
	Agent      models.Agent
	DistanceKm float64
}

// Index answers k-nearest queries over registered agents and owns the
// per-agent active-task counters. Claim is the single place capacity is
// checked and taken, under the index lock, so two concurrent dispatches can
// never push an agent past its cap.
type Index struct {
	mu      sync.RWMutex
	agents  map[string]*models.Agent
	taskCap int
}

// NewIndex creates an empty index with the given per-agent active-task cap.
func NewIndex(taskCap int) *Index {
	return &Index{
		agents:  make(map[string]*models.Agent),
		taskCap: taskCap,
	}
}

// Upsert registers or refreshes an agent. The index keeps its own
// active-task counter authoritative across upserts.
func (x *Index) Upsert(agent models.Agent) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if existing, ok := x.agents[agent.ID]; ok {
		agent.ActiveTasks = existing.ActiveTasks
	}
	agent.Available = agent.ActiveTasks < x.taskCap
	stored := agent
	x.agents[agent.ID] = &stored

	x.refreshGauges()
}

// Remove drops an agent from the index.
func (x *Index) Remove(agentID string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	delete(x.agents, agentID)
	x.refreshGauges()
}

// NearestOptions tunes a nearest query.
type NearestOptions struct {
	Exclude []string // agent ids never returned, used by reassignment
}

// Nearest returns up to k eligible agents of the given role ordered by
// ascending great-circle distance from loc. Ties break on lower active-task
// count, then agent id. An empty result is a no-capacity condition for the
// caller, not an error.
func (x *Index) Nearest(role models.AgentRole, loc models.Location, k int, opts NearestOptions) []Candidate {
	x.mu.RLock()
	defer x.mu.RUnlock()

	excluded := make(map[string]bool, len(opts.Exclude))
	for _, id := range opts.Exclude {
		excluded[id] = true
	}

	candidates := make([]Candidate, 0, len(x.agents))
	for _, a := range x.agents {
		if a.Role != role || excluded[a.ID] {
			continue
		}
		if !a.Available || a.Frozen {
			continue
		}
		candidates = append(candidates, Candidate{
			Agent:      *a,
			DistanceKm: DistanceKm(loc, a.Location),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DistanceKm != candidates[j].DistanceKm {
			return candidates[i].DistanceKm < candidates[j].DistanceKm
		}
		if candidates[i].Agent.ActiveTasks != candidates[j].Agent.ActiveTasks {
			return candidates[i].Agent.ActiveTasks < candidates[j].Agent.ActiveTasks
		}
		return candidates[i].Agent.ID < candidates[j].Agent.ID
	})

	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// Claim atomically takes one active-task slot on the agent. It fails with
// NO_CAPACITY when the agent is already at cap, frozen, or unknown, leaving
// the counter untouched.
func (x *Index) Claim(agentID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	a, ok := x.agents[agentID]
	if !ok {
		return apperrors.NewAgentNotFoundError(agentID)
	}
	if a.Frozen || a.ActiveTasks >= x.taskCap {
		return apperrors.NewNoCapacityError(string(a.Role))
	}

	a.ActiveTasks++
	a.Available = a.ActiveTasks < x.taskCap
	x.refreshGauges()
	return nil
}

// Release returns one active-task slot, flipping the agent available again
// if it drops under cap.
func (x *Index) Release(agentID string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	a, ok := x.agents[agentID]
	if !ok {
		return
	}
	if a.ActiveTasks > 0 {
		a.ActiveTasks--
	}
	a.Available = a.ActiveTasks < x.taskCap
	x.refreshGauges()
}

// SetFrozen flips the admin freeze flag. Frozen agents stay registered but
// are invisible to Nearest and cannot be claimed.
func (x *Index) SetFrozen(agentID string, frozen bool) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	a, ok := x.agents[agentID]
	if !ok {
		return apperrors.NewAgentNotFoundError(agentID)
	}
	a.Frozen = frozen
	x.refreshGauges()
	return nil
}

// Snapshot returns a copy of the indexed agent.
func (x *Index) Snapshot(agentID string) (models.Agent, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	a, ok := x.agents[agentID]
	if !ok {
		return models.Agent{}, false
	}
	return *a, true
}

// refreshGauges recomputes availability gauges. Caller holds the lock.
func (x *Index) refreshGauges() {
	counts := map[models.AgentRole]float64{models.RoleAuditor: 0, models.RoleSupplier: 0}
	for _, a := range x.agents {
		if a.Available && !a.Frozen {
			counts[a.Role]++
		}
	}
	for role, n := range counts {
		metrics.AgentsAvailable.WithLabelValues(string(role)).Set(n)
	}
}
