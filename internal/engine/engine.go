// Package engine composes the assignment and integrity components into one
// facade. The binary wires infrastructure clients and hands them in; tests
// build the same graph on in-memory pieces.
package engine

import (
	"context"

	"assignment-engine/internal/admin"
	"assignment-engine/internal/common/config"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/dispatch"
	"assignment-engine/internal/geo"
	"assignment-engine/internal/integrity"
	"assignment-engine/internal/lifecycle"
	"assignment-engine/internal/models"
	"assignment-engine/internal/store"
)

// EventSink receives domain events alongside the integrity monitor, for
// outward surfaces like the SNS notifier.
type EventSink interface {
	Publish(ctx context.Context, e models.Event)
}

// Options carries the wired infrastructure for New.
type Options struct {
	Config     *config.Config
	Store      store.Store
	History    integrity.History
	AlertSinks []integrity.AlertSink
	EventSinks []EventSink
	Log        logger.Logger
}

// Engine bundles the running components. All task and admin operations go
// through its fields; events flow internally from dispatch and lifecycle
// into the integrity monitor.
type Engine struct {
	Index      *geo.Index
	Dispatcher *dispatch.Dispatcher
	Lifecycle  *lifecycle.Manager
	Monitor    *integrity.Monitor
	Admin      *admin.Service
	Store      store.Store
}

// New builds the component graph.
func New(opts Options) *Engine {
	cfg := opts.Config
	index := geo.NewIndex(cfg.Dispatch.AgentTaskCap)

	monitor := integrity.NewMonitor(cfg.Integrity, opts.History, opts.Store, opts.Log, opts.AlertSinks...)

	// The monitor always sees every event; extra sinks get the same stream.
	var sink EventSink = monitor
	if len(opts.EventSinks) > 0 {
		sink = fanout{sinks: append([]EventSink{monitor}, opts.EventSinks...)}
	}

	dispatcher := dispatch.NewDispatcher(opts.Store, index, sink, cfg.Dispatch, opts.Log)
	lc := lifecycle.NewManager(opts.Store, index, sink, cfg.Lifecycle, opts.Log)
	adm := admin.NewService(opts.Store, index, dispatcher, sink, opts.Log)

	return &Engine{
		Index:      index,
		Dispatcher: dispatcher,
		Lifecycle:  lc,
		Monitor:    monitor,
		Admin:      adm,
		Store:      opts.Store,
	}
}

// Stop drains background work.
func (e *Engine) Stop() {
	e.Dispatcher.Stop()
}

// SeedIndex rebuilds the geo index from the durable agent records, counting
// each agent's open tasks so a restart does not reset capacity. An agent
// claimed up to cap before the restart comes back unavailable, not empty.
func (e *Engine) SeedIndex(ctx context.Context) error {
	for _, role := range []models.AgentRole{models.RoleAuditor, models.RoleSupplier} {
		agents, err := e.Store.ListAgents(ctx, role)
		if err != nil {
			return err
		}
		for _, a := range agents {
			open, err := e.openTaskCount(ctx, a)
			if err != nil {
				return err
			}
			a.ActiveTasks = open
			e.Index.Upsert(a)
		}
	}
	return nil
}

func (e *Engine) openTaskCount(ctx context.Context, a models.Agent) (int, error) {
	open := 0
	switch a.Role {
	case models.RoleAuditor:
		tasks, err := e.Store.ListAuditTasksByAgent(ctx, a.ID)
		if err != nil {
			return 0, err
		}
		for i := range tasks {
			if !tasks[i].Terminal() {
				open++
			}
		}
	case models.RoleSupplier:
		tasks, err := e.Store.ListSupplierTasksByAgent(ctx, a.ID)
		if err != nil {
			return 0, err
		}
		for i := range tasks {
			if !tasks[i].Terminal() {
				open++
			}
		}
	}
	return open, nil
}

type fanout struct {
	sinks []EventSink
}

func (f fanout) Publish(ctx context.Context, e models.Event) {
	for _, s := range f.sinks {
		s.Publish(ctx, e)
	}
}
