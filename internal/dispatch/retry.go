package dispatch

import (
	"sync"
	"time"

	"assignment-engine/internal/common/config"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/models"
)

// retryFunc attempts one assignment for a parked task. It returns true to
// keep the task on the schedule and false when the retry is finished,
// whether because the task got assigned or because it no longer qualifies.
type retryFunc func(taskID string, kind models.TaskKind) bool

// retryEntry tracks one parked task. The entry stays in the pending map for
// the whole duration of an attempt so that a cancel issued mid-attempt is
// observed before the next timer is armed.
type retryEntry struct {
	timer *time.Timer
}

// retryScheduler runs per-task backoff timers for parked tasks. Intervals
// double from the configured base up to the ceiling.
type retryScheduler struct {
	mu      sync.Mutex
	pending map[string]*retryEntry
	stopped bool

	base    time.Duration
	ceiling time.Duration
	attempt retryFunc
	log     logger.Logger
}

func newRetryScheduler(cfg config.DispatchConfig, log logger.Logger, attempt retryFunc) *retryScheduler {
	base := config.GetDuration(cfg.RetryInterval)
	if base <= 0 {
		base = 30 * time.Second
	}
	ceiling := config.GetDuration(cfg.MaxRetryInterval)
	if ceiling < base {
		ceiling = base
	}
	return &retryScheduler{
		pending: make(map[string]*retryEntry),
		base:    base,
		ceiling: ceiling,
		attempt: attempt,
		log:     log,
	}
}

// schedule arms the first retry for a task. Scheduling an already pending
// task is a no-op.
func (s *retryScheduler) schedule(taskID string, kind models.TaskKind) {
	s.scheduleAfter(taskID, kind, s.base)
}

func (s *retryScheduler) scheduleAfter(taskID string, kind models.TaskKind, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if _, exists := s.pending[taskID]; exists {
		return
	}

	entry := &retryEntry{}
	entry.timer = time.AfterFunc(interval, func() {
		s.fire(entry, taskID, kind, interval)
	})
	s.pending[taskID] = entry
}

func (s *retryScheduler) fire(entry *retryEntry, taskID string, kind models.TaskKind, interval time.Duration) {
	s.mu.Lock()
	if s.pending[taskID] != entry {
		// Cancelled between firing and running.
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	again := s.attempt(taskID, kind)

	s.mu.Lock()
	defer s.mu.Unlock()

	// A cancel (or stop) during the attempt removed the entry; the task
	// must not come back onto the schedule.
	if s.pending[taskID] != entry || s.stopped {
		return
	}
	if !again {
		delete(s.pending, taskID)
		return
	}

	next := interval * 2
	if next > s.ceiling {
		next = s.ceiling
	}
	entry.timer = time.AfterFunc(next, func() {
		s.fire(entry, taskID, kind, next)
	})
}

// cancel drops the pending retry for a task, including one whose attempt is
// currently running.
func (s *retryScheduler) cancel(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.pending[taskID]; ok {
		entry.timer.Stop()
		delete(s.pending, taskID)
	}
}

// stopAll cancels everything and refuses new schedules.
func (s *retryScheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, entry := range s.pending {
		entry.timer.Stop()
		delete(s.pending, id)
	}
}

// pendingCount reports how many tasks are waiting on a retry.
func (s *retryScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
