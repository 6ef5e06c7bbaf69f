// Package urgenttask implements the urgent task store (C5): an in-memory,
// insertion-ordered map of tasks awaiting synchronous pick-up, each entry
// carrying its own status broadcast channel so a blocking submitter can
// subscribe before the first await and never miss a transition. A single
// writer lock over the whole map serializes every read-modify-write,
// modeled on the teacher's events.Broker subscriber-map pattern but
// generalized to per-entry channels via pkg/broadcast.
package urgenttask

import (
	"sync"
	"time"

	"github.com/AlexGrek/offloadmq/pkg/brokererr"
	"github.com/AlexGrek/offloadmq/pkg/broadcast"
	"github.com/AlexGrek/offloadmq/pkg/types"
)

// DefaultTTL is the submission TTL applied to urgent tasks, per spec.
const DefaultTTL = 60 * time.Second

// SweepInterval is the cadence of the TTL sweeper background worker.
const SweepInterval = 10 * time.Second

// Entry is one urgent task plus its mutable state.
type Entry struct {
	Task         types.UnassignedTask
	AssignedTask *types.AssignedTask
	Status       *broadcast.Channel[types.TaskStatus]
	CreatedAt    time.Time
	TTL          time.Duration
}

// Store is the urgent task store: an insertion-ordered map guarded by a
// single writer lock, matching the FIFO-discovery invariant in spec.md.
type Store struct {
	mu     sync.RWMutex
	order  []string
	byID   map[string]*Entry
}

// New returns an empty urgent task store.
func New() *Store {
	return &Store{byID: make(map[string]*Entry)}
}

// AddTask inserts task at the tail of the insertion order with status
// Pending and returns the status channel waiters should subscribe to.
func (s *Store) AddTask(task types.UnassignedTask, ttl time.Duration) (*broadcast.Channel[types.TaskStatus], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := task.ID.StorageKey()
	if _, exists := s.byID[key]; exists {
		return nil, brokererr.NewInternal("duplicate urgent task id %s", task.ID)
	}

	entry := &Entry{
		Task:      task,
		Status:    broadcast.New(types.StatusPending),
		CreatedAt: time.Now(),
		TTL:       ttl,
	}
	s.byID[key] = entry
	s.order = append(s.order, key)
	return entry.Status, nil
}

// FindWithCapabilities returns the first entry, in insertion order, that is
// still unassigned and whose capability is in caps. Non-mutating.
func (s *Store) FindWithCapabilities(caps []string) (types.UnassignedTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	capSet := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		capSet[c] = struct{}{}
	}

	for _, key := range s.order {
		entry := s.byID[key]
		if entry == nil || entry.AssignedTask != nil {
			continue
		}
		if _, ok := capSet[entry.Task.Data.Capability]; ok {
			return entry.Task, true
		}
	}
	return types.UnassignedTask{}, false
}

// AssignTask is the atomic CAS: if id exists and is currently Pending, it is
// promoted to Assigned under agentID and the transition is broadcast. Any
// other state — already assigned, terminal, or missing — returns false and
// mutates nothing.
func (s *Store) AssignTask(id types.TaskId, agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.byID[id.StorageKey()]
	if entry == nil || entry.Status.Get() != types.StatusPending {
		return false
	}

	assigned := entry.Task.AssignTo(agentID, types.StatusAssigned, time.Now())
	entry.AssignedTask = &assigned
	entry.Status.Send(types.StatusAssigned)
	return true
}

// GetAssignedTask returns the AssignedTask for id, if the entry exists and
// has been assigned.
func (s *Store) GetAssignedTask(id types.TaskId) (types.AssignedTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry := s.byID[id.StorageKey()]
	if entry == nil || entry.AssignedTask == nil {
		return types.AssignedTask{}, false
	}
	return *entry.AssignedTask, true
}

// UpdateTask appends logFragment (if non-empty) and replaces stage (if
// non-empty) on the entry's AssignedTask. It never moves status. Returns
// false if the entry does not exist or has not been assigned yet.
func (s *Store) UpdateTask(id types.TaskId, logFragment, stage string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.byID[id.StorageKey()]
	if entry == nil || entry.AssignedTask == nil {
		return false
	}
	if logFragment != "" {
		entry.AssignedTask.Log += logFragment
	}
	if stage != "" {
		entry.AssignedTask.Stage = stage
	}
	return true
}

// CompleteTask records the final result and transitions status to Completed
// or Failed, broadcasting the transition. It fails with Conflict if the
// entry has no AssignedTask (reported before being picked up).
func (s *Store) CompleteTask(id types.TaskId, success bool, payload types.JSON) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.byID[id.StorageKey()]
	if entry == nil {
		return brokererr.NewNotFound("urgent task %s", id)
	}
	if entry.AssignedTask == nil {
		return brokererr.NewConflict("task %s is not assigned but was reported", id)
	}

	entry.AssignedTask.Result = payload
	status := types.StatusFailed
	if success {
		status = types.StatusCompleted
	}
	entry.AssignedTask.Status = status
	entry.Status.Send(status)
	return nil
}

// RemoveTask unconditionally erases id from the store, preserving FIFO
// ordering of the remaining entries.
func (s *Store) RemoveTask(id types.TaskId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id.StorageKey())
}

func (s *Store) removeLocked(key string) {
	if _, exists := s.byID[key]; !exists {
		return
	}
	delete(s.byID, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// ExpireTasks transitions every still-Pending entry whose TTL has elapsed to
// Failed, broadcasts the transition, and removes it. Entries past Pending
// are never force-expired here. Meant to run on a 10s ticker.
func (s *Store) ExpireTasks() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var toRemove []string
	for _, key := range s.order {
		entry := s.byID[key]
		if entry.Status.Get() == types.StatusPending && now.Sub(entry.CreatedAt) > entry.TTL {
			toRemove = append(toRemove, key)
		}
	}

	for _, key := range toRemove {
		entry := s.byID[key]
		entry.Status.Send(types.StatusFailed)
		s.removeLocked(key)
	}
}

// Len reports how many entries are currently tracked, for metrics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
