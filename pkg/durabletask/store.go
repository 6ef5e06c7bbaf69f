// Package durabletask implements the durable task store (C4): three trees,
// unassigned/assigned/archived, keyed by "capability|id", with an atomic
// assign promotion and a 7-day idle archival sweep.
package durabletask

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/AlexGrek/offloadmq/pkg/brokererr"
	"github.com/AlexGrek/offloadmq/pkg/kv"
	"github.com/AlexGrek/offloadmq/pkg/types"
)

var (
	bucketUnassigned = []byte("tasks_unassigned")
	bucketAssigned   = []byte("tasks_assigned")
	bucketArchived   = []byte("tasks_archived")
)

// ArchivalCutoff is the idle duration after which a non-Running assigned
// task becomes eligible for archival.
const ArchivalCutoff = 7 * 24 * time.Hour

// Store is the durable task store.
type Store struct {
	store *kv.Store
}

// Open opens (creating if absent) the durable task store at dataDir.
func Open(dataDir string) (*Store, error) {
	s, err := kv.Open(dataDir, "tasks.db", bucketUnassigned, bucketAssigned, bucketArchived)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.Database, err)
	}
	return &Store{store: s}, nil
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.store.Close()
}

// AddUnassigned inserts task into the unassigned tree. Duplicate TaskId
// collisions cannot occur in practice (ULID id space); if they did, this
// overwrites rather than erroring, matching the durable store's contract.
func (s *Store) AddUnassigned(task types.UnassignedTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return brokererr.Wrap(brokererr.Serialization, err)
	}
	if err := s.store.Put(bucketUnassigned, task.ID.StorageKey(), data); err != nil {
		return brokererr.Wrap(brokererr.Database, err)
	}
	return nil
}

// Assign atomically removes id from unassigned and inserts the resulting
// AssignedTask (status Queued, assigned_at = now) into assigned. This is the
// sole admissible promotion path; if id is not present in unassigned, it
// fails with Conflict and mutates nothing.
func (s *Store) Assign(id types.TaskId, agentID string, now time.Time) (types.AssignedTask, error) {
	var assigned types.AssignedTask
	key := id.StorageKey()

	err := s.store.Txn(func(tx *bolt.Tx) error {
		unassignedBucket := tx.Bucket(bucketUnassigned)
		raw := unassignedBucket.Get([]byte(key))
		if raw == nil {
			return brokererr.NewConflict("task %s is not unassigned", id)
		}

		var task types.UnassignedTask
		if err := json.Unmarshal(raw, &task); err != nil {
			return brokererr.Wrap(brokererr.Serialization, err)
		}

		if err := unassignedBucket.Delete([]byte(key)); err != nil {
			return brokererr.Wrap(brokererr.Database, err)
		}

		assigned = task.AssignTo(agentID, types.StatusQueued, now)
		data, err := json.Marshal(assigned)
		if err != nil {
			return brokererr.Wrap(brokererr.Serialization, err)
		}
		return tx.Bucket(bucketAssigned).Put([]byte(key), data)
	})
	if err != nil {
		return types.AssignedTask{}, err
	}
	return assigned, nil
}

// GetUnassigned looks up id in the unassigned tree.
func (s *Store) GetUnassigned(id types.TaskId) (types.UnassignedTask, bool, error) {
	value, found, err := s.store.Get(bucketUnassigned, id.StorageKey())
	if err != nil {
		return types.UnassignedTask{}, false, brokererr.Wrap(brokererr.Database, err)
	}
	if !found {
		return types.UnassignedTask{}, false, nil
	}
	var task types.UnassignedTask
	if err := json.Unmarshal(value, &task); err != nil {
		return types.UnassignedTask{}, false, brokererr.Wrap(brokererr.Serialization, err)
	}
	return task, true, nil
}

// GetAssigned looks up id in the assigned tree.
func (s *Store) GetAssigned(id types.TaskId) (types.AssignedTask, bool, error) {
	value, found, err := s.store.Get(bucketAssigned, id.StorageKey())
	if err != nil {
		return types.AssignedTask{}, false, brokererr.Wrap(brokererr.Database, err)
	}
	if !found {
		return types.AssignedTask{}, false, nil
	}
	var task types.AssignedTask
	if err := json.Unmarshal(value, &task); err != nil {
		return types.AssignedTask{}, false, brokererr.Wrap(brokererr.Serialization, err)
	}
	return task, true, nil
}

// UpdateAssigned upserts task into the assigned tree. The caller is
// responsible for only mutating fields the scheduler's state machine allows.
func (s *Store) UpdateAssigned(task types.AssignedTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return brokererr.Wrap(brokererr.Serialization, err)
	}
	if err := s.store.Put(bucketAssigned, task.ID.StorageKey(), data); err != nil {
		return brokererr.Wrap(brokererr.Database, err)
	}
	return nil
}

// ListUnassignedForCapability returns every unassigned task for cap, via a
// prefix scan on "cap|".
func (s *Store) ListUnassignedForCapability(cap string) ([]types.UnassignedTask, error) {
	var out []types.UnassignedTask
	err := s.store.PrefixScan(bucketUnassigned, cap+"|", func(key, value []byte) error {
		var task types.UnassignedTask
		if err := json.Unmarshal(value, &task); err == nil {
			out = append(out, task)
		}
		return nil
	})
	if err != nil {
		return nil, brokererr.Wrap(brokererr.Database, err)
	}
	return out, nil
}

// ListUnassignedWithCaps returns the union of ListUnassignedForCapability
// over caps. Duplicates are permitted by construction (none occur in
// practice, since each TaskId belongs to exactly one capability's prefix).
func (s *Store) ListUnassignedWithCaps(caps []string) ([]types.UnassignedTask, error) {
	var out []types.UnassignedTask
	for _, cap := range caps {
		tasks, err := s.ListUnassignedForCapability(cap)
		if err != nil {
			return nil, err
		}
		out = append(out, tasks...)
	}
	return out, nil
}

// ListUnassignedAll returns every unassigned task.
func (s *Store) ListUnassignedAll() ([]types.UnassignedTask, error) {
	var out []types.UnassignedTask
	err := s.store.ForEach(bucketUnassigned, func(key, value []byte) error {
		var task types.UnassignedTask
		if err := json.Unmarshal(value, &task); err == nil {
			out = append(out, task)
		}
		return nil
	})
	if err != nil {
		return nil, brokererr.Wrap(brokererr.Database, err)
	}
	return out, nil
}

// ListAssignedAll returns every assigned task.
func (s *Store) ListAssignedAll() ([]types.AssignedTask, error) {
	var out []types.AssignedTask
	err := s.store.ForEach(bucketAssigned, func(key, value []byte) error {
		var task types.AssignedTask
		if err := json.Unmarshal(value, &task); err == nil {
			out = append(out, task)
		}
		return nil
	})
	if err != nil {
		return nil, brokererr.Wrap(brokererr.Database, err)
	}
	return out, nil
}

// ArchiveStale snapshot-scans the assigned tree and moves every entry with
// status != Running and assigned_at older than ArchivalCutoff into archived.
// It never touches Running tasks, and re-running after a full sweep is a
// no-op. Returns the number of tasks archived.
func (s *Store) ArchiveStale(now time.Time) (int, error) {
	assigned, err := s.ListAssignedAll()
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-ArchivalCutoff)
	archived := 0
	for _, task := range assigned {
		if task.Status == types.StatusRunning {
			continue
		}
		if !task.AssignedAt.Before(cutoff) {
			continue
		}
		data, err := json.Marshal(task)
		if err != nil {
			return archived, brokererr.Wrap(brokererr.Serialization, err)
		}
		key := task.ID.StorageKey()
		if _, err := s.store.Move(bucketAssigned, key, bucketArchived, key, data); err != nil {
			return archived, brokererr.Wrap(brokererr.Database, err)
		}
		archived++
	}
	return archived, nil
}
