package durabletask

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexGrek/offloadmq/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTask(cap, id string) types.UnassignedTask {
	return types.UnassignedTask{
		ID:        types.TaskId{Capability: cap, ID: id},
		Data:      types.TaskSubmissionRequest{Capability: cap},
		CreatedAt: time.Now(),
	}
}

func TestAssignIsAtomicAndRejectsDoubleAssign(t *testing.T) {
	s := openTestStore(t)
	task := sampleTask("c", "1")
	require.NoError(t, s.AddUnassigned(task))

	assigned, err := s.Assign(task.ID, "agentA", time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, assigned.Status)
	assert.Equal(t, "agentA", assigned.AgentID)

	_, found, err := s.GetUnassigned(task.ID)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.GetAssigned(task.ID)
	require.NoError(t, err)
	assert.True(t, found)

	_, err = s.Assign(task.ID, "agentB", time.Now())
	assert.Error(t, err, "second assign of the same id must fail")
}

func TestConcurrentAssignHasExactlyOneWinnerPerTask(t *testing.T) {
	s := openTestStore(t)
	const n = 100
	const agents = 10

	for i := 0; i < n; i++ {
		require.NoError(t, s.AddUnassigned(sampleTask("c", strconv.Itoa(i)+"-x")))
	}

	unassigned, err := s.ListUnassignedAll()
	require.NoError(t, err)
	require.Len(t, unassigned, n)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for _, task := range unassigned {
		task := task
		for a := 0; a < agents; a++ {
			wg.Add(1)
			agentID := "agent-" + strconv.Itoa(a)
			go func() {
				defer wg.Done()
				if _, err := s.Assign(task.ID, agentID, time.Now()); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, n, successes)
	remaining, err := s.ListUnassignedAll()
	require.NoError(t, err)
	assert.Empty(t, remaining)

	all, err := s.ListAssignedAll()
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func TestListUnassignedForCapabilityIsPrefixScoped(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddUnassigned(sampleTask("c1", "1")))
	require.NoError(t, s.AddUnassigned(sampleTask("c1", "2")))
	require.NoError(t, s.AddUnassigned(sampleTask("c2", "1")))

	tasks, err := s.ListUnassignedForCapability("c1")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestArchiveStaleMovesOnlyNonRunningOldTasks(t *testing.T) {
	s := openTestStore(t)
	old := time.Now().Add(-8 * 24 * time.Hour)

	for i := 0; i < 10; i++ {
		task := sampleTask("c", strconv.Itoa(i))
		require.NoError(t, s.AddUnassigned(task))
		assigned, err := s.Assign(task.ID, "a", old)
		require.NoError(t, err)
		if i < 5 {
			assigned.Status = types.StatusCompleted
		} else {
			assigned.Status = types.StatusRunning
		}
		require.NoError(t, s.UpdateAssigned(assigned))
	}

	n, err := s.ArchiveStale(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	remaining, err := s.ListAssignedAll()
	require.NoError(t, err)
	assert.Len(t, remaining, 5)
	for _, task := range remaining {
		assert.Equal(t, types.StatusRunning, task.Status)
	}

	n, err = s.ArchiveStale(time.Now())
	require.NoError(t, err)
	assert.Zero(t, n, "re-running archival is a no-op")
}

