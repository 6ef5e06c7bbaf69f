package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexGrek/offloadmq/pkg/agentregistry"
	"github.com/AlexGrek/offloadmq/pkg/durabletask"
	"github.com/AlexGrek/offloadmq/pkg/types"
	"github.com/AlexGrek/offloadmq/pkg/urgenttask"
)

func newAgentsWithOnline(t *testing.T, specs ...struct {
	cap  string
	tier uint8
}) *agentregistry.Registry {
	t.Helper()
	r, err := agentregistry.Open(t.TempDir(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	for _, sp := range specs {
		agent, err := r.Create(types.Agent{Capabilities: []string{sp.cap}, Tier: sp.tier})
		require.NoError(t, err)
		_, err = r.UpdateLastContact(agent.UID, time.Now())
		require.NoError(t, err)
	}
	return r
}

func TestTierSuppressionMonotonicity(t *testing.T) {
	InitPreferences(Preferences{})
	defer InitPreferences(Preferences{})

	durable, err := durabletask.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { durable.Close() })

	task := types.UnassignedTask{ID: types.TaskId{Capability: "t", ID: "1"}, Data: types.TaskSubmissionRequest{Capability: "t"}, CreatedAt: time.Now()}
	require.NoError(t, durable.AddUnassigned(task))

	agentsLowOnly := newAgentsWithOnline(t, struct {
		cap  string
		tier uint8
	}{"t", 1})

	eligible, err := FindAssignableRegular(durable, agentsLowOnly, []string{"t"}, 1)
	require.NoError(t, err)
	assert.Len(t, eligible, 1, "no higher tier online, task is visible at tier 1")

	agentsWithHighTier := newAgentsWithOnline(t,
		struct {
			cap  string
			tier uint8
		}{"t", 1},
		struct {
			cap  string
			tier uint8
		}{"t", 5},
	)

	eligible, err = FindAssignableRegular(durable, agentsWithHighTier, []string{"t"}, 1)
	require.NoError(t, err)
	assert.Empty(t, eligible, "a higher-tier online agent suppresses the lower tier's view")

	eligible, err = FindAssignableRegular(durable, agentsWithHighTier, []string{"t"}, 5)
	require.NoError(t, err)
	assert.Len(t, eligible, 1, "the top-tier agent itself still sees the task")
}

func TestTierSuppressionTieDoesNotSuppressByDefault(t *testing.T) {
	InitPreferences(Preferences{})
	defer InitPreferences(Preferences{})

	durable, err := durabletask.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { durable.Close() })

	task := types.UnassignedTask{ID: types.TaskId{Capability: "t", ID: "1"}, Data: types.TaskSubmissionRequest{Capability: "t"}, CreatedAt: time.Now()}
	require.NoError(t, durable.AddUnassigned(task))

	agents := newAgentsWithOnline(t, struct {
		cap  string
		tier uint8
	}{"t", 5})

	eligible, err := FindAssignableRegular(durable, agents, []string{"t"}, 5)
	require.NoError(t, err)
	assert.Len(t, eligible, 1, "ties at the same top online tier do not suppress")
}

func TestPickUpUrgentReturnsNotFoundWhenAlreadyTaken(t *testing.T) {
	store := urgenttask.New()
	task := types.UnassignedTask{ID: types.TaskId{Capability: "echo", ID: "1"}, Data: types.TaskSubmissionRequest{Capability: "echo"}, CreatedAt: time.Now()}
	_, err := store.AddTask(task, urgenttask.DefaultTTL)
	require.NoError(t, err)

	_, err = PickUpUrgent(store, types.Agent{UID: "a"}, task.ID)
	require.NoError(t, err)

	_, err = PickUpUrgent(store, types.Agent{UID: "b"}, task.ID)
	assert.Error(t, err)
}

func TestReportRegularTransitionsStatusAndResult(t *testing.T) {
	durable, err := durabletask.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { durable.Close() })

	id := types.TaskId{Capability: "t", ID: "1"}
	task := types.UnassignedTask{ID: id, Data: types.TaskSubmissionRequest{Capability: "t"}, CreatedAt: time.Now()}
	require.NoError(t, durable.AddUnassigned(task))
	_, err = durable.Assign(id, "agent", time.Now())
	require.NoError(t, err)

	report := types.TaskResultReport{Status: types.ResultSuccess, Output: types.JSON{"ok": true}}
	require.NoError(t, ReportRegular(durable, id, report))

	got, found, err := durable.GetAssigned(id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, types.JSON{"ok": true}, got.Result)
}

func TestReportRegularUnknownIDReportsNotFound(t *testing.T) {
	durable, err := durabletask.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { durable.Close() })

	unknown := types.TaskId{Capability: "t", ID: "missing"}
	err = ReportRegular(durable, unknown, types.TaskResultReport{})
	assert.Error(t, err)
}

func TestFindAssignableRegularShuffleQueuePreservesSetButCanReorder(t *testing.T) {
	durable, err := durabletask.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { durable.Close() })

	for i := 0; i < 8; i++ {
		task := types.UnassignedTask{
			ID:        types.TaskId{Capability: "t", ID: string(rune('a' + i))},
			Data:      types.TaskSubmissionRequest{Capability: "t"},
			CreatedAt: time.Now(),
		}
		require.NoError(t, durable.AddUnassigned(task))
	}
	agents := newAgentsWithOnline(t, struct {
		cap  string
		tier uint8
	}{"t", 1})

	InitPreferences(Preferences{})
	ordered, err := FindAssignableRegular(durable, agents, []string{"t"}, 1)
	require.NoError(t, err)
	require.Len(t, ordered, 8)

	InitPreferences(Preferences{ShuffleQueue: true})
	defer InitPreferences(Preferences{})

	reordered := false
	for attempt := 0; attempt < 20; attempt++ {
		shuffled, err := FindAssignableRegular(durable, agents, []string{"t"}, 1)
		require.NoError(t, err)
		require.Len(t, shuffled, 8)
		if shuffled[0].ID != ordered[0].ID {
			reordered = true
			break
		}
	}
	assert.True(t, reordered, "ShuffleQueue should eventually produce a different first candidate")
}

func TestHasPotentialAgentsRequiresOnline(t *testing.T) {
	r, err := agentregistry.Open(t.TempDir(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	_, err = r.Create(types.Agent{Capabilities: []string{"ocr"}})
	require.NoError(t, err)

	ok, err := HasPotentialAgents(r, "ocr")
	require.NoError(t, err)
	assert.False(t, ok, "a never-polled agent is not online")
}
