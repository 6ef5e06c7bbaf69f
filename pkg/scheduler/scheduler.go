// Package scheduler is the capability/tier matching layer (C6): a set of
// pure functions over the agent registry, durable task store and urgent
// task store that decide which pending tasks an agent may see and pick up,
// including the tier-suppression rule for regular tasks. It holds no state
// of its own beyond the process-wide Preferences singleton.
package scheduler

import (
	"math/rand"
	"time"

	"github.com/AlexGrek/offloadmq/pkg/agentregistry"
	"github.com/AlexGrek/offloadmq/pkg/brokererr"
	"github.com/AlexGrek/offloadmq/pkg/broadcast"
	"github.com/AlexGrek/offloadmq/pkg/durabletask"
	"github.com/AlexGrek/offloadmq/pkg/types"
	"github.com/AlexGrek/offloadmq/pkg/urgenttask"
)

// FindUrgent delegates to the urgent store's FIFO capability search.
func FindUrgent(store *urgenttask.Store, caps []string) (types.UnassignedTask, bool) {
	return store.FindWithCapabilities(caps)
}

// FindAssignableRegular collects every durable unassigned task matching any
// of caps, then applies the tier-suppression rule: a task is included iff
// the highest tier among currently online agents advertising that task's
// capability does not exceed myTier (strictly greater suppresses, unless
// AllowAssigningToSameTopTier is set, in which case a tie is also allowed —
// the rule relaxes from > to >=). The caller picks one uniformly at random
// from the result; this function only filters.
func FindAssignableRegular(durable *durabletask.Store, agents *agentregistry.Registry, caps []string, myTier uint8) ([]types.UnassignedTask, error) {
	candidates, err := durable.ListUnassignedWithCaps(caps)
	if err != nil {
		return nil, err
	}

	allAgents, err := agents.ListAll()
	if err != nil {
		return nil, err
	}

	prefs := GetPreferences()
	if prefs.ShuffleQueue {
		rand.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
	}

	now := time.Now()
	stricterTie := prefs.AllowAssigningToSameTopTier

	var eligible []types.UnassignedTask
	for _, task := range candidates {
		topTier := topOnlineTierFor(allAgents, task.Data.Capability, now)
		var suppressed bool
		if stricterTie {
			suppressed = topTier >= myTier
		} else {
			suppressed = topTier > myTier
		}
		if !suppressed {
			eligible = append(eligible, task)
		}
	}
	return eligible, nil
}

func topOnlineTierFor(agents []types.Agent, capability string, now time.Time) uint8 {
	var top uint8
	for _, a := range agents {
		if !a.IsOnline(now) || !a.HasCapability(capability) {
			continue
		}
		if a.Tier > top {
			top = a.Tier
		}
	}
	return top
}

// PickUpUrgent promotes an urgent task to Assigned under agent.UID and
// returns the resulting AssignedTask. Returns Conflict if the assignment
// succeeded but the record vanished (an invariant violation) and a plain
// false/NotFound if the assignment itself failed (already taken or expired).
func PickUpUrgent(store *urgenttask.Store, agent types.Agent, id types.TaskId) (types.AssignedTask, error) {
	if !store.AssignTask(id, agent.UID) {
		return types.AssignedTask{}, brokererr.NewNotFound("urgent task %s", id)
	}
	assigned, ok := store.GetAssignedTask(id)
	if !ok {
		return types.AssignedTask{}, brokererr.NewConflict("urgent task %s vanished after assignment", id)
	}
	return assigned, nil
}

// PickUpRegular promotes a durable task to Assigned under agent.UID.
// Conflict propagates from the durable store on a miss (already taken).
func PickUpRegular(store *durabletask.Store, agent types.Agent, id types.TaskId) (types.AssignedTask, error) {
	return store.Assign(id, agent.UID, time.Now())
}

// ReportUrgent maps the agent's result report onto the urgent store's
// complete_task and reports whether the urgent store owned the id.
func ReportUrgent(store *urgenttask.Store, id types.TaskId, report types.TaskResultReport) error {
	return store.CompleteTask(id, report.Succeeded(), report.Output)
}

// ReportRegular fetches the durable assigned task, mutates status and
// result, and writes it back. NotFound on miss.
func ReportRegular(store *durabletask.Store, id types.TaskId, report types.TaskResultReport) error {
	task, found, err := store.GetAssigned(id)
	if err != nil {
		return err
	}
	if !found {
		return brokererr.NewNotFound("assigned task %s", id)
	}

	if report.Succeeded() {
		task.Status = types.StatusCompleted
	} else {
		task.Status = types.StatusFailed
	}
	task.Result = report.Output
	return store.UpdateAssigned(task)
}

// UpdateUrgent appends a log fragment and/or sets the stage on an urgent
// entry's AssignedTask, without moving its status.
func UpdateUrgent(store *urgenttask.Store, id types.TaskId, update types.TaskProgressUpdate) error {
	if !store.UpdateTask(id, update.LogFragment, update.Stage) {
		return brokererr.NewNotFound("urgent task %s", id)
	}
	return nil
}

// UpdateRegular appends a log fragment and/or sets the stage on a durable
// assigned task, without moving its status.
func UpdateRegular(store *durabletask.Store, id types.TaskId, update types.TaskProgressUpdate) error {
	task, found, err := store.GetAssigned(id)
	if err != nil {
		return err
	}
	if !found {
		return brokererr.NewNotFound("assigned task %s", id)
	}
	if update.LogFragment != "" {
		task.Log += update.LogFragment
	}
	if update.Stage != "" {
		task.Stage = update.Stage
	}
	return store.UpdateAssigned(task)
}

// HasPotentialAgents reports whether some currently online agent advertises
// cap, the gatekeeper check for urgent submission.
func HasPotentialAgents(agents *agentregistry.Registry, cap string) (bool, error) {
	all, err := agents.ListAll()
	if err != nil {
		return false, err
	}
	now := time.Now()
	for _, a := range all {
		if a.HasCapability(cap) && a.IsOnline(now) {
			return true, nil
		}
	}
	return false, nil
}

// SubmitUrgent is the gatekeeper for an urgent submission: if no online
// agent could ever serve the capability it fails fast with
// SchedulingImpossible; otherwise it registers the task in the urgent store
// and returns the status channel for the caller to block on.
func SubmitUrgent(agents *agentregistry.Registry, store *urgenttask.Store, task types.UnassignedTask) (*broadcast.Channel[types.TaskStatus], error) {
	ok, err := HasPotentialAgents(agents, task.Data.Capability)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, brokererr.NewSchedulingImpossible("no online agent advertises capability %q", task.Data.Capability)
	}
	ch, err := store.AddTask(task, urgenttask.DefaultTTL)
	if err != nil {
		return nil, err
	}
	return ch, nil
}
