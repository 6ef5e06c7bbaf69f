// Package types holds the domain model shared by every layer of the broker:
// agents, tasks, task ids, and the wire-level submission/report shapes.
package types

import "time"

// TaskId identifies a task by the capability it was submitted under plus a
// time-sortable id unique within that capability's namespace.
type TaskId struct {
	Capability string `json:"capability"`
	ID         string `json:"id"`
}

// String returns the client-facing form, "capability/id".
func (t TaskId) String() string {
	return t.Capability + "/" + t.ID
}

// StorageKey returns the form used as a durable-store and urgent-store map
// key, "capability|id", chosen so a capability prefix scan is a plain byte
// range.
func (t TaskId) StorageKey() string {
	return t.Capability + "|" + t.ID
}

// TaskStatus is the lifecycle state of a task, urgent or durable.
type TaskStatus string

const (
	StatusPending            TaskStatus = "Pending"
	StatusQueued             TaskStatus = "Queued"
	StatusPinned             TaskStatus = "Pinned"
	StatusAssigned           TaskStatus = "Assigned"
	StatusStarting           TaskStatus = "Starting"
	StatusRunning            TaskStatus = "Running"
	StatusCompleted          TaskStatus = "Completed"
	StatusFailed             TaskStatus = "Failed"
	StatusCanceled           TaskStatus = "Canceled"
	StatusFailedRetryPending TaskStatus = "FailedRetryPending"
	StatusFailedRetryDelayed TaskStatus = "FailedRetryDelayed"
)

// IsTerminal reports whether status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// TaskResultStatus is the outcome an agent reports for a completed task.
type TaskResultStatus string

const (
	ResultSuccess     TaskResultStatus = "Success"
	ResultFailure     TaskResultStatus = "Failure"
	ResultNotExecuted TaskResultStatus = "NotExecuted"
)

// JSON is an opaque JSON value, round-tripped without interpretation.
type JSON = map[string]any

// TaskSubmissionRequest is the client-supplied payload for a new task.
type TaskSubmissionRequest struct {
	Capability  string `json:"capability"`
	Urgent      bool   `json:"urgent"`
	Restartable bool   `json:"restartable"`
	Payload     JSON   `json:"payload"`
	ApiKey      string `json:"apiKey"`
}

// TaskEvent is one entry in an AssignedTask's history.
type TaskEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

// UnassignedTask is a task before it has been picked up by any agent.
type UnassignedTask struct {
	ID        TaskId                `json:"id"`
	Data      TaskSubmissionRequest `json:"data"`
	CreatedAt time.Time             `json:"createdAt"`
}

// AssignedTask is a task after pick-up: everything in UnassignedTask plus
// the fields that only make sense once an agent owns it.
type AssignedTask struct {
	ID         TaskId                `json:"id"`
	Data       TaskSubmissionRequest `json:"data"`
	CreatedAt  time.Time             `json:"createdAt"`
	AgentID    string                `json:"agentId"`
	Status     TaskStatus            `json:"status"`
	AssignedAt time.Time             `json:"assignedAt"`
	History    []TaskEvent           `json:"history"`
	Result     JSON                  `json:"result,omitempty"`
	Stage      string                `json:"stage,omitempty"`
	Log        string                `json:"log,omitempty"`
}

// Unassigned returns the UnassignedTask view of an AssignedTask, discarding
// assignment-only fields.
func (t AssignedTask) Unassigned() UnassignedTask {
	return UnassignedTask{ID: t.ID, Data: t.Data, CreatedAt: t.CreatedAt}
}

// AssignTo builds the AssignedTask produced by promoting an UnassignedTask
// to a given agent, with status set to the caller-supplied initial state.
func (t UnassignedTask) AssignTo(agentID string, status TaskStatus, now time.Time) AssignedTask {
	return AssignedTask{
		ID:         t.ID,
		Data:       t.Data,
		CreatedAt:  t.CreatedAt,
		AgentID:    agentID,
		Status:     status,
		AssignedAt: now,
		History: []TaskEvent{
			{Timestamp: now, Description: "assigned to " + agentID},
		},
	}
}

// TaskResultReport is what an agent submits to resolve a task it holds.
type TaskResultReport struct {
	ID         string           `json:"id"`
	Capability string           `json:"capability"`
	Status     TaskResultStatus `json:"status"`
	Output     JSON             `json:"output,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	DurationMs int64            `json:"durationMs,omitempty"`
}

// Succeeded reports whether the report describes a successful outcome.
func (r TaskResultReport) Succeeded() bool {
	return r.Status == ResultSuccess
}

// TaskProgressUpdate is what an agent submits to report partial progress.
type TaskProgressUpdate struct {
	LogFragment string `json:"logFragment,omitempty"`
	Stage       string `json:"stage,omitempty"`
}

// Agent is a registered worker pool: a unit that advertises capabilities and
// a tier, and polls for work.
type Agent struct {
	UID                string     `json:"uid"`
	UIDShort           string     `json:"uidShort"`
	PersonalLoginToken string     `json:"-"`
	RegisteredAt       time.Time  `json:"registeredAt"`
	LastContact        *time.Time `json:"lastContact,omitempty"`
	Capabilities       []string   `json:"capabilities"`
	Tier               uint8      `json:"tier"`
	Capacity           int        `json:"capacity"`
	SystemInfo         JSON       `json:"systemInfo,omitempty"`
}

// onlineWindow is the liveness window from spec: an agent is online iff its
// last contact was within this duration of now.
const onlineWindow = 120 * time.Second

// IsOnline is the online invariant: last_contact set and within 120s of now.
// It is always computed fresh — callers must never cache the result.
func (a Agent) IsOnline(now time.Time) bool {
	if a.LastContact == nil {
		return false
	}
	return now.Sub(*a.LastContact) <= onlineWindow
}

// HasCapability reports whether the agent advertises cap exactly.
func (a Agent) HasCapability(cap string) bool {
	for _, c := range a.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// AgentRegistrationRequest is the payload for /agent/register.
type AgentRegistrationRequest struct {
	ApiKey       string   `json:"apiKey"`
	Capabilities []string `json:"capabilities"`
	Tier         uint8    `json:"tier"`
	Capacity     int      `json:"capacity"`
	SystemInfo   JSON     `json:"systemInfo,omitempty"`
}

// AgentInfoUpdate is the payload for /private/agent/info/update: it
// overwrites the mutable advertisement fields of an agent wholesale.
type AgentInfoUpdate struct {
	Capabilities []string `json:"capabilities"`
	Tier         uint8    `json:"tier"`
	Capacity     int      `json:"capacity"`
	SystemInfo   JSON     `json:"systemInfo,omitempty"`
}

// ClientApiKey is a client-facing credential scoped to a set of capability
// patterns (see MatchesCapability for the matching rule).
type ClientApiKey struct {
	Key          string    `json:"key"`
	Capabilities []string  `json:"capabilities"`
	IsPredefined bool      `json:"isPredefined"`
	Created      time.Time `json:"created"`
	IsRevoked    bool      `json:"isRevoked"`
}

// MatchesCapability reports whether any pattern in the key's capability list
// grants required. A pattern of "*" grants everything, a pattern ending in
// "*" grants any capability sharing that prefix, anything else must match
// exactly.
func (k ClientApiKey) MatchesCapability(required string) bool {
	return HasCapability(k.Capabilities, required)
}

// HasCapability is the wildcard matcher shared by the API-key registry and
// the capability-intersection endpoint.
func HasCapability(patterns []string, required string) bool {
	for _, pattern := range patterns {
		if pattern == "*" {
			return true
		}
		if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
			prefix := pattern[:len(pattern)-1]
			if len(required) >= len(prefix) && required[:len(prefix)] == prefix {
				return true
			}
			continue
		}
		if pattern == required {
			return true
		}
	}
	return false
}
