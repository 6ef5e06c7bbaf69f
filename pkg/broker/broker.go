// Package broker is the façade (C7) binding the agent registry, the
// API-key registry, the durable task store, the urgent task store and the
// scheduler to the external request surface. It owns authentication
// (agent JWT issuance/verification, client API-key checks), last_contact
// stamping, and the blocking-wait conversion for urgent submissions.
package broker

import (
	"context"
	"math/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AlexGrek/offloadmq/pkg/agentregistry"
	"github.com/AlexGrek/offloadmq/pkg/apikeys"
	"github.com/AlexGrek/offloadmq/pkg/brokererr"
	"github.com/AlexGrek/offloadmq/pkg/durabletask"
	"github.com/AlexGrek/offloadmq/pkg/idgen"
	"github.com/AlexGrek/offloadmq/pkg/metrics"
	"github.com/AlexGrek/offloadmq/pkg/scheduler"
	"github.com/AlexGrek/offloadmq/pkg/types"
	"github.com/AlexGrek/offloadmq/pkg/urgenttask"
)

// AgentTokenTTL is the validity window of an issued agent bearer token.
const AgentTokenTTL = 24 * time.Hour

// Broker is the broker façade.
type Broker struct {
	Agents  *agentregistry.Registry
	Keys    *apikeys.Registry
	Durable *durabletask.Store
	Urgent  *urgenttask.Store

	jwtSecret    []byte
	agentAPIKeys map[string]struct{}
}

// New constructs a Broker over already-open stores. agentAPIKeys is the
// allowlist checked against apiKey on /agent/register.
func New(agents *agentregistry.Registry, keys *apikeys.Registry, durable *durabletask.Store, urgent *urgenttask.Store, jwtSecret string, agentAPIKeys []string) *Broker {
	allow := make(map[string]struct{}, len(agentAPIKeys))
	for _, k := range agentAPIKeys {
		allow[k] = struct{}{}
	}
	return &Broker{
		Agents:       agents,
		Keys:         keys,
		Durable:      durable,
		Urgent:       urgent,
		jwtSecret:    []byte(jwtSecret),
		agentAPIKeys: allow,
	}
}

// RegisterAgent validates req.ApiKey against the registration allowlist and
// creates a new agent record.
func (b *Broker) RegisterAgent(req types.AgentRegistrationRequest) (types.Agent, error) {
	if _, ok := b.agentAPIKeys[req.ApiKey]; !ok {
		return types.Agent{}, brokererr.NewAuthentication("unknown agent registration key")
	}
	return b.Agents.Create(types.Agent{
		RegisteredAt: time.Now(),
		Capabilities: req.Capabilities,
		Tier:         req.Tier,
		Capacity:     req.Capacity,
		SystemInfo:   req.SystemInfo,
	})
}

// AuthenticateAgent exchanges {agentId, key} for a bearer JWT, verifying key
// against the agent's personal login token.
func (b *Broker) AuthenticateAgent(agentID, key string) (token string, expiresIn int64, err error) {
	if !b.Agents.HasToken(key) {
		return "", 0, brokererr.NewAuthentication("invalid agent key")
	}
	agent, err := b.Agents.Get(agentID)
	if err != nil {
		return "", 0, brokererr.NewAuthentication("unknown agent")
	}
	if agent.PersonalLoginToken != key {
		return "", 0, brokererr.NewAuthentication("invalid agent key")
	}

	claims := jwt.RegisteredClaims{
		Subject:   agent.UID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(AgentTokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.jwtSecret)
	if err != nil {
		return "", 0, brokererr.Wrap(brokererr.Internal, err)
	}
	return signed, int64(AgentTokenTTL.Seconds()), nil
}

// VerifyAgentToken validates a bearer JWT and returns the agent it
// authenticates, stamping last_contact on the way out.
func (b *Broker) VerifyAgentToken(tokenString string) (types.Agent, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return b.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return types.Agent{}, brokererr.NewAuthentication("invalid or expired token")
	}
	agent, err := b.Agents.UpdateLastContact(claims.Subject, time.Now())
	if err != nil {
		return types.Agent{}, brokererr.NewAuthentication("unknown agent")
	}
	return agent, nil
}

// UpdateAgentInfo overwrites the agent's advertised capabilities/tier/
// capacity/systemInfo.
func (b *Broker) UpdateAgentInfo(agent types.Agent, update types.AgentInfoUpdate) (types.Agent, error) {
	agent.Capabilities = update.Capabilities
	agent.Tier = update.Tier
	agent.Capacity = update.Capacity
	agent.SystemInfo = update.SystemInfo
	if err := b.Agents.Update(agent); err != nil {
		return types.Agent{}, err
	}
	return agent, nil
}

// PollUrgent returns the first matching unassigned urgent task, if any.
func (b *Broker) PollUrgent(agent types.Agent) (types.UnassignedTask, bool) {
	return scheduler.FindUrgent(b.Urgent, agent.Capabilities)
}

// PollTask is urgent-first, else one regular task picked uniformly at random
// from those eligible under the tier-suppression rule, else a not-found miss.
func (b *Broker) PollTask(agent types.Agent) (types.UnassignedTask, bool, error) {
	if task, ok := scheduler.FindUrgent(b.Urgent, agent.Capabilities); ok {
		return task, true, nil
	}
	eligible, err := scheduler.FindAssignableRegular(b.Durable, b.Agents, agent.Capabilities, agent.Tier)
	if err != nil {
		return types.UnassignedTask{}, false, err
	}
	if len(eligible) == 0 {
		return types.UnassignedTask{}, false, nil
	}
	return eligible[rand.Intn(len(eligible))], true, nil
}

// Take picks up id for agent, trying the urgent store first and falling
// back to the durable store.
func (b *Broker) Take(agent types.Agent, id types.TaskId) (types.AssignedTask, error) {
	timer := metrics.NewTimer()
	if _, ok := b.Urgent.GetAssignedTask(id); ok {
		return types.AssignedTask{}, brokererr.NewConflict("urgent task %s already taken", id)
	}
	if assigned, err := scheduler.PickUpUrgent(b.Urgent, agent, id); err == nil {
		metrics.TasksAssignedTotal.WithLabelValues("urgent").Inc()
		timer.ObserveDurationVec(metrics.SchedulingLatency, "urgent")
		return assigned, nil
	}

	assigned, err := scheduler.PickUpRegular(b.Durable, agent, id)
	if err != nil {
		return types.AssignedTask{}, err
	}
	metrics.TasksAssignedTotal.WithLabelValues("regular").Inc()
	timer.ObserveDurationVec(metrics.SchedulingLatency, "regular")
	return assigned, nil
}

// Resolve submits a final report for id, trying urgent then durable.
func (b *Broker) Resolve(id types.TaskId, report types.TaskResultReport) error {
	outcome := "failed"
	if report.Succeeded() {
		outcome = "completed"
	}
	if err := scheduler.ReportUrgent(b.Urgent, id, report); err == nil {
		metrics.TasksCompletedTotal.WithLabelValues("urgent", outcome).Inc()
		return nil
	}
	if err := scheduler.ReportRegular(b.Durable, id, report); err != nil {
		return err
	}
	metrics.TasksCompletedTotal.WithLabelValues("regular", outcome).Inc()
	return nil
}

// Progress appends a log fragment and/or sets the stage for id, trying
// urgent then durable.
func (b *Broker) Progress(id types.TaskId, update types.TaskProgressUpdate) error {
	if err := scheduler.UpdateUrgent(b.Urgent, id, update); err == nil {
		return nil
	}
	return scheduler.UpdateRegular(b.Durable, id, update)
}

// SubmitTask dispatches req to the urgent or durable store per req.Urgent
// and returns the resulting TaskId.
func (b *Broker) SubmitTask(req types.TaskSubmissionRequest) (types.TaskId, error) {
	id := types.TaskId{Capability: req.Capability, ID: idgen.New()}
	task := types.UnassignedTask{ID: id, Data: req, CreatedAt: time.Now()}

	metrics.TasksSubmittedTotal.WithLabelValues(mode(req.Urgent), req.Capability).Inc()

	if req.Urgent {
		if _, err := scheduler.SubmitUrgent(b.Agents, b.Urgent, task); err != nil {
			return types.TaskId{}, err
		}
		return id, nil
	}
	if err := b.Durable.AddUnassigned(task); err != nil {
		return types.TaskId{}, err
	}
	return id, nil
}

// SubmitBlocking submits an urgent task and blocks until it reaches a
// terminal status or ctx is done, then removes the entry and returns the
// final AssignedTask.
func (b *Broker) SubmitBlocking(ctx context.Context, req types.TaskSubmissionRequest) (types.AssignedTask, error) {
	req.Urgent = true
	id := types.TaskId{Capability: req.Capability, ID: idgen.New()}
	task := types.UnassignedTask{ID: id, Data: req, CreatedAt: time.Now()}

	metrics.TasksSubmittedTotal.WithLabelValues("urgent", req.Capability).Inc()

	status, err := scheduler.SubmitUrgent(b.Agents, b.Urgent, task)
	if err != nil {
		return types.AssignedTask{}, err
	}

	sub, unsubscribe := status.Subscribe()
	defer unsubscribe()
	defer b.Urgent.RemoveTask(id)

	for !status.Get().IsTerminal() {
		select {
		case <-sub:
		case <-ctx.Done():
			return types.AssignedTask{}, brokererr.NewInternal("urgent submission canceled: %v", ctx.Err())
		}
	}

	assigned, ok := b.Urgent.GetAssignedTask(id)
	if !ok {
		return types.AssignedTask{ID: id, Status: status.Get()}, nil
	}
	return assigned, nil
}

// PollStatus looks up id's current AssignedTask across urgent and durable
// stores, enforcing that key grants the task's capability.
func (b *Broker) PollStatus(key string, id types.TaskId) (types.AssignedTask, error) {
	if err := b.Keys.Verify(key, id.Capability); err != nil {
		return types.AssignedTask{}, err
	}
	if assigned, ok := b.Urgent.GetAssignedTask(id); ok {
		return assigned, nil
	}
	assigned, found, err := b.Durable.GetAssigned(id)
	if err != nil {
		return types.AssignedTask{}, err
	}
	if !found {
		return types.AssignedTask{}, brokererr.NewNotFound("task %s", id)
	}
	return assigned, nil
}

// CapabilitiesOnline returns the intersection of every capability
// advertised by a currently online agent with the capabilities key grants.
func (b *Broker) CapabilitiesOnline(key string) ([]string, error) {
	k, found, err := b.Keys.FindActive(key)
	if err != nil {
		return nil, err
	}
	if !found || k.IsRevoked {
		return nil, brokererr.NewAuthorization("API key invalid")
	}

	agents, err := b.Agents.ListAll()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	seen := make(map[string]struct{})
	var out []string
	for _, a := range agents {
		if !a.IsOnline(now) {
			continue
		}
		for _, cap := range a.Capabilities {
			if _, dup := seen[cap]; dup {
				continue
			}
			if !k.MatchesCapability(cap) {
				continue
			}
			seen[cap] = struct{}{}
			out = append(out, cap)
		}
	}
	return out, nil
}

func mode(urgent bool) string {
	if urgent {
		return "urgent"
	}
	return "regular"
}
