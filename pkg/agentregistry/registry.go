// Package agentregistry implements the durable agent registry (C2): CRUD
// over agent records backed by pkg/kv, fronted by two TTL-based caches (an
// agent-record cache and a login-token presence cache) so that hot paths —
// every authenticated agent call stamps last_contact — don't hit disk.
package agentregistry

import (
	"encoding/json"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/AlexGrek/offloadmq/pkg/brokererr"
	"github.com/AlexGrek/offloadmq/pkg/idgen"
	"github.com/AlexGrek/offloadmq/pkg/kv"
	"github.com/AlexGrek/offloadmq/pkg/log"
	"github.com/AlexGrek/offloadmq/pkg/types"
)

var bucketAgents = []byte("agents")

// DefaultCacheTTL is the default TTL for both the agent-record cache and the
// login-token presence cache, per spec.
const DefaultCacheTTL = 120 * time.Second

const maxUIDCollisionRetries = 10

// Registry is the agent registry: a durable kv-backed map of uid to Agent,
// with TTL caches in front.
type Registry struct {
	store      *kv.Store
	agentCache *cache.Cache
	tokenCache *cache.Cache
}

// Open opens (creating if absent) the durable agent store at dataDir and
// warms the agent cache from it, skipping and logging any corrupt entries.
func Open(dataDir string, ttl time.Duration) (*Registry, error) {
	store, err := kv.Open(dataDir, "agents.db", bucketAgents)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.Database, err)
	}

	r := &Registry{
		store:      store,
		agentCache: cache.New(ttl, ttl),
		tokenCache: cache.New(ttl, ttl),
	}

	if err := r.warmCache(); err != nil {
		store.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) warmCache() error {
	logger := log.WithComponent("agentregistry")
	return r.store.ForEach(bucketAgents, func(key, value []byte) error {
		var agent types.Agent
		if err := json.Unmarshal(value, &agent); err != nil {
			logger.Warn().Str("uid", string(key)).Err(err).Msg("skipping corrupt agent record during warm-up")
			return nil
		}
		r.agentCache.SetDefault(agent.UID, agent)
		if agent.PersonalLoginToken != "" {
			r.tokenCache.SetDefault(agent.PersonalLoginToken, struct{}{})
		}
		return nil
	})
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}

// Create persists a new agent, generating a collision-free uid and deriving
// uid_short, then populates both caches.
func (r *Registry) Create(agent types.Agent) (types.Agent, error) {
	for attempt := 0; attempt < maxUIDCollisionRetries; attempt++ {
		uid := idgen.New()
		if _, found, err := r.store.Get(bucketAgents, uid); err != nil {
			return types.Agent{}, brokererr.Wrap(brokererr.Database, err)
		} else if found {
			continue
		}
		if _, found := r.agentCache.Get(uid); found {
			continue
		}

		agent.UID = uid
		agent.UIDShort = idgen.Short(uid, 8)
		agent.PersonalLoginToken = idgen.Token()

		if err := r.persist(agent); err != nil {
			return types.Agent{}, err
		}
		r.agentCache.SetDefault(agent.UID, agent)
		r.tokenCache.SetDefault(agent.PersonalLoginToken, struct{}{})
		return agent, nil
	}
	return types.Agent{}, brokererr.NewInternal("could not generate a unique agent uid after %d attempts", maxUIDCollisionRetries)
}

func (r *Registry) persist(agent types.Agent) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return brokererr.Wrap(brokererr.Serialization, err)
	}
	if err := r.store.Put(bucketAgents, agent.UID, data); err != nil {
		return brokererr.Wrap(brokererr.Database, err)
	}
	return nil
}

// Get returns the agent with the given uid, cache-first with populate-on-miss.
func (r *Registry) Get(uid string) (types.Agent, error) {
	if cached, found := r.agentCache.Get(uid); found {
		return cached.(types.Agent), nil
	}

	value, found, err := r.store.Get(bucketAgents, uid)
	if err != nil {
		return types.Agent{}, brokererr.Wrap(brokererr.Database, err)
	}
	if !found {
		return types.Agent{}, brokererr.NewNotFound("agent %s", uid)
	}

	var agent types.Agent
	if err := json.Unmarshal(value, &agent); err != nil {
		return types.Agent{}, brokererr.Wrap(brokererr.Serialization, err)
	}
	r.agentCache.SetDefault(uid, agent)
	return agent, nil
}

// Update persists agent, failing with NotFound if uid is unknown.
func (r *Registry) Update(agent types.Agent) error {
	if _, found, err := r.store.Get(bucketAgents, agent.UID); err != nil {
		return brokererr.Wrap(brokererr.Database, err)
	} else if !found {
		return brokererr.NewNotFound("agent %s", agent.UID)
	}
	if err := r.persist(agent); err != nil {
		return err
	}
	r.agentCache.SetDefault(agent.UID, agent)
	r.tokenCache.SetDefault(agent.PersonalLoginToken, struct{}{})
	return nil
}

// UpdateLastContact stamps last_contact = now on the agent and persists it.
func (r *Registry) UpdateLastContact(uid string, now time.Time) (types.Agent, error) {
	agent, err := r.Get(uid)
	if err != nil {
		return types.Agent{}, err
	}
	agent.LastContact = &now
	if err := r.Update(agent); err != nil {
		return types.Agent{}, err
	}
	return agent, nil
}

// Delete removes the agent and drops it from both caches.
func (r *Registry) Delete(uid string) error {
	agent, err := r.Get(uid)
	if err == nil {
		r.tokenCache.Delete(agent.PersonalLoginToken)
	}
	if err := r.store.Delete(bucketAgents, uid); err != nil {
		return brokererr.Wrap(brokererr.Database, err)
	}
	r.agentCache.Delete(uid)
	return nil
}

// ListAll returns every agent from the durable store. The cache may be
// stale or partial, so this always does a full scan; order is unspecified.
func (r *Registry) ListAll() ([]types.Agent, error) {
	var out []types.Agent
	logger := log.WithComponent("agentregistry")
	err := r.store.ForEach(bucketAgents, func(key, value []byte) error {
		var agent types.Agent
		if err := json.Unmarshal(value, &agent); err != nil {
			logger.Warn().Str("uid", string(key)).Err(err).Msg("skipping corrupt agent record during list")
			return nil
		}
		out = append(out, agent)
		return nil
	})
	if err != nil {
		return nil, brokererr.Wrap(brokererr.Database, err)
	}
	return out, nil
}

// HasToken reports whether token is currently present in the login-token
// cache, i.e. belongs to some agent that has been created or loaded. Used as
// a fast rejection of bogus keys on /agent/auth before the agentId lookup.
func (r *Registry) HasToken(token string) bool {
	_, found := r.tokenCache.Get(token)
	return found
}
