// Package apikeys implements the client API-key registry (C3): an active/
// archived pair of durable trees, wildcard capability matching, and an
// atomic active-to-archived move on revocation.
package apikeys

import (
	"encoding/json"
	"time"

	"github.com/AlexGrek/offloadmq/pkg/brokererr"
	"github.com/AlexGrek/offloadmq/pkg/kv"
	"github.com/AlexGrek/offloadmq/pkg/types"
)

var (
	bucketActive   = []byte("api_keys_active")
	bucketArchived = []byte("api_keys_archived")
)

// Registry is the durable client API-key store.
type Registry struct {
	store *kv.Store
}

// Open opens (creating if absent) the API-key store at dataDir.
func Open(dataDir string) (*Registry, error) {
	store, err := kv.Open(dataDir, "client_api_keys.db", bucketActive, bucketArchived)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.Database, err)
	}
	return &Registry{store: store}, nil
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}

// FindActive returns the active key record for key, if any.
func (r *Registry) FindActive(key string) (types.ClientApiKey, bool, error) {
	value, found, err := r.store.Get(bucketActive, key)
	if err != nil {
		return types.ClientApiKey{}, false, brokererr.Wrap(brokererr.Database, err)
	}
	if !found {
		return types.ClientApiKey{}, false, nil
	}
	var k types.ClientApiKey
	if err := json.Unmarshal(value, &k); err != nil {
		return types.ClientApiKey{}, false, brokererr.Wrap(brokererr.Serialization, err)
	}
	return k, true, nil
}

// Verify succeeds iff key names an active, non-revoked record that grants
// the requiredCap (per types.HasCapability wildcard matching).
func (r *Registry) Verify(key, requiredCap string) error {
	k, found, err := r.FindActive(key)
	if err != nil {
		return err
	}
	if found && !k.IsRevoked && k.MatchesCapability(requiredCap) {
		return nil
	}
	return brokererr.NewAuthorization("API key invalid")
}

// IsRealNotRevoked reports whether key names an active, non-revoked record,
// without regard to capability.
func (r *Registry) IsRealNotRevoked(key string) bool {
	k, found, err := r.FindActive(key)
	return err == nil && found && !k.IsRevoked
}

// ListAll returns every active key record.
func (r *Registry) ListAll() ([]types.ClientApiKey, error) {
	var out []types.ClientApiKey
	err := r.store.ForEach(bucketActive, func(key, value []byte) error {
		var k types.ClientApiKey
		if err := json.Unmarshal(value, &k); err == nil {
			out = append(out, k)
		}
		return nil
	})
	if err != nil {
		return nil, brokererr.Wrap(brokererr.Database, err)
	}
	return out, nil
}

// Upsert inserts or overwrites an active key record.
func (r *Registry) Upsert(key types.ClientApiKey) error {
	data, err := json.Marshal(key)
	if err != nil {
		return brokererr.Wrap(brokererr.Serialization, err)
	}
	if err := r.store.Put(bucketActive, key.Key, data); err != nil {
		return brokererr.Wrap(brokererr.Database, err)
	}
	return nil
}

// Update upserts key into active, unless it is revoked, in which case it is
// moved atomically into archived and removed from active.
func (r *Registry) Update(key types.ClientApiKey) error {
	data, err := json.Marshal(key)
	if err != nil {
		return brokererr.Wrap(brokererr.Serialization, err)
	}
	if !key.IsRevoked {
		if err := r.store.Put(bucketActive, key.Key, data); err != nil {
			return brokererr.Wrap(brokererr.Database, err)
		}
		return nil
	}
	if _, err := r.store.Move(bucketActive, key.Key, bucketArchived, key.Key, data); err != nil {
		return brokererr.Wrap(brokererr.Database, err)
	}
	return nil
}

// Revoke marks key as revoked and archives it.
func (r *Registry) Revoke(key string) error {
	k, found, err := r.FindActive(key)
	if err != nil {
		return err
	}
	if !found {
		return brokererr.NewNotFound("api key %s", key)
	}
	k.IsRevoked = true
	return r.Update(k)
}

// InitializeFromList seeds predefined universal-capability keys, the same
// set the process was configured with via CLIENT_API_KEYS, so that process
// restarts don't require re-issuing keys out of band.
func (r *Registry) InitializeFromList(keys []string) error {
	for _, key := range keys {
		if err := r.Upsert(types.ClientApiKey{
			Key:          key,
			Capabilities: []string{"*"},
			IsPredefined: true,
			Created:      time.Now(),
			IsRevoked:    false,
		}); err != nil {
			return err
		}
	}
	return nil
}
