package agentregistry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexGrek/offloadmq/pkg/brokererr"
	"github.com/AlexGrek/offloadmq/pkg/types"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(t.TempDir(), 50*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestCreateAssignsUIDAndToken(t *testing.T) {
	r := openTestRegistry(t)

	created, err := r.Create(types.Agent{Capabilities: []string{"echo"}, Tier: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, created.UID)
	assert.Equal(t, created.UID[:8], created.UIDShort)
	assert.NotEmpty(t, created.PersonalLoginToken)

	got, err := r.Get(created.UID)
	require.NoError(t, err)
	assert.Equal(t, created.Capabilities, got.Capabilities)
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	r := openTestRegistry(t)
	_, err := r.Get("missing")
	be, ok := brokererr.As(err)
	require.True(t, ok)
	assert.Equal(t, brokererr.NotFound, be.Kind)
}

func TestUpdateUnknownReturnsNotFound(t *testing.T) {
	r := openTestRegistry(t)
	err := r.Update(types.Agent{UID: "ghost"})
	be, ok := brokererr.As(err)
	require.True(t, ok)
	assert.Equal(t, brokererr.NotFound, be.Kind)
}

func TestUpdateLastContactStampsAndOnlineBecomesTrue(t *testing.T) {
	r := openTestRegistry(t)
	created, err := r.Create(types.Agent{Capabilities: []string{"echo"}})
	require.NoError(t, err)

	now := time.Now()
	updated, err := r.UpdateLastContact(created.UID, now)
	require.NoError(t, err)
	assert.True(t, updated.IsOnline(now))
	assert.False(t, updated.IsOnline(now.Add(121*time.Second)))
}

func TestDeleteRemovesAgentAndToken(t *testing.T) {
	r := openTestRegistry(t)
	created, err := r.Create(types.Agent{})
	require.NoError(t, err)

	require.NoError(t, r.Delete(created.UID))
	_, err = r.Get(created.UID)
	assert.Error(t, err)
	assert.False(t, r.HasToken(created.PersonalLoginToken))
}

func TestListAllReturnsEveryAgent(t *testing.T) {
	r := openTestRegistry(t)
	_, err := r.Create(types.Agent{Capabilities: []string{"a"}})
	require.NoError(t, err)
	_, err = r.Create(types.Agent{Capabilities: []string{"b"}})
	require.NoError(t, err)

	all, err := r.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestHasToken(t *testing.T) {
	r := openTestRegistry(t)
	created, err := r.Create(types.Agent{})
	require.NoError(t, err)

	assert.True(t, r.HasToken(created.PersonalLoginToken))
	assert.False(t, r.HasToken("bogus"))
}
