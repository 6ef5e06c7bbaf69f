package apikeys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexGrek/offloadmq/pkg/brokererr"
	"github.com/AlexGrek/offloadmq/pkg/types"
)

func clientKey(key string, caps []string) types.ClientApiKey {
	return types.ClientApiKey{Key: key, Capabilities: caps, Created: time.Now()}
}

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestInitializeFromListSeedsUniversalKeys(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.InitializeFromList([]string{"k1", "k2"}))

	assert.NoError(t, r.Verify("k1", "anything"))
	assert.NoError(t, r.Verify("k2", "anything"))
	assert.Error(t, r.Verify("k3", "anything"))
}

func TestVerifyRespectsCapabilityPattern(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.Upsert(clientKey("k", []string{"foo*"})))

	assert.NoError(t, r.Verify("k", "foobar"))
	assert.Error(t, r.Verify("k", "barfoo"))
}

func TestRevokeArchivesAndInvalidates(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.Upsert(clientKey("k", []string{"*"})))
	require.NoError(t, r.Verify("k", "x"))

	require.NoError(t, r.Revoke("k"))

	err := r.Verify("k", "x")
	be, ok := brokererr.As(err)
	require.True(t, ok)
	assert.Equal(t, brokererr.Authorization, be.Kind)

	_, found, err := r.FindActive("k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWildcardMatchTable(t *testing.T) {
	assert.True(t, types.HasCapability([]string{"*"}, "anything"))
	assert.True(t, types.HasCapability([]string{"foo*"}, "foobar"))
	assert.False(t, types.HasCapability([]string{"foo"}, "foobar"))
}
