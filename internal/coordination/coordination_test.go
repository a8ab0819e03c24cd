package coordination

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-micro.dev/v4/registry"
)

func TestNew_GeneratesDistinctIDsPerAddress(t *testing.T) {
	a, err := New("10.0.0.1:8080", WithNodeNumber(1))
	require.NoError(t, err)
	b, err := New("10.0.0.2:8080", WithNodeNumber(2))
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.IsLeader())
	assert.Empty(t, a.LeaderID())
}

func TestNextID_IsUniqueAndNonEmpty(t *testing.T) {
	n, err := New("10.0.0.1:8080")
	require.NoError(t, err)

	first := n.NextID()
	second := n.NextID()
	assert.NotEqual(t, first, second)
	assert.NotEmpty(t, first)
}

func TestCampaign_FailsWithoutEtcdEndpoints(t *testing.T) {
	n, err := New("10.0.0.1:8080")
	require.NoError(t, err)

	err = n.Campaign(context.Background())
	assert.Error(t, err)
}

func TestMembers_EmptyBeforeAnyWatch(t *testing.T) {
	n, err := New("10.0.0.1:8080")
	require.NoError(t, err)
	assert.Empty(t, n.Members())
}

func TestMembershipDiff(t *testing.T) {
	old := map[string]*registry.Node{
		"a": {Id: "a", Address: "1.1.1.1:1"},
		"b": {Id: "b", Address: "2.2.2.2:2"},
	}
	next := map[string]*registry.Node{
		"a": {Id: "a", Address: "1.1.1.1:1"},
		"b": {Id: "b", Address: "9.9.9.9:9"},
		"c": {Id: "c", Address: "3.3.3.3:3"},
	}

	added, removed, changed := membershipDiff(old, next)
	assert.Equal(t, []string{"c"}, added)
	assert.Empty(t, removed)
	assert.Equal(t, []string{"b"}, changed)
}

func TestMembershipDiff_DetectsRemoval(t *testing.T) {
	old := map[string]*registry.Node{"a": {Id: "a"}}
	next := map[string]*registry.Node{}

	added, removed, changed := membershipDiff(old, next)
	assert.Empty(t, added)
	assert.Equal(t, []string{"a"}, removed)
	assert.Empty(t, changed)
}
