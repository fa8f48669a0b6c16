package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwareness_MembersOrderedByJoin(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	a := NewAwareness(time.Minute)

	assert.True(t, a.Update("peer-c", "Carol", "red", now.Add(2*time.Second).UnixMilli(), now))
	assert.True(t, a.Update("peer-b", "Bob", "blue", now.UnixMilli(), now))
	assert.True(t, a.Update("peer-a", "Alice", "green", now.UnixMilli(), now))

	members := a.Members()
	require.Len(t, members, 3)
	assert.Equal(t, "peer-a", members[0].Id)
	assert.Equal(t, "peer-b", members[1].Id)
	assert.Equal(t, "peer-c", members[2].Id)

	assert.True(t, members[0].IsHost)
	assert.False(t, members[1].IsHost)
	assert.False(t, members[2].IsHost)
}

func TestAwareness_UpdateKeepsPlace(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	a := NewAwareness(time.Minute)

	a.Update("peer-a", "Alice", "green", 0, now)
	a.Update("peer-b", "Bob", "blue", 0, now.Add(time.Second))

	assert.False(t, a.Update("peer-a", "Alicia", "green", 0, now.Add(time.Hour)))

	members := a.Members()
	require.Len(t, members, 2)
	assert.Equal(t, "Alicia", members[0].Username)
	assert.True(t, members[0].IsHost)
}

func TestAwareness_Expire(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	a := NewAwareness(10 * time.Second)

	a.Update("self", "Me", "green", 0, now)
	a.Update("peer-a", "Alice", "green", 0, now)
	a.Update("peer-b", "Bob", "blue", 0, now.Add(8*time.Second))

	assert.Empty(t, a.Expire(now.Add(10*time.Second), "self"))

	expired := a.Expire(now.Add(11*time.Second), "self")
	assert.Equal(t, []string{"peer-a"}, expired)
	assert.Equal(t, 2, a.Len())
}

func TestAwareness_Remove(t *testing.T) {
	a := NewAwareness(0)
	a.Update("peer-a", "Alice", "green", 0, time.Now())

	assert.True(t, a.Remove("peer-a"))
	assert.False(t, a.Remove("peer-a"))
	assert.Empty(t, a.Members())
}
