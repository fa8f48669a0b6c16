package room

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncbeats/server/internal/chat"
)

func member(id string) Member {
	return Member{Id: id, Username: "user-" + id, Color: "#fff"}
}

func TestJoinUpToCapacity(t *testing.T) {
	for _, limit := range []int{1, 2, 5, 20} {
		r := New("abc123", time.Now())
		for i := 0; i < limit; i++ {
			m, err := r.Join(member(fmt.Sprint(i)), limit)
			require.NoError(t, err)
			assert.Equal(t, i == 0, m.IsHost)
			assert.True(t, m.IsOnline)
		}

		_, err := r.Join(member("extra"), limit)
		assert.ErrorIs(t, err, ErrRoomFull)
		assert.Equal(t, limit, r.Len())
	}
}

func TestJoinUnlimited(t *testing.T) {
	r := New("mesh", time.Now())
	for i := 0; i < 50; i++ {
		_, err := r.Join(member(fmt.Sprint(i)), 0)
		require.NoError(t, err)
	}
	assert.Equal(t, 50, r.Len())
}

func TestJoinDuplicate(t *testing.T) {
	r := New("abc123", time.Now())
	_, err := r.Join(member("a"), 20)
	require.NoError(t, err)
	_, err = r.Join(member("a"), 20)
	assert.ErrorIs(t, err, ErrMemberExists)
}

func TestLeaveTransfersHost(t *testing.T) {
	r := New("abc123", time.Now())
	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Join(member(id), 20)
		require.NoError(t, err)
	}

	res, err := r.Leave("a", HostPolicyTransfer)
	require.NoError(t, err)
	assert.False(t, res.Closed)
	require.NotNil(t, res.NewHost)
	assert.Equal(t, "b", res.NewHost.Id)
	assert.True(t, r.IsHost("b"))

	hosts := 0
	for _, m := range r.Members {
		if m.IsHost {
			hosts++
		}
	}
	assert.Equal(t, 1, hosts)

	res, err = r.Leave("c", HostPolicyTransfer)
	require.NoError(t, err)
	assert.Nil(t, res.NewHost)
	assert.Equal(t, []string{"b"}, ids(r.Members))

	res, err = r.Leave("b", HostPolicyTransfer)
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.True(t, r.IsEmpty())
	assert.Empty(t, r.HostId)

	_, err = r.Leave("b", HostPolicyTransfer)
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestLeaveTeardown(t *testing.T) {
	r := New("abc123", time.Now())
	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Join(member(id), 20)
		require.NoError(t, err)
	}

	res, err := r.Leave("b", HostPolicyTeardown)
	require.NoError(t, err)
	assert.False(t, res.Closed)

	res, err = r.Leave("a", HostPolicyTeardown)
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, []string{"c"}, ids(res.Evicted))
	assert.True(t, r.IsEmpty())
}

func TestSnapshotIsCopy(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	r := New("abc123", now)
	_, err := r.Join(member("a"), 20)
	require.NoError(t, err)
	r.Player.Playing = true
	r.AppendChat(chat.Message{Id: "1", Text: "hi"}, 100)

	snap := r.Snapshot(now.Add(3*time.Second), 252)
	assert.InDelta(t, 3.0, snap.Player.Position, 0.001)
	assert.Equal(t, 0.0, r.Player.Position)

	snap.Members[0].Username = "changed"
	assert.Equal(t, "user-a", r.Members[0].Username)
	assert.Len(t, snap.Chat, 1)
}

func TestAppendChatBounded(t *testing.T) {
	r := New("abc123", time.Now())
	for i := 0; i < 10; i++ {
		r.AppendChat(chat.Message{Id: fmt.Sprint(i)}, 3)
	}
	require.Len(t, r.Chat, 3)
	assert.Equal(t, "7", r.Chat[0].Id)
	assert.Equal(t, "9", r.Chat[2].Id)
}

func ids(members []Member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Id)
	}
	return out
}

func TestRandomDefaults(t *testing.T) {
	assert.Regexp(t, `^hsl\(\d{1,3},70%,60%\)$`, RandomColor())
	assert.Regexp(t, `^Anon\d{1,2}$`, RandomUsername())
}
