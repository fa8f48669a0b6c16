package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncbeats/server/internal/catalog"
	"github.com/syncbeats/server/internal/controller"
	"github.com/syncbeats/server/internal/player"
	"github.com/syncbeats/server/internal/repository/connection/inmemory"
	roomInmemory "github.com/syncbeats/server/internal/repository/room/inmemory"
	domain "github.com/syncbeats/server/internal/room"
	"github.com/syncbeats/server/internal/service/room"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newRelay(t *testing.T, cfg *room.Config) string {
	t.Helper()

	if cfg == nil {
		cfg = &room.Config{MembersLimit: 20, ChatLimit: 100}
	}
	cat := catalog.Default()
	service := room.NewService(roomInmemory.NewRepo(), inmemory.NewRepo(), cat, cfg)
	srv := httptest.NewServer(controller.NewController(service, cat, discard).GetMux())
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
}

func newClient(t *testing.T, url string) *Client {
	t.Helper()

	return dialClient(t, &Config{URL: url, Tracks: catalog.Default(), Logger: discard})
}

func dialClient(t *testing.T, cfg *Config) *Client {
	t.Helper()

	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c
}

func joinClient(t *testing.T, url, roomId, username string) *Client {
	t.Helper()

	return join(t, newClient(t, url), roomId, username)
}

func join(t *testing.T, c *Client, roomId, username string) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := c.Join(ctx, roomId, username, "")
	require.NoError(t, err)

	return c
}

func TestMirrorFollowsTogglePlay(t *testing.T) {
	url := newRelay(t, nil)

	alice := joinClient(t, url, "abc123", "Alice")
	bob := joinClient(t, url, "abc123", "Bob")

	assert.Eventually(t, func() bool { return len(alice.Room().Members) == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Len(t, bob.Room().Members, 2)
	assert.Equal(t, alice.MemberId(), bob.Room().HostId)
	assert.False(t, bob.Playing())

	require.NoError(t, alice.TogglePlay(context.Background()))
	assert.True(t, alice.Playing())

	assert.Eventually(t, func() bool { return bob.Playing() }, 3*time.Second, 10*time.Millisecond)
	assert.True(t, bob.Room().Player.Playing)
}

func TestSetTrackAndSeekPropagate(t *testing.T) {
	url := newRelay(t, nil)

	alice := joinClient(t, url, "abc123", "Alice")
	bob := joinClient(t, url, "abc123", "Bob")

	require.NoError(t, alice.SetTrack(context.Background(), 2, false))
	require.NoError(t, alice.Seek(context.Background(), 100))
	assert.Eventually(t, func() bool { return alice.Room().Player.Revision == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 100.0, alice.Position(), 0.001)

	assert.Eventually(t, func() bool {
		r := bob.Room()
		return r.Player.TrackIndex == 2 && r.Player.Position == 100
	}, 3*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 100.0, bob.Position(), 0.001)

	assert.ErrorIs(t, alice.SetTrack(context.Background(), 7, true), player.ErrUnknownTrack)
}

func TestRoomFull(t *testing.T) {
	url := newRelay(t, &room.Config{MembersLimit: 1, ChatLimit: 100})

	joinClient(t, url, "abc123", "Alice")

	late := newClient(t, url)
	_, err := late.Join(context.Background(), "abc123", "Bob", "")
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.ErrorIs(t, late.TogglePlay(context.Background()), ErrNotJoined)
}

func TestJoinTimesOut(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, "ws"+strings.TrimPrefix(srv.URL, "http"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.Join(ctx, "abc123", "Alice", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChatAndHostChange(t *testing.T) {
	url := newRelay(t, nil)

	alice := joinClient(t, url, "abc123", "Alice")
	bob := joinClient(t, url, "abc123", "Bob")

	require.NoError(t, alice.Chat(context.Background(), "hi bob"))
	assert.Eventually(t, func() bool {
		msgs := bob.Room().Chat
		return len(msgs) == 1 && msgs[0].Text == "hi bob"
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Close())
	assert.Eventually(t, func() bool {
		r := bob.Room()
		return r.HostId == bob.MemberId() && len(r.Members) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestHeartbeatOnlyOnDrift(t *testing.T) {
	url := newRelay(t, nil)

	alice := joinClient(t, url, "abc123", "Alice")
	require.NoError(t, alice.TogglePlay(context.Background()))

	assert.Eventually(t, func() bool { return alice.Room().Player.Revision == 1 }, 3*time.Second, 10*time.Millisecond)

	sent, err := alice.Heartbeat(context.Background())
	require.NoError(t, err)
	assert.False(t, sent)

	// the local player jumps ahead of the shared clock
	alice.mu.Lock()
	alice.follower.Seek(40, alice.now())
	alice.mu.Unlock()

	before := alice.Room().Player
	sent, err = alice.Heartbeat(context.Background())
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, before, alice.Room().Player)

	assert.Eventually(t, func() bool { return alice.Room().Player.Revision == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 40.0, alice.Room().Player.Position, 0.5)

	sent, err = alice.Heartbeat(context.Background())
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestConcurrentTogglesConverge(t *testing.T) {
	url := newRelay(t, nil)

	alice := joinClient(t, url, "abc123", "Alice")
	bob := joinClient(t, url, "abc123", "Bob")
	require.Eventually(t, func() bool { return len(alice.Room().Members) == 2 }, 3*time.Second, 10*time.Millisecond)

	var wg sync.WaitGroup
	for _, c := range []*Client{alice, bob} {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			assert.NoError(t, c.TogglePlay(context.Background()))
		}(c)
	}
	wg.Wait()

	// both toggles are accepted; the second one pauses again
	assert.Eventually(t, func() bool {
		return alice.Room().Player.Revision == 2 && bob.Room().Player.Revision == 2
	}, 3*time.Second, 10*time.Millisecond)

	stored := getRoom(t, url, "abc123")
	assertSamePlayer(t, stored.Player, alice.Room().Player)
	assertSamePlayer(t, stored.Player, bob.Room().Player)
	assert.False(t, stored.Player.Playing)
	assert.False(t, alice.Playing())
	assert.False(t, bob.Playing())
}

func TestHostOnlyRejectionRollsBack(t *testing.T) {
	url := newRelay(t, &room.Config{MembersLimit: 20, ChatLimit: 100, ControlMode: room.ControlModeHostOnly})

	alice := joinClient(t, url, "abc123", "Alice")
	bob := joinClient(t, url, "abc123", "Bob")

	require.NoError(t, bob.TogglePlay(context.Background()))
	assert.True(t, bob.Playing())

	var types []string
	timeout := time.After(3 * time.Second)
	for done := false; !done; {
		select {
		case e := <-bob.Events():
			types = append(types, e.Type)
			done = e.Type == "ROOM_STATE"
		case <-timeout:
			t.Fatalf("no state refresh after rejection, got %v", types)
		}
	}
	assert.Contains(t, types, "ERROR")
	assert.False(t, bob.Playing())
	assert.False(t, bob.Room().Player.Playing)
	assertSamePlayer(t, getRoom(t, url, "abc123").Player, bob.Room().Player)

	require.NoError(t, alice.TogglePlay(context.Background()))
	require.Eventually(t, func() bool { return bob.Room().Player.Playing }, 3*time.Second, 10*time.Millisecond)

	// an ignored heartbeat leaves the mirror alone
	bob.mu.Lock()
	bob.follower.Seek(30, bob.now())
	bob.mu.Unlock()

	before := bob.Room().Player
	sent, err := bob.Heartbeat(context.Background())
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, before, bob.Room().Player)
	assert.Never(t, func() bool { return bob.Room().Player.Revision != before.Revision }, 200*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, before.Revision, getRoom(t, url, "abc123").Player.Revision)
}

func TestChatLimit(t *testing.T) {
	url := newRelay(t, nil)

	alice := joinClient(t, url, "abc123", "Alice")
	bob := join(t, dialClient(t, &Config{URL: url, Tracks: catalog.Default(), ChatLimit: 2, Logger: discard}), "abc123", "Bob")

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, alice.Chat(context.Background(), text))
	}

	assert.Eventually(t, func() bool {
		msgs := bob.Room().Chat
		return len(msgs) == 2 && msgs[0].Text == "two" && msgs[1].Text == "three"
	}, 3*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(alice.Room().Chat) == 3 }, 3*time.Second, 10*time.Millisecond)
}

// assertSamePlayer compares states as of their timestamps, which a REST
// snapshot moves forward.
func assertSamePlayer(t *testing.T, want, got player.State) {
	t.Helper()

	assert.Equal(t, want.Revision, got.Revision)
	assert.Equal(t, want.TrackIndex, got.TrackIndex)
	assert.Equal(t, want.Playing, got.Playing)
	if !want.Playing {
		assert.InDelta(t, want.Position, got.Position, 0.001)
	}
}

func getRoom(t *testing.T, url, roomId string) domain.Room {
	t.Helper()

	base := "http" + strings.TrimSuffix(strings.TrimPrefix(url, "ws"), "/ws")
	resp, err := http.Get(base + "/rooms/" + roomId)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Room domain.Room `json:"room"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	return body.Room
}
